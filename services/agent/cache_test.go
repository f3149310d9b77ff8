package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"octopus-controlplane/pkg/api"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeFetcher struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	served map[string]string
	calls  atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{blobs: map[string][]byte{}, served: map[string]string{}}
}

func (f *fakeFetcher) set(name string, data []byte) api.PluginEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[name] = data
	f.served[name] = api.ContentHash(data)
	return api.PluginEntry{Name: name, ContentHash: f.served[name], ByteSize: int64(len(data))}
}

func (f *fakeFetcher) FetchPlugin(_ context.Context, name string) ([]byte, string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[name]
	if !ok {
		return nil, "", &APIError{StatusCode: 404, Body: "not found"}
	}
	return data, f.served[name], nil
}

func TestPluginCache_FetchesOnlyOnChange(t *testing.T) {
	dir := t.TempDir()
	fetcher := newFakeFetcher()
	cache, err := NewPluginCache(dir, fetcher)
	require.NoError(t, err)
	ctx := context.Background()

	v1 := fetcher.set("uptime", []byte("#!/bin/sh\necho v1\n"))
	path, err := cache.Ensure(ctx, v1)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "uptime"), path)

	_, err = cache.Ensure(ctx, v1)
	require.NoError(t, err)
	require.EqualValues(t, 1, fetcher.calls.Load())

	v2 := fetcher.set("uptime", []byte("#!/bin/sh\necho v2\n"))
	_, err = cache.Ensure(ctx, v2)
	require.NoError(t, err)
	require.EqualValues(t, 2, fetcher.calls.Load())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "v2")
}

func TestPluginCache_RejectsMismatchedBytes(t *testing.T) {
	fetcher := newFakeFetcher()
	cache, err := NewPluginCache(t.TempDir(), fetcher)
	require.NoError(t, err)
	ctx := context.Background()

	good := fetcher.set("uptime", []byte("good"))
	_, err = cache.Ensure(ctx, good)
	require.NoError(t, err)

	// the manifest announces new bytes but the download is stale
	announced := api.PluginEntry{Name: "uptime", ContentHash: api.ContentHash([]byte("new"))}
	_, err = cache.Ensure(ctx, announced)

	var ie *api.IntegrityError
	require.True(t, errors.As(err, &ie))
	require.Equal(t, announced.ContentHash, ie.Expected)

	hash, ok := cache.Hash("uptime")
	require.True(t, ok)
	require.Equal(t, good.ContentHash, hash)
}

func TestPluginCache_IndexesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uptime"), []byte("cached"), 0o755))

	fetcher := newFakeFetcher()
	cache, err := NewPluginCache(dir, fetcher)
	require.NoError(t, err)

	_, err = cache.Ensure(context.Background(), api.PluginEntry{Name: "uptime", ContentHash: api.ContentHash([]byte("cached"))})
	require.NoError(t, err)
	require.Zero(t, fetcher.calls.Load())
}

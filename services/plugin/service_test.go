package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"octopus-controlplane/pkg/api"
	"octopus-controlplane/pkg/metrics"
	"octopus-controlplane/services/testutil"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T, blobs BlobStore) (*Service, *clock.Mock) {
	t.Helper()

	db := testutil.NewTestDB(t, &Artifact{})
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	return NewService(Params{DB: db, Blobs: blobs, Clock: clk, Metrics: metrics.NewNop()}), clk
}

func TestPublish_HashAndNoop(t *testing.T) {
	svc, clk := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	art, changed, err := svc.Publish(ctx, "disk-usage", []byte("print('v1')"))
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, api.ContentHash([]byte("print('v1')")), art.ContentHash)
	require.EqualValues(t, 11, art.ByteSize)

	clk.Add(time.Minute)
	same, changed, err := svc.Publish(ctx, "disk-usage", []byte("print('v1')"))
	require.NoError(t, err)
	require.False(t, changed)
	require.True(t, same.LastModified.Equal(art.LastModified))
}

func TestPublish_Rejects(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	_, _, err := svc.Publish(ctx, "Disk Usage", []byte("x"))
	require.ErrorIs(t, err, ErrInvalidPlugin)

	_, _, err = svc.Publish(ctx, "empty", nil)
	require.ErrorIs(t, err, ErrInvalidPlugin)

	svc.maxSize = 4
	_, _, err = svc.Publish(ctx, "big", []byte("12345"))
	require.ErrorIs(t, err, ErrInvalidPlugin)
}

func TestFetch_ServesLatestAfterRepublish(t *testing.T) {
	svc, clk := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	_, _, err := svc.Publish(ctx, "uptime", []byte("v1"))
	require.NoError(t, err)

	art, data, err := svc.Fetch(ctx, "uptime")
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))
	first := art.ContentHash

	clk.Add(time.Second)
	_, _, err = svc.Publish(ctx, "uptime", []byte("v2"))
	require.NoError(t, err)

	art, data, err = svc.Fetch(ctx, "uptime")
	require.NoError(t, err)
	require.Equal(t, "v2", string(data))
	require.NotEqual(t, first, art.ContentHash)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, art.ContentHash, list[0].ContentHash)
}

func TestFetch_RefusesCorruptBlob(t *testing.T) {
	blobs := NewMemoryStore()
	svc, _ := newTestService(t, blobs)
	ctx := context.Background()

	art, _, err := svc.Publish(ctx, "uptime", []byte("good"))
	require.NoError(t, err)
	require.NoError(t, blobs.Put(ctx, art.ObjectKey, []byte("evil")))

	_, _, err = svc.Fetch(ctx, "uptime")
	var ie *api.IntegrityError
	require.True(t, errors.As(err, &ie))
	require.Equal(t, art.ContentHash, ie.Expected)
}

func TestFetch_Unknown(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())

	_, _, err := svc.Fetch(context.Background(), "nope")
	require.ErrorIs(t, err, ErrPluginNotFound)
}

func TestSeedFromDir(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	seedDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "Disk Usage.py"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "uptime.sh"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, ".hidden"), []byte("c"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(seedDir, "nested"), 0o755))

	n, err := svc.SeedFromDir(ctx, seedDir)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, data, err := svc.Fetch(ctx, "disk-usage")
	require.NoError(t, err)
	require.Equal(t, "a", string(data))

	n, err = svc.SeedFromDir(ctx, seedDir)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = svc.SeedFromDir(ctx, filepath.Join(seedDir, "missing"))
	require.NoError(t, err)
	require.Zero(t, n)
}

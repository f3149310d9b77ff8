package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"octopus-controlplane/pkg/api"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Fetcher interface {
	FetchPlugin(ctx context.Context, name string) ([]byte, string, error)
}

// PluginCache keeps verified plugin artifacts on disk, one file per plugin.
// A cached file is only used while its hash equals the coordinator's.
type PluginCache struct {
	dir     string
	fetcher Fetcher

	mu     sync.RWMutex
	hashes map[string]string
	group  singleflight.Group
}

// NewPluginCache indexes the artifacts already present in dir.
func NewPluginCache(dir string, fetcher Fetcher) (*PluginCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plugin cache: %w", err)
	}

	c := &PluginCache{dir: dir, fetcher: fetcher, hashes: make(map[string]string)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name()[0] == '.' {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		c.hashes[e.Name()] = api.ContentHash(data)
	}
	return c, nil
}

func (c *PluginCache) path(name string) string {
	return filepath.Join(c.dir, name)
}

// Hash returns the cached hash of name, if any.
func (c *PluginCache) Hash(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hashes[name]
	return h, ok
}

// Ensure returns the path of a local copy of entry, fetching the whole
// artifact when the cached hash differs. Fetched bytes that do not hash to
// entry.ContentHash are discarded with an *api.IntegrityError and the
// previous copy is kept.
func (c *PluginCache) Ensure(ctx context.Context, entry api.PluginEntry) (string, error) {
	if h, ok := c.Hash(entry.Name); ok && h == entry.ContentHash {
		return c.path(entry.Name), nil
	}

	_, err, _ := c.group.Do(entry.Name+"@"+entry.ContentHash, func() (any, error) {
		data, served, err := c.fetcher.FetchPlugin(ctx, entry.Name)
		if err != nil {
			return nil, fmt.Errorf("fetch plugin %s: %w", entry.Name, err)
		}
		if served != "" && served != entry.ContentHash {
			return nil, &api.IntegrityError{Plugin: entry.Name, Expected: entry.ContentHash, Actual: served}
		}
		if err := api.Verify(entry.Name, entry.ContentHash, data); err != nil {
			return nil, err
		}
		if err := c.write(entry.Name, data); err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.hashes[entry.Name] = entry.ContentHash
		c.mu.Unlock()

		zap.L().Info("[Agent] plugin updated",
			zap.String("plugin", entry.Name),
			zap.String("content_hash", entry.ContentHash),
			zap.Int("byte_size", len(data)),
		)
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return c.path(entry.Name), nil
}

func (c *PluginCache) write(name string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, ".fetch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o755); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path(name))
}

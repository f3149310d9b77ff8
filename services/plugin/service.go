// Package plugin publishes plugin artifacts and serves them to agents by
// content hash.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"octopus-controlplane/pkg/api"
	"octopus-controlplane/pkg/config"
	"octopus-controlplane/pkg/errutil"
	"octopus-controlplane/pkg/metrics"
	"octopus-controlplane/pkg/repository"

	"github.com/gosimple/slug"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/raulk/clock"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPluginNotFound = errors.New("plugin not found")
	ErrInvalidPlugin  = errors.New("invalid plugin")
)

const (
	DefaultManifestTTL     = 5 * time.Second
	DefaultMaxArtifactSize = 32 << 20
)

type Service struct {
	db      *gorm.DB
	repo    repository.Repository[Artifact]
	blobs   BlobStore
	cache   *expirable.LRU[string, *Artifact]
	clock   clock.Clock
	metrics *metrics.Metrics
	maxSize int64
}

type Params struct {
	fx.In
	DB      *gorm.DB
	Blobs   BlobStore
	Config  *config.Config   `optional:"true"`
	Clock   clock.Clock      `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

func NewService(p Params) *Service {
	ttl := DefaultManifestTTL
	maxSize := int64(DefaultMaxArtifactSize)
	if p.Config != nil {
		if p.Config.Plugin.ManifestTTL > 0 {
			ttl = p.Config.Plugin.ManifestTTL
		}
		if p.Config.Plugin.MaxArtifactSize > 0 {
			maxSize = p.Config.Plugin.MaxArtifactSize
		}
	}

	s := &Service{
		db:      p.DB,
		repo:    repository.ProvideStore[Artifact](p.DB),
		blobs:   p.Blobs,
		cache:   expirable.NewLRU[string, *Artifact](256, nil, ttl),
		clock:   p.Clock,
		metrics: p.Metrics,
		maxSize: maxSize,
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNop()
	}
	return s
}

// Publish stores data as the current version of name. Publishing bytes that
// hash to the current version is a no-op and reports changed=false.
func (s *Service) Publish(ctx context.Context, name string, data []byte) (art *Artifact, changed bool, err error) {
	if !slug.IsSlug(name) {
		return nil, false, errutil.ValidationFailed("plugin name must be a lowercase slug", ErrInvalidPlugin,
			errutil.WithDetails(errutil.Detail{Field: "name", Message: name}))
	}
	if len(data) == 0 {
		return nil, false, errutil.ValidationFailed("plugin artifact is empty", ErrInvalidPlugin)
	}
	if int64(len(data)) > s.maxSize {
		return nil, false, errutil.ValidationFailed(fmt.Sprintf("plugin artifact exceeds %d bytes", s.maxSize), ErrInvalidPlugin)
	}

	hash := api.ContentHash(data)
	current, err := s.repo.FindOne(ctx, &Artifact{Name: name})
	if err != nil {
		return nil, false, err
	}
	if current != nil && current.ContentHash == hash {
		return current, false, nil
	}

	key := objectKey(name, hash)
	if err := s.blobs.Put(ctx, key, data); err != nil {
		zap.L().Error("[Plugin] failed to store artifact", zap.String("plugin", name), zap.Error(err))
		return nil, false, err
	}

	now := s.clock.Now().UTC()
	art = &Artifact{
		Name:         name,
		ContentHash:  hash,
		ByteSize:     int64(len(data)),
		LastModified: now,
		ObjectKey:    key,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"content_hash", "byte_size", "last_modified", "object_key", "updated_at"}),
	}).Create(art).Error
	if err != nil {
		return nil, false, fmt.Errorf("save manifest entry %s: %w", name, err)
	}
	s.cache.Remove(name)

	zap.L().Info("[Plugin] published",
		zap.String("plugin", name),
		zap.String("content_hash", hash),
		zap.Int("byte_size", len(data)),
	)
	return art, true, nil
}

// List returns the manifest ordered by name.
func (s *Service) List(ctx context.Context) ([]*Artifact, error) {
	var rows []*Artifact
	err := s.db.WithContext(ctx).Order("name ASC").Find(&rows).Error
	return rows, err
}

// Lookup returns the manifest entry of name, served from a short-lived cache.
func (s *Service) Lookup(ctx context.Context, name string) (*Artifact, error) {
	if art, ok := s.cache.Get(name); ok {
		return art, nil
	}

	art, err := s.repo.FindOne(ctx, &Artifact{Name: name})
	if err != nil {
		return nil, err
	}
	if art == nil {
		return nil, errutil.NotFound(fmt.Sprintf("plugin %s not found", name), ErrPluginNotFound)
	}
	s.cache.Add(name, art)
	return art, nil
}

// Fetch returns the bytes of the current version of name. Bytes that do not
// match the manifest hash are never served.
func (s *Service) Fetch(ctx context.Context, name string) (*Artifact, []byte, error) {
	art, err := s.Lookup(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	data, err := s.blobs.Get(ctx, art.ObjectKey)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil, errutil.NotFound(fmt.Sprintf("plugin %s has no stored bytes", name), ErrPluginNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := api.Verify(name, art.ContentHash, data); err != nil {
		zap.L().Error("[Plugin] stored artifact is corrupt", zap.String("plugin", name), zap.Error(err))
		return nil, nil, errutil.Internal("plugin artifact failed integrity check", err)
	}

	s.metrics.PluginFetches.WithLabelValues(name).Inc()
	return art, data, nil
}

// SeedFromDir publishes every regular file in dir, named after the file
// without its extension. A missing dir is not an error.
func (s *Service) SeedFromDir(ctx context.Context, dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		zap.L().Warn("[Plugin] seed dir does not exist", zap.String("dir", dir))
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var (
		published int
		errs      error
	)
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := slug.Make(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		_, changed, err := s.Publish(ctx, name, data)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("seed %s: %w", e.Name(), err))
			continue
		}
		if changed {
			published++
		}
	}

	zap.L().Info("[Plugin] seeded from dir", zap.String("dir", dir), zap.Int("published", published))
	return published, errs
}

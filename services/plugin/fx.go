package plugin

import (
	"context"

	"octopus-controlplane/pkg/config"

	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("plugin.distribution",
	fx.Provide(newBlobStore, NewService),
	fx.Invoke(seed),
)

type blobParams struct {
	fx.In
	Config *config.Config
	Minio  *minio.Client `optional:"true"`
}

func newBlobStore(p blobParams) (BlobStore, error) {
	if p.Config.Plugin.Storage == "minio" && p.Minio != nil {
		zap.L().Info("[Plugin] storing artifacts in minio", zap.String("bucket", p.Config.Minio.BucketName))
		return NewMinioStore(p.Minio, p.Config.Minio.BucketName), nil
	}
	zap.L().Info("[Plugin] storing artifacts on disk", zap.String("dir", p.Config.Plugin.Dir))
	return NewDirStore(p.Config.Plugin.Dir)
}

func seed(lc fx.Lifecycle, cfg *config.Config, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := svc.SeedFromDir(ctx, cfg.Plugin.SeedDir); err != nil {
				zap.L().Warn("[Plugin] seeding incomplete", zap.Error(err))
			}
			return nil
		},
	})
}

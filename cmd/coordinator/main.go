package main

import (
	"context"
	"log"
	"os"

	"octopus-controlplane/internal/httpapi"
	"octopus-controlplane/pkg/config"
	"octopus-controlplane/pkg/db"
	"octopus-controlplane/pkg/gen"
	"octopus-controlplane/pkg/hashistack/secretmanager"
	"octopus-controlplane/pkg/health"
	"octopus-controlplane/pkg/logger"
	"octopus-controlplane/pkg/metrics"
	"octopus-controlplane/pkg/minio"
	"octopus-controlplane/pkg/otelcol"
	"octopus-controlplane/pkg/profiling"
	"octopus-controlplane/pkg/redis"
	"octopus-controlplane/pkg/server"
	"octopus-controlplane/pkg/task"
	"octopus-controlplane/services/execution"
	"octopus-controlplane/services/gate"
	"octopus-controlplane/services/liveness"
	"octopus-controlplane/services/plugin"
	"octopus-controlplane/services/scheduler"
	taskservice "octopus-controlplane/services/task"

	"github.com/raulk/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	vc, err := secretmanager.ProvideVault()
	if err != nil {
		log.Fatalf("vault: %v", err)
	}

	var cfg *config.Config
	if _, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		cfg = config.LoadRemote(config.Params{Vault: vc})
	} else {
		cfg = config.LoadConfig(config.Params{Vault: vc})
	}

	opts := []fx.Option{
		fx.Supply(cfg),
		logger.Module,
		db.Module,
		fx.Invoke(migrate),
		gen.Module,
		metrics.Module,
		fx.Provide(func() clock.Clock { return clock.New() }),
		liveness.Module,
		execution.Module,
		gate.Module,
		taskservice.Module,
		scheduler.Module,
		plugin.Module,
		health.Module,
		server.ProvideHTTPServer,
		httpapi.Module,
		fxLogger,
	}
	opts = append(opts, optional(cfg)...)

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

// optional enables the backends the configuration asks for.
func optional(cfg *config.Config) []fx.Option {
	var opts []fx.Option
	if cfg.Redis.Addr != "" {
		opts = append(opts, redis.Module)
	}
	if cfg.Scheduler.Trigger == scheduler.TriggerAsynq {
		opts = append(opts, task.Client, task.Server, task.Periodic)
	}
	if cfg.Plugin.Storage == "minio" {
		opts = append(opts, minio.Client)
	}
	if cfg.Otel.Addr != "" {
		opts = append(opts, otelcol.Module)
	}
	if cfg.Pyroscope.Addr != "" {
		opts = append(opts, profiling.Module)
	}
	return opts
}

func migrate(lc fx.Lifecycle, cfg *config.Config, conn *gorm.DB) error {
	models := append(taskservice.Models(),
		&execution.Execution{},
		&liveness.Client{},
		&gate.Firing{},
		&plugin.Artifact{},
	)
	if err := db.Migrate(cfg, conn, models...); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			zap.L().Info("[Coordinator] ready",
				zap.String("env", cfg.AppEnv),
				zap.String("database", cfg.Database.Type),
				zap.String("trigger", cfg.Scheduler.Trigger),
				zap.String("gate", cfg.Gate.Backend),
			)
			return nil
		},
	})
	return nil
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})

package logger

import (
	"octopus-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Module = fx.Module("zap",
	fx.Provide(
		New,
	),
	fx.Invoke(func(lc fx.Lifecycle, log *zap.Logger) {
		lc.Append(fx.StopHook(func() { _ = log.Sync() }))
	}),
)

type ConfigParams struct {
	fx.In
	Cfg *config.Config
}

func New(p ConfigParams) *zap.Logger {
	env, name, level := "development", "octopus", ""
	if p.Cfg != nil {
		env, name, level = p.Cfg.AppEnv, p.Cfg.AppName, p.Cfg.LogLevel
	}

	log := Build(env, level)
	log = log.With(
		zap.String("env", env),
		zap.String("service_name", name),
	)

	zap.ReplaceGlobals(log)

	return log
}

// Build returns a console logger for development and a JSON logger for
// production. It is shared by the coordinator and the agent.
func Build(env, level string) *zap.Logger {
	lvl := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			lvl.SetLevel(parsed)
		}
	}

	if env != "production" {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = lvl
		return zap.Must(cfg.Build())
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.Encoding = "json"
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return zap.Must(cfg.Build())
}

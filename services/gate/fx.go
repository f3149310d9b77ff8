package gate

import (
	"context"
	"time"

	"octopus-controlplane/pkg/config"
	"octopus-controlplane/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("interval.gate",
	fx.Provide(NewGate),
)

type Params struct {
	fx.In
	Config  *config.Config
	DB      *gorm.DB         `optional:"true"`
	Redis   *redis.Client    `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

// NewGate picks the backend named by INTERVAL_GATE.BACKEND. Redis falls back
// to the database when no redis client is configured.
func NewGate(p Params) Gate {
	var g Gate
	switch p.Config.Gate.Backend {
	case "memory":
		g = NewMemoryGate()
	case "redis":
		if p.Redis != nil {
			g = NewRedisGate(p.Redis)
			break
		}
		zap.L().Warn("[Gate] redis backend requested without redis, using database")
		g = NewDBGate(p.DB)
	default:
		g = NewDBGate(p.DB)
	}
	zap.L().Info("[Gate] interval gate ready", zap.String("backend", p.Config.Gate.Backend))

	if p.Metrics == nil {
		return g
	}
	return &instrumented{Gate: g, metrics: p.Metrics}
}

type instrumented struct {
	Gate
	metrics *metrics.Metrics
}

func (i *instrumented) Acquire(ctx context.Context, taskID, clientID string, interval time.Duration, now time.Time) (bool, error) {
	ok, err := i.Gate.Acquire(ctx, taskID, clientID, interval, now)
	switch {
	case err != nil:
		i.metrics.GateDecisions.WithLabelValues("error").Inc()
	case ok:
		i.metrics.GateDecisions.WithLabelValues("fired").Inc()
	default:
		i.metrics.GateDecisions.WithLabelValues("blocked").Inc()
	}
	return ok, err
}

package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), nil)
	require.NoError(t, err)

	require.Equal(t, 60*time.Second, cfg.Liveness.OnlineThreshold)
	require.Equal(t, 300*time.Second, cfg.Liveness.OfflineThreshold)
	require.Equal(t, "local", cfg.Scheduler.Trigger)
	require.Equal(t, "database", cfg.Gate.Backend)
	require.Equal(t, 3, cfg.Scheduler.MaxReassignments)
	require.Equal(t, "sqlite", cfg.Database.Type)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("LIVENESS_ONLINE_THRESHOLD", "90s")
	t.Setenv("SCHEDULER_ALL_FAILURE_POLICY", "all")
	t.Setenv("INTERVAL_GATE_BACKEND", "redis")

	cfg, err := Load(viper.New(), nil)
	require.NoError(t, err)

	require.Equal(t, 90*time.Second, cfg.Liveness.OnlineThreshold)
	require.Equal(t, "all", cfg.Scheduler.AllFailurePolicy)
	require.Equal(t, "redis", cfg.Gate.Backend)
}

func TestOverlaySecrets(t *testing.T) {
	var cfg Config
	cfg.Database.User = "octopus"
	cfg.Redis.Password = "from-env"

	overlaySecrets(&cfg, map[string]any{
		"database_password": "db-secret",
		"redis_password":    "",
		"minio_access_key":  "minio",
		"minio_secret_key":  "minio-secret",
		"database_user":     42,
	})

	require.Equal(t, "octopus", cfg.Database.User)
	require.Equal(t, "db-secret", cfg.Database.Password)
	require.Equal(t, "from-env", cfg.Redis.Password)
	require.Equal(t, "minio", cfg.Minio.AccessKey)
	require.Equal(t, "minio-secret", cfg.Minio.SecretKey)
}

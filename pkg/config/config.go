package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	backend     = "consul"
	backendAddr = "127.0.0.1:8500"
	backendPath = "development" // e.g., octopus/<env>/coordinator
	configType  = "yaml"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"` // http | grpc
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"` // sqlite | postgres | mysql
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Path           string `mapstructure:"PATH"` // sqlite file
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Liveness struct {
		OnlineThreshold  time.Duration `mapstructure:"ONLINE_THRESHOLD"`
		OfflineThreshold time.Duration `mapstructure:"OFFLINE_THRESHOLD"`
	} `mapstructure:"LIVENESS"`
	Scheduler struct {
		Trigger           string        `mapstructure:"TRIGGER"` // local | asynq
		SweepInterval     time.Duration `mapstructure:"SWEEP_INTERVAL"`
		MinTickInterval   time.Duration `mapstructure:"MIN_TICK_INTERVAL"`
		MaxActiveDuration time.Duration `mapstructure:"MAX_ACTIVE_DURATION"`
		MaxReassignments  int           `mapstructure:"MAX_REASSIGNMENTS"`
		AllFailurePolicy  string        `mapstructure:"ALL_FAILURE_POLICY"` // any | all
	} `mapstructure:"SCHEDULER"`
	Gate struct {
		Backend string `mapstructure:"BACKEND"` // database | redis | memory
	} `mapstructure:"INTERVAL_GATE"`
	Plugin struct {
		Storage         string        `mapstructure:"STORAGE"` // filesystem | minio
		Dir             string        `mapstructure:"DIR"`
		SeedDir         string        `mapstructure:"SEED_DIR"`
		ManifestTTL     time.Duration `mapstructure:"MANIFEST_TTL"`
		MaxArtifactSize int64         `mapstructure:"MAX_ARTIFACT_SIZE"`
	} `mapstructure:"PLUGIN"`
}

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

// SetDefaults registers the values the coordinator runs with when neither the
// config file nor the environment set them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "octopus-coordinator")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 60*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 120*time.Second)
	v.SetDefault("DATABASE.TYPE", "sqlite")
	v.SetDefault("DATABASE.PATH", "octopus.db")
	v.SetDefault("DATABASE.AUTO_MIGRATE", true)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("LIVENESS.ONLINE_THRESHOLD", 60*time.Second)
	v.SetDefault("LIVENESS.OFFLINE_THRESHOLD", 300*time.Second)
	v.SetDefault("SCHEDULER.TRIGGER", "local")
	v.SetDefault("SCHEDULER.SWEEP_INTERVAL", 30*time.Second)
	v.SetDefault("SCHEDULER.MIN_TICK_INTERVAL", 2*time.Second)
	v.SetDefault("SCHEDULER.MAX_ACTIVE_DURATION", time.Hour)
	v.SetDefault("SCHEDULER.MAX_REASSIGNMENTS", 3)
	v.SetDefault("SCHEDULER.ALL_FAILURE_POLICY", "any")
	v.SetDefault("INTERVAL_GATE.BACKEND", "database")
	v.SetDefault("PLUGIN.STORAGE", "filesystem")
	v.SetDefault("PLUGIN.DIR", "data/plugins")
	v.SetDefault("PLUGIN.MANIFEST_TTL", 5*time.Second)
	v.SetDefault("PLUGIN.MAX_ARTIFACT_SIZE", 32<<20)
	v.SetDefault("MINIO.BUCKET_NAME", "octopus-plugins")
}

// Load reads config.yaml from the working directory, overlays the environment
// and, when a vault client is given, the secrets stored under APP_ENV.
func Load(v *viper.Viper, vc *vault.Client) (*Config, error) {
	SetDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType(configType)
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		zap.L().Warn("config.yaml not found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if vc != nil {
		if err := applySecrets(context.Background(), vc, &cfg); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func LoadConfig(p Params) *Config {
	cfg, err := Load(viper.New(), p.Vault)
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}
	return cfg
}

// LoadRemote reads the configuration once from the remote provider named by
// REMOTE_CONFIG_PROVIDER (consul by default). Secrets still come from vault.
func LoadRemote(p Params) *Config {
	if p.Vault == nil {
		zap.L().Error("vault can't provide")
		os.Exit(1)
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType(configType)
	if err := v.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		zap.L().Error("failed to add remote config provider", zap.String("provider", backend), zap.Error(err))
		os.Exit(1)
	}

	if err := v.ReadRemoteConfig(); err != nil {
		zap.L().Error("failed to read remote config", zap.String("addr", backendAddr), zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}

	if err := applySecrets(context.Background(), p.Vault, &cfg); err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}
	return &cfg
}

// applySecrets overlays the credentials stored in vault under
// secret/<APP_ENV>.
func applySecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("[Vault] reading secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		return fmt.Errorf("read vault secret %s: %w", cfg.AppEnv, err)
	}
	overlaySecrets(cfg, secret.Data.Data)
	return nil
}

// overlaySecrets copies the known credential keys into cfg. Missing or
// non-string values leave the configured value in place.
func overlaySecrets(cfg *Config, data map[string]any) {
	get := func(key, current string) string {
		if val, ok := data[key].(string); ok && val != "" {
			return val
		}
		return current
	}

	cfg.Database.User = get("database_user", cfg.Database.User)
	cfg.Database.Password = get("database_password", cfg.Database.Password)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	cfg.Minio.AccessKey = get("minio_access_key", cfg.Minio.AccessKey)
	cfg.Minio.SecretKey = get("minio_secret_key", cfg.Minio.SecretKey)
}

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Remote    RemoteConfig
	Storage   StorageConfig
	DB        DBConfig
	Redis     RedisConfig
	Sync      SyncConfig
	Cart      CartConfig
	Analytics AnalyticsConfig
	GCP       GCPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CARTSYNC_APP_ENV" default:"dev"`
	StatusPort   string `envconfig:"CARTSYNC_STATUS_PORT" default:"8787"`
	LogLevel     string `envconfig:"CARTSYNC_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"CARTSYNC_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"CARTSYNC_LOG_WARN_STACK" default:"false"`
	// CORSOrigins lists storefront origins allowed to call the status surface.
	CORSOrigins []string `envconfig:"CARTSYNC_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type RemoteConfig struct {
	BaseURL string        `envconfig:"CARTSYNC_REMOTE_BASE_URL" required:"true"`
	Timeout time.Duration `envconfig:"CARTSYNC_REMOTE_TIMEOUT" default:"10s"`
	// Token seeds the authenticated identity; empty means guest.
	Token string `envconfig:"CARTSYNC_AUTH_TOKEN"`
}

type StorageConfig struct {
	Backend string `envconfig:"CARTSYNC_STORAGE_BACKEND" default:"file"`
	Dir     string `envconfig:"CARTSYNC_STORAGE_DIR" default:".cartsync"`
}

type DBConfig struct {
	Driver      string `envconfig:"CARTSYNC_DB_DRIVER" default:"sqlite"`
	DSN         string `envconfig:"CARTSYNC_DB_DSN" default:"cartsync.db"`
	AutoMigrate bool   `envconfig:"CARTSYNC_DB_AUTO_MIGRATE" default:"true"`

	MaxOpenConns    int           `envconfig:"CARTSYNC_DB_MAX_OPEN_CONNS" default:"4"`
	MaxIdleConns    int           `envconfig:"CARTSYNC_DB_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `envconfig:"CARTSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CARTSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CARTSYNC_REDIS_URL"`
	Address      string        `envconfig:"CARTSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"CARTSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARTSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARTSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARTSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARTSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARTSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARTSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type SyncConfig struct {
	ChannelBackend     string        `envconfig:"CARTSYNC_SYNC_CHANNEL_BACKEND" default:"memory"`
	ChannelName        string        `envconfig:"CARTSYNC_SYNC_CHANNEL_NAME" default:"cartsync-sync"`
	RelayTTL           time.Duration `envconfig:"CARTSYNC_SYNC_RELAY_TTL" default:"5s"`
	DeviceSyncInterval time.Duration `envconfig:"CARTSYNC_DEVICE_SYNC_INTERVAL" default:"30s"`
	ProbeInterval      time.Duration `envconfig:"CARTSYNC_DEVICE_PROBE_INTERVAL" default:"10s"`
	// ReconcileStores adds cart and wishlist reloads to every device sync tick.
	ReconcileStores bool `envconfig:"CARTSYNC_DEVICE_RECONCILE_STORES" default:"false"`
}

type CartConfig struct {
	RecoveryCooldown time.Duration `envconfig:"CARTSYNC_CART_RECOVERY_COOLDOWN" default:"24h"`
}

type AnalyticsConfig struct {
	Enabled bool   `envconfig:"CARTSYNC_ANALYTICS_ENABLED" default:"false"`
	Topic   string `envconfig:"CARTSYNC_ANALYTICS_TOPIC" default:"storefront-analytics"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"CARTSYNC_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"CARTSYNC_GCP_CREDENTIALS_JSON"`
}

func (c *Config) validate() error {
	if _, err := url.ParseRequestURI(c.Remote.BaseURL); err != nil {
		return fmt.Errorf("%s must be an absolute url: %w", EnvRemoteBaseURL, err)
	}

	switch strings.ToLower(c.Storage.Backend) {
	case StorageBackendMemory, StorageBackendFile, StorageBackendDB:
	case StorageBackendRedis:
		if c.Redis.URL == "" && c.Redis.Address == "" {
			return fmt.Errorf("either %s or %s is required for the redis storage backend", EnvRedisURL, EnvRedisAddr)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvStorageBackend, c.Storage.Backend)
	}

	switch strings.ToLower(c.DB.Driver) {
	case DBDriverSQLite, DBDriverPostgres:
	default:
		return fmt.Errorf("unsupported %s %q", EnvDBDriver, c.DB.Driver)
	}

	switch strings.ToLower(c.Sync.ChannelBackend) {
	case ChannelBackendMemory:
	case ChannelBackendRedis:
		if c.Redis.URL == "" && c.Redis.Address == "" {
			return fmt.Errorf("either %s or %s is required for the redis sync channel", EnvRedisURL, EnvRedisAddr)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvSyncChannelBackend, c.Sync.ChannelBackend)
	}

	if c.Analytics.Enabled && strings.TrimSpace(c.GCP.ProjectID) == "" {
		return fmt.Errorf("%s is required when analytics is enabled", EnvGCPProjectID)
	}
	return nil
}

// NeedsRedis reports whether any configured backend talks to redis.
func (c *Config) NeedsRedis() bool {
	return strings.EqualFold(c.Storage.Backend, StorageBackendRedis) ||
		strings.EqualFold(c.Sync.ChannelBackend, ChannelBackendRedis)
}

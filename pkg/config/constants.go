package config

const (
	EnvPrefix = "CARTSYNC"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	StorageBackendMemory = "memory"
	StorageBackendFile   = "file"
	StorageBackendRedis  = "redis"
	StorageBackendDB     = "db"

	ChannelBackendMemory = "memory"
	ChannelBackendRedis  = "redis"

	DBDriverSQLite   = "sqlite"
	DBDriverPostgres = "postgres"
)

const (
	EnvAppEnv             = "CARTSYNC_APP_ENV"
	EnvStatusPort         = "CARTSYNC_STATUS_PORT"
	EnvLogLevel           = "CARTSYNC_LOG_LEVEL"
	EnvRemoteBaseURL      = "CARTSYNC_REMOTE_BASE_URL"
	EnvRemoteTimeout      = "CARTSYNC_REMOTE_TIMEOUT"
	EnvRemoteToken        = "CARTSYNC_AUTH_TOKEN"
	EnvStorageBackend     = "CARTSYNC_STORAGE_BACKEND"
	EnvStorageDir         = "CARTSYNC_STORAGE_DIR"
	EnvDBDriver           = "CARTSYNC_DB_DRIVER"
	EnvDBDSN              = "CARTSYNC_DB_DSN"
	EnvRedisURL           = "CARTSYNC_REDIS_URL"
	EnvRedisAddr          = "CARTSYNC_REDIS_ADDR"
	EnvSyncChannelBackend = "CARTSYNC_SYNC_CHANNEL_BACKEND"
	EnvSyncChannelName    = "CARTSYNC_SYNC_CHANNEL_NAME"
	EnvSyncRelayTTL       = "CARTSYNC_SYNC_RELAY_TTL"
	EnvDeviceSyncInterval = "CARTSYNC_DEVICE_SYNC_INTERVAL"
	EnvRecoveryCooldown   = "CARTSYNC_CART_RECOVERY_COOLDOWN"
	EnvAnalyticsEnabled   = "CARTSYNC_ANALYTICS_ENABLED"
	EnvAnalyticsTopic     = "CARTSYNC_ANALYTICS_TOPIC"
	EnvGCPProjectID       = "CARTSYNC_GCP_PROJECT_ID"
	EnvGCPCredentialsJSON = "CARTSYNC_GCP_CREDENTIALS_JSON"
)

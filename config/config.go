package config

import (
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern"`
	Version                       string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"150"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database host. Empty runs with in-memory stores.
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"fern"`
	// Database SSL mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version, 0 migrates to latest
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Run lock backend: memory, file or redis
	LockBackend string `env:"LOCK_BACKEND" env-default:"memory"`
	// Directory for file locks
	LockDir string `env:"LOCK_DIR" env-default:"/tmp/fern-locks"`
	// How long a run lock is held before it can be taken over
	LockTTL time.Duration `env:"LOCK_TTL" env-default:"5m"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// Redis key prefix for run locks
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" env-default:"fern:lock:"`

	// Kafka brokers (comma-separated). Empty disables import events.
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:""`
	// Kafka topic for import lifecycle events
	KafkaImportTopic string `env:"KAFKA_IMPORT_TOPIC" env-default:"import-events"`

	// Search index bulk API
	IndexBaseURL string        `env:"INDEX_BASE_URL" env-default:"http://localhost:9200"`
	IndexAPIKey  string        `env:"INDEX_API_KEY" env-default:""`
	IndexTimeout time.Duration `env:"INDEX_TIMEOUT" env-default:"120s"`
	// Resolve content type schemas from the index before mapping
	IndexSchemaLookup bool `env:"INDEX_SCHEMA_LOOKUP" env-default:"true"`

	// Import timeouts
	ImportTestTimeout  time.Duration `env:"IMPORT_TEST_TIMEOUT" env-default:"10s"`
	ImportFetchTimeout time.Duration `env:"IMPORT_FETCH_TIMEOUT" env-default:"60s"`
	ImportSyncTimeout  time.Duration `env:"IMPORT_SYNC_TIMEOUT" env-default:"120s"`
	// Compiled JSON-path cache size
	ExpressionCacheSize int `env:"EXPRESSION_CACHE_SIZE" env-default:"256"`

	// Scheduler settings
	// Enable/disable the scheduler
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" env-default:"true"`
	// Cron expression of the import tick
	SchedulerCron string `env:"SCHEDULER_CRON" env-default:"@every 1m"`
	// Cron expression of the history cleanup
	HistoryCleanupCron string `env:"HISTORY_CLEANUP_CRON" env-default:"0 3 * * *"`
	// History rows older than this are pruned, 0 keeps everything
	HistoryRetention time.Duration `env:"HISTORY_RETENTION" env-default:"2160h"`

	// Notifications
	// Webhook receiving failure and recovery alerts
	NotifyWebhookURL    string `env:"NOTIFY_WEBHOOK_URL" env-default:""`
	NotifyWebhookSecret string `env:"NOTIFY_WEBHOOK_SECRET" env-default:""`
	// SMTP settings for email alerts
	SMTPHost     string   `env:"SMTP_HOST" env-default:""`
	SMTPPort     int      `env:"SMTP_PORT" env-default:"587"`
	SMTPUsername string   `env:"SMTP_USERNAME" env-default:""`
	SMTPPassword string   `env:"SMTP_PASSWORD" env-default:""`
	SMTPFrom     string   `env:"SMTP_FROM" env-default:""`
	SMTPTo       []string `env:"SMTP_TO" env-default:""`

	// Payload archive. Empty bucket disables archiving.
	ArchiveBucket    string `env:"ARCHIVE_S3_BUCKET" env-default:""`
	ArchivePrefix    string `env:"ARCHIVE_S3_PREFIX" env-default:"payloads"`
	ArchiveRegion    string `env:"ARCHIVE_S3_REGION" env-default:"us-east-1"`
	ArchiveEndpoint  string `env:"ARCHIVE_S3_ENDPOINT" env-default:""`
	ArchiveAccessKey string `env:"ARCHIVE_S3_ACCESS_KEY" env-default:""`
	ArchiveSecretKey string `env:"ARCHIVE_S3_SECRET_KEY" env-default:""`
	ArchivePathStyle bool   `env:"ARCHIVE_S3_PATH_STYLE" env-default:"false"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and binds the environment onto Config
func Load(envFiles ...string) (*Config, error) {
	// a missing .env is not an error
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UseDatabase reports whether Postgres stores are configured
func (c *Config) UseDatabase() bool {
	return c.DatabaseHost != ""
}

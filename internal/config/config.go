package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"local"`
	Debug       bool   `env:"DEBUG" envDefault:"false"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings (primary, writes)
	Database DatabaseConfig

	// Replica settings (read-only pool; falls back to primary when unset)
	Replica ReplicaConfig

	// Queue settings
	Queue QueueConfig

	// Scheduler settings
	Scheduler SchedulerConfig

	// Extraction provider settings
	Jira   JiraConfig
	GitHub GitHubConfig

	// Transform settings
	Transform TransformConfig

	// Embedding settings
	Embedding EmbeddingConfig

	// Retention settings
	Retention RetentionConfig

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings for the primary pool.
type DatabaseConfig struct {
	Host             string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port             int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User             string        `env:"POSTGRES_USER" envDefault:"syncd"`
	Password         string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database         string        `env:"POSTGRES_DB" envDefault:"syncd"`
	SSLMode          string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns     int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	BurstConns       int           `env:"DB_BURST_CONNS" envDefault:"30"`
	MaxIdleConns     int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime      time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	PoolTimeout      time.Duration `env:"DB_POOL_TIMEOUT" envDefault:"10s"`
	StatementTimeout time.Duration `env:"DB_STATEMENT_TIMEOUT" envDefault:"30s"`
	QueryDebug       bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string for the primary.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// ReplicaConfig holds the optional read-replica connection settings.
// Embedding sessions get a longer statement timeout because vector writes
// can queue behind large batches.
type ReplicaConfig struct {
	Host             string        `env:"POSTGRES_REPLICA_HOST" envDefault:""`
	Port             int           `env:"POSTGRES_REPLICA_PORT" envDefault:"5432"`
	StatementTimeout time.Duration `env:"REPLICA_STATEMENT_TIMEOUT" envDefault:"300s"`
}

// IsConfigured returns true when a separate replica host is set.
func (r *ReplicaConfig) IsConfigured() bool {
	return r.Host != ""
}

// DSN composes the replica connection string from the primary credentials.
func (r *ReplicaConfig) DSN(primary *DatabaseConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		primary.User, primary.Password, r.Host, r.Port, primary.Database, primary.SSLMode,
	)
}

// QueueConfig holds message queue settings.
type QueueConfig struct {
	// MessageTTL is how long an unconsumed message stays deliverable (default 24h)
	MessageTTL time.Duration `env:"QUEUE_MESSAGE_TTL" envDefault:"24h"`
	// MaxDeliveries before a message is moved to the dead-letter queue
	MaxDeliveries int `env:"QUEUE_MAX_DELIVERIES" envDefault:"3"`
	// PublishRetries on publish failure
	PublishRetries int `env:"QUEUE_PUBLISH_RETRIES" envDefault:"3"`
	// PublishBackoffBase is the base delay between publish retries
	PublishBackoffBase time.Duration `env:"QUEUE_PUBLISH_BACKOFF_BASE" envDefault:"200ms"`
	// PollInterval is how often idle consumers poll for messages
	PollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	// StaleAfter is how long a message may sit in 'processing' before recovery
	StaleAfter time.Duration `env:"QUEUE_STALE_AFTER" envDefault:"10m"`
	// TierCacheTTL bounds how stale a cached tenant tier may be
	TierCacheTTL time.Duration `env:"QUEUE_TIER_CACHE_TTL" envDefault:"5m"`
}

// SchedulerConfig holds job scheduler settings.
type SchedulerConfig struct {
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`
	// TickInterval is how often the scheduler scans for due jobs
	TickInterval time.Duration `env:"SCHEDULER_TICK_INTERVAL" envDefault:"5s"`
}

// JiraConfig holds settings for the Jira-style extractor.
type JiraConfig struct {
	// PageSize for JQL and project pagination
	PageSize int `env:"JIRA_PAGE_SIZE" envDefault:"100"`
	// RequestTimeout per HTTP request
	RequestTimeout time.Duration `env:"JIRA_REQUEST_TIMEOUT" envDefault:"30s"`
	// MaxRetries for transient failures
	MaxRetries int `env:"JIRA_MAX_RETRIES" envDefault:"3"`
}

// GitHubConfig holds settings for the GitHub-style extractor.
type GitHubConfig struct {
	// BatchSize is the GraphQL page size for PRs and nested connections
	BatchSize int `env:"GITHUB_BATCH_SIZE" envDefault:"50"`
	// RequestTimeout per HTTP request
	RequestTimeout time.Duration `env:"GITHUB_REQUEST_TIMEOUT" envDefault:"30s"`
	// MaxRetries for transient failures
	MaxRetries int `env:"GITHUB_MAX_RETRIES" envDefault:"3"`
}

// TransformConfig holds transform worker settings.
type TransformConfig struct {
	// UpsertBatchSize is the number of rows per bulk-upsert statement
	UpsertBatchSize int `env:"TRANSFORM_UPSERT_BATCH_SIZE" envDefault:"100"`
	// Workers is the number of concurrent transform consumers per tier
	Workers int `env:"TRANSFORM_WORKERS" envDefault:"4"`
}

// EmbeddingConfig holds embedding worker settings.
type EmbeddingConfig struct {
	// Workers is the number of concurrent embedding consumers per tier
	Workers int `env:"EMBEDDING_WORKERS" envDefault:"4"`
	// StoreRetries is the retry budget for a single vector-store call
	StoreRetries int `env:"EMBEDDING_STORE_RETRIES" envDefault:"3"`
	// Adaptive concurrency scaling bounds
	EnableAdaptiveScaling bool `env:"EMBEDDING_ADAPTIVE_SCALING" envDefault:"false"`
	MinConcurrency        int  `env:"EMBEDDING_MIN_CONCURRENCY" envDefault:"1"`
	MaxConcurrency        int  `env:"EMBEDDING_MAX_CONCURRENCY" envDefault:"10"`
}

// RetentionConfig holds retention pruning settings.
type RetentionConfig struct {
	Enabled bool `env:"RETENTION_ENABLED" envDefault:"true"`
	// MaxAge is how long completed raw rows, queue messages and embedding
	// entries are kept before pruning
	MaxAge time.Duration `env:"RETENTION_MAX_AGE" envDefault:"168h"`
	// Interval between pruning runs
	Interval time.Duration `env:"RETENTION_INTERVAL" envDefault:"1h"`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("db_host", cfg.Database.Host),
		slog.Bool("replica", cfg.Replica.IsConfigured()),
		slog.Duration("scheduler_tick", cfg.Scheduler.TickInterval),
	)

	return cfg, nil
}

package config

import "time"

// State store type constants
const (
	StateStoreMongoDB  = "mongodb"
	StateStoreRedis    = "redis"
	StateStorePostgres = "postgres"
	StateStoreMySQL    = "mysql"
	StateStoreS3       = "s3"
	StateStoreDynamoDB = "dynamodb"
	StateStoreFile     = "file"
)

// Config is the root configuration of the migration runner.
type Config struct {
	Service       ServiceConfig
	StateStore    StateStoreConfig `mapstructure:"state_store"`
	Migrations    MigrationsConfig
	Observability ObservabilityConfig
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StateStoreConfig selects and configures where migration state is persisted.
// Fields not used by the selected type are ignored.
type StateStoreConfig struct {
	Type             string        `mapstructure:"type"` // mongodb, redis, postgres, mysql, s3, dynamodb, file
	URL              string        `mapstructure:"url"`
	Database         string        `mapstructure:"database"`
	Collection       string        `mapstructure:"collection"`
	Table            string        `mapstructure:"table"`
	Key              string        `mapstructure:"key"`
	Path             string        `mapstructure:"path"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	Region           string        `mapstructure:"region"`
	Endpoint         string        `mapstructure:"endpoint"`
	Bucket           string        `mapstructure:"bucket"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	SessionToken     string        `mapstructure:"session_token"`
	UsePathStyle     bool          `mapstructure:"use_path_style"`
}

// MigrationsConfig configures the SQL migrations the runner applies.
type MigrationsConfig struct {
	Driver      string        `mapstructure:"driver"` // postgres, mysql
	DatabaseURL string        `mapstructure:"database_url"`
	Path        string        `mapstructure:"path"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ObservabilityConfig configures logging, metrics, and tracing
type ObservabilityConfig struct {
	LogLevel          string             `mapstructure:"log_level"`
	LogFormat         string             `mapstructure:"log_format"` // json, text
	TracingEnabled    bool               `mapstructure:"tracing_enabled"`
	TracingSampleRate float64            `mapstructure:"tracing_sample_rate"`
	TracingEndpoint   string             `mapstructure:"tracing_endpoint"`
	PushgatewayURL    string             `mapstructure:"pushgateway_url"`
	AsyncLogging      AsyncLoggingConfig `mapstructure:"async_logging"`
}

// AsyncLoggingConfig configures optional asynchronous logger dispatching.
type AsyncLoggingConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	QueueSize    int  `mapstructure:"queue_size"`
	WorkerCount  int  `mapstructure:"worker_count"`
	DropWhenFull bool `mapstructure:"drop_when_full"`
}

// DefaultConfig returns the configuration used when neither file nor env set a value.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "migratestate",
			Environment: "production",
		},
		StateStore: StateStoreConfig{
			Type:       StateStoreMongoDB,
			Collection: "migrations",
			Table:      "migrate_state",
			Path:       ".migrate",
		},
		Migrations: MigrationsConfig{
			Driver:  "postgres",
			Path:    "migrations",
			Timeout: 60 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			TracingSampleRate: 0.1,
			TracingEndpoint:   "localhost:4317",
			AsyncLogging: AsyncLoggingConfig{
				QueueSize:   1024,
				WorkerCount: 1,
			},
		},
	}
}

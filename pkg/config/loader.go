package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ViperLoader loads Config from a file, the environment and an optional secrets
// file using Viper.
type ViperLoader struct {
	configFile         string
	envPrefix          string
	serviceNameDefault string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "MIGRATE")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithServiceNameDefault sets the default service.name used when no config/env override is provided.
func (l *ViperLoader) WithServiceNameDefault(serviceName string) *ViperLoader {
	if l == nil {
		return l
	}
	l.serviceNameDefault = strings.TrimSpace(serviceName)
	return l
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.load(false)
	return cfg, err
}

func (l *ViperLoader) load(withSecrets bool) (*Config, *Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	var secrets *Config
	if withSecrets {
		var err error
		if secrets, err = l.mergeSecrets(v); err != nil {
			return nil, nil, err
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindLegacyEnvVars()
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, secrets, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// State store
	v.BindEnv("state_store.type", l.prefixedEnv("STATE_STORE_TYPE"))
	v.BindEnv("state_store.url", l.prefixedEnv("STATE_STORE_URL"))
	v.BindEnv("state_store.database", l.prefixedEnv("STATE_STORE_DATABASE"))
	v.BindEnv("state_store.collection", l.prefixedEnv("STATE_STORE_COLLECTION"))
	v.BindEnv("state_store.table", l.prefixedEnv("STATE_STORE_TABLE"))
	v.BindEnv("state_store.key", l.prefixedEnv("STATE_STORE_KEY"))
	v.BindEnv("state_store.path", l.prefixedEnv("STATE_STORE_PATH"))
	v.BindEnv("state_store.connect_timeout", l.prefixedEnv("STATE_STORE_CONNECT_TIMEOUT"))
	v.BindEnv("state_store.operation_timeout", l.prefixedEnv("STATE_STORE_OPERATION_TIMEOUT"))
	v.BindEnv("state_store.region", l.prefixedEnv("STATE_STORE_REGION"))
	v.BindEnv("state_store.endpoint", l.prefixedEnv("STATE_STORE_ENDPOINT"))
	v.BindEnv("state_store.bucket", l.prefixedEnv("STATE_STORE_BUCKET"))
	v.BindEnv("state_store.access_key_id", l.prefixedEnv("STATE_STORE_ACCESS_KEY_ID"))
	v.BindEnv("state_store.secret_access_key", l.prefixedEnv("STATE_STORE_SECRET_ACCESS_KEY"))
	v.BindEnv("state_store.session_token", l.prefixedEnv("STATE_STORE_SESSION_TOKEN"))
	v.BindEnv("state_store.use_path_style", l.prefixedEnv("STATE_STORE_USE_PATH_STYLE"))

	// Migrations
	v.BindEnv("migrations.driver", l.prefixedEnv("MIGRATIONS_DRIVER"))
	v.BindEnv("migrations.database_url", l.prefixedEnv("MIGRATIONS_DATABASE_URL"))
	v.BindEnv("migrations.path", l.prefixedEnv("MIGRATIONS_PATH"))
	v.BindEnv("migrations.timeout", l.prefixedEnv("MIGRATIONS_TIMEOUT"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("observability.pushgateway_url", l.prefixedEnv("PUSHGATEWAY_URL"))
	v.BindEnv("observability.async_logging.enabled", l.prefixedEnv("ASYNC_LOGGING_ENABLED"))
	v.BindEnv("observability.async_logging.queue_size", l.prefixedEnv("ASYNC_LOGGING_QUEUE_SIZE"))
	v.BindEnv("observability.async_logging.worker_count", l.prefixedEnv("ASYNC_LOGGING_WORKER_COUNT"))
	v.BindEnv("observability.async_logging.drop_when_full", l.prefixedEnv("ASYNC_LOGGING_DROP_WHEN_FULL"))
}

// bindLegacyEnvVars maps the short DB_* names onto the migrations keys when the
// long names are absent.
func (l *ViperLoader) bindLegacyEnvVars() {
	aliases := []struct {
		currentSuffix string
		legacySuffix  string
	}{
		{"MIGRATIONS_DATABASE_URL", "DB_URL"},
		{"MIGRATIONS_DRIVER", "DB_TYPE"},
	}

	for _, alias := range aliases {
		currentEnv := l.prefixedEnv(alias.currentSuffix)
		if _, ok := os.LookupEnv(currentEnv); ok {
			continue
		}
		if legacyValue, ok := os.LookupEnv(l.prefixedEnv(alias.legacySuffix)); ok {
			_ = os.Setenv(currentEnv, legacyValue)
		}
	}
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "MIGRATE"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

func (l *ViperLoader) defaultServiceName(fallback string) string {
	if l != nil {
		if configured := strings.TrimSpace(l.serviceNameDefault); configured != "" {
			return configured
		}
	}
	return strings.TrimSpace(fallback)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", l.defaultServiceName(cfg.Service.Name))
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("state_store.type", cfg.StateStore.Type)
	v.SetDefault("state_store.url", cfg.StateStore.URL)
	v.SetDefault("state_store.database", cfg.StateStore.Database)
	v.SetDefault("state_store.collection", cfg.StateStore.Collection)
	v.SetDefault("state_store.table", cfg.StateStore.Table)
	v.SetDefault("state_store.key", cfg.StateStore.Key)
	v.SetDefault("state_store.path", cfg.StateStore.Path)
	v.SetDefault("state_store.connect_timeout", cfg.StateStore.ConnectTimeout)
	v.SetDefault("state_store.operation_timeout", cfg.StateStore.OperationTimeout)
	v.SetDefault("state_store.region", cfg.StateStore.Region)
	v.SetDefault("state_store.endpoint", cfg.StateStore.Endpoint)
	v.SetDefault("state_store.bucket", cfg.StateStore.Bucket)
	v.SetDefault("state_store.access_key_id", cfg.StateStore.AccessKeyID)
	v.SetDefault("state_store.secret_access_key", cfg.StateStore.SecretAccessKey)
	v.SetDefault("state_store.session_token", cfg.StateStore.SessionToken)
	v.SetDefault("state_store.use_path_style", cfg.StateStore.UsePathStyle)

	v.SetDefault("migrations.driver", cfg.Migrations.Driver)
	v.SetDefault("migrations.database_url", cfg.Migrations.DatabaseURL)
	v.SetDefault("migrations.path", cfg.Migrations.Path)
	v.SetDefault("migrations.timeout", cfg.Migrations.Timeout)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.pushgateway_url", cfg.Observability.PushgatewayURL)
	v.SetDefault("observability.async_logging.enabled", cfg.Observability.AsyncLogging.Enabled)
	v.SetDefault("observability.async_logging.queue_size", cfg.Observability.AsyncLogging.QueueSize)
	v.SetDefault("observability.async_logging.worker_count", cfg.Observability.AsyncLogging.WorkerCount)
	v.SetDefault("observability.async_logging.drop_when_full", cfg.Observability.AsyncLogging.DropWhenFull)
}

// Validate normalizes cfg and returns every problem found, joined.
func (l *ViperLoader) Validate(cfg *Config) error {
	cfg.StateStore.Type = strings.ToLower(strings.TrimSpace(cfg.StateStore.Type))
	cfg.Migrations.Driver = strings.ToLower(strings.TrimSpace(cfg.Migrations.Driver))
	cfg.Observability.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Observability.LogLevel))
	cfg.Observability.LogFormat = strings.ToLower(strings.TrimSpace(cfg.Observability.LogFormat))

	var errs []error
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, cfg.Observability.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %s (must be one of: %v)", cfg.Observability.LogLevel, validLogLevels))
	}
	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, cfg.Observability.LogFormat) {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %s (must be one of: %v)", cfg.Observability.LogFormat, validLogFormats))
	}
	if cfg.Observability.TracingSampleRate < 0 || cfg.Observability.TracingSampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1, got %v", cfg.Observability.TracingSampleRate))
	}
	if cfg.Observability.TracingEnabled && strings.TrimSpace(cfg.Observability.TracingEndpoint) == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}
	if cfg.Observability.AsyncLogging.Enabled {
		if cfg.Observability.AsyncLogging.QueueSize <= 0 {
			errs = append(errs, errors.New("observability.async_logging.queue_size must be greater than zero"))
		}
		if cfg.Observability.AsyncLogging.WorkerCount <= 0 {
			errs = append(errs, errors.New("observability.async_logging.worker_count must be greater than zero"))
		}
	}
	if cfg.Migrations.Timeout < 0 {
		errs = append(errs, errors.New("migrations.timeout cannot be negative"))
	}

	return errors.Join(errs...)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Service.Name != "migratestate" {
		t.Errorf("expected service name migratestate, got %s", cfg.Service.Name)
	}
	if cfg.StateStore.Type != StateStoreMongoDB {
		t.Errorf("expected state store type mongodb, got %s", cfg.StateStore.Type)
	}
	if cfg.StateStore.Collection != "migrations" {
		t.Errorf("expected collection migrations, got %s", cfg.StateStore.Collection)
	}
	if cfg.StateStore.ConnectTimeout != 0 || cfg.StateStore.OperationTimeout != 0 {
		t.Error("expected no state store timeouts by default")
	}
	if cfg.Migrations.Timeout != 60*time.Second {
		t.Errorf("expected migrations timeout 60s, got %v", cfg.Migrations.Timeout)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Observability.LogLevel)
	}
	if cfg.Observability.LogFormat != "json" {
		t.Errorf("expected log format 'json', got %s", cfg.Observability.LogFormat)
	}
}

func TestViperLoader_LoadFromFile(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
service:
  name: billing
state_store:
  type: mongodb
  url: mongodb://localhost:27017/billing
  collection: schema_state
  operation_timeout: 3s
migrations:
  database_url: postgres://localhost/billing
observability:
  log_level: DEBUG
`)

	cfg, err := NewViperLoader(path, "MIGRATE").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "billing" {
		t.Errorf("service.name = %s", cfg.Service.Name)
	}
	if cfg.StateStore.URL != "mongodb://localhost:27017/billing" || cfg.StateStore.Collection != "schema_state" {
		t.Errorf("unexpected state store %+v", cfg.StateStore)
	}
	if cfg.StateStore.OperationTimeout != 3*time.Second {
		t.Errorf("operation_timeout = %v", cfg.StateStore.OperationTimeout)
	}
	if cfg.Migrations.Path != "migrations" {
		t.Errorf("expected default migrations.path, got %s", cfg.Migrations.Path)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected normalized log level debug, got %s", cfg.Observability.LogLevel)
	}
}

func TestViperLoader_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
state_store:
  type: mongodb
  url: mongodb://file-host/app
`)
	t.Setenv("MIGRATE_STATE_STORE_URL", "mongodb://env-host/app")
	t.Setenv("MIGRATE_STATE_STORE_CONNECT_TIMEOUT", "2s")
	t.Setenv("MIGRATE_LOG_FORMAT", "text")

	cfg, err := NewViperLoader(path, "MIGRATE").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StateStore.URL != "mongodb://env-host/app" {
		t.Errorf("expected env URL, got %s", cfg.StateStore.URL)
	}
	if cfg.StateStore.ConnectTimeout != 2*time.Second {
		t.Errorf("connect_timeout = %v", cfg.StateStore.ConnectTimeout)
	}
	if cfg.Observability.LogFormat != "text" {
		t.Errorf("log_format = %s", cfg.Observability.LogFormat)
	}
}

func TestViperLoader_LegacyDatabaseURL(t *testing.T) {
	t.Setenv("LEGACY_STATE_STORE_URL", "mongodb://localhost/app")
	t.Setenv("LEGACY_DB_URL", "postgres://legacy/app")

	cfg, err := NewViperLoader("", "LEGACY").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Migrations.DatabaseURL != "postgres://legacy/app" {
		t.Errorf("expected legacy DB_URL to populate migrations.database_url, got %q", cfg.Migrations.DatabaseURL)
	}
}

func TestViperLoader_WithServiceNameDefault(t *testing.T) {
	t.Setenv("MIGRATE_STATE_STORE_URL", "mongodb://localhost/app")

	cfg, err := NewViperLoader("", "MIGRATE").WithServiceNameDefault("orders").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "orders" {
		t.Errorf("service.name = %s, want orders", cfg.Service.Name)
	}
}

func TestViperLoader_MissingFile(t *testing.T) {
	_, err := NewViperLoader(filepath.Join(t.TempDir(), "absent.yaml"), "MIGRATE").Load()
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestViperLoader_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid mongodb",
			mutate: func(c *Config) { c.StateStore.URL = "mongodb://localhost" },
		},
		{
			name:    "mongodb without url",
			mutate:  func(c *Config) {},
			wantErr: "state_store.url is required for mongodb",
		},
		{
			name: "unknown type",
			mutate: func(c *Config) {
				c.StateStore.Type = "etcd"
			},
			wantErr: "unsupported state_store.type",
		},
		{
			name: "s3 needs bucket and region",
			mutate: func(c *Config) {
				c.StateStore.Type = "S3"
			},
			wantErr: "state_store.bucket is required for s3",
		},
		{
			name: "dynamodb needs table",
			mutate: func(c *Config) {
				c.StateStore.Type = StateStoreDynamoDB
				c.StateStore.Table = ""
				c.StateStore.Region = "eu-west-1"
			},
			wantErr: "state_store.table is required for dynamodb",
		},
		{
			name: "file store",
			mutate: func(c *Config) {
				c.StateStore.Type = StateStoreFile
			},
		},
		{
			name: "bad migrations driver",
			mutate: func(c *Config) {
				c.StateStore.URL = "mongodb://localhost"
				c.Migrations.DatabaseURL = "sqlite://x"
				c.Migrations.Driver = "sqlite"
			},
			wantErr: "unsupported migrations.driver",
		},
		{
			name: "bad log level",
			mutate: func(c *Config) {
				c.StateStore.URL = "mongodb://localhost"
				c.Observability.LogLevel = "trace"
			},
			wantErr: "invalid observability.log_level",
		},
		{
			name: "async logging without workers",
			mutate: func(c *Config) {
				c.StateStore.URL = "mongodb://localhost"
				c.Observability.AsyncLogging.Enabled = true
				c.Observability.AsyncLogging.WorkerCount = 0
			},
			wantErr: "worker_count must be greater than zero",
		},
		{
			name: "negative timeout",
			mutate: func(c *Config) {
				c.StateStore.URL = "mongodb://localhost"
				c.StateStore.OperationTimeout = -time.Second
			},
			wantErr: "timeouts cannot be negative",
		},
	}

	loader := NewViperLoader("", "MIGRATE")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := loader.Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestViperLoader_ValidateReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateStore.Type = StateStoreS3
	cfg.Observability.LogFormat = "xml"

	err := NewViperLoader("", "MIGRATE").Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"bucket", "region", "log_format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestLoadWithSecrets_RedactsSecretValues(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("state_store:\n  collection: migrations\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte("state_store:\n  url: mongodb://admin:hunter2@db/app\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, secrets, err := NewViperLoader(configPath, "MIGRATE").LoadWithSecrets()
	if err != nil {
		t.Fatalf("LoadWithSecrets() error = %v", err)
	}
	if cfg.StateStore.URL != "mongodb://admin:hunter2@db/app" {
		t.Fatalf("expected secrets to be merged, got %q", cfg.StateStore.URL)
	}
	if secrets == nil {
		t.Fatal("expected secrets config")
	}

	redacted := cfg.Redacted(secrets)
	if strings.Contains(redacted, "hunter2") {
		t.Fatalf("secret leaked in redacted output:\n%s", redacted)
	}
	if !strings.Contains(redacted, "url: ***") || !strings.Contains(redacted, "collection: migrations") {
		t.Fatalf("unexpected redacted output:\n%s", redacted)
	}
	if !strings.Contains(cfg.String(), "hunter2") {
		t.Fatal("String() should print values unmasked")
	}
}

func TestLoadWithSecrets_EmptySecretsEnv(t *testing.T) {
	t.Setenv("MIGRATE_SECRETS_FILE", " ")
	t.Setenv("MIGRATE_STATE_STORE_URL", "mongodb://localhost/app")

	_, _, err := NewViperLoader("", "MIGRATE").LoadWithSecrets()
	if err == nil || !strings.Contains(err.Error(), "is set but empty") {
		t.Fatalf("expected empty secrets env error, got %v", err)
	}
}

// Property: any supported log level set through the environment is loaded as-is.
func TestProperty_LogLevelFromEnv(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 20
	properties := gopter.NewProperties(params)

	properties.Property("env log level wins over defaults", prop.ForAll(
		func(idx int) bool {
			level := []string{"debug", "info", "warn", "error"}[idx]
			os.Setenv("PROP_STATE_STORE_URL", "mongodb://localhost/app")
			os.Setenv("PROP_LOG_LEVEL", strings.ToUpper(level))
			defer os.Unsetenv("PROP_STATE_STORE_URL")
			defer os.Unsetenv("PROP_LOG_LEVEL")

			cfg, err := NewViperLoader("", "PROP").Load()
			return err == nil && cfg.Observability.LogLevel == level
		},
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

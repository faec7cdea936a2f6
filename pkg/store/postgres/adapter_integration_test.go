package postgres

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nimburion/migratestate/pkg/migrate"
	"github.com/nimburion/migratestate/pkg/observability/logger"
	"github.com/nimburion/migratestate/pkg/testutil"
)

// TestAdapter_Integration tests the PostgreSQL state store with a real database
// using testcontainers.
func TestAdapter_Integration(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	log, err := logger.NewZapLogger(logger.Config{Level: logger.InfoLevel, Format: logger.JSONFormat})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	a, err := NewAdapter(Config{URL: connStr, OperationTimeout: 10 * time.Second}, log)
	if err != nil {
		t.Fatalf("Failed to create adapter: %v", err)
	}

	t.Run("FirstRunIsNotFound", func(t *testing.T) {
		if _, err := a.Load(ctx); !migrate.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		first := &migrate.State{LastRun: "001-init", Migrations: []migrate.AppliedRecord{{Title: "001-init", Timestamp: 1}}}
		second := &migrate.State{LastRun: "002-users", Migrations: []migrate.AppliedRecord{
			{Title: "001-init", Timestamp: 1},
			{Title: "002-users", Description: "users table", Timestamp: 2},
		}}
		for _, s := range []*migrate.State{first, second} {
			if err := a.Save(ctx, s); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
		}
		got, err := a.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if !reflect.DeepEqual(got, second) {
			t.Fatalf("Load() = %+v, want %+v", got, second)
		}
	})
}

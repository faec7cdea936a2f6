package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nimburion/migratestate/pkg/config"
	"github.com/nimburion/migratestate/pkg/migrate"
	"github.com/nimburion/migratestate/pkg/observability/logger"
	"github.com/nimburion/migratestate/pkg/observability/metrics"
	"github.com/nimburion/migratestate/pkg/observability/tracing"
	"github.com/nimburion/migratestate/pkg/store"
	"github.com/nimburion/migratestate/pkg/version"
)

const (
	pushJob         = "migratestate"
	teardownTimeout = 10 * time.Second
)

// runtime is everything one command invocation needs, built from config.
type runtime struct {
	cfg      *config.Config
	log      logger.Logger
	tracer   *tracing.TracerProvider
	registry *metrics.Registry
	metrics  *metrics.StateMetrics
	store    migrate.StateStore
}

// withRuntime builds the runtime, runs fn inside the run span and tears everything
// down. Teardown failures are logged; fn's error is returned.
func withRuntime(ctx context.Context, cfg *config.Config, secrets *config.Config, opts CommandOptions, command string, fn func(context.Context, *runtime) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	base, err := NewLogger(cfg, opts.LogOutput)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	ctx = logger.ContextWithRunID(ctx, runID)
	log := base.WithContext(ctx).With("service", cfg.Service.Name, "command", command)
	defer closeLogger(log)

	info := version.Current(cfg.Service.Name)
	log.Debug("starting command", info.Fields()...)
	if strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		log.Debug("effective configuration", "config", cfg.Redacted(secrets))
	}

	tp, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: info.Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return fmt.Errorf("create tracer provider: %w", err)
	}

	registry := metrics.NewRegistry()
	stateMetrics, err := metrics.NewStateMetrics(registry)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return fmt.Errorf("register metrics: %w", err)
	}

	backend := cfg.StateStore.Type
	if backend == "" {
		backend = config.StateStoreMongoDB
	}
	stateStore, err := store.New(cfg.StateStore, log)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return fmt.Errorf("create state store: %w", err)
	}

	rt := &runtime{
		cfg:      cfg,
		log:      log,
		tracer:   tp,
		registry: registry,
		metrics:  stateMetrics,
		store:    store.Instrument(stateStore, backend, stateMetrics),
	}

	ctx, span := tracing.StartRunSpan(ctx, tracing.WithCommand(command), tracing.WithRunID(runID), tracing.WithBackend(backend))
	runErr := fn(ctx, rt)
	if runErr != nil {
		tracing.RecordError(span, runErr)
	} else {
		tracing.RecordSuccess(span)
	}
	span.End()

	rt.teardown()
	return runErr
}

// teardown pushes metrics when a pushgateway is configured and flushes traces.
func (rt *runtime) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if url := strings.TrimSpace(rt.cfg.Observability.PushgatewayURL); url != "" {
		grouping := map[string]string{"service": rt.cfg.Service.Name}
		if err := rt.registry.Push(ctx, url, pushJob, grouping); err != nil {
			rt.log.Warn("failed to push metrics", "error", err, "url", url)
		}
	}
	if err := rt.tracer.Shutdown(ctx); err != nil {
		rt.log.Warn("failed to shut down tracer provider", "error", err)
	}
}

// runMigrations loads the SQL migrations and drives them through a Set backed by
// the runtime's state store.
func runMigrations(ctx context.Context, rt *runtime, opts CommandOptions, command migrate.Command) error {
	cfg := rt.cfg.Migrations
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("migrations.database_url is required to run migrations")
	}

	db, err := opts.OpenDatabase(ctx, cfg.Driver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			rt.log.Warn("failed to close migrations database", "error", err)
		}
	}()

	steps, err := migrate.LoadSQLMigrations(db, os.DirFS(cfg.Path), ".")
	if err != nil {
		return fmt.Errorf("load migrations from %s: %w", cfg.Path, err)
	}

	set, err := migrate.NewSet(rt.store,
		migrate.WithLogger(rt.log),
		migrate.WithEmitter(migrate.NewEmitter(eventObserver(rt.log, rt.metrics))),
	)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if err := set.Add(step); err != nil {
			return err
		}
	}
	rt.log.Debug("migrations registered", "count", len(steps), "path", cfg.Path)

	return migrate.RunParsed(ctx, command, migrate.Options{
		ServiceName: rt.cfg.Service.Name,
		Timeout:     cfg.Timeout,
		Logger:      rt.log,
	}, set.Operations())
}

func eventObserver(log logger.Logger, m *metrics.StateMetrics) migrate.Observer {
	return func(ev migrate.Event) {
		switch ev.Type {
		case migrate.EventLoad:
			log.Debug("loading migration state")
		case migrate.EventSave:
			log.Debug("migration state saved")
		case migrate.EventError:
			log.Error("failed to save migration state", "error", ev.Err)
		case migrate.EventMigration:
			log.Debug("migration step finished", "title", ev.Migration, "direction", string(ev.Direction))
			m.MigrationRan(string(ev.Direction))
		}
	}
}

// closeLogger drains an async logger. Called with the run-scoped logger so any
// dropped-entry warning carries the run id.
func closeLogger(log logger.Logger) {
	if closer, ok := log.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// Package sqldb stores migration state as a single row of a SQL table.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nimburion/migratestate/pkg/migrate"
	"github.com/nimburion/migratestate/pkg/observability/logger"
)

// DefaultTable holds the state row when Config.Table is empty.
const DefaultTable = "migrate_state"

const stateRowID = 0

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Dialect carries the statements that differ between SQL engines. Each statement
// takes the table name as its only format verb.
type Dialect struct {
	Name        string
	DriverName  string
	CreateTable string
	SelectState string
	UpsertState string
}

// Config holds SQL state store configuration.
type Config struct {
	URL              string
	Table            string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// Adapter persists migration state in one row of Table. Every Load and Save opens
// its own *sql.DB and closes it before returning.
type Adapter struct {
	dialect Dialect
	cfg     Config
	logger  logger.Logger
	open    func(driverName, dsn string) (*sql.DB, error)
}

// NewAdapter validates cfg for dialect. No connection is opened here.
func NewAdapter(dialect Dialect, cfg Config, log logger.Logger) (*Adapter, error) {
	if dialect.DriverName == "" {
		return nil, errors.New("sql dialect is required")
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid state table name %q", cfg.Table)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Adapter{
		dialect: dialect,
		cfg:     cfg,
		logger:  log.With("store", dialect.Name, "table", cfg.Table),
		open:    sql.Open,
	}, nil
}

// Load reads the state row. A missing row is migrate.ErrNotFound.
func (a *Adapter) Load(ctx context.Context) (*migrate.State, error) {
	var state *migrate.State
	err := a.withDB(ctx, func(ctx context.Context, db *sql.DB) error {
		var payload []byte
		err := db.QueryRowContext(ctx, a.stmt(a.dialect.SelectState), stateRowID).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			return migrate.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("select migration state: %w", err)
		}
		state, err = migrate.DecodeJSON(payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Save writes state over the state row, inserting it on first use.
func (a *Adapter) Save(ctx context.Context, state *migrate.State) error {
	payload, err := migrate.EncodeJSON(state)
	if err != nil {
		return err
	}
	return a.withDB(ctx, func(ctx context.Context, db *sql.DB) error {
		if _, err := db.ExecContext(ctx, a.stmt(a.dialect.UpsertState), stateRowID, string(payload)); err != nil {
			return fmt.Errorf("upsert migration state: %w", err)
		}
		return nil
	})
}

func (a *Adapter) withDB(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	db, err := a.open(a.dialect.DriverName, a.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to open %s database: %w", a.dialect.Name, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			a.logger.Warn("failed to close database connection", "error", err)
		}
	}()
	db.SetMaxOpenConns(1)

	if err := a.ping(ctx, db); err != nil {
		return fmt.Errorf("failed to connect to %s database: %w", a.dialect.Name, err)
	}

	if a.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.OperationTimeout)
		defer cancel()
	}

	if _, err := db.ExecContext(ctx, a.stmt(a.dialect.CreateTable)); err != nil {
		return fmt.Errorf("create state table: %w", err)
	}
	return fn(ctx, db)
}

// ping establishes the single connection; sql.Open alone never dials.
func (a *Adapter) ping(ctx context.Context, db *sql.DB) error {
	if a.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.ConnectTimeout)
		defer cancel()
	}
	return db.PingContext(ctx)
}

func (a *Adapter) stmt(format string) string {
	return fmt.Sprintf(format, a.cfg.Table)
}

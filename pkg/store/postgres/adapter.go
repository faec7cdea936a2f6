package postgres

import (
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/nimburion/migratestate/pkg/observability/logger"
	"github.com/nimburion/migratestate/pkg/store/sqldb"
)

// Dialect stores the state as JSONB keyed by an integer id.
var Dialect = sqldb.Dialect{
	Name:        "postgres",
	DriverName:  "postgres",
	CreateTable: `CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY, state JSONB NOT NULL)`,
	SelectState: `SELECT state FROM %s WHERE id = $1`,
	UpsertState: `INSERT INTO %s (id, state) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state`,
}

// Config holds PostgreSQL state store configuration.
type Config = sqldb.Config

// NewAdapter returns a state store backed by a PostgreSQL table.
func NewAdapter(cfg Config, log logger.Logger) (*sqldb.Adapter, error) {
	return sqldb.NewAdapter(Dialect, cfg, log)
}

package mysql

import (
	_ "github.com/go-sql-driver/mysql"

	"github.com/nimburion/migratestate/pkg/observability/logger"
	"github.com/nimburion/migratestate/pkg/store/sqldb"
)

// Dialect stores the state in a JSON column keyed by an integer id.
var Dialect = sqldb.Dialect{
	Name:        "mysql",
	DriverName:  "mysql",
	CreateTable: "CREATE TABLE IF NOT EXISTS %s (id INT PRIMARY KEY, state JSON NOT NULL)",
	SelectState: "SELECT state FROM %s WHERE id = ?",
	UpsertState: "INSERT INTO %s (id, state) VALUES (?, ?) ON DUPLICATE KEY UPDATE state = VALUES(state)",
}

// Config holds MySQL state store configuration. URL is a go-sql-driver DSN,
// e.g. user:pass@tcp(localhost:3306)/app.
type Config = sqldb.Config

// NewAdapter returns a state store backed by a MySQL table.
func NewAdapter(cfg Config, log logger.Logger) (*sqldb.Adapter, error) {
	return sqldb.NewAdapter(Dialect, cfg, log)
}

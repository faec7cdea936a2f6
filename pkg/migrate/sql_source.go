package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var sqlFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_\-]+)\.(up|down)\.sql$`)

// SQLScript is one migration read from NNN_name.up.sql / NNN_name.down.sql files.
// Version is NNN parsed as a number, so 10_x sorts after 9_x.
type SQLScript struct {
	Version int64
	Title   string
	UpSQL   string
	DownSQL string
}

// LoadSQLMigrations reads SQL migration files from dir and returns steps that run
// them against db, each inside its own transaction. A version without a down file
// yields a step that cannot be reverted.
func LoadSQLMigrations(db *sql.DB, migrationFiles fs.FS, dir string) ([]Migration, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	scripts, err := ReadSQLScripts(migrationFiles, dir)
	if err != nil {
		return nil, err
	}

	migrations := make([]Migration, 0, len(scripts))
	for _, script := range scripts {
		m := Migration{
			Version: script.Version,
			Title:   script.Title,
			Up:      execInTx(db, script.Title, script.UpSQL),
		}
		if strings.TrimSpace(script.DownSQL) != "" {
			m.Down = execInTx(db, script.Title, script.DownSQL)
		}
		migrations = append(migrations, m)
	}
	return migrations, nil
}

// ReadSQLScripts pairs up and down files in dir by version, ordered by version.
func ReadSQLScripts(migrationFiles fs.FS, dir string) ([]SQLScript, error) {
	if migrationFiles == nil {
		return nil, fmt.Errorf("migration files filesystem is required")
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("migration directory is required")
	}

	entries, err := fs.ReadDir(migrationFiles, dir)
	if err != nil {
		return nil, fmt.Errorf("read migration files: %w", err)
	}

	type partial struct {
		title string
		up    string
		down  string
	}
	byVersion := make(map[int64]*partial)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		matches := sqlFilePattern.FindStringSubmatch(name)
		if len(matches) != 4 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %q: %w", name, err)
		}
		title, direction := matches[1]+"_"+matches[2], matches[3]

		payload, err := fs.ReadFile(migrationFiles, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration file %q: %w", name, err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &partial{title: title}
			byVersion[version] = item
		} else if item.title != title {
			return nil, fmt.Errorf("migration version %d is used by both %s and %s", version, item.title, title)
		}
		if direction == "up" {
			item.up = string(payload)
		} else {
			item.down = string(payload)
		}
	}

	versions := make([]int64, 0, len(byVersion))
	for version := range byVersion {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	scripts := make([]SQLScript, 0, len(versions))
	for _, version := range versions {
		item := byVersion[version]
		if strings.TrimSpace(item.up) == "" {
			return nil, fmt.Errorf("missing up migration for version %d", version)
		}
		scripts = append(scripts, SQLScript{Version: version, Title: item.title, UpSQL: item.up, DownSQL: item.down})
	}
	return scripts, nil
}

func execInTx(db *sql.DB, title, statement string) func(context.Context) error {
	return func(ctx context.Context) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction for %s: %w", title, err)
		}
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute %s: %w", title, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", title, err)
		}
		return nil
	}
}

// OpenDatabase opens and pings the database migrations run against. Callers own
// the returned handle.
func OpenDatabase(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
	if driverName == "" {
		return nil, fmt.Errorf("driver name is required")
	}
	if dsn == "" {
		return nil, fmt.Errorf("database url is required")
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

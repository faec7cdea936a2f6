package migrate

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func testMigrationFS() fstest.MapFS {
	return fstest.MapFS{
		"migrations/001_init.up.sql":     {Data: []byte("CREATE TABLE users (id INT);")},
		"migrations/001_init.down.sql":   {Data: []byte("DROP TABLE users;")},
		"migrations/002_index.up.sql":    {Data: []byte("CREATE INDEX users_id ON users (id);")},
		"migrations/README.md":           {Data: []byte("ignored")},
		"migrations/nested/003_x.up.sql": {Data: []byte("ignored")},
	}
}

func TestReadSQLScripts(t *testing.T) {
	scripts, err := ReadSQLScripts(testMigrationFS(), "migrations")
	if err != nil {
		t.Fatalf("ReadSQLScripts() error = %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("expected 2 scripts, got %d", len(scripts))
	}
	if scripts[0].Title != "001_init" || scripts[0].DownSQL == "" {
		t.Fatalf("unexpected first script: %+v", scripts[0])
	}
	if scripts[1].Title != "002_index" || scripts[1].DownSQL != "" {
		t.Fatalf("unexpected second script: %+v", scripts[1])
	}
}

func TestReadSQLScriptsOrdersVersionsNumerically(t *testing.T) {
	fsys := fstest.MapFS{
		"m/10_ten.up.sql":   {Data: []byte("SELECT 10;")},
		"m/9_nine.up.sql":   {Data: []byte("SELECT 9;")},
		"m/100_last.up.sql": {Data: []byte("SELECT 100;")},
	}
	scripts, err := ReadSQLScripts(fsys, "m")
	if err != nil {
		t.Fatalf("ReadSQLScripts() error = %v", err)
	}
	var got []string
	for _, script := range scripts {
		got = append(got, script.Title)
	}
	want := []string{"9_nine", "10_ten", "100_last"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if scripts[0].Version != 9 || scripts[2].Version != 100 {
		t.Fatalf("unexpected versions: %+v", scripts)
	}
}

func TestReadSQLScriptsRejectsConflictingVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/1_users.up.sql":   {Data: []byte("SELECT 1;")},
		"m/01_orders.up.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := ReadSQLScripts(fsys, "m"); err == nil {
		t.Fatal("expected error for two migrations sharing version 1")
	}
}

func TestLoadSQLMigrationsRunNumerically(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"m/10_ten.up.sql": {Data: []byte("SELECT 10;")},
		"m/9_nine.up.sql": {Data: []byte("SELECT 9;")},
	}
	steps, err := LoadSQLMigrations(db, fsys, "m")
	if err != nil {
		t.Fatalf("LoadSQLMigrations() error = %v", err)
	}

	set, err := NewSet(&memoryStore{})
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	for i := len(steps) - 1; i >= 0; i-- {
		if err := set.Add(steps[i]); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	pending := set.Status().Pending
	if len(pending) != 2 || pending[0].Title != "9_nine" || pending[1].Title != "10_ten" {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestReadSQLScriptsMissingUp(t *testing.T) {
	fsys := fstest.MapFS{"m/001_init.down.sql": {Data: []byte("DROP TABLE users;")}}
	if _, err := ReadSQLScripts(fsys, "m"); err == nil {
		t.Fatal("expected error for missing up file")
	}
	if _, err := ReadSQLScripts(fsys, ""); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestLoadSQLMigrationsExecutesInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	migrations, err := LoadSQLMigrations(db, testMigrationFS(), "migrations")
	if err != nil {
		t.Fatalf("LoadSQLMigrations() error = %v", err)
	}
	if migrations[1].Down != nil {
		t.Fatal("expected no down step without a down file")
	}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	if err := migrations[0].Up(context.Background()); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE users").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()
	if err := migrations[0].Down(context.Background()); err == nil {
		t.Fatal("expected down error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoadSQLMigrationsRequiresDB(t *testing.T) {
	if _, err := LoadSQLMigrations(nil, testMigrationFS(), "migrations"); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestOpenDatabaseValidation(t *testing.T) {
	if _, err := OpenDatabase(context.Background(), "", "dsn"); err == nil {
		t.Fatal("expected error for empty driver")
	}
	if _, err := OpenDatabase(context.Background(), "postgres", ""); err == nil {
		t.Fatal("expected error for empty dsn")
	}
	if _, err := OpenDatabase(context.Background(), "invalid_driver", "dsn"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

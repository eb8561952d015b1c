package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/pressly/goose/v3"
)

// DefaultDir is the directory inside the embedded migrations filesystem.
const DefaultDir = "migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// goose keeps dialect and base FS in package globals.
var gooseMu sync.Mutex

// Run executes a standard goose command against the embedded snapshot migrations.
func Run(ctx context.Context, db *sql.DB, driver string, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := prepare(driver); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db, DefaultDir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// Version reports the currently applied migration version.
func Version(db *sql.DB, driver string) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("db is required")
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := prepare(driver); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("get db version: %w", err)
	}
	return version, nil
}

func prepare(driver string) error {
	dialect, err := dialectFor(driver)
	if err != nil {
		return err
	}
	goose.SetBaseFS(embedded)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

func dialectFor(driver string) (string, error) {
	switch driver {
	case config.DBDriverSQLite:
		return "sqlite3", nil
	case config.DBDriverPostgres:
		return "postgres", nil
	default:
		return "", fmt.Errorf("no goose dialect for driver %q", driver)
	}
}

// Package migrations holds the embedded SQL schema, applied with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// Dialects
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// goose keeps its base FS and dialect in package state
var mu sync.Mutex

// FS returns the migration files for dialect
func FS(dialect string) (fs.FS, error) {
	dir, _, err := resolve(dialect)
	if err != nil {
		return nil, err
	}
	return fs.Sub(files, dir)
}

// Up applies every pending migration for dialect
func Up(ctx context.Context, db *sql.DB, dialect string) error {
	return run(ctx, db, dialect, goose.UpContext)
}

// Reset rolls back every migration for dialect
func Reset(ctx context.Context, db *sql.DB, dialect string) error {
	return run(ctx, db, dialect, goose.ResetContext)
}

// Version returns the current schema version
func Version(ctx context.Context, db *sql.DB, dialect string) (int64, error) {
	mu.Lock()
	defer mu.Unlock()

	_, gooseDialect, err := resolve(dialect)
	if err != nil {
		return 0, err
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}

type runner func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error

func run(ctx context.Context, db *sql.DB, dialect string, fn runner) error {
	mu.Lock()
	defer mu.Unlock()

	dir, gooseDialect, err := resolve(dialect)
	if err != nil {
		return err
	}

	goose.SetBaseFS(files)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}

	if err := fn(ctx, db, dir); err != nil {
		return fmt.Errorf("migrations %s: %w", dialect, err)
	}
	return nil
}

func resolve(dialect string) (dir, gooseDialect string, err error) {
	switch dialect {
	case DialectSQLite, "sqlite3":
		return "sqlite", "sqlite3", nil
	case DialectPostgres, "pg", "pgx":
		return "postgres", "pgx", nil
	}
	return "", "", fmt.Errorf("unsupported migrations dialect %q", dialect)
}

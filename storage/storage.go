// Package storage opens the bun database for the configured driver.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goliatone/go-connect/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options describe the database connection
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	PingTimeout  time.Duration
	// Migrate applies the embedded migrations after connecting
	Migrate bool
}

// Open connects to the database, verifies it answers and optionally applies
// the migrations. The caller owns the returned DB.
func Open(ctx context.Context, opts Options) (*bun.DB, error) {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 5 * time.Second
	}

	var (
		db  *bun.DB
		err error
	)

	switch opts.Driver {
	case DriverSQLite, "":
		db, err = openSQLite(opts)
	case DriverPostgres:
		db, err = openPostgres(opts)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Driver, err)
	}

	if opts.Migrate {
		if err := migrations.Up(ctx, db.DB, dialectOf(opts.Driver)); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

func openSQLite(opts Options) (*bun.DB, error) {
	dsn := opts.DSN
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// sqlite serializes writers, a single connection avoids SQLITE_BUSY
	sqldb.SetMaxOpenConns(1)

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func openPostgres(opts Options) (*bun.DB, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("postgres driver requires a DSN")
	}

	sqldb, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(opts.MaxOpenConns)
	}

	return bun.NewDB(sqldb, pgdialect.New()), nil
}

func dialectOf(driver string) string {
	if driver == DriverPostgres {
		return migrations.DialectPostgres
	}
	return migrations.DialectSQLite
}

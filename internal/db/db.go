// Copyright (c) 2025 ToeiRei
// Librarian - library database for file management
// This source code is licensed under the MIT license found in the LICENSE file.

// package db provides the data access layer for Librarian.
// It opens the library database (SQLite, PostgreSQL or MySQL), brings the
// schema up to date via a migration strategy, and persists key records for
// the key manager.
package db // import "github.com/toeirei/librarian/internal/db"

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	// SQL drivers required for integration tests and runtime.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// package-level variables
var (
	//go:embed migrations
	embeddedMigrations embed.FS
	// sqlOpenFunc allows tests to override database opening behavior.
	sqlOpenFunc = sql.Open
)

// DB is an open library database handle. It is created by Open and, once a
// migration strategy has run to completion, handed to the rest of the
// application. DB performs no internal locking; the caller must finish
// migration before sharing the handle.
type DB struct {
	dbType string
	sql    *sql.DB
	bun    *bun.DB
}

// Open establishes a database connection for the given type and DSN and
// wraps it in a Bun handle with the matching dialect. It performs no
// migration; any underlying connection error is wrapped and surfaced.
func Open(dbType, dsn string) (*DB, error) {
	driverName := dbType
	// The pgx stdlib registers driver name "pgx"; map "postgres" to that driver.
	if dbType == "postgres" {
		driverName = "pgx"
	}
	start := time.Now()
	sqlDB, err := sqlOpenFunc(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	configurePool(sqlDB, dbType, dsn)

	dbLogf("db: opened %s driver in %s", driverName, time.Since(start))
	return &DB{dbType: dbType, sql: sqlDB, bun: createBunDB(sqlDB, dbType)}, nil
}

// configurePool applies connection pool settings. Values can be overridden
// via environment variables for CI or production tuning. Defaults chosen to
// be conservative for small deployments.
func configurePool(sqlDB *sql.DB, dbType, dsn string) {
	const (
		defaultMaxOpenConns    = 25
		defaultMaxIdleConns    = 25
		defaultConnMaxLifetime = 5 * time.Minute
	)

	maxOpen := envInt("LIBRARIAN_DB_MAX_OPEN_CONNS", defaultMaxOpenConns)
	maxIdle := envInt("LIBRARIAN_DB_MAX_IDLE_CONNS", defaultMaxIdleConns)

	// For in-memory SQLite databases, force a single open connection to avoid
	// the SQLite per-connection in-memory database semantics which can make
	// schema changes invisible across different connections.
	if dbType == "sqlite" && dsn == ":memory:" {
		maxOpen = 1
		maxIdle = 1
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Duration(envInt("LIBRARIAN_DB_CONN_MAX_LIFETIME_SECONDS", int(defaultConnMaxLifetime/time.Second))) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(envInt("LIBRARIAN_DB_CONN_MAX_IDLE_SECONDS", 60)) * time.Second)
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// createBunDB constructs a *bun.DB for the provided *sql.DB and dbType.
// Centralizing construction makes it easier to apply consistent options
// and to test Bun initialization in one place.
func createBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case "sqlite":
		return bun.NewDB(sqlDB, sqlitedialect.New())
	case "postgres":
		return bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		// Fallback to SQLite dialect as a safe default; callers should validate dbType earlier.
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

// Type returns the database type this handle was opened with.
func (d *DB) Type() string { return d.dbType }

// Bun exposes the underlying Bun handle for query building.
func (d *DB) Bun() *bun.DB { return d.bun }

// SQL exposes the underlying sql.DB for raw statements and inspection.
func (d *DB) SQL() *sql.DB { return d.sql }

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	return d.sql.Close()
}

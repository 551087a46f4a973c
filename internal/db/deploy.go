// Copyright (c) 2025 ToeiRei
// Librarian - library database for file management
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// DeployStrategy is the production migration strategy: it applies the
// previously authored, ordered changesets embedded in this package, each in
// its own transaction, recording them in the schema_migrations ledger. It
// stops at the first failure and does not roll back changesets already
// applied. No destructive-diff detection happens here; the changeset queue
// is assumed vetted.
type DeployStrategy struct {
	fsys fs.FS
	// root is the directory inside fsys holding per-engine changeset dirs.
	root string
}

// NewDeployStrategy returns a deploy strategy reading the changesets
// embedded in this package.
func NewDeployStrategy() *DeployStrategy {
	return &DeployStrategy{fsys: embeddedMigrations, root: "migrations"}
}

// NewDeployStrategyFS returns a deploy strategy reading changesets from the
// given filesystem. Used by tests to feed synthetic changeset queues.
func NewDeployStrategyFS(fsys fs.FS, root string) *DeployStrategy {
	return &DeployStrategy{fsys: fsys, root: root}
}

// Migrate applies all pending changesets for the database's engine.
func (s *DeployStrategy) Migrate(ctx context.Context, d *DB) error {
	start := time.Now()
	dbLogf("db: starting deploy migrations for %s", d.dbType)
	dir := path.Join(s.root, d.dbType)

	entries, err := fs.ReadDir(s.fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// No changesets authored for this engine.
			dbLogf("db: no deploy migrations for %s", d.dbType)
			return nil
		}
		return fmt.Errorf("failed to read migrations (%s): %w", dir, err)
	}

	// Collect .up.sql files and sort them; the filename prefix is the
	// changeset version and defines the application order.
	var ups []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".up.sql") {
			ups = append(ups, e.Name())
		}
	}
	sort.Strings(ups)

	if err := ensureLedgerTable(ctx, d); err != nil {
		return fmt.Errorf("failed to ensure %s table: %w", ledgerTable, err)
	}

	for _, fname := range ups {
		version := strings.TrimSuffix(fname, ".up.sql")

		applied, err := ledgerHas(ctx, d, version)
		if err != nil {
			return fmt.Errorf("failed to check migration version %s: %w", version, err)
		}
		if applied {
			continue
		}

		data, err := fs.ReadFile(s.fsys, path.Join(dir, fname))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", fname, err)
		}

		if err := applyChangeset(ctx, d, version, string(data)); err != nil {
			// Changesets already applied stay applied; the error names the
			// one that halted the queue.
			return err
		}
	}

	dbLogf("db: deploy migrations for %s completed in %s", d.dbType, time.Since(start))
	return nil
}

// applyChangeset runs one changeset and its ledger record in a single
// transaction.
func applyChangeset(ctx context.Context, d *DB, version, stmts string) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, stmts); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to execute migration %s: %w", version, err)
	}

	insert := "INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)"
	if d.dbType == "postgres" {
		insert = "INSERT INTO schema_migrations(version, applied_at) VALUES($1, $2)"
	}
	if _, err := tx.ExecContext(ctx, insert, version, time.Now()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to commit migration %s: %w", version, err)
	}
	return nil
}

// ensureLedgerTable creates the schema_migrations ledger when missing.
// MySQL does not permit TEXT columns as primary keys without a length, so a
// VARCHAR with a safe length is used there.
func ensureLedgerTable(ctx context.Context, d *DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMP)`
	if d.dbType == "mysql" {
		ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (version VARCHAR(191) PRIMARY KEY, applied_at TIMESTAMP)`
	}
	_, err := d.sql.ExecContext(ctx, ddl)
	return err
}

func ledgerHas(ctx context.Context, d *DB, version string) (bool, error) {
	query := "SELECT 1 FROM schema_migrations WHERE version = ?"
	if d.dbType == "postgres" {
		query = "SELECT 1 FROM schema_migrations WHERE version = $1"
	}
	var exists int
	err := d.sql.QueryRowContext(ctx, query, version).Scan(&exists)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, err
}

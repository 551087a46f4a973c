// Copyright (c) 2025 ToeiRei
// Librarian - library database for file management
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"fmt"
	"os"
)

// MigrationStrategy brings the schema of an open database up to date. The
// strategy is chosen once at process startup and injected; it is not
// re-evaluated per call. Both implementations live in the same binary so
// either can be exercised in tests.
type MigrationStrategy interface {
	Migrate(ctx context.Context, db *DB) error
}

// Overrides are the environment-driven escape hatches for the push strategy.
// They are read once at startup and passed in explicitly; the strategy never
// consults the environment itself.
type Overrides struct {
	// AcceptDataLoss permits a destructive schema diff to be applied.
	AcceptDataLoss bool
	// ForceReset drops and rebuilds the entire schema before any diff is
	// computed. The reset is itself the destructive act the operator asked
	// for, so it bypasses the destructive-diff guard.
	ForceReset bool
}

const (
	envAcceptDataLoss = "LIBRARIAN_ACCEPT_DATA_LOSS"
	envForceReset     = "LIBRARIAN_FORCE_RESET_DB"
)

// OverridesFromEnv reads the override flags from the environment. Exactly
// the literal "true" enables a flag; anything else, including absence,
// leaves it disabled.
func OverridesFromEnv() Overrides {
	return Overrides{
		AcceptDataLoss: os.Getenv(envAcceptDataLoss) == "true",
		ForceReset:     os.Getenv(envForceReset) == "true",
	}
}

// LoadAndMigrate opens the database at the given DSN and runs the provided
// migration strategy to completion before returning the handle. On any
// migration failure the connection is closed and the error is surfaced with
// the stage that produced it; no partial handle escapes.
func LoadAndMigrate(ctx context.Context, dbType, dsn string, strategy MigrationStrategy) (*DB, error) {
	d, err := Open(dbType, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database connection: %w", err)
	}
	if err := strategy.Migrate(ctx, d); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return d, nil
}

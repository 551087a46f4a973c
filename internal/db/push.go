// Copyright (c) 2025 ToeiRei
// Librarian - library database for file management
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/toeirei/librarian/internal/logging"
)

// PushStrategy is the development-time migration strategy: it computes the
// diff between the live schema and the declared schema and applies it
// directly. A diff that would drop existing data aborts unless the
// accept-data-loss override is set. Production deployments use
// DeployStrategy instead.
type PushStrategy struct {
	Overrides Overrides
}

// NewPushStrategy returns a push strategy with the given overrides.
func NewPushStrategy(o Overrides) *PushStrategy {
	return &PushStrategy{Overrides: o}
}

// columnChange identifies a single column addition or removal.
type columnChange struct {
	Table  string
	Column columnSpec
	// Name is set for removals, where only the live column name is known.
	Name string
}

// schemaDiff is the set of changes needed to converge the live schema on the
// declared one. Drops are the destructive half.
type schemaDiff struct {
	createTables []tableSpec
	addColumns   []columnChange
	dropTables   []string
	dropColumns  []columnChange
}

func (s schemaDiff) destructive() bool {
	return len(s.dropTables) > 0 || len(s.dropColumns) > 0
}

func (s schemaDiff) empty() bool {
	return len(s.createTables) == 0 && len(s.addColumns) == 0 && !s.destructive()
}

// describeDrops renders the destructive half of the diff for diagnostics.
func (s schemaDiff) describeDrops() string {
	var parts []string
	for _, t := range s.dropTables {
		parts = append(parts, "table "+t)
	}
	for _, c := range s.dropColumns {
		parts = append(parts, fmt.Sprintf("column %s.%s", c.Table, c.Name))
	}
	return strings.Join(parts, ", ")
}

// Migrate converges the live schema on the declared schema. With ForceReset
// set, the whole schema is dropped and rebuilt first; the destructive-diff
// guard does not apply in that case.
func (p *PushStrategy) Migrate(ctx context.Context, d *DB) error {
	start := time.Now()
	dbLogf("db: starting schema push for %s", d.dbType)

	if p.Overrides.ForceReset {
		if err := p.reset(ctx, d); err != nil {
			return fmt.Errorf("schema push: %w", err)
		}
	}

	diff, err := computeDiff(ctx, d)
	if err != nil {
		return fmt.Errorf("schema push: %w", err)
	}

	if diff.destructive() && !p.Overrides.AcceptDataLoss {
		// Emitted before returning so operators see why startup halted even
		// if the error text is later discarded.
		logging.Errorf("db: pushing the schema would drop existing data (%s); set %s=true to force it", diff.describeDrops(), envAcceptDataLoss)
		return fmt.Errorf("schema push: %w: would drop %s", ErrPossibleDataLoss, diff.describeDrops())
	}

	if err := applyDiff(ctx, d, diff); err != nil {
		return fmt.Errorf("schema push: %w", err)
	}
	dbLogf("db: schema push for %s completed in %s", d.dbType, time.Since(start))
	return nil
}

// reset drops every user table, ledger included, leaving an empty schema for
// the subsequent diff to rebuild.
func (p *PushStrategy) reset(ctx context.Context, d *DB) error {
	tables, err := d.listTables(ctx)
	if err != nil {
		return err
	}
	logging.Warnf("db: force reset requested; dropping %d table(s)", len(tables))
	for _, t := range tables {
		if _, err := d.sql.ExecContext(ctx, "DROP TABLE "+quoteIdent(d.dbType, t)); err != nil {
			return fmt.Errorf("failed to drop table %s during reset: %w", t, err)
		}
	}
	return nil
}

// computeDiff introspects the live schema and diffs it against the declared
// table set. The deploy ledger is invisible to the diff.
func computeDiff(ctx context.Context, d *DB) (schemaDiff, error) {
	var diff schemaDiff

	live, err := d.listTables(ctx)
	if err != nil {
		return diff, err
	}
	liveSet := make(map[string]bool, len(live))
	for _, t := range live {
		if t != ledgerTable {
			liveSet[t] = true
		}
	}

	declared := declaredTables()
	declaredSet := make(map[string]tableSpec, len(declared))
	for _, t := range declared {
		declaredSet[t.Name] = t
	}

	for _, t := range declared {
		if !liveSet[t.Name] {
			diff.createTables = append(diff.createTables, t)
			continue
		}
		liveCols, err := d.listColumns(ctx, t.Name)
		if err != nil {
			return diff, err
		}
		liveColSet := make(map[string]bool, len(liveCols))
		for _, c := range liveCols {
			liveColSet[c] = true
		}
		declaredColSet := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			declaredColSet[c.Name] = true
			if !liveColSet[c.Name] {
				diff.addColumns = append(diff.addColumns, columnChange{Table: t.Name, Column: c})
			}
		}
		for _, c := range liveCols {
			if !declaredColSet[c] {
				diff.dropColumns = append(diff.dropColumns, columnChange{Table: t.Name, Name: c})
			}
		}
	}

	for _, t := range live {
		if t == ledgerTable {
			continue
		}
		if _, ok := declaredSet[t]; !ok {
			diff.dropTables = append(diff.dropTables, t)
		}
	}

	return diff, nil
}

// applyDiff executes the diff: creations first, then additions, then drops.
func applyDiff(ctx context.Context, d *DB, diff schemaDiff) error {
	if diff.empty() {
		dbLogf("db: schema already up to date")
		return nil
	}
	for _, t := range diff.createTables {
		if _, err := d.sql.ExecContext(ctx, renderCreateTable(d.dbType, t)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.Name, err)
		}
	}
	for _, c := range diff.addColumns {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(d.dbType, c.Table), renderColumn(d.dbType, c.Column))
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", c.Table, c.Column.Name, err)
		}
	}
	for _, c := range diff.dropColumns {
		stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteIdent(d.dbType, c.Table), quoteIdent(d.dbType, c.Name))
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop column %s.%s: %w", c.Table, c.Name, err)
		}
	}
	for _, t := range diff.dropTables {
		if _, err := d.sql.ExecContext(ctx, "DROP TABLE "+quoteIdent(d.dbType, t)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", t, err)
		}
	}
	return nil
}

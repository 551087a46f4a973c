// Copyright (c) 2025 ToeiRei
// Librarian - library database for file management
// This source code is licensed under the MIT license found in the LICENSE file.

// This file declares the target schema and the introspection helpers the
// push strategy diffs it against.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type columnKind int

const (
	kindText columnKind = iota
	kindBlob
)

type columnSpec struct {
	Name       string
	Kind       columnKind
	PrimaryKey bool
	NotNull    bool
	Default    string // SQL literal, empty for none
}

type tableSpec struct {
	Name    string
	Columns []columnSpec
}

// ledgerTable is the deploy strategy's bookkeeping table. The push strategy
// ignores it entirely when diffing so a database previously migrated in
// deploy mode does not register as destructive drift.
const ledgerTable = "schema_migrations"

// declaredTables is the schema the push strategy converges the database to.
// It must stay in lockstep with the deploy changesets under migrations/.
func declaredTables() []tableSpec {
	return []tableSpec{
		{
			Name: "keys",
			Columns: []columnSpec{
				{Name: "uuid", Kind: kindText, PrimaryKey: true},
				{Name: "version", Kind: kindText, NotNull: true},
				{Name: "key_type", Kind: kindText, NotNull: true},
				{Name: "algorithm", Kind: kindText, NotNull: true},
				{Name: "hashing_algorithm", Kind: kindText, NotNull: true},
				{Name: "content_salt", Kind: kindBlob, NotNull: true},
				{Name: "master_key", Kind: kindBlob, NotNull: true},
				{Name: "master_key_nonce", Kind: kindBlob, NotNull: true},
				{Name: "key_nonce", Kind: kindBlob, NotNull: true},
				{Name: "key", Kind: kindBlob, NotNull: true},
				{Name: "salt", Kind: kindBlob, NotNull: true},
				{Name: "tags", Kind: kindText, NotNull: true, Default: "'[]'"},
			},
		},
	}
}

// quoteIdent quotes an identifier for the given engine. MySQL is the odd one
// out ("key" is a reserved word there).
func quoteIdent(dbType, ident string) string {
	if dbType == "mysql" {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}

// sqlColumnType renders the engine-specific column type. MySQL does not
// permit TEXT primary keys without a length, so keyed text columns use a
// VARCHAR with a safe length there.
func sqlColumnType(dbType string, c columnSpec) string {
	switch c.Kind {
	case kindBlob:
		if dbType == "postgres" {
			return "BYTEA"
		}
		return "BLOB"
	default:
		if dbType == "mysql" && c.PrimaryKey {
			return "VARCHAR(191)"
		}
		return "TEXT"
	}
}

func renderColumn(dbType string, c columnSpec) string {
	var b strings.Builder
	b.WriteString(quoteIdent(dbType, c.Name))
	b.WriteString(" ")
	b.WriteString(sqlColumnType(dbType, c))
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	// MySQL rejects DEFAULT clauses on TEXT/BLOB columns.
	if c.Default != "" && !(dbType == "mysql" && sqlColumnType(dbType, c) == "TEXT") {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

func renderCreateTable(dbType string, t tableSpec) string {
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, renderColumn(dbType, c))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(dbType, t.Name), strings.Join(cols, ", "))
}

// listTables returns the user-visible table names in the live database.
func (d *DB) listTables(ctx context.Context) ([]string, error) {
	var query string
	switch d.dbType {
	case "sqlite":
		query = "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	case "postgres":
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema='public' AND table_type='BASE TABLE' ORDER BY table_name"
	case "mysql":
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema=DATABASE() AND table_type='BASE TABLE' ORDER BY table_name"
	default:
		return nil, fmt.Errorf("unsupported db type for schema introspection: %s", d.dbType)
	}
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to read table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// listColumns returns the column names of a live table in declaration order.
func (d *DB) listColumns(ctx context.Context, table string) ([]string, error) {
	if d.dbType == "sqlite" {
		rows, err := d.sql.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent("sqlite", table)))
		if err != nil {
			return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
		}
		defer func() { _ = rows.Close() }()

		var names []string
		for rows.Next() {
			// cid, name, type, notnull, dflt_value, pk
			var cid int
			var name, typ string
			var notnull, pk int
			var dflt sql.NullString
			if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
				return nil, fmt.Errorf("failed to read column of %s: %w", table, err)
			}
			names = append(names, name)
		}
		return names, rows.Err()
	}

	query := "SELECT column_name FROM information_schema.columns WHERE table_name=$1 AND table_schema='public' ORDER BY ordinal_position"
	if d.dbType == "mysql" {
		query = "SELECT column_name FROM information_schema.columns WHERE table_name=? AND table_schema=DATABASE() ORDER BY ordinal_position"
	}
	rows, err := d.sql.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to read column of %s: %w", table, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

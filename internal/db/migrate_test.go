// Copyright (c) 2025 ToeiRei
// Librarian - library database for file management
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
)

var testDBSeq atomic.Int64

// openTestDB opens a fresh in-memory SQLite database. The DSN carries a
// sequence number so tests opening several databases do not share one
// cache=shared store.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", "#", "_").Replace(t.Name())
	d, err := Open("sqlite", fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", name, testDBSeq.Add(1)))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func tableColumns(t *testing.T, d *DB, table string) []string {
	t.Helper()
	cols, err := d.listColumns(context.Background(), table)
	if err != nil {
		t.Fatalf("listColumns(%s) failed: %v", table, err)
	}
	return cols
}

func hasColumn(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("bogus", "whatever"); err == nil {
		t.Fatal("expected Open with an unregistered driver to fail")
	}
}

func TestPushCreatesSchemaFromScratch(t *testing.T) {
	d := openTestDB(t)
	strategy := NewPushStrategy(Overrides{})

	if err := strategy.Migrate(context.Background(), d); err != nil {
		t.Fatalf("push on empty database failed: %v", err)
	}

	cols := tableColumns(t, d, "keys")
	for _, want := range []string{"uuid", "version", "key_type", "algorithm", "hashing_algorithm", "content_salt", "master_key", "master_key_nonce", "key_nonce", "key", "salt", "tags"} {
		if !hasColumn(cols, want) {
			t.Errorf("expected keys column %q after push, got %v", want, cols)
		}
	}

	// A second push against an up-to-date schema is a no-op.
	if err := strategy.Migrate(context.Background(), d); err != nil {
		t.Fatalf("push on up-to-date database failed: %v", err)
	}
}

func TestPushAddsMissingColumn(t *testing.T) {
	d := openTestDB(t)
	// Simulate an older schema missing the tags column.
	_, err := d.sql.Exec(`CREATE TABLE "keys" ("uuid" TEXT PRIMARY KEY, "version" TEXT NOT NULL, "key_type" TEXT NOT NULL, "algorithm" TEXT NOT NULL, "hashing_algorithm" TEXT NOT NULL, "content_salt" BLOB NOT NULL, "master_key" BLOB NOT NULL, "master_key_nonce" BLOB NOT NULL, "key_nonce" BLOB NOT NULL, "key" BLOB NOT NULL, "salt" BLOB NOT NULL)`)
	if err != nil {
		t.Fatalf("failed to seed old schema: %v", err)
	}

	if err := NewPushStrategy(Overrides{}).Migrate(context.Background(), d); err != nil {
		t.Fatalf("additive push failed: %v", err)
	}
	if !hasColumn(tableColumns(t, d, "keys"), "tags") {
		t.Error("expected push to add the tags column")
	}
}

func TestPushDestructiveDiffAborts(t *testing.T) {
	d := openTestDB(t)
	if err := NewPushStrategy(Overrides{}).Migrate(context.Background(), d); err != nil {
		t.Fatalf("initial push failed: %v", err)
	}
	if _, err := d.sql.Exec(`ALTER TABLE "keys" ADD COLUMN "legacy" TEXT`); err != nil {
		t.Fatalf("failed to add stray column: %v", err)
	}

	err := NewPushStrategy(Overrides{}).Migrate(context.Background(), d)
	if !errors.Is(err, ErrPossibleDataLoss) {
		t.Fatalf("expected ErrPossibleDataLoss, got %v", err)
	}
	// The schema must be left unchanged.
	if !hasColumn(tableColumns(t, d, "keys"), "legacy") {
		t.Error("destructive push modified the schema despite aborting")
	}
}

func TestPushDestructiveDiffAcceptedDropsData(t *testing.T) {
	d := openTestDB(t)
	if err := NewPushStrategy(Overrides{}).Migrate(context.Background(), d); err != nil {
		t.Fatalf("initial push failed: %v", err)
	}
	if _, err := d.sql.Exec(`ALTER TABLE "keys" ADD COLUMN "legacy" TEXT`); err != nil {
		t.Fatalf("failed to add stray column: %v", err)
	}
	if _, err := d.sql.Exec(`CREATE TABLE "junk" ("id" TEXT)`); err != nil {
		t.Fatalf("failed to add stray table: %v", err)
	}

	if err := NewPushStrategy(Overrides{AcceptDataLoss: true}).Migrate(context.Background(), d); err != nil {
		t.Fatalf("accepted destructive push failed: %v", err)
	}
	if hasColumn(tableColumns(t, d, "keys"), "legacy") {
		t.Error("expected stray column to be dropped")
	}
	tables, err := d.listTables(context.Background())
	if err != nil {
		t.Fatalf("listTables failed: %v", err)
	}
	for _, tbl := range tables {
		if tbl == "junk" {
			t.Error("expected stray table to be dropped")
		}
	}
}

func TestPushForceResetRebuildsSchema(t *testing.T) {
	d := openTestDB(t)
	if err := NewPushStrategy(Overrides{}).Migrate(context.Background(), d); err != nil {
		t.Fatalf("initial push failed: %v", err)
	}
	if _, err := d.sql.Exec(`INSERT INTO "keys" ("uuid", "version", "key_type", "algorithm", "hashing_algorithm", "content_salt", "master_key", "master_key_nonce", "key_nonce", "key", "salt", "tags") VALUES ('x', 'V1', 'User', 'AES-256-GCM', 'Argon2id-Standard', x'00', x'00', x'00', x'00', x'00', x'00', '[]')`); err != nil {
		t.Fatalf("failed to seed row: %v", err)
	}

	// Force reset bypasses the data-loss guard even with AcceptDataLoss unset.
	if err := NewPushStrategy(Overrides{ForceReset: true}).Migrate(context.Background(), d); err != nil {
		t.Fatalf("force reset push failed: %v", err)
	}

	var count int
	if err := d.sql.QueryRow(`SELECT COUNT(*) FROM "keys"`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty keys table after force reset, found %d rows", count)
	}
}

func TestDeployAppliesChangesetsInOrder(t *testing.T) {
	d := openTestDB(t)
	fsys := fstest.MapFS{
		"migrations/sqlite/0001_first.up.sql":  {Data: []byte(`CREATE TABLE "first" ("id" TEXT)`)},
		"migrations/sqlite/0002_second.up.sql": {Data: []byte(`CREATE TABLE "second" ("id" TEXT)`)},
	}

	if err := NewDeployStrategyFS(fsys, "migrations").Migrate(context.Background(), d); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	tables, err := d.listTables(context.Background())
	if err != nil {
		t.Fatalf("listTables failed: %v", err)
	}
	found := map[string]bool{}
	for _, tbl := range tables {
		found[tbl] = true
	}
	for _, want := range []string{"first", "second", "schema_migrations"} {
		if !found[want] {
			t.Errorf("expected table %q after deploy, got %v", want, tables)
		}
	}

	// Re-running must be a no-op thanks to the ledger.
	if err := NewDeployStrategyFS(fsys, "migrations").Migrate(context.Background(), d); err != nil {
		t.Fatalf("second deploy failed: %v", err)
	}
}

func TestDeployHaltsAtFirstFailure(t *testing.T) {
	d := openTestDB(t)
	fsys := fstest.MapFS{
		"migrations/sqlite/0001_first.up.sql":  {Data: []byte(`CREATE TABLE "first" ("id" TEXT)`)},
		"migrations/sqlite/0002_broken.up.sql": {Data: []byte(`THIS IS NOT SQL`)},
		"migrations/sqlite/0003_third.up.sql":  {Data: []byte(`CREATE TABLE "third" ("id" TEXT)`)},
	}

	err := NewDeployStrategyFS(fsys, "migrations").Migrate(context.Background(), d)
	if err == nil {
		t.Fatal("expected deploy with a broken changeset to fail")
	}
	if !strings.Contains(err.Error(), "0002_broken") {
		t.Errorf("expected error to name the failing changeset, got: %v", err)
	}

	tables, err2 := d.listTables(context.Background())
	if err2 != nil {
		t.Fatalf("listTables failed: %v", err2)
	}
	found := map[string]bool{}
	for _, tbl := range tables {
		found[tbl] = true
	}
	if !found["first"] {
		t.Error("expected the first changeset to remain applied")
	}
	if found["third"] {
		t.Error("expected the queue to halt before the third changeset")
	}

	applied, err2 := ledgerHas(context.Background(), d, "0001_first")
	if err2 != nil || !applied {
		t.Errorf("expected ledger entry for first changeset (applied=%v, err=%v)", applied, err2)
	}
	applied, err2 = ledgerHas(context.Background(), d, "0002_broken")
	if err2 != nil || applied {
		t.Errorf("expected no ledger entry for broken changeset (applied=%v, err=%v)", applied, err2)
	}
}

func TestDeployEmbeddedChangesets(t *testing.T) {
	d := openTestDB(t)
	if err := NewDeployStrategy().Migrate(context.Background(), d); err != nil {
		t.Fatalf("deploy of embedded changesets failed: %v", err)
	}
	if !hasColumn(tableColumns(t, d, "keys"), "uuid") {
		t.Error("expected embedded changesets to create the keys table")
	}
}

func TestLoadAndMigrate(t *testing.T) {
	d, err := LoadAndMigrate(context.Background(), "sqlite", "file:test_load_and_migrate?mode=memory&cache=shared", NewDeployStrategy())
	if err != nil {
		t.Fatalf("LoadAndMigrate failed: %v", err)
	}
	defer func() { _ = d.Close() }()

	if !hasColumn(tableColumns(t, d, "keys"), "uuid") {
		t.Error("expected a migrated database from LoadAndMigrate")
	}
}

func TestOverridesFromEnv(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", false},
		{"1", false},
		{"yes", false},
		{"", false},
	}
	for _, c := range cases {
		t.Setenv(envAcceptDataLoss, c.value)
		t.Setenv(envForceReset, c.value)
		o := OverridesFromEnv()
		if o.AcceptDataLoss != c.want || o.ForceReset != c.want {
			t.Errorf("value %q: got %+v, want both %v", c.value, o, c.want)
		}
	}
}

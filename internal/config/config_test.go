// Copyright (c) 2025 ToeiRei
// Librarian - library database for file management
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no stray librarian.yaml is picked up.
	t.Chdir(t.TempDir())

	c, err := Load(nil, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Database.Type != "sqlite" {
		t.Errorf("expected default database type sqlite, got %q", c.Database.Type)
	}
	if c.Database.DSN != "./librarian.db" {
		t.Errorf("expected default DSN ./librarian.db, got %q", c.Database.DSN)
	}
	if c.Migration.Mode != "deploy" {
		t.Errorf("expected default migration mode deploy, got %q", c.Migration.Mode)
	}
	if c.Debug {
		t.Error("expected debug disabled by default")
	}
}

func TestLoadExplicitConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "librarian.yaml")
	content := "database:\n  type: postgres\n  dsn: postgres://localhost/library\nmigration:\n  mode: push\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := Load(nil, path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Database.Type != "postgres" {
		t.Errorf("expected postgres, got %q", c.Database.Type)
	}
	if c.Database.DSN != "postgres://localhost/library" {
		t.Errorf("unexpected DSN %q", c.Database.DSN)
	}
	if c.Migration.Mode != "push" {
		t.Errorf("expected push mode, got %q", c.Migration.Mode)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LIBRARIAN_DATABASE_TYPE", "mysql")

	c, err := Load(nil, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Database.Type != "mysql" {
		t.Errorf("expected env override mysql, got %q", c.Database.Type)
	}
}

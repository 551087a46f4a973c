// Copyright (c) 2025 ToeiRei
// Librarian - library database for file management
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"bytes"
	"context"
	"testing"
)

func TestBackupRoundTrip(t *testing.T) {
	src := openMigratedDB(t)
	ctx := context.Background()

	a := sampleStoredKey()
	b := sampleStoredKey()
	if err := src.WriteStoredKey(ctx, a); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := src.WriteStoredKey(ctx, b); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var buf bytes.Buffer
	if err := src.ExportBackup(ctx, &buf); err != nil {
		t.Fatalf("ExportBackup failed: %v", err)
	}

	dst := openMigratedDB(t)
	inserted, err := dst.ImportBackup(ctx, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ImportBackup failed: %v", err)
	}
	if inserted != 2 {
		t.Errorf("expected 2 restored rows, got %d", inserted)
	}

	restored, err := dst.ListStoredKeys(ctx)
	if err != nil {
		t.Fatalf("ListStoredKeys failed: %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("expected 2 keys after restore, got %d", len(restored))
	}
}

func TestImportBackupSkipsExistingRows(t *testing.T) {
	d := openMigratedDB(t)
	ctx := context.Background()

	sk := sampleStoredKey()
	if err := d.WriteStoredKey(ctx, sk); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var buf bytes.Buffer
	if err := d.ExportBackup(ctx, &buf); err != nil {
		t.Fatalf("ExportBackup failed: %v", err)
	}

	// Importing the snapshot into the same database must not fail and must
	// not duplicate anything.
	inserted, err := d.ImportBackup(ctx, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ImportBackup failed: %v", err)
	}
	if inserted != 0 {
		t.Errorf("expected 0 inserted rows, got %d", inserted)
	}

	keys, err := d.ListStoredKeys(ctx)
	if err != nil {
		t.Fatalf("ListStoredKeys failed: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("expected 1 key after re-import, got %d", len(keys))
	}
}

// Copyright (c) 2025 ToeiRei
// Librarian - library database for file management
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// BackupData is the serialized form of a database backup: every persisted
// key row, in its encoded (text/blob) representation.
type BackupData struct {
	CreatedAt time.Time        `json:"created_at"`
	Keys      []StoredKeyModel `json:"keys"`
}

// ExportBackup writes a zstd-compressed JSON snapshot of all key rows.
func (d *DB) ExportBackup(ctx context.Context, w io.Writer) error {
	var rows []StoredKeyModel
	if err := d.bun.NewSelect().Model(&rows).Order("uuid ASC").Scan(ctx); err != nil {
		return fmt.Errorf("failed to read keys for backup: %w", err)
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("could not create zstd writer: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(BackupData{CreatedAt: time.Now().UTC(), Keys: rows}); err != nil {
		_ = zw.Close()
		return fmt.Errorf("could not encode backup json: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("could not finish zstd stream: %w", err)
	}
	return nil
}

// ImportBackup restores key rows from a zstd-compressed JSON snapshot.
// Rows whose UUID already exists are skipped; restore never overwrites.
// It returns the number of rows actually inserted.
func (d *DB) ImportBackup(ctx context.Context, r io.Reader) (int, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("could not create zstd reader: %w", err)
	}
	defer zr.Close()

	var backup BackupData
	if err := json.NewDecoder(zr).Decode(&backup); err != nil {
		return 0, fmt.Errorf("could not decode json from zstd reader: %w", err)
	}

	inserted := 0
	for i := range backup.Keys {
		row := backup.Keys[i]
		// Sanity-check the row round-trips through the codecs before insert.
		if _, err := storedKeyFromModel(&row); err != nil {
			return inserted, fmt.Errorf("backup row rejected: %w", err)
		}
		if _, err := d.bun.NewInsert().Model(&row).Exec(ctx); err != nil {
			if mapped := MapDBError(err); mapped == ErrDuplicate {
				dbLogf("db: backup restore skipping existing key %s", row.UUID)
				continue
			}
			return inserted, fmt.Errorf("failed to restore key %s: %w", row.UUID, err)
		}
		inserted++
	}
	return inserted, nil
}

// Copyright (c) 2025 ToeiRei
// Librarian - library database for file management
// This source code is licensed under the MIT license found in the LICENSE file.

// This file contains the stored-key persistence operations. Keys are
// insert-only: a record is written at most once and never updated in place.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/toeirei/librarian/internal/model"
	"github.com/toeirei/librarian/util/slicest"
)

// StoredKeyModel is the Bun mapping for the keys table.
type StoredKeyModel struct {
	bun.BaseModel `bun:"table:keys"`

	UUID             string `bun:"uuid,pk"`
	Version          string `bun:"version"`
	KeyType          string `bun:"key_type"`
	Algorithm        string `bun:"algorithm"`
	HashingAlgorithm string `bun:"hashing_algorithm"`
	ContentSalt      []byte `bun:"content_salt"`
	MasterKey        []byte `bun:"master_key"`
	MasterKeyNonce   []byte `bun:"master_key_nonce"`
	KeyNonce         []byte `bun:"key_nonce"`
	Key              []byte `bun:"key"`
	Salt             []byte `bun:"salt"`
	Tags             string `bun:"tags"`
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// storedKeyToModel serializes a StoredKey into its row form. Enum fields go
// through their codec tables; binary fields are copied into owned buffers.
func storedKeyToModel(key *model.StoredKey) (*StoredKeyModel, error) {
	version, err := key.Version.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize key %s: %w", key.UUID, err)
	}
	keyType, err := key.KeyType.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize key %s: %w", key.UUID, err)
	}
	algorithm, err := key.Algorithm.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize key %s: %w", key.UUID, err)
	}
	hashing, err := key.HashingAlgorithm.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize key %s: %w", key.UUID, err)
	}

	tags := key.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize tags of key %s: %w", key.UUID, err)
	}

	return &StoredKeyModel{
		UUID:             key.UUID.String(),
		Version:          version,
		KeyType:          keyType,
		Algorithm:        algorithm,
		HashingAlgorithm: hashing,
		ContentSalt:      cloneBytes(key.ContentSalt[:]),
		MasterKey:        cloneBytes(key.MasterKey),
		MasterKeyNonce:   cloneBytes(key.MasterKeyNonce),
		KeyNonce:         cloneBytes(key.KeyNonce),
		Key:              cloneBytes(key.Key),
		Salt:             cloneBytes(key.Salt),
		Tags:             string(tagsJSON),
	}, nil
}

// storedKeyFromModel deserializes a row back into a StoredKey, running the
// enum codecs in reverse.
func storedKeyFromModel(m *StoredKeyModel) (*model.StoredKey, error) {
	id, err := uuid.Parse(m.UUID)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize key %s: %w", m.UUID, err)
	}
	version, err := model.ParseKeyVersion(m.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize key %s: %w", m.UUID, err)
	}
	keyType, err := model.ParseKeyType(m.KeyType)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize key %s: %w", m.UUID, err)
	}
	algorithm, err := model.ParseAlgorithm(m.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize key %s: %w", m.UUID, err)
	}
	hashing, err := model.ParseHashingAlgorithm(m.HashingAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize key %s: %w", m.UUID, err)
	}
	if len(m.ContentSalt) != model.ContentSaltSize {
		return nil, fmt.Errorf("failed to deserialize key %s: content salt has %d bytes, expected %d", m.UUID, len(m.ContentSalt), model.ContentSaltSize)
	}

	var tags []string
	if m.Tags != "" {
		if err := json.Unmarshal([]byte(m.Tags), &tags); err != nil {
			return nil, fmt.Errorf("failed to deserialize tags of key %s: %w", m.UUID, err)
		}
	}
	if tags == nil {
		tags = []string{}
	}

	key := &model.StoredKey{
		UUID:             id,
		Version:          version,
		KeyType:          keyType,
		Algorithm:        algorithm,
		HashingAlgorithm: hashing,
		MasterKey:        cloneBytes(m.MasterKey),
		MasterKeyNonce:   cloneBytes(m.MasterKeyNonce),
		KeyNonce:         cloneBytes(m.KeyNonce),
		Key:              cloneBytes(m.Key),
		Salt:             cloneBytes(m.Salt),
		Tags:             tags,
	}
	copy(key.ContentSalt[:], m.ContentSalt)
	return key, nil
}

// WriteStoredKey persists a key record. Memory-only keys are skipped
// silently; that is the documented contract, not an error. Uniqueness is
// enforced by the storage layer: a second write of the same UUID surfaces
// ErrDuplicate and leaves the first row untouched.
func (d *DB) WriteStoredKey(ctx context.Context, key *model.StoredKey) error {
	if key.MemoryOnly {
		dbLogf("db: skipping write of memory-only key %s", key.UUID)
		return nil
	}

	m, err := storedKeyToModel(key)
	if err != nil {
		return err
	}

	if _, err := d.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key.UUID, MapDBError(err))
	}
	return nil
}

// GetStoredKey retrieves a single key record by UUID. Returns (nil, nil)
// when no such record exists.
func (d *DB) GetStoredKey(ctx context.Context, id uuid.UUID) (*model.StoredKey, error) {
	var m StoredKeyModel
	err := d.bun.NewSelect().Model(&m).Where("uuid = ?", id.String()).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load key %s: %w", id, err)
	}
	return storedKeyFromModel(&m)
}

// KeyFilter narrows FindStoredKeys. Nil fields do not constrain the result.
type KeyFilter struct {
	KeyType          *model.KeyType
	Algorithm        *model.Algorithm
	HashingAlgorithm *model.HashingAlgorithm
}

// keyCondition is one WHERE clause with its argument.
type keyCondition struct {
	expr string
	arg  string
}

func encodedCondition[T interface{ Encode() (string, error) }](expr string, v *T) (*keyCondition, error) {
	if v == nil {
		return nil, nil
	}
	s, err := (*v).Encode()
	if err != nil {
		return nil, err
	}
	return &keyCondition{expr: expr, arg: s}, nil
}

// FindStoredKeys returns the key records matching the filter, ordered by
// UUID for deterministic output.
func (d *DB) FindStoredKeys(ctx context.Context, filter KeyFilter) ([]*model.StoredKey, error) {
	keyType, err := encodedCondition("key_type = ?", filter.KeyType)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize key filter: %w", err)
	}
	algorithm, err := encodedCondition("algorithm = ?", filter.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize key filter: %w", err)
	}
	hashing, err := encodedCondition("hashing_algorithm = ?", filter.HashingAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize key filter: %w", err)
	}

	conds := slicest.MergeOptional([]keyCondition{}, []*keyCondition{keyType, algorithm, hashing})

	q := d.bun.NewSelect().Model((*StoredKeyModel)(nil)).Order("uuid ASC")
	for _, c := range conds {
		q = q.Where(c.expr, c.arg)
	}

	var rows []StoredKeyModel
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return slicest.MapX(rows, func(m StoredKeyModel) (*model.StoredKey, error) {
		return storedKeyFromModel(&m)
	})
}

// ListStoredKeys returns every persisted key record.
func (d *DB) ListStoredKeys(ctx context.Context) ([]*model.StoredKey, error) {
	return d.FindStoredKeys(ctx, KeyFilter{})
}

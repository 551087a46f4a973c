// Copyright (c) 2025 ToeiRei
// Librarian - library database for file management
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the core data structures for the library database.
package model // import "github.com/toeirei/librarian/internal/model"

import (
	"fmt"

	"github.com/google/uuid"
)

// ContentSaltSize is the fixed size of a content salt in bytes.
const ContentSaltSize = 16

// ContentSalt is the fixed-size salt used to derive per-content keys.
type ContentSalt [ContentSaltSize]byte

// StoredKey is a cryptographic key record as held by the key manager.
// It is constructed by the crypto package, optionally written once to the
// database, and never updated in place.
type StoredKey struct {
	UUID             uuid.UUID        // Unique identifier; the storage key.
	Version          KeyVersion       // Record format version.
	KeyType          KeyType          // Role of the key (user or root).
	Algorithm        Algorithm        // Cipher used to seal the key material.
	HashingAlgorithm HashingAlgorithm // Passphrase hashing algorithm and level.
	ContentSalt      ContentSalt      // Fixed-size salt for content key derivation.
	MasterKey        []byte           // Master key, sealed under the hashed passphrase.
	MasterKeyNonce   []byte           // Nonce used to seal the master key.
	KeyNonce         []byte           // Nonce used to seal the key itself.
	Key              []byte           // Key material, sealed under the master key.
	Salt             []byte           // Salt for passphrase hashing.
	Tags             []string         // Ordered tag list; empty at creation.

	// MemoryOnly marks a key that must never reach durable storage.
	// Writing such a key is a no-op, not an error.
	MemoryOnly bool
}

// UUIDByteSeq returns the byte-sequence form of a UUID for callers that
// compose binary query parameters.
func UUIDByteSeq(id uuid.UUID) []byte {
	b := id[:]
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// KeyVersion is the version of the stored key record format.
type KeyVersion int

const (
	KeyVersionV1 KeyVersion = iota
)

// KeyType distinguishes the role a stored key plays.
type KeyType int

const (
	// KeyTypeUser is a key added by the user for content encryption.
	KeyTypeUser KeyType = iota
	// KeyTypeRoot is the root key a library is initialized with.
	KeyTypeRoot
)

// Algorithm is the cipher used to seal key material.
type Algorithm int

const (
	AlgorithmXChaCha20Poly1305 Algorithm = iota
	AlgorithmAES256GCM
)

// HashingAlgorithm is the passphrase hashing algorithm, including its
// parameter level.
type HashingAlgorithm int

const (
	HashingArgon2idStandard HashingAlgorithm = iota
	HashingArgon2idHardened
	HashingArgon2idParanoid
	HashingBlake3BalloonStandard
	HashingBlake3BalloonHardened
	HashingBlake3BalloonParanoid
)

// Each enum carries one explicit bidirectional codec table. The encode and
// decode directions are built from the same table so they cannot drift.

var keyVersionNames = map[KeyVersion]string{
	KeyVersionV1: "V1",
}

var keyTypeNames = map[KeyType]string{
	KeyTypeUser: "User",
	KeyTypeRoot: "Root",
}

var algorithmNames = map[Algorithm]string{
	AlgorithmXChaCha20Poly1305: "XChaCha20-Poly1305",
	AlgorithmAES256GCM:         "AES-256-GCM",
}

var hashingAlgorithmNames = map[HashingAlgorithm]string{
	HashingArgon2idStandard:      "Argon2id-Standard",
	HashingArgon2idHardened:      "Argon2id-Hardened",
	HashingArgon2idParanoid:      "Argon2id-Paranoid",
	HashingBlake3BalloonStandard: "Blake3-Balloon-Standard",
	HashingBlake3BalloonHardened: "Blake3-Balloon-Hardened",
	HashingBlake3BalloonParanoid: "Blake3-Balloon-Paranoid",
}

func invert[K comparable](names map[K]string) map[string]K {
	out := make(map[string]K, len(names))
	for k, name := range names {
		out[name] = k
	}
	return out
}

var (
	keyVersionValues       = invert(keyVersionNames)
	keyTypeValues          = invert(keyTypeNames)
	algorithmValues        = invert(algorithmNames)
	hashingAlgorithmValues = invert(hashingAlgorithmNames)
)

// Encode returns the canonical text form of the version. Encoding fails only
// for values outside the closed enum set.
func (v KeyVersion) Encode() (string, error) {
	s, ok := keyVersionNames[v]
	if !ok {
		return "", fmt.Errorf("unknown key version %d", int(v))
	}
	return s, nil
}

// ParseKeyVersion decodes the canonical text form of a key version.
func ParseKeyVersion(s string) (KeyVersion, error) {
	v, ok := keyVersionValues[s]
	if !ok {
		return 0, fmt.Errorf("unknown key version %q", s)
	}
	return v, nil
}

// Encode returns the canonical text form of the key type.
func (t KeyType) Encode() (string, error) {
	s, ok := keyTypeNames[t]
	if !ok {
		return "", fmt.Errorf("unknown key type %d", int(t))
	}
	return s, nil
}

// ParseKeyType decodes the canonical text form of a key type.
func ParseKeyType(s string) (KeyType, error) {
	t, ok := keyTypeValues[s]
	if !ok {
		return 0, fmt.Errorf("unknown key type %q", s)
	}
	return t, nil
}

// Encode returns the canonical text form of the algorithm.
func (a Algorithm) Encode() (string, error) {
	s, ok := algorithmNames[a]
	if !ok {
		return "", fmt.Errorf("unknown algorithm %d", int(a))
	}
	return s, nil
}

// ParseAlgorithm decodes the canonical text form of an algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	a, ok := algorithmValues[s]
	if !ok {
		return 0, fmt.Errorf("unknown algorithm %q", s)
	}
	return a, nil
}

// Encode returns the canonical text form of the hashing algorithm.
func (h HashingAlgorithm) Encode() (string, error) {
	s, ok := hashingAlgorithmNames[h]
	if !ok {
		return "", fmt.Errorf("unknown hashing algorithm %d", int(h))
	}
	return s, nil
}

// ParseHashingAlgorithm decodes the canonical text form of a hashing algorithm.
func ParseHashingAlgorithm(s string) (HashingAlgorithm, error) {
	h, ok := hashingAlgorithmValues[s]
	if !ok {
		return 0, fmt.Errorf("unknown hashing algorithm %q", s)
	}
	return h, nil
}

// String implements fmt.Stringer for log output. Unknown values render as a
// numeric placeholder instead of failing.
func (v KeyVersion) String() string {
	if s, ok := keyVersionNames[v]; ok {
		return s
	}
	return fmt.Sprintf("KeyVersion(%d)", int(v))
}

func (t KeyType) String() string {
	if s, ok := keyTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("KeyType(%d)", int(t))
}

func (a Algorithm) String() string {
	if s, ok := algorithmNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

func (h HashingAlgorithm) String() string {
	if s, ok := hashingAlgorithmNames[h]; ok {
		return s
	}
	return fmt.Sprintf("HashingAlgorithm(%d)", int(h))
}

// Copyright (c) 2025 ToeiRei
// Librarian - library database for file management
// This source code is licensed under the MIT license found in the LICENSE file.

// Package crypto constructs and unseals stored key records. A record holds
// a master key sealed under a passphrase-derived key, and key material
// sealed under the master key; only sealed buffers ever leave this package.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/toeirei/librarian/internal/model"
)

const (
	// KeySize is the size of derived keys, master keys and key material.
	KeySize = 32
	// SaltSize is the size of the passphrase hashing salt.
	SaltSize = 16
)

// argon2Params are the cost parameters for one hashing level.
type argon2Params struct {
	time    uint32
	memory  uint32 // KiB
	threads uint8
}

// Parameter levels follow the usual tradeoff: Standard is interactive,
// Hardened for sensitive libraries, Paranoid for cold archives.
var argon2Levels = map[model.HashingAlgorithm]argon2Params{
	model.HashingArgon2idStandard: {time: 3, memory: 64 * 1024, threads: 4},
	model.HashingArgon2idHardened: {time: 6, memory: 128 * 1024, threads: 4},
	model.HashingArgon2idParanoid: {time: 10, memory: 256 * 1024, threads: 4},
}

// HashPassphrase derives a cipher key from a passphrase and salt using the
// given hashing algorithm.
func HashPassphrase(passphrase, salt []byte, h model.HashingAlgorithm) ([]byte, error) {
	params, ok := argon2Levels[h]
	if !ok {
		return nil, fmt.Errorf("hashing algorithm %s is not supported by this key builder", h)
	}
	return argon2.IDKey(passphrase, salt, params.time, params.memory, params.threads, KeySize), nil
}

// newAEAD constructs the AEAD for the given algorithm and key.
func newAEAD(a model.Algorithm, key []byte) (cipher.AEAD, error) {
	switch a {
	case model.AlgorithmXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	case model.AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	default:
		return nil, fmt.Errorf("unsupported algorithm %s", a)
	}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

func seal(a model.Algorithm, key, plaintext []byte) (nonce, sealed []byte, err error) {
	aead, err := newAEAD(a, key)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = randomBytes(aead.NonceSize())
	if err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

func open(a model.Algorithm, key, nonce, sealed []byte) ([]byte, error) {
	aead, err := newAEAD(a, key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, sealed, nil)
}

// NewStoredKey builds a complete key record from a passphrase. The master
// key is sealed under the passphrase-derived key; fresh key material is
// sealed under the master key. Neither secret survives in the clear.
func NewStoredKey(passphrase []byte, keyType model.KeyType, algorithm model.Algorithm, hashing model.HashingAlgorithm) (*model.StoredKey, error) {
	salt, err := randomBytes(SaltSize)
	if err != nil {
		return nil, err
	}
	contentSalt, err := randomBytes(model.ContentSaltSize)
	if err != nil {
		return nil, err
	}

	derived, err := HashPassphrase(passphrase, salt, hashing)
	if err != nil {
		return nil, fmt.Errorf("failed to hash passphrase: %w", err)
	}

	masterKey, err := randomBytes(KeySize)
	if err != nil {
		return nil, err
	}
	masterKeyNonce, sealedMaster, err := seal(algorithm, derived, masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal master key: %w", err)
	}

	keyMaterial, err := randomBytes(KeySize)
	if err != nil {
		return nil, err
	}
	keyNonce, sealedKey, err := seal(algorithm, masterKey, keyMaterial)
	if err != nil {
		return nil, fmt.Errorf("failed to seal key material: %w", err)
	}

	sk := &model.StoredKey{
		UUID:             uuid.New(),
		Version:          model.KeyVersionV1,
		KeyType:          keyType,
		Algorithm:        algorithm,
		HashingAlgorithm: hashing,
		MasterKey:        sealedMaster,
		MasterKeyNonce:   masterKeyNonce,
		KeyNonce:         keyNonce,
		Key:              sealedKey,
		Salt:             salt,
		Tags:             []string{},
	}
	copy(sk.ContentSalt[:], contentSalt)
	return sk, nil
}

// UnsealKey recovers the key material of a stored key record using the
// passphrase it was built with.
func UnsealKey(sk *model.StoredKey, passphrase []byte) ([]byte, error) {
	derived, err := HashPassphrase(passphrase, sk.Salt, sk.HashingAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to hash passphrase: %w", err)
	}
	masterKey, err := open(sk.Algorithm, derived, sk.MasterKeyNonce, sk.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal master key of %s: %w", sk.UUID, err)
	}
	keyMaterial, err := open(sk.Algorithm, masterKey, sk.KeyNonce, sk.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal key material of %s: %w", sk.UUID, err)
	}
	return keyMaterial, nil
}

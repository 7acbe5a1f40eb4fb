// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// Work factor bounds. Configured values outside the range are clamped.
const (
	MinWorkFactor     = 10
	MaxWorkFactor     = 15
	DefaultWorkFactor = 12
)

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// bcrypt hashes are "$2a$" + 2-digit cost + "$" + 22-character salt + 31-character digest.
const (
	bcryptSaltStart = 7
	bcryptSaltLen   = 22
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted hash of the password and the salt embedded in it.
	Hash(password string) (hash, salt string, err error)

	// Verify checks a password against stored hash and salt material.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(password, hash, salt string) (bool, error)

	// NeedsUpgrade returns true if the hash was produced at a different work factor.
	NeedsUpgrade(hash string) bool

	// Burn performs a verification against a throwaway hash so that lookups
	// for missing accounts cost the same as real ones.
	Burn(password string)
}

// ClampWorkFactor clamps a work factor into [MinWorkFactor, MaxWorkFactor].
func ClampWorkFactor(n int) int {
	return min(max(n, MinWorkFactor), MaxWorkFactor)
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewBcryptHasher creates a BcryptHasher. The work factor is clamped.
func NewBcryptHasher(workFactor int) *BcryptHasher {
	return &BcryptHasher{cost: ClampWorkFactor(workFactor)}
}

// WorkFactor returns the effective cost used for new hashes.
func (h *BcryptHasher) WorkFactor() int {
	return h.cost
}

// Hash produces a bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, string, error) {
	if password == "" {
		return "", "", ErrEmptyPassword
	}

	encoded, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", "", oops.Code("AUTH_HASH_FAILED").With("cost", h.cost).Wrap(err)
	}

	salt, err := saltOf(string(encoded))
	if err != nil {
		return "", "", err
	}
	return string(encoded), salt, nil
}

// Verify checks if the password matches the hash. The recorded salt must
// agree with the salt embedded in the hash.
func (h *BcryptHasher) Verify(password, encodedHash, salt string) (bool, error) {
	embedded, err := saltOf(encodedHash)
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare([]byte(embedded), []byte(salt)) != 1 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("salt does not match hash")
	}

	err = bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
}

// NeedsUpgrade returns true if the hash cost differs from the configured one.
func (h *BcryptHasher) NeedsUpgrade(encodedHash string) bool {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return true
	}
	return cost != h.cost
}

// Burn compares the password against a hash of random bytes at the current cost.
func (h *BcryptHasher) Burn(password string) {
	h.dummyOnce.Do(func() {
		seed := make([]byte, 16)
		_, _ = rand.Read(seed)
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(seed)), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}

func saltOf(encodedHash string) (string, error) {
	if !strings.HasPrefix(encodedHash, "$2") || len(encodedHash) < bcryptSaltStart+bcryptSaltLen {
		return "", oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	return encodedHash[bcryptSaltStart : bcryptSaltStart+bcryptSaltLen], nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authtest

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/holomush/gatehouse/internal/auth"
)

// Hasher is a fast, insecure auth.PasswordHasher for tests. Hashes look like
// "v<version>$<salt>$<digest>"; NeedsUpgrade reports hashes of other versions.
type Hasher struct {
	Version int

	seq   atomic.Int64
	burns atomic.Int64
}

// Hash implements auth.PasswordHasher.
func (h *Hasher) Hash(password string) (string, string, error) {
	if password == "" {
		return "", "", auth.ErrEmptyPassword
	}
	salt := "s" + strconv.FormatInt(h.seq.Add(1), 10)
	return h.encode(h.Version, salt, password), salt, nil
}

// Verify implements auth.PasswordHasher.
func (h *Hasher) Verify(password, hash, salt string) (bool, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 3 || parts[1] != salt {
		return false, auth.ErrNotFound
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[0], "v"))
	if err != nil {
		return false, err
	}
	return h.encode(version, salt, password) == hash, nil
}

// NeedsUpgrade implements auth.PasswordHasher.
func (h *Hasher) NeedsUpgrade(hash string) bool {
	return !strings.HasPrefix(hash, "v"+strconv.Itoa(h.Version)+"$")
}

// Burn implements auth.PasswordHasher.
func (h *Hasher) Burn(string) {
	h.burns.Add(1)
}

// Burns returns how many times Burn was called.
func (h *Hasher) Burns() int {
	return int(h.burns.Load())
}

func (h *Hasher) encode(version int, salt, password string) string {
	sum := sha256.Sum256([]byte(salt + ":" + password))
	return "v" + strconv.Itoa(version) + "$" + salt + "$" + hex.EncodeToString(sum[:])
}

var _ auth.PasswordHasher = (*Hasher)(nil)

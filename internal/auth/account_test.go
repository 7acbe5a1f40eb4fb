// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatehouse/internal/auth"
	"github.com/holomush/gatehouse/pkg/errutil"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"valid", "alice_01", false},
		{"minimum length", "abc", false},
		{"maximum length", strings.Repeat("a", auth.MaxUsernameLength), false},
		{"empty", "", true},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", auth.MaxUsernameLength+1), true},
		{"invalid characters", "alice!", true},
		{"spaces", "al ice", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidateUsername(tt.username)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "AUTH_INVALID_USERNAME")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNormalizeUsername(t *testing.T) {
	assert.Equal(t, "alice", auth.NormalizeUsername("  Alice "))
	assert.Equal(t, "alice", auth.Identity{Username: "ALICE"}.Key())
}

func TestNewAccount(t *testing.T) {
	now := time.Now()
	id := uuid.New()

	t.Run("normalizes and applies defaults", func(t *testing.T) {
		a, err := auth.NewAccount("Alice", "hash", "salt", id, now)
		require.NoError(t, err)
		assert.Equal(t, "alice", a.Username)
		assert.Equal(t, auth.DefaultSnapshot(), a.Snapshot)
		assert.Equal(t, now, a.RegisteredAt)
		assert.True(t, a.IsRegistered())
		assert.Empty(t, a.LastIP)
	})

	tests := []struct {
		name string
		hash string
		salt string
		id   uuid.UUID
		at   time.Time
		code string
	}{
		{"empty hash", "", "salt", id, now, "ACCOUNT_INVALID_HASH"},
		{"empty salt", "hash", "", id, now, "ACCOUNT_INVALID_SALT"},
		{"nil identity", "hash", "salt", uuid.Nil, now, "ACCOUNT_INVALID_IDENTITY"},
		{"zero time", "hash", "salt", id, time.Time{}, "ACCOUNT_INVALID_TIME"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.NewAccount("alice", tt.hash, tt.salt, tt.id, tt.at)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestAccount_AddressChangedSince(t *testing.T) {
	a := &auth.Account{Username: "alice"}
	assert.False(t, a.AddressChangedSince("10.0.0.1"), "no prior login")

	a.LastIP = "10.0.0.1"
	assert.False(t, a.AddressChangedSince("10.0.0.1"))
	assert.True(t, a.AddressChangedSince("10.0.0.2"))
}

func TestAccount_CloneIsDeep(t *testing.T) {
	ext := uuid.New()
	a := &auth.Account{Username: "alice", ExternalIdentity: &ext, Snapshot: auth.DefaultSnapshot()}

	c := a.Clone()
	*c.ExternalIdentity = uuid.New()
	c.Snapshot.World = "changed"

	assert.Equal(t, ext, *a.ExternalIdentity)
	assert.Empty(t, a.Snapshot.World)
	assert.Nil(t, (*auth.Account)(nil).Clone())
}

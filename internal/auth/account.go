// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 16
)

// usernameRegex matches usernames made of letters, digits and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NormalizeUsername returns the lookup key for a username.
// Usernames are case-insensitive; every lookup uses the lowercase form.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidateUsername validates a username against naming rules.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username may contain only letters, numbers, and underscores")
	}
	return nil
}

// Identity is a connecting user as seen by the presentation layer.
type Identity struct {
	// Username is the name the user connected with. Compared case-insensitively.
	Username string

	// LocalID is the stable identifier the world assigns to this user.
	LocalID uuid.UUID
}

// Key returns the normalized username used for all lookups.
func (i Identity) Key() string {
	return NormalizeUsername(i.Username)
}

// Account is a registered identity with credentials and its persisted world state.
type Account struct {
	Username         string
	PasswordHash     string
	Salt             string
	LocalIdentity    uuid.UUID
	ExternalIdentity *uuid.UUID // nil until linked
	LastIP           string     // empty until first login
	LastLoginAt      time.Time  // zero until first login
	RegisteredAt     time.Time
	Snapshot         Snapshot
	UpdatedAt        time.Time
}

// NewAccount creates a validated Account with a default snapshot.
func NewAccount(username, passwordHash, salt string, localID uuid.UUID, now time.Time) (*Account, error) {
	normalized := NormalizeUsername(username)
	if err := ValidateUsername(normalized); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if salt == "" {
		return nil, oops.Code("ACCOUNT_INVALID_SALT").Errorf("salt cannot be empty")
	}
	if localID == uuid.Nil {
		return nil, oops.Code("ACCOUNT_INVALID_IDENTITY").Errorf("local identity cannot be nil")
	}
	if now.IsZero() {
		return nil, oops.Code("ACCOUNT_INVALID_TIME").Errorf("registration time cannot be zero")
	}

	return &Account{
		Username:      normalized,
		PasswordHash:  passwordHash,
		Salt:          salt,
		LocalIdentity: localID,
		RegisteredAt:  now,
		Snapshot:      DefaultSnapshot(),
		UpdatedAt:     now,
	}, nil
}

// IsRegistered reports whether the account carries usable credential material.
func (a *Account) IsRegistered() bool {
	return a != nil && a.Username != "" && a.PasswordHash != "" && a.Salt != ""
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.ExternalIdentity != nil {
		ext := *a.ExternalIdentity
		c.ExternalIdentity = &ext
	}
	c.Snapshot = a.Snapshot.Clone()
	return &c
}

// AddressChangedSince reports whether source differs from the last recorded
// login address. Accounts that never logged in have no address to compare.
func (a *Account) AddressChangedSince(source string) bool {
	return a.LastIP != "" && a.LastIP != source
}

// ErrNotFound is wrapped by repositories when an account or session is absent.
var ErrNotFound = errors.New("not found")

// AccountRepository manages account persistence. Usernames passed in are
// already normalized.
type AccountRepository interface {
	// Exists reports whether an account with the username exists.
	Exists(ctx context.Context, username string) (bool, error)

	// Create inserts a new account. Returns (false, nil) if the username or
	// local identity is already taken; never overwrites an existing row.
	Create(ctx context.Context, account *Account) (bool, error)

	// GetByUsername retrieves an account. Returns ErrNotFound if absent.
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// RecordLogin stores the address and time of a successful login.
	RecordLogin(ctx context.Context, username, ip string, at time.Time) error

	// UpdatePasswordHash replaces the credential material of an account.
	UpdatePasswordHash(ctx context.Context, username, hash, salt string) error

	// SaveSnapshot upserts the mutable world-state fields of an account.
	// Credential fields are never touched. Returns ErrNotFound if absent.
	SaveSnapshot(ctx context.Context, username string, snapshot Snapshot, at time.Time) error

	// LinkExternalIdentity sets the external identity. Returns false if the
	// account does not exist.
	LinkExternalIdentity(ctx context.Context, username string, id uuid.UUID) (bool, error)

	// Count returns the number of registered accounts.
	Count(ctx context.Context) (int64, error)
}

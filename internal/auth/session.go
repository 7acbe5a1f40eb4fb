// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/zeebo/blake3"
)

// Session token configuration.
const (
	SessionTokenEntropy = 32             // random bytes mixed into each token
	DefaultSessionTTL   = 24 * time.Hour // 24 hour expiry
)

// Session is a time-bounded proof of authentication tied to one account and
// one source address. Only the hash of the token is kept.
type Session struct {
	ID             ulid.ULID
	TokenHash      string
	Username       string
	SourceAddress  string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
	Active         bool
}

// NewSession creates a validated, active Session expiring ttl after now.
func NewSession(username, sourceAddress, tokenHash string, now time.Time, ttl time.Duration) (*Session, error) {
	if username == "" {
		return nil, oops.Code("SESSION_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if sourceAddress == "" {
		return nil, oops.Code("SESSION_INVALID_SOURCE").Errorf("source address cannot be empty")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if ttl <= 0 {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").With("ttl", ttl).Errorf("session ttl must be positive")
	}

	return &Session{
		ID:             ulid.Make(),
		TokenHash:      tokenHash,
		Username:       NormalizeUsername(username),
		SourceAddress:  sourceAddress,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastActivityAt: now,
		Active:         true,
	}, nil
}

// IsExpiredAt returns true if the session would be expired at the given time.
// A session is valid strictly before ExpiresAt.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Matches reports whether the session was issued to username from source.
func (s *Session) Matches(username, source string) bool {
	return s.Username == NormalizeUsername(username) && s.SourceAddress == source
}

// GenerateSessionToken creates an unguessable token bound to username, source
// and issue time, and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token stays in memory; the hash is stored in the database.
func GenerateSessionToken(username, source string, now time.Time) (token, hash string, err error) {
	entropy := make([]byte, SessionTokenEntropy)
	if _, err = rand.Read(entropy); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenEntropy).
			Wrap(err)
	}

	h := blake3.New()
	_, _ = h.WriteString(NormalizeUsername(username))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(source)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(strconv.FormatInt(now.UnixNano(), 10))
	_, _ = h.WriteString("|")
	_, _ = h.Write(entropy)

	token = hex.EncodeToString(h.Sum(nil))
	hash = HashSessionToken(token)

	return token, hash, nil
}

// HashSessionToken computes the SHA256 hash of a session token.
// This is used to securely store tokens in the database.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionRepository manages session persistence. Rows are never deleted
// except by PruneInactive.
type SessionRepository interface {
	// CreateExclusive deactivates every active session of the owner and
	// inserts session as the only active one, atomically.
	CreateExclusive(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash.
	// Returns ErrNotFound if absent.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// GetActiveByUsername retrieves the active session of an account.
	// Returns ErrNotFound if there is none.
	GetActiveByUsername(ctx context.Context, username string) (*Session, error)

	// Touch updates LastActivityAt of an active session.
	Touch(ctx context.Context, id ulid.ULID, at time.Time) error

	// DeactivateByTokenHash flips a session to inactive. Returns false if
	// no active session had that hash.
	DeactivateByTokenHash(ctx context.Context, tokenHash string) (bool, error)

	// DeactivateByUsername deactivates every active session of an account
	// and returns the number of rows changed.
	DeactivateByUsername(ctx context.Context, username string) (int64, error)

	// DeactivateAllActive deactivates every active session.
	DeactivateAllActive(ctx context.Context) (int64, error)

	// SweepExpired deactivates active sessions with ExpiresAt at or before
	// now, skipping sessions owned by any username in protected.
	SweepExpired(ctx context.Context, now time.Time, protected []string) (int64, error)

	// FilterActive returns the subset of tokenHashes that belong to active,
	// unexpired sessions at now.
	FilterActive(ctx context.Context, tokenHashes []string, now time.Time) ([]string, error)

	// CountActive returns the number of active, unexpired sessions at now.
	CountActive(ctx context.Context, now time.Time) (int64, error)

	// PruneInactive deletes inactive sessions last active before cutoff.
	PruneInactive(ctx context.Context, cutoff time.Time) (int64, error)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/auth"
)

const sessionColumns = `id, token_hash, username, source_address, created_at, expires_at, last_activity_at, active`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateExclusive inserts session as the only active session of its owner.
// Concurrent creations for the same username serialize on a transaction
// scoped advisory lock; the partial unique index on active sessions backs
// the same rule.
func (r *SessionRepository) CreateExclusive(ctx context.Context, session *auth.Session) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("username", session.Username).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, session.Username); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "lock username").
			With("username", session.Username).
			Wrap(err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE sessions SET active = false WHERE username = $1 AND active
	`, session.Username); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "deactivate previous").
			With("username", session.Username).
			Wrap(err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO sessions (id, token_hash, username, source_address, created_at, expires_at, last_activity_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true)
	`,
		session.ID.String(),
		session.TokenHash,
		session.Username,
		session.SourceAddress,
		session.CreatedAt,
		session.ExpiresAt,
		session.LastActivityAt,
	); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("username", session.Username).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "commit").
			With("username", session.Username).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}
	return session, nil
}

// GetActiveByUsername retrieves the active session of an account.
func (r *SessionRepository) GetActiveByUsername(ctx context.Context, username string) (*auth.Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE username = $1 AND active
	`, username)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").With("username", username).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_ACTIVE_FAILED").
			With("operation", "get active session").
			With("username", username).
			Wrap(err)
	}
	return session, nil
}

// Touch updates the last activity of an active session.
func (r *SessionRepository) Touch(ctx context.Context, id ulid.ULID, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sessions SET last_activity_at = $2 WHERE id = $1 AND active
	`, id.String(), at)
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").With("session_id", id.String()).Wrap(err)
	}
	return nil
}

// DeactivateByTokenHash flips a session to inactive.
func (r *SessionRepository) DeactivateByTokenHash(ctx context.Context, tokenHash string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions SET active = false WHERE token_hash = $1 AND active
	`, tokenHash)
	if err != nil {
		return false, oops.Code("SESSION_DEACTIVATE_FAILED").Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeactivateByUsername deactivates every active session of an account.
func (r *SessionRepository) DeactivateByUsername(ctx context.Context, username string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions SET active = false WHERE username = $1 AND active
	`, username)
	if err != nil {
		return 0, oops.Code("SESSION_DEACTIVATE_FAILED").With("username", username).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeactivateAllActive deactivates every active session.
func (r *SessionRepository) DeactivateAllActive(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET active = false WHERE active`)
	if err != nil {
		return 0, oops.Code("SESSION_DEACTIVATE_ALL_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// SweepExpired deactivates expired sessions not owned by a protected username.
func (r *SessionRepository) SweepExpired(ctx context.Context, now time.Time, protected []string) (int64, error) {
	if protected == nil {
		protected = []string{}
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE sessions SET active = false
		WHERE active AND expires_at <= $1 AND NOT (username = ANY($2))
	`, now, protected)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// FilterActive returns the token hashes that belong to live sessions.
func (r *SessionRepository) FilterActive(ctx context.Context, tokenHashes []string, now time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT token_hash FROM sessions
		WHERE token_hash = ANY($1) AND active AND expires_at > $2
	`, tokenHashes, now)
	if err != nil {
		return nil, oops.Code("SESSION_FILTER_FAILED").
			With("operation", "filter active sessions").
			With("count", len(tokenHashes)).
			Wrap(err)
	}
	live, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, oops.Code("SESSION_FILTER_FAILED").
			With("operation", "scan token hashes").
			Wrap(err)
	}
	return live, nil
}

// CountActive returns the number of live sessions at now.
func (r *SessionRepository) CountActive(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM sessions WHERE active AND expires_at > $1
	`, now).Scan(&n)
	if err != nil {
		return 0, oops.Code("SESSION_COUNT_FAILED").Wrap(err)
	}
	return n, nil
}

// PruneInactive deletes inactive sessions last active before cutoff.
func (r *SessionRepository) PruneInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM sessions WHERE NOT active AND last_activity_at < $1
	`, cutoff)
	if err != nil {
		return 0, oops.Code("SESSION_PRUNE_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		s     auth.Session
		idStr string
	)
	if err := row.Scan(
		&idStr,
		&s.TokenHash,
		&s.Username,
		&s.SourceAddress,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.LastActivityAt,
		&s.Active,
	); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", idStr).Wrap(err)
	}
	s.ID = id
	return &s, nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)

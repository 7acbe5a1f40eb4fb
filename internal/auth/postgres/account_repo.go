// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/auth"
)

const accountColumns = `username, password_hash, salt, local_identity, external_identity,
	last_ip, last_login_at, registered_at, snapshot, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db     DB
	logger *slog.Logger
}

// AccountOption configures an AccountRepository.
type AccountOption func(*AccountRepository)

// WithAccountLogger sets the logger for unreadable stored snapshots.
func WithAccountLogger(logger *slog.Logger) AccountOption {
	return func(r *AccountRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB, opts ...AccountOption) *AccountRepository {
	r := &AccountRepository{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Exists reports whether an account with the username exists.
func (r *AccountRepository) Exists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, oops.Code("ACCOUNT_EXISTS_FAILED").With("username", username).Wrap(err)
	}
	return exists, nil
}

// Create inserts a new account. A taken username or local identity yields
// (false, nil).
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) (bool, error) {
	blob, err := auth.EncodeSnapshot(account.Snapshot)
	if err != nil {
		return false, err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO accounts (username, password_hash, salt, local_identity, external_identity,
			registered_at, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		account.Username,
		account.PasswordHash,
		account.Salt,
		account.LocalIdentity,
		account.ExternalIdentity,
		account.RegisteredAt,
		blob,
		account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("username", account.Username).
			Wrap(err)
	}
	return true, nil
}

// GetByUsername retrieves an account.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username)

	account, err := r.scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("username", username).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by username").
			With("username", username).
			Wrap(err)
	}
	return account, nil
}

// RecordLogin stores the address and time of a successful login.
func (r *AccountRepository) RecordLogin(ctx context.Context, username, ip string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET last_ip = $2, last_login_at = $3 WHERE username = $1
	`, username, ip, at)
	if err != nil {
		return oops.Code("ACCOUNT_RECORD_LOGIN_FAILED").With("username", username).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("username", username).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePasswordHash replaces the credential material of an account.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, username, hash, salt string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, salt = $3 WHERE username = $1
	`, username, hash, salt)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_HASH_FAILED").With("username", username).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("username", username).Wrap(auth.ErrNotFound)
	}
	return nil
}

// SaveSnapshot writes the world-state blob of an account. Credential columns
// are not part of the statement.
func (r *AccountRepository) SaveSnapshot(ctx context.Context, username string, snapshot auth.Snapshot, at time.Time) error {
	blob, err := auth.EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET snapshot = $2, updated_at = $3 WHERE username = $1
	`, username, blob, at)
	if err != nil {
		return oops.Code("ACCOUNT_SAVE_SNAPSHOT_FAILED").With("username", username).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("username", username).Wrap(auth.ErrNotFound)
	}
	return nil
}

// LinkExternalIdentity sets the external identity of an account.
func (r *AccountRepository) LinkExternalIdentity(ctx context.Context, username string, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET external_identity = $2 WHERE username = $1
	`, username, id)
	if err != nil {
		return false, oops.Code("ACCOUNT_LINK_FAILED").
			With("username", username).
			With("external_identity", id.String()).
			Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// Count returns the number of registered accounts.
func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, oops.Code("ACCOUNT_COUNT_FAILED").Wrap(err)
	}
	return n, nil
}

// scanAccount reads one account row. A snapshot blob that cannot be decoded
// is replaced by the default snapshot so the account can still log in.
func (r *AccountRepository) scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		a         auth.Account
		localID   pgtype.UUID
		external  pgtype.UUID
		lastIP    *string
		lastLogin *time.Time
		blob      []byte
	)
	err := row.Scan(
		&a.Username,
		&a.PasswordHash,
		&a.Salt,
		&localID,
		&external,
		&lastIP,
		&lastLogin,
		&a.RegisteredAt,
		&blob,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}

	a.LocalIdentity = uuid.UUID(localID.Bytes)
	if external.Valid {
		id := uuid.UUID(external.Bytes)
		a.ExternalIdentity = &id
	}
	if lastIP != nil {
		a.LastIP = *lastIP
	}
	if lastLogin != nil {
		a.LastLoginAt = *lastLogin
	}
	a.Snapshot, err = auth.DecodeSnapshot(blob)
	if err != nil {
		snapshotDecodeFailures.Inc()
		r.logger.Warn("stored snapshot unreadable, using defaults",
			"username", a.Username, "bytes", len(blob), "error", err)
		a.Snapshot = auth.DefaultSnapshot()
	}
	return &a, nil
}

var _ auth.AccountRepository = (*AccountRepository)(nil)

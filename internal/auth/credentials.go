// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/samber/oops"

	"github.com/holomush/gatehouse/internal/async"
	"github.com/holomush/gatehouse/pkg/errutil"
)

// DefaultStoreTimeout bounds a single store call.
const DefaultStoreTimeout = 5 * time.Second

// ServiceConfig holds the collaborators shared by CredentialService and
// SessionService. Zero values take defaults.
type ServiceConfig struct {
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Timeout time.Duration // per store call

	// Background runs fire-and-forget writes. Nil runs them inline.
	Background async.Executor
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultStoreTimeout
	}
	if c.Background == nil {
		c.Background = async.Inline{}
	}
	return c
}

// storeCall scopes ctx to one store call and turns repository errors into
// logged, counted faults.
type storeCall struct {
	ServiceConfig
}

func (c storeCall) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.Timeout)
}

func (c storeCall) fault(operation string, err error, args ...any) {
	recordStoreFault(operation)
	errutil.LogError(c.Logger, "store fault", oops.Code("STORE_FAULT").
		With("operation", operation).
		With(args...).
		Wrap(err))
}

// detach runs fn on the background executor with a fresh bounded context.
func (c storeCall) detach(fn func(ctx context.Context)) {
	ok := c.Background.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
		defer cancel()
		fn(ctx)
	})
	if !ok {
		c.Logger.Debug("background write dropped, executor closed")
	}
}

// CredentialService registers, verifies and persists accounts.
//
// Every method resolves store faults to its negative result. In particular
// IsRegistered reports false when the store cannot be read; Register relies
// on the store's uniqueness constraint rather than on that answer.
type CredentialService struct {
	storeCall
	repo   AccountRepository
	hasher PasswordHasher
}

// NewCredentialService creates a CredentialService.
func NewCredentialService(repo AccountRepository, hasher PasswordHasher, cfg ServiceConfig) (*CredentialService, error) {
	if repo == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	return &CredentialService{
		storeCall: storeCall{cfg.withDefaults()},
		repo:      repo,
		hasher:    hasher,
	}, nil
}

// IsRegistered reports whether an account exists for username.
func (s *CredentialService) IsRegistered(ctx context.Context, username string) bool {
	ctx, cancel := s.scope(ctx)
	defer cancel()

	ok, err := s.repo.Exists(ctx, NormalizeUsername(username))
	if err != nil {
		s.fault("is_registered", err, "username", username)
		return false
	}
	return ok
}

// Register hashes password and inserts a new account. Returns nil if the
// username or local identity is taken, the input is invalid, or the store
// fails. Never overwrites an existing account.
func (s *CredentialService) Register(ctx context.Context, username, password string, localID uuid.UUID) *Account {
	hash, salt, err := s.hasher.Hash(password)
	if err != nil {
		s.Logger.Warn("password hashing failed", "username", username, "error", err)
		return nil
	}

	account, err := NewAccount(username, hash, salt, localID, s.Clock.Now())
	if err != nil {
		s.Logger.Debug("registration rejected", "username", username, "error", err)
		return nil
	}

	ctx, cancel := s.scope(ctx)
	defer cancel()

	created, err := s.repo.Create(ctx, account)
	if err != nil {
		s.fault("register", err, "username", account.Username)
		return nil
	}
	if !created {
		return nil
	}
	return account
}

// Verify checks password against the stored credentials for username.
// On success it returns the account as it was before this login, so callers
// can inspect the previous login address and time. A hash produced at a
// different work factor is rewritten in the background.
func (s *CredentialService) Verify(ctx context.Context, username, password string) (*Account, bool) {
	key := NormalizeUsername(username)

	lookupCtx, cancel := s.scope(ctx)
	account, err := s.repo.GetByUsername(lookupCtx, key)
	cancel()
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.fault("verify", err, "username", key)
		}
		s.hasher.Burn(password)
		return nil, false
	}

	ok, err := s.hasher.Verify(password, account.PasswordHash, account.Salt)
	if err != nil {
		errutil.LogError(s.Logger, "stored credentials unreadable", oops.Code("AUTH_INVALID_HASH").
			With("username", key).
			Wrap(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	if s.hasher.NeedsUpgrade(account.PasswordHash) {
		s.detach(func(ctx context.Context) {
			hash, salt, err := s.hasher.Hash(password)
			if err != nil {
				s.Logger.Warn("password rehash failed", "username", key, "error", err)
				return
			}
			if err := s.repo.UpdatePasswordHash(ctx, key, hash, salt); err != nil {
				s.fault("upgrade_hash", err, "username", key)
			}
		})
	}
	return account, true
}

// RecordLogin stores source as the last login address of username, in the
// background. The caller does not wait for the write.
func (s *CredentialService) RecordLogin(username, source string) {
	key := NormalizeUsername(username)
	at := s.Clock.Now()
	s.detach(func(ctx context.Context) {
		if err := s.repo.RecordLogin(ctx, key, source, at); err != nil {
			s.fault("record_login", err, "username", key)
		}
	})
}

// Load returns the full account record of username, or nil when absent or
// unreadable.
func (s *CredentialService) Load(ctx context.Context, username string) *Account {
	ctx, cancel := s.scope(ctx)
	defer cancel()

	key := NormalizeUsername(username)
	account, err := s.repo.GetByUsername(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.fault("load", err, "username", key)
		}
		return nil
	}
	return account
}

// SaveSnapshot persists the mutable world-state fields of account.
// Credential fields are never written.
func (s *CredentialService) SaveSnapshot(ctx context.Context, username string, snapshot Snapshot) bool {
	ctx, cancel := s.scope(ctx)
	defer cancel()

	key := NormalizeUsername(username)
	if err := s.repo.SaveSnapshot(ctx, key, snapshot, s.Clock.Now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.Logger.Debug("snapshot for unknown account dropped", "username", key)
			return false
		}
		s.fault("save_snapshot", err, "username", key)
		return false
	}
	return true
}

// LinkExternalIdentity records an external identity for username.
func (s *CredentialService) LinkExternalIdentity(ctx context.Context, username string, id uuid.UUID) bool {
	ctx, cancel := s.scope(ctx)
	defer cancel()

	key := NormalizeUsername(username)
	ok, err := s.repo.LinkExternalIdentity(ctx, key, id)
	if err != nil {
		s.fault("link_external", err, "username", key)
		return false
	}
	return ok
}

// Count returns the number of registered accounts, or -1 on a store fault.
func (s *CredentialService) Count(ctx context.Context) int64 {
	ctx, cancel := s.scope(ctx)
	defer cancel()

	n, err := s.repo.Count(ctx)
	if err != nil {
		s.fault("count_accounts", err)
		return -1
	}
	return n
}

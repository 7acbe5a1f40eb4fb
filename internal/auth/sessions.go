// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
)

// IssuedSession is a freshly created session and its plaintext token.
type IssuedSession struct {
	Token   string
	Session *Session
}

// SessionService creates, validates and deactivates sessions.
// Store faults resolve to the negative result of each method.
type SessionService struct {
	storeCall
	repo SessionRepository
	ttl  time.Duration
}

// NewSessionService creates a SessionService issuing sessions valid for ttl.
func NewSessionService(repo SessionRepository, ttl time.Duration, cfg ServiceConfig) (*SessionService, error) {
	if repo == nil {
		return nil, oops.Errorf("session repository is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{
		storeCall: storeCall{cfg.withDefaults()},
		repo:      repo,
		ttl:       ttl,
	}, nil
}

// TTL returns the lifetime of new sessions.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// WithRepository returns a copy of the service bound to another repository.
func (s *SessionService) WithRepository(repo SessionRepository) *SessionService {
	c := *s
	c.repo = repo
	return &c
}

// Create deactivates any active session of username and issues a new one
// from source. Returns false if the session could not be stored.
func (s *SessionService) Create(ctx context.Context, username, source string) (IssuedSession, bool) {
	now := s.Clock.Now()
	key := NormalizeUsername(username)

	token, hash, err := GenerateSessionToken(key, source, now)
	if err != nil {
		s.fault("create_session", err, "username", key)
		return IssuedSession{}, false
	}
	session, err := NewSession(key, source, hash, now, s.ttl)
	if err != nil {
		s.Logger.Debug("session rejected", "username", key, "error", err)
		return IssuedSession{}, false
	}

	ctx, cancel := s.scope(ctx)
	defer cancel()

	if err := s.repo.CreateExclusive(ctx, session); err != nil {
		s.fault("create_session", err, "username", key)
		return IssuedSession{}, false
	}
	return IssuedSession{Token: token, Session: session}, true
}

// Resume returns the session behind token if it is active, unexpired and was
// issued to username from source. A session found expired is deactivated.
// A successful check refreshes the session's last activity.
func (s *SessionService) Resume(ctx context.Context, token, username, source string) (*Session, bool) {
	if token == "" {
		return nil, false
	}

	ctx, cancel := s.scope(ctx)
	defer cancel()

	session, err := s.repo.GetByTokenHash(ctx, HashSessionToken(token))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.fault("validate_session", err, "username", username)
		}
		return nil, false
	}
	if !session.Active || !session.Matches(username, source) {
		return nil, false
	}

	now := s.Clock.Now()
	if session.IsExpiredAt(now) {
		if _, err := s.repo.DeactivateByTokenHash(ctx, session.TokenHash); err != nil {
			s.fault("expire_session", err, "username", session.Username)
		}
		return nil, false
	}

	if err := s.repo.Touch(ctx, session.ID, now); err != nil {
		s.fault("touch_session", err, "username", session.Username)
	} else {
		session.LastActivityAt = now
	}
	return session, true
}

// Validate reports whether token is a live session of username from source.
func (s *SessionService) Validate(ctx context.Context, token, username, source string) bool {
	_, ok := s.Resume(ctx, token, username, source)
	return ok
}

// Deactivate ends the session behind token.
func (s *SessionService) Deactivate(ctx context.Context, token string) bool {
	ctx, cancel := s.scope(ctx)
	defer cancel()

	ok, err := s.repo.DeactivateByTokenHash(ctx, HashSessionToken(token))
	if err != nil {
		s.fault("deactivate_session", err)
		return false
	}
	return ok
}

// DeactivateAll ends every active session of username and returns how many
// were ended, or -1 on a store fault.
func (s *SessionService) DeactivateAll(ctx context.Context, username string) int64 {
	ctx, cancel := s.scope(ctx)
	defer cancel()

	key := NormalizeUsername(username)
	n, err := s.repo.DeactivateByUsername(ctx, key)
	if err != nil {
		s.fault("deactivate_all", err, "username", key)
		return -1
	}
	return n
}

// DeactivateAllActive ends every active session, or returns -1 on a store fault.
func (s *SessionService) DeactivateAllActive(ctx context.Context) int64 {
	ctx, cancel := s.scope(ctx)
	defer cancel()

	n, err := s.repo.DeactivateAllActive(ctx)
	if err != nil {
		s.fault("deactivate_all_active", err)
		return -1
	}
	return n
}

// Active returns the active session of username, if any.
func (s *SessionService) Active(ctx context.Context, username string) (*Session, bool) {
	ctx, cancel := s.scope(ctx)
	defer cancel()

	key := NormalizeUsername(username)
	session, err := s.repo.GetActiveByUsername(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.fault("active_session", err, "username", key)
		}
		return nil, false
	}
	return session, true
}

// SweepExpired deactivates expired sessions of accounts not in protected.
func (s *SessionService) SweepExpired(ctx context.Context, protected []string) int64 {
	ctx, cancel := s.scope(ctx)
	defer cancel()

	n, err := s.repo.SweepExpired(ctx, s.Clock.Now(), protected)
	if err != nil {
		s.fault("sweep_sessions", err)
		return 0
	}
	return n
}

// FilterLive returns the subset of token hashes still backed by an active,
// unexpired session. ok is false on a store fault.
func (s *SessionService) FilterLive(ctx context.Context, tokenHashes []string) (live map[string]bool, ok bool) {
	live = make(map[string]bool, len(tokenHashes))
	if len(tokenHashes) == 0 {
		return live, true
	}

	ctx, cancel := s.scope(ctx)
	defer cancel()

	hashes, err := s.repo.FilterActive(ctx, tokenHashes, s.Clock.Now())
	if err != nil {
		s.fault("filter_sessions", err)
		return nil, false
	}
	for _, h := range hashes {
		live[h] = true
	}
	return live, true
}

// CountActive returns the number of live sessions, or -1 on a store fault.
func (s *SessionService) CountActive(ctx context.Context) int64 {
	ctx, cancel := s.scope(ctx)
	defer cancel()

	n, err := s.repo.CountActive(ctx, s.Clock.Now())
	if err != nil {
		s.fault("count_sessions", err)
		return -1
	}
	return n
}

// PruneInactive deletes inactive sessions idle for longer than retention.
func (s *SessionService) PruneInactive(ctx context.Context, retention time.Duration) int64 {
	ctx, cancel := s.scope(ctx)
	defer cancel()

	n, err := s.repo.PruneInactive(ctx, s.Clock.Now().Add(-retention))
	if err != nil {
		s.fault("prune_sessions", err)
		return 0
	}
	return n
}

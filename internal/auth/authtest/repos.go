// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authtest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/holomush/gatehouse/internal/auth"
)

// faults maps an operation name to the error it returns, once or always.
type faults struct {
	fmu    sync.Mutex
	errs   map[string]error
	sticky map[string]bool
}

func (f *faults) set(op string, err error, sticky bool) {
	f.fmu.Lock()
	defer f.fmu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
		f.sticky = make(map[string]bool)
	}
	f.errs[op] = err
	f.sticky[op] = sticky
}

func (f *faults) take(op string) error {
	f.fmu.Lock()
	defer f.fmu.Unlock()
	err, ok := f.errs[op]
	if !ok {
		return nil
	}
	if !f.sticky[op] {
		delete(f.errs, op)
	}
	return err
}

// Accounts is an in-memory auth.AccountRepository.
type Accounts struct {
	faults

	mu   sync.Mutex
	rows map[string]*auth.Account
}

// NewAccounts creates an empty Accounts.
func NewAccounts() *Accounts {
	return &Accounts{rows: make(map[string]*auth.Account)}
}

// FailNext makes the next call of op return err.
func (r *Accounts) FailNext(op string, err error) { r.set(op, err, false) }

// FailAlways makes every call of op return err.
func (r *Accounts) FailAlways(op string, err error) { r.set(op, err, true) }

// Put stores an account directly.
func (r *Accounts) Put(a *auth.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[a.Username] = a.Clone()
}

// Exists implements auth.AccountRepository.
func (r *Accounts) Exists(_ context.Context, username string) (bool, error) {
	if err := r.take("Exists"); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[username]
	return ok, nil
}

// Create implements auth.AccountRepository.
func (r *Accounts) Create(_ context.Context, a *auth.Account) (bool, error) {
	if err := r.take("Create"); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[a.Username]; ok {
		return false, nil
	}
	for _, existing := range r.rows {
		if existing.LocalIdentity == a.LocalIdentity {
			return false, nil
		}
	}
	r.rows[a.Username] = a.Clone()
	return true, nil
}

// GetByUsername implements auth.AccountRepository.
func (r *Accounts) GetByUsername(_ context.Context, username string) (*auth.Account, error) {
	if err := r.take("GetByUsername"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[username]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return a.Clone(), nil
}

// RecordLogin implements auth.AccountRepository.
func (r *Accounts) RecordLogin(_ context.Context, username, ip string, at time.Time) error {
	if err := r.take("RecordLogin"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[username]
	if !ok {
		return auth.ErrNotFound
	}
	a.LastIP = ip
	a.LastLoginAt = at
	return nil
}

// UpdatePasswordHash implements auth.AccountRepository.
func (r *Accounts) UpdatePasswordHash(_ context.Context, username, hash, salt string) error {
	if err := r.take("UpdatePasswordHash"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[username]
	if !ok {
		return auth.ErrNotFound
	}
	a.PasswordHash = hash
	a.Salt = salt
	return nil
}

// SaveSnapshot implements auth.AccountRepository.
func (r *Accounts) SaveSnapshot(_ context.Context, username string, s auth.Snapshot, at time.Time) error {
	if err := r.take("SaveSnapshot"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[username]
	if !ok {
		return auth.ErrNotFound
	}
	a.Snapshot = s.Clone()
	a.UpdatedAt = at
	return nil
}

// LinkExternalIdentity implements auth.AccountRepository.
func (r *Accounts) LinkExternalIdentity(_ context.Context, username string, id uuid.UUID) (bool, error) {
	if err := r.take("LinkExternalIdentity"); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[username]
	if !ok {
		return false, nil
	}
	a.ExternalIdentity = &id
	return true, nil
}

// Count implements auth.AccountRepository.
func (r *Accounts) Count(context.Context) (int64, error) {
	if err := r.take("Count"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rows)), nil
}

// Sessions is an in-memory auth.SessionRepository.
type Sessions struct {
	faults

	mu   sync.Mutex
	rows []*auth.Session
}

// NewSessions creates an empty Sessions.
func NewSessions() *Sessions {
	return &Sessions{}
}

// FailNext makes the next call of op return err.
func (r *Sessions) FailNext(op string, err error) { r.set(op, err, false) }

// FailAlways makes every call of op return err.
func (r *Sessions) FailAlways(op string, err error) { r.set(op, err, true) }

// All returns copies of every stored session.
func (r *Sessions) All() []auth.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.Session, 0, len(r.rows))
	for _, s := range r.rows {
		out = append(out, *s)
	}
	return out
}

// ActiveFor returns copies of the active sessions of username.
func (r *Sessions) ActiveFor(username string) []auth.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auth.Session
	for _, s := range r.rows {
		if s.Active && s.Username == username {
			out = append(out, *s)
		}
	}
	return out
}

// CreateExclusive implements auth.SessionRepository.
func (r *Sessions) CreateExclusive(_ context.Context, s *auth.Session) error {
	if err := r.take("CreateExclusive"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rows {
		if existing.Active && existing.Username == s.Username {
			existing.Active = false
		}
	}
	c := *s
	r.rows = append(r.rows, &c)
	return nil
}

// GetByTokenHash implements auth.SessionRepository.
func (r *Sessions) GetByTokenHash(_ context.Context, hash string) (*auth.Session, error) {
	if err := r.take("GetByTokenHash"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.TokenHash == hash {
			c := *s
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

// GetActiveByUsername implements auth.SessionRepository.
func (r *Sessions) GetActiveByUsername(_ context.Context, username string) (*auth.Session, error) {
	if err := r.take("GetActiveByUsername"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.Active && s.Username == username {
			c := *s
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

// Touch implements auth.SessionRepository.
func (r *Sessions) Touch(_ context.Context, id ulid.ULID, at time.Time) error {
	if err := r.take("Touch"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.ID == id && s.Active {
			s.LastActivityAt = at
		}
	}
	return nil
}

// DeactivateByTokenHash implements auth.SessionRepository.
func (r *Sessions) DeactivateByTokenHash(_ context.Context, hash string) (bool, error) {
	if err := r.take("DeactivateByTokenHash"); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.TokenHash == hash && s.Active {
			s.Active = false
			return true, nil
		}
	}
	return false, nil
}

// DeactivateByUsername implements auth.SessionRepository.
func (r *Sessions) DeactivateByUsername(_ context.Context, username string) (int64, error) {
	if err := r.take("DeactivateByUsername"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.rows {
		if s.Active && s.Username == username {
			s.Active = false
			n++
		}
	}
	return n, nil
}

// DeactivateAllActive implements auth.SessionRepository.
func (r *Sessions) DeactivateAllActive(context.Context) (int64, error) {
	if err := r.take("DeactivateAllActive"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.rows {
		if s.Active {
			s.Active = false
			n++
		}
	}
	return n, nil
}

// SweepExpired implements auth.SessionRepository.
func (r *Sessions) SweepExpired(_ context.Context, now time.Time, protected []string) (int64, error) {
	if err := r.take("SweepExpired"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.rows {
		if s.Active && s.IsExpiredAt(now) && !slices.Contains(protected, s.Username) {
			s.Active = false
			n++
		}
	}
	return n, nil
}

// FilterActive implements auth.SessionRepository.
func (r *Sessions) FilterActive(_ context.Context, hashes []string, now time.Time) ([]string, error) {
	if err := r.take("FilterActive"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.rows {
		if s.Active && !s.IsExpiredAt(now) && slices.Contains(hashes, s.TokenHash) {
			out = append(out, s.TokenHash)
		}
	}
	return out, nil
}

// CountActive implements auth.SessionRepository.
func (r *Sessions) CountActive(_ context.Context, now time.Time) (int64, error) {
	if err := r.take("CountActive"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.rows {
		if s.Active && !s.IsExpiredAt(now) {
			n++
		}
	}
	return n, nil
}

// PruneInactive implements auth.SessionRepository.
func (r *Sessions) PruneInactive(_ context.Context, cutoff time.Time) (int64, error) {
	if err := r.take("PruneInactive"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	var n int64
	for _, s := range r.rows {
		if !s.Active && s.LastActivityAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, s)
	}
	r.rows = kept
	return n, nil
}

var (
	_ auth.AccountRepository = (*Accounts)(nil)
	_ auth.SessionRepository = (*Sessions)(nil)
)

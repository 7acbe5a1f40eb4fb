// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store opens the PostgreSQL pool, gates access to it during
// shutdown, and applies the embedded schema migrations.
package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Store defaults.
const (
	DefaultConnectAttempts = 5
	DefaultRetryBase       = 200 * time.Millisecond
)

// ErrClosed is returned for work submitted after the store was sealed or
// closed.
var ErrClosed = oops.Code("STORE_CLOSED").Errorf("store is not accepting work")

// Config configures Open.
type Config struct {
	URL             string
	ConnectAttempts int
	RetryBase       time.Duration
	MaxConns        int32
	Logger          *slog.Logger
}

// poolIface is the part of *pgxpool.Pool the store uses.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store is a PostgreSQL pool that can be sealed. A sealed store rejects new
// work with ErrClosed; the view returned by Privileged keeps working until
// Close.
type Store struct {
	pool   poolIface
	logger *slog.Logger
	sealed atomic.Bool
	closed atomic.Bool
}

// Open connects to cfg.URL, retrying the initial ping with exponential
// backoff.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, oops.Code("STORE_CONFIG_INVALID").Errorf("database url is required")
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = DefaultConnectAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("STORE_CONFIG_INVALID").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").Wrap(err)
	}

	s := newStore(pool, cfg.Logger)
	if err := s.waitReady(ctx, cfg.ConnectAttempts, cfg.RetryBase); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newStore(pool poolIface, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

func (s *Store) waitReady(ctx context.Context, attempts int, base time.Duration) error {
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base)) //nolint:gosec // attempts >= 1
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := s.pool.Ping(ctx); err != nil {
			s.logger.Warn("database not ready", "attempt", attempt, "of", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("STORE_CONNECT_FAILED").With("attempts", attempt).Wrap(err)
	}
	return nil
}

// Exec runs sql unless the store is sealed.
func (s *Store) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if s.sealed.Load() {
		return pgconn.CommandTag{}, ErrClosed
	}
	return s.pool.Exec(ctx, sql, args...) //nolint:wrapcheck // repositories wrap with operation context
}

// Query runs sql unless the store is sealed.
func (s *Store) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if s.sealed.Load() {
		return nil, ErrClosed
	}
	return s.pool.Query(ctx, sql, args...) //nolint:wrapcheck // repositories wrap with operation context
}

// QueryRow runs sql unless the store is sealed, in which case Scan returns
// ErrClosed.
func (s *Store) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if s.sealed.Load() {
		return errRow{ErrClosed}
	}
	return s.pool.QueryRow(ctx, sql, args...)
}

// Begin starts a transaction unless the store is sealed.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if s.sealed.Load() {
		return nil, ErrClosed
	}
	return s.pool.Begin(ctx) //nolint:wrapcheck // repositories wrap with operation context
}

// Ping checks the connection. A sealed store reports ErrClosed.
func (s *Store) Ping(ctx context.Context) error {
	if s.sealed.Load() {
		return ErrClosed
	}
	return s.pool.Ping(ctx) //nolint:wrapcheck // readiness reports the raw cause
}

// Seal stops the store from accepting new work. Work already started
// finishes.
func (s *Store) Seal() {
	if !s.sealed.Swap(true) {
		s.logger.Info("store sealed")
	}
}

// Sealed reports whether Seal was called.
func (s *Store) Sealed() bool {
	return s.sealed.Load()
}

// Privileged returns a view of the store that ignores Seal. It is for the
// final writes of shutdown.
func (s *Store) Privileged() *Privileged {
	return &Privileged{s: s}
}

// Close seals the store and closes the pool.
func (s *Store) Close() {
	s.Seal()
	if !s.closed.Swap(true) {
		s.pool.Close()
	}
}

// Privileged is a view of a Store that keeps working after Seal.
type Privileged struct {
	s *Store
}

// Exec runs sql unless the store is closed.
func (p *Privileged) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if p.s.closed.Load() {
		return pgconn.CommandTag{}, ErrClosed
	}
	return p.s.pool.Exec(ctx, sql, args...) //nolint:wrapcheck // repositories wrap with operation context
}

// Query runs sql unless the store is closed.
func (p *Privileged) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if p.s.closed.Load() {
		return nil, ErrClosed
	}
	return p.s.pool.Query(ctx, sql, args...) //nolint:wrapcheck // repositories wrap with operation context
}

// QueryRow runs sql unless the store is closed.
func (p *Privileged) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if p.s.closed.Load() {
		return errRow{ErrClosed}
	}
	return p.s.pool.QueryRow(ctx, sql, args...)
}

// Begin starts a transaction unless the store is closed.
func (p *Privileged) Begin(ctx context.Context) (pgx.Tx, error) {
	if p.s.closed.Load() {
		return nil, ErrClosed
	}
	return p.s.pool.Begin(ctx) //nolint:wrapcheck // repositories wrap with operation context
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

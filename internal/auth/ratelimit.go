// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Rate limiting defaults.
const (
	// DefaultMaxAttempts is the number of failures that blocks a source.
	DefaultMaxAttempts = 5

	// DefaultBlockDuration is how long a failure entry lives after its last failure.
	DefaultBlockDuration = 15 * time.Minute
)

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	MaxAttempts   int
	BlockDuration time.Duration
	Clock         clockwork.Clock
	Audit         AuditSink
}

type failureEntry struct {
	count       int
	lastFailure time.Time
}

// RateLimiter throttles failed attempts per source address. State is held in
// memory only; a restart resets all throttling.
//
// An entry expires once blockDuration has elapsed since its last failure.
// Expired entries are treated as absent and evicted on next access or by
// SweepExpired.
type RateLimiter struct {
	mu            sync.Mutex
	entries       map[string]*failureEntry
	maxAttempts   int
	blockDuration time.Duration
	clock         clockwork.Clock
	audit         AuditSink
}

// NewRateLimiter creates a RateLimiter. Zero config values take defaults.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = DefaultBlockDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Audit == nil {
		cfg.Audit = NopAuditSink{}
	}
	return &RateLimiter{
		entries:       make(map[string]*failureEntry),
		maxAttempts:   cfg.MaxAttempts,
		blockDuration: cfg.BlockDuration,
		clock:         cfg.Clock,
		audit:         cfg.Audit,
	}
}

// MaxAttempts returns the configured failure threshold.
func (r *RateLimiter) MaxAttempts() int {
	return r.maxAttempts
}

// live returns the unexpired entry for source, evicting an expired one.
// Caller must hold r.mu.
func (r *RateLimiter) live(source string, now time.Time) *failureEntry {
	e, ok := r.entries[source]
	if !ok {
		return nil
	}
	if now.Sub(e.lastFailure) >= r.blockDuration {
		delete(r.entries, source)
		throttledSources.Set(float64(len(r.entries)))
		return nil
	}
	return e
}

// IsBlocked reports whether source has reached the failure threshold within
// the current window.
func (r *RateLimiter) IsBlocked(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.live(source, r.clock.Now())
	return e != nil && e.count >= r.maxAttempts
}

// RecordFailure counts a failed attempt from source on behalf of actor and
// returns the new failure count. A failure after the window expired starts a
// fresh window.
func (r *RateLimiter) RecordFailure(source, actor string) int {
	now := r.clock.Now()

	r.mu.Lock()
	e := r.live(source, now)
	if e == nil {
		e = &failureEntry{}
		r.entries[source] = e
		throttledSources.Set(float64(len(r.entries)))
	}
	e.count++
	e.lastFailure = now
	count := e.count
	r.mu.Unlock()

	r.audit.Record(AuditRecord{
		Actor:   actor,
		Source:  source,
		Action:  ActionLoginFailed,
		Success: false,
		Details: fmt.Sprintf("failed attempt %d of %d", count, r.maxAttempts),
		At:      now,
	})
	return count
}

// Clear removes the entry for source.
func (r *RateLimiter) Clear(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, source)
	throttledSources.Set(float64(len(r.entries)))
}

// Unblock removes the entry for source and reports whether one existed.
// Intended for operators.
func (r *RateLimiter) Unblock(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[source]
	delete(r.entries, source)
	throttledSources.Set(float64(len(r.entries)))
	return ok
}

// Attempts returns the failure count of source within the current window.
func (r *RateLimiter) Attempts(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.live(source, r.clock.Now()); e != nil {
		return e.count
	}
	return 0
}

// RemainingBlockTime returns the time until the entry for source expires,
// floored at zero.
func (r *RateLimiter) RemainingBlockTime(source string) time.Duration {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.live(source, now)
	if e == nil {
		return 0
	}
	return max(r.blockDuration-now.Sub(e.lastFailure), 0)
}

// SweepExpired removes every expired entry and returns how many were removed.
func (r *RateLimiter) SweepExpired() int {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for source, e := range r.entries {
		if now.Sub(e.lastFailure) >= r.blockDuration {
			delete(r.entries, source)
			removed++
		}
	}
	throttledSources.Set(float64(len(r.entries)))
	return removed
}

// Len returns the number of tracked sources, expired or not.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

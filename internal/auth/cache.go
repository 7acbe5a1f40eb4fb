// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// CacheEntry is the in-memory record of an authenticated account.
type CacheEntry struct {
	Account         *Account
	Token           string
	TokenHash       string
	Source          string
	AuthenticatedAt time.Time
	ExpiresAt       time.Time
}

func (e CacheEntry) clone() CacheEntry {
	e.Account = e.Account.Clone()
	return e
}

// SessionCache is the "authenticated now" set consulted on every action.
// Entries never outlive the session they were created from: an entry past
// ExpiresAt reads as absent.
type SessionCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
	clock   clockwork.Clock
}

// NewSessionCache creates an empty cache. A nil clock uses the real clock.
func NewSessionCache(clock clockwork.Clock) *SessionCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionCache{
		entries: make(map[string]CacheEntry),
		clock:   clock,
	}
}

// IsAuthenticated reports whether username holds an unexpired entry.
func (c *SessionCache) IsAuthenticated(username string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[NormalizeUsername(username)]
	return ok && c.clock.Now().Before(e.ExpiresAt)
}

// Get returns a copy of the unexpired entry for username.
func (c *SessionCache) Get(username string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[NormalizeUsername(username)]
	if !ok || !c.clock.Now().Before(e.ExpiresAt) {
		return CacheEntry{}, false
	}
	return e.clone(), true
}

// Put stores an entry keyed by its account's username, replacing any
// previous one.
func (c *SessionCache) Put(e CacheEntry) {
	if e.Account == nil {
		return
	}
	e = e.clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[NormalizeUsername(e.Account.Username)] = e
	cachedAccounts.Set(float64(len(c.entries)))
}

// Remove deletes and returns the entry for username, expired or not.
func (c *SessionCache) Remove(username string) (CacheEntry, bool) {
	key := NormalizeUsername(username)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		cachedAccounts.Set(float64(len(c.entries)))
	}
	return e, ok
}

// Update applies fn to a copy of the cached account of username and stores
// the result. An account that is no longer cached is left alone and false is
// returned.
func (c *SessionCache) Update(username string, fn func(a *Account)) bool {
	key := NormalizeUsername(username)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	account := e.Account.Clone()
	fn(account)
	e.Account = account
	c.entries[key] = e
	return true
}

// UpdateSnapshot replaces the cached snapshot of username.
func (c *SessionCache) UpdateSnapshot(username string, snapshot Snapshot) bool {
	return c.Update(username, func(a *Account) { a.Snapshot = snapshot.Clone() })
}

// Usernames returns the sorted usernames of all entries, expired or not.
func (c *SessionCache) Usernames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns copies of all entries, expired or not.
func (c *SessionCache) Entries() []CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.clone())
	}
	return out
}

// Len returns the number of entries, expired or not.
func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatehouse/internal/auth"
)

func cachedAccount(t *testing.T, username string) *auth.Account {
	t.Helper()
	a, err := auth.NewAccount(username, "$2a$10$hash", "salt", uuid.New(), time.Now())
	require.NoError(t, err)
	return a
}

func TestSessionCache_PutGetRemove(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := auth.NewSessionCache(clock)

	cache.Put(auth.CacheEntry{
		Account:   cachedAccount(t, "alice"),
		Token:     "tok",
		Source:    "10.0.0.1",
		ExpiresAt: clock.Now().Add(time.Hour),
	})

	assert.True(t, cache.IsAuthenticated("ALICE"), "lookups are case-insensitive")
	entry, ok := cache.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "tok", entry.Token)
	assert.Equal(t, 1, cache.Len())

	removed, ok := cache.Remove("Alice")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", removed.Source)
	assert.False(t, cache.IsAuthenticated("alice"))

	_, ok = cache.Remove("alice")
	assert.False(t, ok)
}

func TestSessionCache_ExpiredEntryReadsAbsent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := auth.NewSessionCache(clock)
	cache.Put(auth.CacheEntry{Account: cachedAccount(t, "alice"), ExpiresAt: clock.Now().Add(time.Hour)})

	clock.Advance(time.Hour)

	assert.False(t, cache.IsAuthenticated("alice"))
	_, ok := cache.Get("alice")
	assert.False(t, ok)
	assert.Equal(t, []string{"alice"}, cache.Usernames(), "expired entries stay until removed")
}

func TestSessionCache_GetReturnsCopy(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := auth.NewSessionCache(clock)
	cache.Put(auth.CacheEntry{Account: cachedAccount(t, "alice"), ExpiresAt: clock.Now().Add(time.Hour)})

	entry, _ := cache.Get("alice")
	entry.Account.Snapshot.World = "mutated"

	again, _ := cache.Get("alice")
	assert.Empty(t, again.Account.Snapshot.World)
}

func TestSessionCache_UpdateSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := auth.NewSessionCache(clock)
	cache.Put(auth.CacheEntry{Account: cachedAccount(t, "alice"), ExpiresAt: clock.Now().Add(time.Hour)})

	snap := auth.DefaultSnapshot()
	snap.World = "nether"
	assert.True(t, cache.UpdateSnapshot("alice", snap))

	entry, _ := cache.Get("alice")
	assert.Equal(t, "nether", entry.Account.Snapshot.World)

	assert.False(t, cache.UpdateSnapshot("bob", snap), "absent account is a no-op")
	assert.Equal(t, 1, cache.Len())
}

func TestSessionCache_IgnoresEntryWithoutAccount(t *testing.T) {
	cache := auth.NewSessionCache(nil)
	cache.Put(auth.CacheEntry{Token: "tok"})
	assert.Zero(t, cache.Len())
}

func TestSessionCache_EntriesAndUsernames(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := auth.NewSessionCache(clock)
	for _, name := range []string{"carol", "alice", "bob"} {
		cache.Put(auth.CacheEntry{Account: cachedAccount(t, name), ExpiresAt: clock.Now().Add(time.Hour)})
	}

	assert.Equal(t, []string{"alice", "bob", "carol"}, cache.Usernames())
	assert.Len(t, cache.Entries(), 3)
}

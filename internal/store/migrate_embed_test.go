// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		require.True(t, pattern.MatchString(name), "unexpected migration file %s", name)
		if base, ok := strings.CutSuffix(name, ".up.sql"); ok {
			ups[base] = true
		} else {
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	assert.True(t, ups["000001_initial"])
	assert.Equal(t, ups, downs, "every migration has an up and a down file")
}

func TestMigrationsFS_SingleActiveSessionIndex(t *testing.T) {
	sql, err := migrationsFS.ReadFile("migrations/000001_initial.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(sql), "ON sessions (username) WHERE active")
}

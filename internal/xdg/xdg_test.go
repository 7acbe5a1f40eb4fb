// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestConfigDir(t *testing.T) {
	assert.Equal(t, "/custom/config/gatehouse",
		ConfigDir(env(map[string]string{"XDG_CONFIG_HOME": "/custom/config", "HOME": "/home/op"})))
	assert.Equal(t, "/home/op/.config/gatehouse",
		ConfigDir(env(map[string]string{"HOME": "/home/op"})))
}

func TestConfigFile(t *testing.T) {
	base := t.TempDir()
	getenv := env(map[string]string{"XDG_CONFIG_HOME": base})

	path, ok := ConfigFile(getenv)
	assert.Equal(t, filepath.Join(base, "gatehouse", "gatehouse.yaml"), path)
	assert.False(t, ok)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("workers: 2\n"), 0o600))
	_, ok = ConfigFile(getenv)
	assert.True(t, ok)
}

func TestConfigFile_IgnoresDirectory(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "gatehouse", "gatehouse.yaml"), 0o700))

	_, ok := ConfigFile(env(map[string]string{"XDG_CONFIG_HOME": base}))
	assert.False(t, ok)
}

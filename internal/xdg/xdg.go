// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg locates gatehouse files under the XDG Base Directory layout.
package xdg

import (
	"os"
	"path/filepath"
)

const (
	appName        = "gatehouse"
	configFileName = "gatehouse.yaml"
)

// ConfigDir returns $XDG_CONFIG_HOME/gatehouse, falling back to
// $HOME/.config/gatehouse. getenv reads the environment.
func ConfigDir(getenv func(string) string) string {
	base := getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default configuration file path and whether a
// regular file exists there.
func ConfigFile(getenv func(string) string) (string, bool) {
	path := filepath.Join(ConfigDir(getenv), configFileName)
	info, err := os.Stat(path)
	return path, err == nil && info.Mode().IsRegular()
}

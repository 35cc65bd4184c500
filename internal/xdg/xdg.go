// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

// Package xdg provides XDG Base Directory paths for SPUD.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "spud"

// ConfigFileName is the host config file inside ConfigDir.
const ConfigFileName = "config.yaml"

func baseDir(envVar string, homeRel ...string) (string, error) {
	if base := os.Getenv(envVar); base != "" {
		return filepath.Join(base, appName), nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", oops.With("env", envVar).Errorf("neither %s nor HOME is set", envVar)
	}
	return filepath.Join(append(append([]string{home}, homeRel...), appName)...), nil
}

// ConfigDir returns the XDG config directory for spud.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	return baseDir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for spud.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() (string, error) {
	return baseDir("XDG_DATA_HOME", ".local", "share")
}

// ConfigFile returns the default host config file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// PluginsDir returns the default plugin search root.
func PluginsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "plugins"), nil
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.With("path", path).Wrapf(err, "failed to create directory %s", path)
	}
	return nil
}

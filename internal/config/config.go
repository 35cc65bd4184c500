// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

// Package config loads host configuration. Sources are layered, later ones
// winning: built-in defaults, the YAML config file, SPUD_* environment
// variables, then explicitly set command-line flags.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/spud-tui/spud/internal/host"
	"github.com/spud-tui/spud/internal/logging"
	"github.com/spud-tui/spud/internal/xdg"
)

// Error codes.
const (
	CodeLoad    = "CONFIG_LOAD"
	CodeInvalid = "CONFIG_INVALID"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "SPUD_"

// Config is the host configuration.
type Config struct {
	Log     LogConfig     `koanf:"log" yaml:"log"`
	Plugins PluginsConfig `koanf:"plugins" yaml:"plugins"`
	Host    HostConfig    `koanf:"host" yaml:"host"`
	Metrics MetricsConfig `koanf:"metrics" yaml:"metrics"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// PluginsConfig configures discovery and session timing.
type PluginsConfig struct {
	Dirs             []string      `koanf:"dirs" yaml:"dirs"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" yaml:"handshake_timeout"`
	PumpBudget       time.Duration `koanf:"pump_budget" yaml:"pump_budget"`
}

// HostConfig configures the frame loop.
type HostConfig struct {
	TickRate time.Duration `koanf:"tick_rate" yaml:"tick_rate"`
}

// MetricsConfig configures the observability server. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// Flag names understood by Load, and the keys they set.
var flagKeys = map[string]string{
	"log-format":        "log.format",
	"log-level":         "log.level",
	"plugin-dir":        "plugins.dirs",
	"handshake-timeout": "plugins.handshake_timeout",
	"pump-budget":       "plugins.pump_budget",
	"tick-rate":         "host.tick_rate",
	"metrics-addr":      "metrics.addr",
}

// Environment variables understood by Load, and the keys they set.
var envKeys = map[string]string{
	"SPUD_LOG_FORMAT":                "log.format",
	"SPUD_LOG_LEVEL":                 "log.level",
	"SPUD_PLUGIN_DIRS":               "plugins.dirs",
	"SPUD_PLUGINS_HANDSHAKE_TIMEOUT": "plugins.handshake_timeout",
	"SPUD_PLUGINS_PUMP_BUDGET":       "plugins.pump_budget",
	"SPUD_HOST_TICK_RATE":            "host.tick_rate",
	"SPUD_METRICS_ADDR":              "metrics.addr",
}

// Defaults returns the built-in configuration.
func Defaults() map[string]any {
	dirs := []string{}
	if dir, err := xdg.PluginsDir(); err == nil {
		dirs = append(dirs, dir)
	}
	return map[string]any{
		"log.format":                logging.FormatJSON,
		"log.level":                 "info",
		"plugins.dirs":              dirs,
		"plugins.handshake_timeout": host.DefaultHandshakeTimeout.String(),
		"plugins.pump_budget":       host.DefaultPumpBudget.String(),
		"host.tick_rate":            host.DefaultTickRate.String(),
		"metrics.addr":              "",
	}
}

// Options controls where Load reads from.
type Options struct {
	// ConfigFile is an explicit config path; it must exist. When empty the
	// XDG config file is used if present.
	ConfigFile string
	// Flags, when set, overrides keys for every flag the user changed.
	Flags *pflag.FlagSet
}

// Load builds the configuration from every source and validates it.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code(CodeLoad).Wrapf(err, "failed to load config defaults")
	}

	path, err := resolveConfigFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeLoad).With("path", path).Wrapf(err, "failed to load config file %s", path)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, oops.Code(CodeLoad).Wrapf(err, "failed to load environment")
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, flagValue), nil); err != nil {
			return nil, oops.Code(CodeLoad).Wrapf(err, "failed to load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "failed to decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", oops.Code(CodeLoad).With("path", explicit).Wrapf(err, "config file not readable")
		}
		return explicit, nil
	}

	path, err := xdg.ConfigFile()
	if err != nil {
		return "", nil //nolint:nilerr // no HOME means no default config file
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", oops.Code(CodeLoad).With("path", path).Wrapf(err, "config file not readable")
	}
	return path, nil
}

func envValue(name, value string) (string, any) {
	key, ok := envKeys[name]
	if !ok {
		return "", nil
	}
	if key == "plugins.dirs" {
		return key, splitDirs(filepath.SplitList(value))
	}
	return key, value
}

func flagValue(f *pflag.Flag) (string, any) {
	key, ok := flagKeys[f.Name]
	if !ok {
		return "", nil
	}
	if key == "plugins.dirs" {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			return key, splitDirs(sv.GetSlice())
		}
	}
	return key, f.Value.String()
}

func splitDirs(parts []string) []string {
	dirs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			dirs = append(dirs, p)
		}
	}
	return dirs
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Log.Format != logging.FormatJSON && c.Log.Format != logging.FormatText {
		return oops.Code(CodeInvalid).With("log.format", c.Log.Format).
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code(CodeInvalid).With("log.level", c.Log.Level).Wrapf(err, "invalid log.level")
	}

	durations := []struct {
		key   string
		value time.Duration
	}{
		{"plugins.handshake_timeout", c.Plugins.HandshakeTimeout},
		{"plugins.pump_budget", c.Plugins.PumpBudget},
		{"host.tick_rate", c.Host.TickRate},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return oops.Code(CodeInvalid).With(d.key, d.value.String()).Errorf("%s must be positive, got %s", d.key, d.value)
		}
	}
	if c.Plugins.PumpBudget > c.Host.TickRate {
		return oops.Code(CodeInvalid).
			Errorf("plugins.pump_budget (%s) must not exceed host.tick_rate (%s)", c.Plugins.PumpBudget, c.Host.TickRate)
	}
	return nil
}

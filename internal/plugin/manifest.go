// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

// Package plugin provides plugin manifest loading and discovery.
package plugin

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
)

// ManifestFileName is the file name discovery looks for.
const ManifestFileName = "plugin.toml"

// Manifest represents a plugin.toml file.
type Manifest struct {
	ID            string        `toml:"id" json:"id" jsonschema:"minLength=1"`
	Name          string        `toml:"name" json:"name" jsonschema:"minLength=1"`
	Version       string        `toml:"version" json:"version" jsonschema:"minLength=1"`
	Runtime       Runtime       `toml:"runtime" json:"runtime"`
	Compatibility Compatibility `toml:"compatibility" json:"compatibility"`
	Permissions   Permissions   `toml:"permissions" json:"permissions"`
}

// Runtime describes how the plugin process is launched.
type Runtime struct {
	// Entrypoint is resolved relative to the manifest directory.
	Entrypoint string `toml:"entrypoint" json:"entrypoint" jsonschema:"minLength=1"`
	// Command is an optional interpreter; when set the entrypoint is passed
	// as its last argument.
	Command string   `toml:"command,omitempty" json:"command,omitempty" jsonschema:"minLength=1"`
	Args    []string `toml:"args,omitempty" json:"args,omitempty"`
}

// Compatibility holds the host API requirement.
type Compatibility struct {
	HostAPI string `toml:"host_api" json:"host_api" jsonschema:"minLength=1" jsonschema_description:"semver range the host API version must satisfy"`
}

// Permissions are the allowlists enforced at runtime.
type Permissions struct {
	Commands      []string `toml:"commands,omitempty" json:"commands,omitempty" jsonschema:"uniqueItems=true"`
	EventTags     []string `toml:"event_tags,omitempty" json:"event_tags,omitempty" jsonschema:"uniqueItems=true"`
	Subscriptions []string `toml:"subscriptions,omitempty" json:"subscriptions,omitempty" jsonschema:"uniqueItems=true"`
}

// ParseManifest parses and validates plugin.toml contents.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("manifest data is empty")
	}

	var m Manifest
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("failed to parse plugin manifest TOML: %s", strict.String())
		}
		return nil, fmt.Errorf("failed to parse plugin manifest TOML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from discovery roots chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin manifest at %s: %w", path, err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("invalid plugin manifest at %s: %w", path, err)
	}
	return m, nil
}

// Validate checks required fields and semantic constraints.
func (m *Manifest) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"id", m.ID},
		{"name", m.Name},
		{"version", m.Version},
		{"runtime.entrypoint", m.Runtime.Entrypoint},
		{"compatibility.host_api", m.Compatibility.HostAPI},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%s must not be empty", r.field)
		}
	}

	if cmd := m.Runtime.Command; cmd != "" {
		if strings.TrimSpace(cmd) == "" {
			return errors.New("runtime.command must not be blank when set")
		}
		if strings.TrimSpace(cmd) != cmd {
			return fmt.Errorf("runtime.command %q has leading/trailing whitespace", cmd)
		}
	}

	for _, arg := range m.Runtime.Args {
		if strings.TrimSpace(arg) == "" {
			return errors.New("runtime.args entries must not be empty")
		}
		if strings.TrimSpace(arg) != arg {
			return fmt.Errorf("runtime.args entry %q has leading/trailing whitespace", arg)
		}
	}

	if err := validateAllowlist("permissions.commands", m.Permissions.Commands); err != nil {
		return err
	}
	if err := validateAllowlist("permissions.event_tags", m.Permissions.EventTags); err != nil {
		return err
	}
	if err := validateAllowlist("permissions.subscriptions", m.Permissions.Subscriptions); err != nil {
		return err
	}

	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("manifest version must be valid semver: %s: %w", m.Version, err)
	}
	if _, err := semver.NewConstraint(m.Compatibility.HostAPI); err != nil {
		return fmt.Errorf("compatibility.host_api must be a valid semver requirement: %s: %w", m.Compatibility.HostAPI, err)
	}

	return nil
}

// Clone returns a deep copy so sessions never share slices with the registry.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Runtime.Args = append([]string(nil), m.Runtime.Args...)
	c.Permissions.Commands = append([]string(nil), m.Permissions.Commands...)
	c.Permissions.EventTags = append([]string(nil), m.Permissions.EventTags...)
	c.Permissions.Subscriptions = append([]string(nil), m.Permissions.Subscriptions...)
	return &c
}

func validateAllowlist(field string, values []string) error {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s entries must not be empty", field)
		}
		if strings.TrimSpace(v) != v {
			return fmt.Errorf("%s entry %q has leading/trailing whitespace", field, v)
		}
		if _, dup := seen[v]; dup {
			return fmt.Errorf("%s contains duplicate entry %q", field, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

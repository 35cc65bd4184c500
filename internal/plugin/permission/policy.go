// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

// Package permission derives per-plugin authorization policies from
// manifests and enforces them on plugin requests.
package permission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/spud-tui/spud/internal/plugin"
	"github.com/spud-tui/spud/internal/plugin/protocol"
)

// ErrorKind classifies an authorization failure.
type ErrorKind int

// Authorization failure kinds.
const (
	InvalidHostAPIRequirement ErrorKind = iota + 1
	InvalidHostAPIVersion
	UnsupportedHostAPI
	UnauthorizedCommand
	UnauthorizedEventTag
	UnauthorizedSubscriptions
)

// AuthorizationError is a permission or compatibility failure. It maps onto
// a fixed wire error code so sessions can answer without re-deriving it.
type AuthorizationError struct {
	Kind ErrorKind
	// Value holds the offending requirement, version, command, or tag.
	Value string
	// Host is set for UnsupportedHostAPI.
	Host string
	// Categories lists denied subscription names in request order.
	Categories []string
}

// Error implements error.
func (e *AuthorizationError) Error() string {
	switch e.Kind {
	case InvalidHostAPIRequirement:
		return "invalid manifest compatibility.host_api requirement: " + e.Value
	case InvalidHostAPIVersion:
		return "invalid host API version: " + e.Value
	case UnsupportedHostAPI:
		return fmt.Sprintf("plugin requires host_api %s, but host API is %s", e.Value, e.Host)
	case UnauthorizedCommand:
		return "command is not allowlisted: " + e.Value
	case UnauthorizedEventTag:
		return "event tag is not allowlisted: " + e.Value
	case UnauthorizedSubscriptions:
		return "subscription categories are not allowlisted: " + strings.Join(e.Categories, ", ")
	default:
		return "authorization failed"
	}
}

// Code maps the failure onto a wire error code.
func (e *AuthorizationError) Code() int {
	switch e.Kind {
	case InvalidHostAPIRequirement, InvalidHostAPIVersion:
		return protocol.CodeInvalidParams
	case UnsupportedHostAPI:
		return protocol.CodeUnsupportedAPIVersion
	default:
		return protocol.CodeUnauthorized
	}
}

// RPCError converts the failure into a wire error.
func (e *AuthorizationError) RPCError() *protocol.RPCError {
	return &protocol.RPCError{Code: e.Code(), Message: e.Error()}
}

// Policy is an immutable authorization snapshot derived from one manifest.
type Policy struct {
	hostAPIRequirement string
	commands           map[string]struct{}
	eventTags          map[string]struct{}
	subscriptions      map[string]struct{}
}

// FromManifest copies the manifest's allowlists into a new policy.
func FromManifest(m *plugin.Manifest) *Policy {
	return &Policy{
		hostAPIRequirement: m.Compatibility.HostAPI,
		commands:           toSet(m.Permissions.Commands),
		eventTags:          toSet(m.Permissions.EventTags),
		subscriptions:      toSet(m.Permissions.Subscriptions),
	}
}

// FromManifestChecked derives a policy and verifies host compatibility.
func FromManifestChecked(m *plugin.Manifest) (*Policy, error) {
	p := FromManifest(m)
	if err := p.EnsureHostCompatibility(); err != nil {
		return nil, err
	}
	return p, nil
}

// EnsureHostCompatibility checks the manifest's host_api range against
// protocol.HostAPIVersion.
func (p *Policy) EnsureHostCompatibility() error {
	return p.ensureCompatible(protocol.HostAPIVersion)
}

func (p *Policy) ensureCompatible(hostVersion string) error {
	constraint, err := semver.NewConstraint(p.hostAPIRequirement)
	if err != nil {
		return &AuthorizationError{Kind: InvalidHostAPIRequirement, Value: p.hostAPIRequirement}
	}
	host, err := semver.StrictNewVersion(hostVersion)
	if err != nil {
		return &AuthorizationError{Kind: InvalidHostAPIVersion, Value: hostVersion}
	}
	if !constraint.Check(host) {
		return &AuthorizationError{Kind: UnsupportedHostAPI, Value: p.hostAPIRequirement, Host: host.String()}
	}
	return nil
}

// AuthorizeInvokeCommand checks the commands allowlist.
func (p *Policy) AuthorizeInvokeCommand(command string) error {
	if _, ok := p.commands[command]; !ok {
		return &AuthorizationError{Kind: UnauthorizedCommand, Value: command}
	}
	return nil
}

// AuthorizePublishEvent checks the event_tags allowlist.
func (p *Policy) AuthorizePublishEvent(tag string) error {
	if _, ok := p.eventTags[tag]; !ok {
		return &AuthorizationError{Kind: UnauthorizedEventTag, Value: tag}
	}
	return nil
}

// AuthorizeSubscriptions deduplicates categories in request order and checks
// each against the subscriptions allowlist. Any denied category fails the
// whole batch; the caller must apply nothing in that case.
func (p *Policy) AuthorizeSubscriptions(categories []protocol.EventCategory) ([]protocol.EventCategory, error) {
	seen := make(map[protocol.EventCategory]struct{}, len(categories))
	authorized := make([]protocol.EventCategory, 0, len(categories))
	var denied []string

	for _, c := range categories {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}

		if _, ok := p.subscriptions[string(c)]; ok {
			authorized = append(authorized, c)
		} else {
			denied = append(denied, string(c))
		}
	}

	if len(denied) > 0 {
		return nil, &AuthorizationError{Kind: UnauthorizedSubscriptions, Categories: denied}
	}
	return authorized, nil
}

// HostAPIRequirement returns the manifest's host_api range.
func (p *Policy) HostAPIRequirement() string { return p.hostAPIRequirement }

// Commands returns the allowlisted commands, sorted.
func (p *Policy) Commands() []string { return sortedKeys(p.commands) }

// EventTags returns the allowlisted event tags, sorted.
func (p *Policy) EventTags() []string { return sortedKeys(p.eventTags) }

// Subscriptions returns the allowlisted subscription categories, sorted.
func (p *Policy) Subscriptions() []string { return sortedKeys(p.subscriptions) }

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package protocol

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// HandshakeErrorKind classifies a negotiation failure.
type HandshakeErrorKind int

// Handshake failure kinds.
const (
	HandshakeInvalidVersionRequirement HandshakeErrorKind = iota + 1
	HandshakeUnsupportedAPIVersion
	HandshakeUnsupportedRequestedCapabilities
	HandshakeHostAPIVersionInvalid
	HandshakeHostCapabilitiesUnavailable
)

// HandshakeError is a negotiation failure returned to the plugin as a
// structured wire error.
type HandshakeError struct {
	Kind HandshakeErrorKind
	// Requirement is the plugin's supported_api_versions string.
	Requirement string
	// Host is the host API version.
	Host string
	// Requested lists requested_capabilities, sorted and deduplicated.
	Requested []string
	// Cause describes why host capabilities could not be loaded.
	Cause string
}

// Error implements error.
func (e *HandshakeError) Error() string {
	switch e.Kind {
	case HandshakeInvalidVersionRequirement:
		return "invalid supported_api_versions requirement: " + e.Requirement
	case HandshakeUnsupportedAPIVersion:
		return fmt.Sprintf("host API version %s is not compatible with plugin requirement %s", e.Host, e.Requirement)
	case HandshakeUnsupportedRequestedCapabilities:
		return "requested_capabilities contains no supported entries: " + strings.Join(e.Requested, ", ")
	case HandshakeHostAPIVersionInvalid:
		return "host API version constant is not valid semver: " + e.Host
	case HandshakeHostCapabilitiesUnavailable:
		return "host capabilities unavailable: " + e.Cause
	default:
		return "handshake failed"
	}
}

// Code maps the failure onto a wire error code.
func (e *HandshakeError) Code() int {
	switch e.Kind {
	case HandshakeUnsupportedAPIVersion:
		return CodeUnsupportedAPIVersion
	case HandshakeHostAPIVersionInvalid, HandshakeHostCapabilitiesUnavailable:
		return CodePluginUnavailable
	default:
		return CodeInvalidParams
	}
}

// RPCError converts the failure into a wire error.
func (e *HandshakeError) RPCError() *RPCError {
	return &RPCError{Code: e.Code(), Message: e.Error()}
}

// NegotiateAPIVersion checks the plugin's requirement against HostAPIVersion
// and returns the selected version.
func NegotiateAPIVersion(requirement string) (string, error) {
	return negotiate(requirement, HostAPIVersion)
}

func negotiate(requirement, hostVersion string) (string, error) {
	constraint, err := semver.NewConstraint(requirement)
	if err != nil {
		return "", &HandshakeError{Kind: HandshakeInvalidVersionRequirement, Requirement: requirement}
	}
	host, err := semver.StrictNewVersion(hostVersion)
	if err != nil {
		return "", &HandshakeError{Kind: HandshakeHostAPIVersionInvalid, Host: hostVersion}
	}
	if !constraint.Check(host) {
		return "", &HandshakeError{
			Kind:        HandshakeUnsupportedAPIVersion,
			Host:        host.String(),
			Requirement: requirement,
		}
	}
	return host.String(), nil
}

// BuildHandshakeResult negotiates the API version and filters the host
// capabilities by params.RequestedCapabilities.
func BuildHandshakeResult(params HandshakeParams) (HandshakeResult, error) {
	selected, err := NegotiateAPIVersion(params.SupportedAPIVersions)
	if err != nil {
		return HandshakeResult{}, err
	}

	all, err := HostCapabilities()
	if err != nil {
		return HandshakeResult{}, &HandshakeError{Kind: HandshakeHostCapabilitiesUnavailable, Cause: err.Error()}
	}

	caps, err := filterCapabilities(all, params.RequestedCapabilities)
	if err != nil {
		return HandshakeResult{}, err
	}

	return HandshakeResult{SelectedAPIVersion: selected, HostCapabilities: caps}, nil
}

func filterCapabilities(all Capabilities, requested []string) (Capabilities, error) {
	if len(requested) == 0 {
		return all, nil
	}

	wanted := make(map[string]struct{}, len(requested))
	for _, r := range requested {
		wanted[r] = struct{}{}
	}

	filtered := Capabilities{Methods: []string{}, EventCategories: []EventCategory{}}
	for _, m := range all.Methods {
		if _, ok := wanted[m]; ok {
			filtered.Methods = append(filtered.Methods, m)
		}
	}
	for _, c := range all.EventCategories {
		if _, ok := wanted[string(c)]; ok {
			filtered.EventCategories = append(filtered.EventCategories, c)
		}
	}

	if len(filtered.Methods) == 0 && len(filtered.EventCategories) == 0 {
		names := slices.Clone(requested)
		sort.Strings(names)
		return Capabilities{}, &HandshakeError{
			Kind:      HandshakeUnsupportedRequestedCapabilities,
			Requested: slices.Compact(names),
		}
	}
	return filtered, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package protocol

import (
	"encoding/json"
	"fmt"
)

// EventCategory is a host event kind a plugin may subscribe to.
type EventCategory string

// Event categories.
const (
	CategoryTick            EventCategory = "tick"
	CategoryResize          EventCategory = "resize"
	CategoryModuleLifecycle EventCategory = "module_lifecycle"
	CategoryTelemetry       EventCategory = "telemetry"
	CategoryCustom          EventCategory = "custom"
)

// AllCategories returns every category in declaration order.
func AllCategories() []EventCategory {
	return []EventCategory{
		CategoryTick,
		CategoryResize,
		CategoryModuleLifecycle,
		CategoryTelemetry,
		CategoryCustom,
	}
}

// ParseEventCategory returns the category with the given wire name.
func ParseEventCategory(name string) (EventCategory, bool) {
	for _, c := range AllCategories() {
		if string(c) == name {
			return c, true
		}
	}
	return "", false
}

// Valid reports whether c is one of the known categories.
func (c EventCategory) Valid() bool {
	_, ok := ParseEventCategory(string(c))
	return ok
}

// String implements fmt.Stringer.
func (c EventCategory) String() string { return string(c) }

// UnmarshalJSON rejects names outside the closed category set.
func (c *EventCategory) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("event category must be a string: %w", err)
	}
	parsed, ok := ParseEventCategory(name)
	if !ok {
		return fmt.Errorf("unknown event category %q", name)
	}
	*c = parsed
	return nil
}

// HandshakeParams are sent by the plugin in spud.handshake.
type HandshakeParams struct {
	PluginID              string   `json:"plugin_id"`
	PluginVersion         string   `json:"plugin_version"`
	SupportedAPIVersions  string   `json:"supported_api_versions"`
	RequestedCapabilities []string `json:"requested_capabilities,omitempty"`
}

func (p *HandshakeParams) validate() error {
	switch {
	case p.PluginID == "":
		return missing("plugin_id")
	case p.PluginVersion == "":
		return missing("plugin_version")
	case p.SupportedAPIVersions == "":
		return missing("supported_api_versions")
	}
	return nil
}

// Capabilities lists the methods and event categories the host offers.
type Capabilities struct {
	Methods         []string        `json:"methods"`
	EventCategories []EventCategory `json:"event_categories"`
}

// HandshakeResult answers spud.handshake.
type HandshakeResult struct {
	SelectedAPIVersion string       `json:"selected_api_version"`
	HostCapabilities   Capabilities `json:"host_capabilities"`
}

// GetSnapshotParams are the (empty) params of spud.state.get_snapshot.
type GetSnapshotParams struct{}

// ActiveModule identifies the module currently shown by the host.
type ActiveModule struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// TelemetryDatum is one telemetry reading in a snapshot.
type TelemetryDatum struct {
	Source string          `json:"source"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
}

// StateSnapshot is the read-only host state exposed to plugins.
type StateSnapshot struct {
	ActiveModule  *ActiveModule    `json:"active_module"`
	StatusLine    string           `json:"status_line"`
	UptimeSeconds uint64           `json:"uptime_seconds"`
	TPS           float64          `json:"tps"`
	Telemetry     []TelemetryDatum `json:"telemetry"`
}

// SubscribeParams are shared by subscribe and unsubscribe.
type SubscribeParams struct {
	Categories []EventCategory `json:"categories"`
}

func (p *SubscribeParams) validate() error {
	if p.Categories == nil {
		return missing("categories")
	}
	return nil
}

// SubscriptionResult lists the full active subscription set after a change.
type SubscriptionResult struct {
	Subscribed []EventCategory `json:"subscribed"`
}

// InvokeCommandParams are the params of spud.host.invoke_command.
type InvokeCommandParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func (p *InvokeCommandParams) validate() error {
	if p.Command == "" {
		return missing("command")
	}
	if p.Args == nil {
		p.Args = []string{}
	}
	return nil
}

// InvokeCommandResult carries the command's output lines.
type InvokeCommandResult struct {
	Lines []string `json:"lines"`
}

// PublishEventParams are the params of spud.host.publish_event.
type PublishEventParams struct {
	Tag     string `json:"tag"`
	Payload string `json:"payload"`
}

func (p *PublishEventParams) validate() error {
	if p.Tag == "" {
		return missing("tag")
	}
	return nil
}

// PublishEventResult reports whether the host queued the event.
type PublishEventResult struct {
	Accepted bool `json:"accepted"`
}

// EventNotificationParams are the params of spud.events.emit.
type EventNotificationParams struct {
	Category EventCategory   `json:"category"`
	Tag      string          `json:"tag,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package host

import (
	"encoding/json"
	"time"

	"github.com/spud-tui/spud/internal/plugin/protocol"
)

// Event is a host event. The set is closed; plugins only ever see the
// subset MapEvent translates.
type Event interface {
	isEvent()
}

// TickEvent fires once per host frame.
type TickEvent struct {
	Now time.Time
}

// ResizeEvent reports a new viewport size.
type ResizeEvent struct {
	Cols uint16
	Rows uint16
}

// ModuleActivatedEvent reports that a module became active.
type ModuleActivatedEvent struct {
	ID string
}

// ModuleDeactivatedEvent reports that a module stopped being active.
type ModuleDeactivatedEvent struct {
	ID string
}

// TelemetryEvent carries one telemetry value. Value should be a number or a
// string.
type TelemetryEvent struct {
	Source string
	Key    string
	Value  any
}

// CustomEvent is a tagged event, usually published by a plugin.
type CustomEvent struct {
	Tag     string
	Payload string
}

// QuitEvent asks the host to stop. It is never forwarded to plugins.
type QuitEvent struct{}

func (TickEvent) isEvent()              {}
func (ResizeEvent) isEvent()            {}
func (ModuleActivatedEvent) isEvent()   {}
func (ModuleDeactivatedEvent) isEvent() {}
func (TelemetryEvent) isEvent()         {}
func (CustomEvent) isEvent()            {}
func (QuitEvent) isEvent()              {}

// Module lifecycle tags.
const (
	TagModuleActivated   = "module.activated"
	TagModuleDeactivated = "module.deactivated"
)

// MapEvent translates a host event into the category, tag and payload sent
// to subscribed plugins. ok is false for events plugins never receive.
func MapEvent(ev Event, startedAt time.Time) (category protocol.EventCategory, tag string, payload json.RawMessage, ok bool) {
	var body any
	switch e := ev.(type) {
	case TickEvent:
		uptime := e.Now.Sub(startedAt)
		if uptime < 0 {
			uptime = 0
		}
		category, body = protocol.CategoryTick, map[string]float64{"uptime_seconds": uptime.Seconds()}
	case ResizeEvent:
		category, body = protocol.CategoryResize, map[string]uint16{"cols": e.Cols, "rows": e.Rows}
	case ModuleActivatedEvent:
		category, tag, body = protocol.CategoryModuleLifecycle, TagModuleActivated, map[string]string{"id": e.ID}
	case ModuleDeactivatedEvent:
		category, tag, body = protocol.CategoryModuleLifecycle, TagModuleDeactivated, map[string]string{"id": e.ID}
	case TelemetryEvent:
		category, body = protocol.CategoryTelemetry, map[string]any{"source": e.Source, "key": e.Key, "value": e.Value}
	case CustomEvent:
		return protocol.CategoryCustom, e.Tag, customPayload(e.Payload), true
	default:
		return "", "", nil, false
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", "", nil, false
	}
	return category, tag, data, true
}

// customPayload forwards valid JSON as-is and anything else as a JSON string.
func customPayload(payload string) json.RawMessage {
	if json.Valid([]byte(payload)) {
		return json.RawMessage(payload)
	}
	data, _ := json.Marshal(payload) //nolint:errcheck // marshaling a string cannot fail
	return data
}

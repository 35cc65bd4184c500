// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package host

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spud-tui/spud/internal/plugin/protocol"
)

func TestMapEvent(t *testing.T) {
	started := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		event        Event
		wantCategory protocol.EventCategory
		wantTag      string
		wantPayload  string
	}{
		{
			name:         "tick carries fractional uptime",
			event:        TickEvent{Now: started.Add(1500 * time.Millisecond)},
			wantCategory: protocol.CategoryTick,
			wantPayload:  `{"uptime_seconds":1.5}`,
		},
		{
			name:         "tick before start clamps to zero",
			event:        TickEvent{Now: started.Add(-time.Second)},
			wantCategory: protocol.CategoryTick,
			wantPayload:  `{"uptime_seconds":0}`,
		},
		{
			name:         "resize",
			event:        ResizeEvent{Cols: 120, Rows: 40},
			wantCategory: protocol.CategoryResize,
			wantPayload:  `{"cols":120,"rows":40}`,
		},
		{
			name:         "module activated",
			event:        ModuleActivatedEvent{ID: "hello"},
			wantCategory: protocol.CategoryModuleLifecycle,
			wantTag:      TagModuleActivated,
			wantPayload:  `{"id":"hello"}`,
		},
		{
			name:         "module deactivated",
			event:        ModuleDeactivatedEvent{ID: "stats"},
			wantCategory: protocol.CategoryModuleLifecycle,
			wantTag:      TagModuleDeactivated,
			wantPayload:  `{"id":"stats"}`,
		},
		{
			name:         "telemetry number",
			event:        TelemetryEvent{Source: "cpu", Key: "load", Value: 0.25},
			wantCategory: protocol.CategoryTelemetry,
			wantPayload:  `{"key":"load","source":"cpu","value":0.25}`,
		},
		{
			name:         "telemetry text",
			event:        TelemetryEvent{Source: "net", Key: "iface", Value: "eth0"},
			wantCategory: protocol.CategoryTelemetry,
			wantPayload:  `{"key":"iface","source":"net","value":"eth0"}`,
		},
		{
			name:         "custom json payload forwarded as json",
			event:        CustomEvent{Tag: "plugin.metrics", Payload: `{"count":3}`},
			wantCategory: protocol.CategoryCustom,
			wantTag:      "plugin.metrics",
			wantPayload:  `{"count":3}`,
		},
		{
			name:         "custom text payload forwarded as string",
			event:        CustomEvent{Tag: "plugin.note", Payload: "hello there"},
			wantCategory: protocol.CategoryCustom,
			wantTag:      "plugin.note",
			wantPayload:  `"hello there"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, tag, payload, ok := MapEvent(tt.event, started)
			require.True(t, ok)
			assert.Equal(t, tt.wantCategory, category)
			assert.Equal(t, tt.wantTag, tag)
			assert.JSONEq(t, tt.wantPayload, string(payload))
		})
	}
}

func TestMapEvent_QuitIsNotForwarded(t *testing.T) {
	_, _, _, ok := MapEvent(QuitEvent{}, time.Now())
	assert.False(t, ok)
}

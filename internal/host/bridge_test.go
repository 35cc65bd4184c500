// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spud-tui/spud/internal/plugin/protocol"
)

func TestBridge(t *testing.T) {
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	state := NewState(started)
	bridge := NewBridge(state, BuiltinCommands(), WithClock(func() time.Time {
		return started.Add(42 * time.Second)
	}))
	ctx := context.Background()

	t.Run("snapshot reflects state", func(t *testing.T) {
		snap, err := bridge.StateSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), snap.UptimeSeconds)
		assert.Equal(t, DefaultStatusLine, snap.StatusLine)
		assert.NotNil(t, snap.Telemetry)
	})

	t.Run("invoke joins args into the command line", func(t *testing.T) {
		result, err := bridge.InvokeCommand(ctx, protocol.InvokeCommandParams{Command: "echo", Args: []string{"from", "plugin"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"from plugin"}, result.Lines)
		assert.Empty(t, bridge.Drain())
	})

	t.Run("quit queues a quit event", func(t *testing.T) {
		result, err := bridge.InvokeCommand(ctx, protocol.InvokeCommandParams{Command: "exit"})
		require.NoError(t, err)
		assert.Equal(t, []string{"quit requested"}, result.Lines)
		assert.Equal(t, []Event{QuitEvent{}}, bridge.Drain())
	})

	t.Run("publish queues custom events in order", func(t *testing.T) {
		for _, tag := range []string{"a", "b"} {
			result, err := bridge.PublishEvent(ctx, protocol.PublishEventParams{Tag: tag, Payload: "x"})
			require.NoError(t, err)
			assert.True(t, result.Accepted)
		}
		assert.Equal(t, []Event{
			CustomEvent{Tag: "a", Payload: "x"},
			CustomEvent{Tag: "b", Payload: "x"},
		}, bridge.Drain())
		assert.Nil(t, bridge.Drain())
	})
}

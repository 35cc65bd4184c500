// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package host

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/spud-tui/spud/internal/plugin/protocol"
	"github.com/spud-tui/spud/internal/plugin/remote"
)

var _ remote.Bridge = (*Bridge)(nil)

// Bridge answers plugin requests from host state and queues the events
// plugins cause. The loop drains the queue once per frame.
type Bridge struct {
	state    *State
	commands *CommandRegistry
	now      func() time.Time

	mu     sync.Mutex
	queued []Event
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithClock overrides the bridge's time source.
func WithClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) {
		b.now = now
	}
}

// NewBridge creates a bridge over state and commands.
func NewBridge(state *State, commands *CommandRegistry, opts ...BridgeOption) *Bridge {
	b := &Bridge{state: state, commands: commands, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// StateSnapshot returns the current host state.
func (b *Bridge) StateSnapshot(_ context.Context) (protocol.StateSnapshot, error) {
	return b.state.Snapshot(b.now()), nil
}

// InvokeCommand runs a console command. A quit command queues a QuitEvent.
func (b *Bridge) InvokeCommand(_ context.Context, params protocol.InvokeCommandParams) (protocol.InvokeCommandResult, error) {
	input := params.Command
	if len(params.Args) > 0 {
		input += " " + strings.Join(params.Args, " ")
	}

	out := b.commands.Execute(input, b.state, b.now())
	if out.Quit {
		b.enqueue(QuitEvent{})
		return protocol.InvokeCommandResult{Lines: []string{"quit requested"}}, nil
	}
	return protocol.InvokeCommandResult{Lines: out.Lines}, nil
}

// PublishEvent queues a custom host event.
func (b *Bridge) PublishEvent(_ context.Context, params protocol.PublishEventParams) (protocol.PublishEventResult, error) {
	b.enqueue(CustomEvent{Tag: params.Tag, Payload: params.Payload})
	return protocol.PublishEventResult{Accepted: true}, nil
}

func (b *Bridge) enqueue(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queued = append(b.queued, ev)
}

// Drain returns and clears the queued events in arrival order.
func (b *Bridge) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.queued
	b.queued = nil
	return events
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package host

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/spud-tui/spud/internal/plugin/protocol"
	"github.com/spud-tui/spud/internal/plugin/remote"
	"github.com/spud-tui/spud/pkg/errutil"
)

// Defaults for the frame loop.
const (
	DefaultTickRate         = 100 * time.Millisecond
	DefaultPumpBudget       = time.Millisecond
	DefaultHandshakeTimeout = 2 * time.Second
)

// PluginRuntime is the part of *remote.Runtime the loop drives.
type PluginRuntime interface {
	PluginIDs() []string
	RunningIDs() []string
	Start(ctx context.Context, id string, timeout time.Duration) (protocol.HandshakeResult, error)
	PumpNext(ctx context.Context, id string, bridge remote.Bridge, timeout time.Duration) (remote.HandledRequest, error)
	BroadcastEvent(category protocol.EventCategory, tag string, payload json.RawMessage) (int, error)
	ShutdownAll()
}

// Loop is the host frame loop. It owns the runtime for its lifetime and
// must be driven from a single goroutine.
type Loop struct {
	runtime PluginRuntime
	bridge  *Bridge
	state   *State
	logger  *slog.Logger
	now     func() time.Time

	tickRate         time.Duration
	pumpBudget       time.Duration
	handshakeTimeout time.Duration
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the loop logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTickRate sets the interval between frames.
func WithTickRate(d time.Duration) LoopOption {
	return func(l *Loop) { l.tickRate = d }
}

// WithPumpBudget sets the wall-clock budget for servicing plugins per frame.
func WithPumpBudget(d time.Duration) LoopOption {
	return func(l *Loop) { l.pumpBudget = d }
}

// WithHandshakeTimeout sets how long each plugin gets to complete its
// handshake in StartAll.
func WithHandshakeTimeout(d time.Duration) LoopOption {
	return func(l *Loop) { l.handshakeTimeout = d }
}

// WithLoopClock overrides the loop's time source.
func WithLoopClock(now func() time.Time) LoopOption {
	return func(l *Loop) { l.now = now }
}

// NewLoop creates a loop over runtime, answering plugin requests through
// bridge.
func NewLoop(runtime PluginRuntime, bridge *Bridge, opts ...LoopOption) *Loop {
	l := &Loop{
		runtime:          runtime,
		bridge:           bridge,
		state:            bridge.state,
		logger:           slog.Default(),
		now:              time.Now,
		tickRate:         DefaultTickRate,
		pumpBudget:       DefaultPumpBudget,
		handshakeTimeout: DefaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StartAll starts every registered plugin. Failures are logged and do not
// stop the remaining plugins. It returns the number started.
func (l *Loop) StartAll(ctx context.Context) int {
	ids := l.runtime.PluginIDs()
	if len(ids) == 0 {
		l.logger.Info("no plugin manifests were discovered")
		return 0
	}

	l.logger.Info("starting plugins", "plugin_count", len(ids))
	started := 0
	for _, id := range ids {
		if _, err := l.runtime.Start(ctx, id, l.handshakeTimeout); err != nil {
			errutil.LogError(l.logger.With("plugin_id", id), "failed to start plugin", err)
			continue
		}
		started++
	}
	return started
}

// PumpFrame services at most one pending request per running plugin
// without waiting. It stops early once budget has elapsed and returns the
// number of requests handled.
func (l *Loop) PumpFrame(ctx context.Context, budget time.Duration) int {
	started := l.now()
	handled := 0
	for _, id := range l.runtime.RunningIDs() {
		if l.now().Sub(started) >= budget {
			l.logger.Debug("plugin pump budget exhausted for this frame", "budget_ms", budget.Milliseconds())
			break
		}

		req, err := l.runtime.PumpNext(ctx, id, l.bridge, 0)
		switch {
		case err == nil:
			handled++
			l.logger.Debug("handled plugin request",
				"plugin_id", req.PluginID,
				"method", req.Method,
				"is_error", req.IsError)
		case remote.IsTimeout(err), remote.IsNotRunning(err):
		case remote.IsProcessExited(err):
			errutil.LogWarn(l.logger.With("plugin_id", id), "plugin process exited; session detached", err)
		default:
			errutil.LogWarn(l.logger.With("plugin_id", id), "plugin pump error", err)
		}
	}
	return handled
}

// Forward broadcasts ev to subscribed plugins and returns how many received
// it. Events plugins never see return zero.
func (l *Loop) Forward(ev Event) int {
	category, tag, payload, ok := MapEvent(ev, l.state.StartedAt())
	if !ok {
		return 0
	}
	delivered, err := l.runtime.BroadcastEvent(category, tag, payload)
	if err != nil {
		errutil.LogWarn(l.logger.With("category", category), "failed to broadcast host event to plugins", err)
	}
	return delivered
}

// Post queues a host event for the next frame.
func (l *Loop) Post(ev Event) {
	l.bridge.enqueue(ev)
}

// Frame runs one host frame: record the tick, service plugins, broadcast
// the tick, then forward queued events. It reports whether a quit was
// requested.
func (l *Loop) Frame(ctx context.Context, now time.Time) bool {
	l.state.Tick(now)
	l.PumpFrame(ctx, l.pumpBudget)
	l.Forward(TickEvent{Now: now})

	quit := false
	for _, ev := range l.bridge.Drain() {
		if _, ok := ev.(QuitEvent); ok {
			quit = true
			continue
		}
		l.observe(ev)
		l.Forward(ev)
	}
	return quit
}

// observe folds events that change host state into the state.
func (l *Loop) observe(ev Event) {
	switch e := ev.(type) {
	case ModuleActivatedEvent:
		l.state.SetActiveModule(&protocol.ActiveModule{ID: e.ID, Title: e.ID})
	case ModuleDeactivatedEvent:
		if snap := l.state.Snapshot(l.now()); snap.ActiveModule != nil && snap.ActiveModule.ID == e.ID {
			l.state.SetActiveModule(nil)
		}
	case TelemetryEvent:
		value, err := json.Marshal(e.Value)
		if err != nil {
			l.logger.Warn("dropping unencodable telemetry value", "source", e.Source, "key", e.Key, "error", err)
			return
		}
		l.state.RecordTelemetry(protocol.TelemetryDatum{Source: e.Source, Key: e.Key, Value: value})
	}
}

// Run starts every plugin and runs frames until ctx ends or a plugin asks
// the host to quit. All plugins are shut down before it returns.
func (l *Loop) Run(ctx context.Context) error {
	defer l.runtime.ShutdownAll()

	l.StartAll(ctx)

	ticker := time.NewTicker(l.tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("host loop stopped", "reason", context.Cause(ctx))
			return nil
		case now := <-ticker.C:
			if l.Frame(ctx, now) {
				l.logger.Info("quit requested by plugin")
				return nil
			}
		}
	}
}

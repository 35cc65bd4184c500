// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

// Package remote runs out-of-process plugins. A Runtime owns one Session per
// running plugin: a child process speaking line-delimited JSON-RPC over
// stdio, a reader goroutine, and the handshake/subscription state machine.
//
// A Runtime is not safe for concurrent use. One coordinating goroutine owns
// it and drives Start, PumpNext and BroadcastEvent.
package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/samber/oops"

	"github.com/spud-tui/spud/internal/observability"
	"github.com/spud-tui/spud/internal/plugin"
	"github.com/spud-tui/spud/internal/plugin/permission"
	"github.com/spud-tui/spud/internal/plugin/protocol"
)

type registeredPlugin struct {
	discovered plugin.DiscoveredPlugin
	policy     *permission.Policy
	session    *session
}

// Runtime is the registry of discovered plugins and their live sessions.
type Runtime struct {
	plugins map[string]*registeredPlugin
	ids     []string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures a Runtime during construction.
type Option func(*Runtime)

// WithLogger sets the logger used by the runtime and its sessions.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records request, event and session metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// NewRuntime discovers plugins under roots and registers them. Any discovery
// failure or incompatible manifest fails the whole registry.
func NewRuntime(roots []string, opts ...Option) (*Runtime, error) {
	discovered, err := plugin.Discover(roots)
	if err != nil {
		return nil, oops.Code(CodeDiscovery).Wrapf(err, "plugin discovery failed")
	}
	return Register(discovered, opts...)
}

// Register builds a runtime from an explicit list of discovered plugins.
func Register(discovered []plugin.DiscoveredPlugin, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		plugins: make(map[string]*registeredPlugin, len(discovered)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, d := range discovered {
		id := d.Manifest.ID
		if _, dup := r.plugins[id]; dup {
			return nil, oops.Code(CodeDiscovery).With("plugin_id", id).
				Errorf("duplicate plugin id in discovered set: %s", id)
		}

		policy, err := permission.FromManifestChecked(d.Manifest)
		if err != nil {
			return nil, oops.Code(CodeDiscovery).With("plugin_id", id).With("path", d.ManifestPath).
				Wrapf(err, "plugin %s failed compatibility/permission validation", id)
		}

		r.plugins[id] = &registeredPlugin{
			discovered: plugin.DiscoveredPlugin{Manifest: d.Manifest.Clone(), ManifestPath: d.ManifestPath},
			policy:     policy,
		}
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)

	r.logger.Debug("plugin registry built", "plugins", len(r.ids))
	return r, nil
}

// PluginIDs returns every registered plugin id, sorted.
func (r *Runtime) PluginIDs() []string {
	return append([]string(nil), r.ids...)
}

// Running reports whether id has a live session.
func (r *Runtime) Running(id string) bool {
	rp, ok := r.plugins[id]
	return ok && rp.session != nil
}

// RunningIDs returns the ids with live sessions, sorted.
func (r *Runtime) RunningIDs() []string {
	var ids []string
	for _, id := range r.ids {
		if r.plugins[id].session != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Manifest returns a copy of the registered manifest for id.
func (r *Runtime) Manifest(id string) (*plugin.Manifest, bool) {
	rp, ok := r.plugins[id]
	if !ok {
		return nil, false
	}
	return rp.discovered.Manifest.Clone(), true
}

// Policy returns the permission policy derived for id.
func (r *Runtime) Policy(id string) (*permission.Policy, bool) {
	rp, ok := r.plugins[id]
	if !ok {
		return nil, false
	}
	return rp.policy, true
}

func (r *Runtime) lookup(id string) (*registeredPlugin, error) {
	rp, ok := r.plugins[id]
	if !ok {
		return nil, oops.Code(CodeUnknown).With("plugin_id", id).Errorf("unknown plugin id: %s", id)
	}
	return rp, nil
}

// Start spawns the plugin and completes its handshake within timeout. On
// failure the child process is killed and nothing is registered.
func (r *Runtime) Start(ctx context.Context, id string, timeout time.Duration) (protocol.HandshakeResult, error) {
	rp, err := r.lookup(id)
	if err != nil {
		return protocol.HandshakeResult{}, err
	}
	if rp.session != nil {
		return protocol.HandshakeResult{}, oops.Code(CodeAlreadyRunning).With("plugin_id", id).
			Errorf("plugin is already running: %s", id)
	}

	s, err := spawnSession(rp.discovered.ManifestPath, rp.discovered.Manifest.Clone(), rp.policy, r.logger)
	if err != nil {
		r.metrics.RecordStartFailure(id)
		return protocol.HandshakeResult{}, err
	}

	result, err := s.completeHandshake(ctx, timeout)
	if err != nil {
		s.close()
		r.metrics.RecordStartFailure(id)
		return protocol.HandshakeResult{}, err
	}

	rp.session = s
	r.metrics.SetSessionsRunning(len(r.RunningIDs()))
	s.logger.Info("plugin started",
		"api_version", result.SelectedAPIVersion,
		"methods", len(result.HostCapabilities.Methods),
		"event_categories", len(result.HostCapabilities.EventCategories))
	return result, nil
}

// PumpNext services at most one pending request from id, waiting up to
// timeout for it. A session that ends with a process exit, protocol
// violation or pipe failure is removed before the error is returned.
func (r *Runtime) PumpNext(ctx context.Context, id string, bridge Bridge, timeout time.Duration) (HandledRequest, error) {
	rp, err := r.lookup(id)
	if err != nil {
		return HandledRequest{}, err
	}
	s := rp.session
	if s == nil {
		return HandledRequest{}, oops.Code(CodeNotRunning).With("plugin_id", id).Errorf("plugin is not running: %s", id)
	}

	req, err := s.nextRequest(ctx, timeout)
	if err != nil {
		r.dropIfFatal(rp, err)
		return HandledRequest{}, err
	}

	handled, err := s.handleRequest(ctx, req, bridge)
	r.metrics.RecordRequest(id, protocol.ParseMethod(req.Method).String(), handled.IsError || err != nil)
	s.logger.Debug("plugin request handled", "method", req.Method, "id", req.ID.String(), "is_error", handled.IsError)
	if err != nil {
		r.dropIfFatal(rp, err)
		return handled, err
	}
	return handled, nil
}

func (r *Runtime) dropIfFatal(rp *registeredPlugin, err error) {
	if !hasCode(err, CodeProcessExited) && !hasCode(err, CodeProtocol) && !hasCode(err, CodeIO) {
		return
	}
	r.drop(rp, err)
}

func (r *Runtime) drop(rp *registeredPlugin, reason error) {
	if rp.session == nil {
		return
	}
	rp.session.logger.Warn("plugin session ended", "error", reason)
	rp.session.close()
	rp.session = nil
	r.metrics.RecordSessionExit(rp.discovered.Manifest.ID)
	r.metrics.SetSessionsRunning(len(r.RunningIDs()))
}

// BroadcastEvent delivers one event notification to every running session
// subscribed to category and returns how many received it. Sessions whose
// process has exited are skipped and removed after the pass. Any other
// delivery error stops the pass at that session and is returned with the
// count delivered so far. A failed write does not wait for the child to be
// reaped, so a pass never blocks on a dying session.
func (r *Runtime) BroadcastEvent(category protocol.EventCategory, tag string, payload json.RawMessage) (int, error) {
	delivered := 0
	var exited []*registeredPlugin
	var exitErrs []error

	defer func() {
		for i, rp := range exited {
			r.drop(rp, exitErrs[i])
		}
		r.metrics.RecordEventsDelivered(string(category), delivered)
	}()

	for _, id := range r.ids {
		rp := r.plugins[id]
		if rp.session == nil {
			continue
		}

		ok, err := rp.session.dispatchEvent(category, tag, payload)
		switch {
		case err == nil:
			if ok {
				delivered++
			}
		case IsProcessExited(err):
			exited = append(exited, rp)
			exitErrs = append(exitErrs, err)
		default:
			return delivered, err
		}
	}
	return delivered, nil
}

// ShutdownPlugin stops id's session if one is running.
func (r *Runtime) ShutdownPlugin(id string) error {
	rp, err := r.lookup(id)
	if err != nil {
		return err
	}
	if rp.session == nil {
		return nil
	}
	rp.session.close()
	rp.session = nil
	r.metrics.SetSessionsRunning(len(r.RunningIDs()))
	r.logger.Info("plugin stopped", "plugin_id", id)
	return nil
}

// ShutdownAll stops every running session.
func (r *Runtime) ShutdownAll() {
	for _, id := range r.ids {
		if rp := r.plugins[id]; rp.session != nil {
			rp.session.close()
			rp.session = nil
		}
	}
	r.metrics.SetSessionsRunning(0)
}

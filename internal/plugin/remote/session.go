// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/spud-tui/spud/internal/plugin"
	"github.com/spud-tui/spud/internal/plugin/permission"
	"github.com/spud-tui/spud/internal/plugin/protocol"
)

const (
	// exitGrace bounds how long a closed pipe waits for the exit watcher to
	// reap the child before the failure is classified as plain I/O.
	exitGrace = 500 * time.Millisecond

	// teardownGrace bounds how long close waits for a killed child.
	teardownGrace = 2 * time.Second
)

// session owns one plugin child process, its pipes, its reader goroutine,
// and the handshake/subscription state machine.
type session struct {
	pluginID  string
	sessionID string
	manifest  *plugin.Manifest
	policy    *permission.Policy
	logger    *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writer *bufio.Writer
	stdout *os.File

	events chan readerEvent
	// streamEnded is set once the reader's terminal event was consumed.
	streamEnded bool

	done      chan struct{}
	exited    chan struct{}
	exitCode  int
	closeOnce sync.Once

	handshakeDone bool
	subscriptions map[protocol.EventCategory]struct{}
}

func spawnSession(manifestPath string, manifest *plugin.Manifest, policy *permission.Policy, logger *slog.Logger) (*session, error) {
	id := manifest.ID
	dir, err := filepath.Abs(filepath.Dir(manifestPath))
	if err != nil {
		return nil, oops.Code(CodeSpawn).With("plugin_id", id).With("path", manifestPath).
			Wrapf(err, "failed to resolve manifest directory")
	}

	entrypoint := manifest.Runtime.Entrypoint
	if !filepath.IsAbs(entrypoint) {
		entrypoint = filepath.Join(dir, entrypoint)
	}
	if _, err := os.Stat(entrypoint); err != nil {
		return nil, oops.Code(CodeSpawn).With("plugin_id", id).With("path", entrypoint).
			Errorf("plugin entrypoint does not exist: %s", entrypoint)
	}

	var cmd *exec.Cmd
	if manifest.Runtime.Command != "" {
		args := append(slices.Clone(manifest.Runtime.Args), entrypoint)
		cmd = exec.Command(manifest.Runtime.Command, args...) //nolint:gosec // command comes from an operator-installed manifest
	} else {
		cmd = exec.Command(entrypoint, manifest.Runtime.Args...) //nolint:gosec // entrypoint comes from an operator-installed manifest
	}
	cmd.Dir = dir
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, oops.Code(CodeSpawn).With("plugin_id", id).Wrapf(err, "failed to capture plugin %s stdin pipe", id)
	}

	// The session owns the read end so cmd.Wait never closes it underneath
	// the reader goroutine.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, oops.Code(CodeSpawn).With("plugin_id", id).Wrapf(err, "failed to capture plugin %s stdout pipe", id)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, oops.Code(CodeSpawn).With("plugin_id", id).With("path", entrypoint).
			Wrapf(err, "failed to spawn plugin %s process", id)
	}
	_ = stdoutW.Close()

	sessionID := ulid.Make().String()
	s := &session{
		pluginID:      id,
		sessionID:     sessionID,
		manifest:      manifest,
		policy:        policy,
		logger:        logger.With("plugin_id", id, "session_id", sessionID),
		cmd:           cmd,
		stdin:         stdin,
		writer:        bufio.NewWriter(stdin),
		stdout:        stdoutR,
		events:        make(chan readerEvent, readerQueueSize),
		done:          make(chan struct{}),
		exited:        make(chan struct{}),
		subscriptions: make(map[protocol.EventCategory]struct{}),
	}

	go s.watchExit()
	go readRequests(stdoutR, s.events, s.done)

	s.logger.Debug("plugin process spawned", "pid", cmd.Process.Pid, "entrypoint", entrypoint)
	return s, nil
}

func (s *session) watchExit() {
	_ = s.cmd.Wait()
	code := -1
	if s.cmd.ProcessState != nil {
		code = s.cmd.ProcessState.ExitCode()
	}
	s.exitCode = code
	close(s.exited)
}

// pollExit reports the exit code without blocking.
func (s *session) pollExit() (int, bool) {
	select {
	case <-s.exited:
		return s.exitCode, true
	default:
		return 0, false
	}
}

// awaitExit waits up to grace for the exit watcher.
func (s *session) awaitExit(grace time.Duration) (int, bool) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-s.exited:
		return s.exitCode, true
	case <-timer.C:
		return 0, false
	}
}

func (s *session) processExitedError(code int) error {
	return oops.Code(CodeProcessExited).With("plugin_id", s.pluginID).With("exit_code", code).
		Errorf("plugin process exited: %s (code=%d)", s.pluginID, code)
}

func (s *session) protocolError(format string, args ...any) error {
	return oops.Code(CodeProtocol).With("plugin_id", s.pluginID).Errorf(format, args...)
}

// completeHandshake reads the first request and runs the handshake turn.
func (s *session) completeHandshake(ctx context.Context, timeout time.Duration) (protocol.HandshakeResult, error) {
	req, err := s.nextRequest(ctx, timeout)
	if err != nil {
		return protocol.HandshakeResult{}, err
	}
	return s.acceptHandshake(req)
}

// acceptHandshake answers a handshake request. Every rejection is sent back
// to the plugin and returned as a protocol error.
func (s *session) acceptHandshake(req protocol.Request) (protocol.HandshakeResult, error) {
	reject := func(rpcErr *protocol.RPCError, format string, args ...any) (protocol.HandshakeResult, error) {
		if err := s.writeLine(protocol.NewErrorResponse(req.ID, rpcErr)); err != nil {
			return protocol.HandshakeResult{}, err
		}
		return protocol.HandshakeResult{}, s.protocolError(format, args...)
	}

	if req.JSONRPC != protocol.JSONRPCVersion {
		return reject(protocol.NewRPCError(protocol.CodeInvalidParams, "unsupported jsonrpc version: %s", req.JSONRPC),
			"plugin %s sent %s with unsupported jsonrpc version %s", s.pluginID, protocol.MethodNameHandshake, req.JSONRPC)
	}

	if protocol.ParseMethod(req.Method) != protocol.MethodHandshake {
		return reject(protocol.NewRPCError(protocol.CodeInvalidParams,
			"first plugin request must be %s, got %s", protocol.MethodNameHandshake, req.Method),
			"plugin %s did not start with %s", s.pluginID, protocol.MethodNameHandshake)
	}

	var params protocol.HandshakeParams
	if rpcErr := protocol.DecodeParams(req, &params); rpcErr != nil {
		return reject(rpcErr, "invalid handshake params from plugin %s", s.pluginID)
	}

	if params.PluginID != s.manifest.ID {
		return reject(protocol.NewRPCError(protocol.CodeInvalidParams,
			"handshake plugin_id mismatch: manifest=%s request=%s", s.manifest.ID, params.PluginID),
			"handshake plugin_id mismatch for %s", s.pluginID)
	}
	if params.PluginVersion != s.manifest.Version {
		return reject(protocol.NewRPCError(protocol.CodeInvalidParams,
			"handshake plugin_version mismatch: manifest=%s request=%s", s.manifest.Version, params.PluginVersion),
			"handshake plugin_version mismatch for %s", s.pluginID)
	}

	result, err := protocol.BuildHandshakeResult(params)
	if err != nil {
		rpcErr := protocol.NewRPCError(protocol.CodePluginUnavailable, "%v", err)
		var hsErr *protocol.HandshakeError
		if errors.As(err, &hsErr) {
			rpcErr = hsErr.RPCError()
		}
		return reject(rpcErr, "handshake negotiation failed for plugin %s: %v", s.pluginID, err)
	}

	resp, err := protocol.NewResultResponse(req.ID, result)
	if err != nil {
		return protocol.HandshakeResult{}, s.protocolError("%v", err)
	}
	if err := s.writeLine(resp); err != nil {
		return protocol.HandshakeResult{}, err
	}
	s.handshakeDone = true
	return result, nil
}

// nextRequest waits up to timeout for the reader to deliver a request. A
// timeout is only reported once the child is confirmed to still be running.
func (s *session) nextRequest(ctx context.Context, timeout time.Duration) (protocol.Request, error) {
	if s.streamEnded {
		return protocol.Request{}, s.streamEndedError()
	}

	select {
	case ev := <-s.events:
		return s.fromReaderEvent(ev)
	default:
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case ev := <-s.events:
			return s.fromReaderEvent(ev)
		case <-ctx.Done():
			return protocol.Request{}, oops.With("plugin_id", s.pluginID).Wrap(ctx.Err())
		case <-timer.C:
		}
	}

	if code, ok := s.pollExit(); ok {
		return protocol.Request{}, s.processExitedError(code)
	}
	return protocol.Request{}, oops.Code(CodeTimeout).With("plugin_id", s.pluginID).With("timeout_ms", timeout.Milliseconds()).
		Errorf("timed out waiting for plugin %s request after %dms", s.pluginID, timeout.Milliseconds())
}

func (s *session) fromReaderEvent(ev readerEvent) (protocol.Request, error) {
	switch ev.kind {
	case readerRequest:
		return ev.req, nil
	case readerProtocolError:
		s.streamEnded = true
		return protocol.Request{}, oops.Code(CodeProtocol).With("plugin_id", s.pluginID).
			Wrapf(ev.err, "plugin %s protocol error", s.pluginID)
	case readerIOError:
		s.streamEnded = true
		return protocol.Request{}, oops.Code(CodeIO).With("plugin_id", s.pluginID).
			Wrapf(ev.err, "plugin %s stdout read error", s.pluginID)
	default:
		s.streamEnded = true
		return protocol.Request{}, s.streamEndedError()
	}
}

// streamEndedError waits up to exitGrace so a child that closed stdout on
// its way out is reported as exited.
func (s *session) streamEndedError() error {
	if code, ok := s.awaitExit(exitGrace); ok {
		return s.processExitedError(code)
	}
	return oops.Code(CodeIO).With("plugin_id", s.pluginID).
		Errorf("plugin %s request stream ended unexpectedly", s.pluginID)
}

// handleRequest answers exactly one request. Only transport failures are
// returned as errors; everything else becomes an error response.
func (s *session) handleRequest(ctx context.Context, req protocol.Request, bridge Bridge) (HandledRequest, error) {
	handled := HandledRequest{PluginID: s.pluginID, Method: req.Method}

	respondError := func(rpcErr *protocol.RPCError) (HandledRequest, error) {
		handled.IsError = true
		return handled, s.writeLine(protocol.NewErrorResponse(req.ID, rpcErr))
	}
	respondResult := func(result any) (HandledRequest, error) {
		resp, err := protocol.NewResultResponse(req.ID, result)
		if err != nil {
			return handled, s.protocolError("%v", err)
		}
		return handled, s.writeLine(resp)
	}

	if req.JSONRPC != protocol.JSONRPCVersion {
		return respondError(protocol.NewRPCError(protocol.CodeInvalidParams, "unsupported jsonrpc version: %s", req.JSONRPC))
	}

	method := protocol.ParseMethod(req.Method)
	if !s.handshakeDone && method != protocol.MethodHandshake {
		return respondError(protocol.NewRPCError(protocol.CodePluginUnavailable,
			"plugin %s must complete %s first", s.pluginID, protocol.MethodNameHandshake))
	}

	switch method {
	case protocol.MethodHandshake:
		if s.handshakeDone {
			return respondError(protocol.NewRPCError(protocol.CodeInvalidParams, "%s already completed", protocol.MethodNameHandshake))
		}
		_, err := s.acceptHandshake(req)
		handled.IsError = err != nil
		return handled, err

	case protocol.MethodGetSnapshot:
		var params protocol.GetSnapshotParams
		if rpcErr := protocol.DecodeParams(req, &params); rpcErr != nil {
			return respondError(rpcErr)
		}
		snapshot, err := bridge.StateSnapshot(ctx)
		if err != nil {
			return respondError(hostUnavailable(err))
		}
		if snapshot.Telemetry == nil {
			snapshot.Telemetry = []protocol.TelemetryDatum{}
		}
		return respondResult(snapshot)

	case protocol.MethodSubscribe, protocol.MethodUnsubscribe:
		var params protocol.SubscribeParams
		if rpcErr := protocol.DecodeParams(req, &params); rpcErr != nil {
			return respondError(rpcErr)
		}
		authorized, err := s.policy.AuthorizeSubscriptions(params.Categories)
		if err != nil {
			return respondError(authorizationError(err))
		}
		for _, c := range authorized {
			if method == protocol.MethodSubscribe {
				s.subscriptions[c] = struct{}{}
			} else {
				delete(s.subscriptions, c)
			}
		}
		return respondResult(protocol.SubscriptionResult{Subscribed: s.currentSubscriptions()})

	case protocol.MethodInvokeCommand:
		var params protocol.InvokeCommandParams
		if rpcErr := protocol.DecodeParams(req, &params); rpcErr != nil {
			return respondError(rpcErr)
		}
		if err := s.policy.AuthorizeInvokeCommand(params.Command); err != nil {
			return respondError(authorizationError(err))
		}
		result, err := bridge.InvokeCommand(ctx, params)
		if err != nil {
			return respondError(hostUnavailable(err))
		}
		if result.Lines == nil {
			result.Lines = []string{}
		}
		return respondResult(result)

	case protocol.MethodPublishEvent:
		var params protocol.PublishEventParams
		if rpcErr := protocol.DecodeParams(req, &params); rpcErr != nil {
			return respondError(rpcErr)
		}
		if err := s.policy.AuthorizePublishEvent(params.Tag); err != nil {
			return respondError(authorizationError(err))
		}
		result, err := bridge.PublishEvent(ctx, params)
		if err != nil {
			return respondError(hostUnavailable(err))
		}
		return respondResult(result)

	default:
		return respondError(protocol.NewRPCError(protocol.CodeInvalidParams, "unsupported method: %s", req.Method))
	}
}

// dispatchEvent writes an event notification if the session is subscribed
// to category. It reports whether the notification was written.
func (s *session) dispatchEvent(category protocol.EventCategory, tag string, payload json.RawMessage) (bool, error) {
	if !s.handshakeDone {
		return false, nil
	}
	if _, ok := s.subscriptions[category]; !ok {
		return false, nil
	}

	n, err := protocol.NewNotification(protocol.MethodNameEventsEmit, protocol.EventNotificationParams{
		Category: category,
		Tag:      tag,
		Payload:  payload,
	})
	if err != nil {
		return false, s.protocolError("failed to encode event payload: %v", err)
	}
	if err := s.writeLine(n); err != nil {
		return false, err
	}
	return true, nil
}

func (s *session) currentSubscriptions() []protocol.EventCategory {
	subs := make([]protocol.EventCategory, 0, len(s.subscriptions))
	for c := range s.subscriptions {
		subs = append(subs, c)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i] < subs[j] })
	return subs
}

// writeLine encodes v as one line on the child's stdin and flushes it.
func (s *session) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return s.protocolError("failed to encode JSON-RPC payload: %v", err)
	}
	data = append(data, '\n')

	if _, err := s.writer.Write(data); err != nil {
		return s.writeFailure(err)
	}
	if err := s.writer.Flush(); err != nil {
		return s.writeFailure(err)
	}
	return nil
}

// writeFailure classifies a stdin write error without waiting on the exit
// watcher. A child that has not been reaped yet reports CodeIO.
func (s *session) writeFailure(err error) error {
	if code, ok := s.pollExit(); ok {
		return s.processExitedError(code)
	}
	return oops.Code(CodeIO).With("plugin_id", s.pluginID).Wrapf(err, "plugin %s stdio error", s.pluginID)
}

// close tears the session down. It is safe to call more than once.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)

		if _, ok := s.pollExit(); !ok {
			_ = s.cmd.Process.Kill()
		}
		_ = s.stdin.Close()

		if _, ok := s.awaitExit(teardownGrace); !ok {
			s.logger.Warn("plugin process did not exit after kill")
		}
		_ = s.stdout.Close()
		s.logger.Debug("plugin session closed")
	})
}

func hostUnavailable(err error) *protocol.RPCError {
	return protocol.NewRPCError(protocol.CodePluginUnavailable, "host operation failed: %v", err)
}

func authorizationError(err error) *protocol.RPCError {
	var authErr *permission.AuthorizationError
	if errors.As(err, &authErr) {
		return authErr.RPCError()
	}
	return protocol.NewRPCError(protocol.CodeUnauthorized, "%v", err)
}

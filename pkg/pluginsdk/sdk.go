// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

// Package pluginsdk is the plugin side of the SPUD host protocol.
//
// A plugin is any program the host launches with a plugin.toml manifest. It
// speaks newline-delimited JSON-RPC 2.0 over stdin/stdout: requests go out
// on stdout, responses and event notifications come back on stdin. Logs
// must go to stderr.
//
// Example usage:
//
//	package main
//
//	import (
//		"os"
//
//		"github.com/spud-tui/spud/internal/plugin/protocol"
//		"github.com/spud-tui/spud/pkg/pluginsdk"
//	)
//
//	func main() {
//		client, err := pluginsdk.Connect(os.Stdin, os.Stdout, pluginsdk.Config{
//			ID:      "spud.hello",
//			Version: "0.1.0",
//		})
//		if err != nil {
//			os.Exit(1)
//		}
//		client.Subscribe(protocol.CategoryTick)
//		for {
//			ev, err := client.NextEvent()
//			if err != nil {
//				return
//			}
//			_ = ev // react to the tick
//		}
//	}
package pluginsdk

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/samber/oops"
	"github.com/tidwall/gjson"

	"github.com/spud-tui/spud/internal/plugin/protocol"
)

// Error codes for failures on the plugin side of the pipe.
const (
	CodeTransport = "PLUGINSDK_TRANSPORT"
	CodeProtocol  = "PLUGINSDK_PROTOCOL"
)

// DefaultSupportedAPIVersions is the range sent when Config leaves it empty.
const DefaultSupportedAPIVersions = "^1.0.0"

// Config identifies the plugin in its handshake. ID and Version must match
// the plugin's manifest exactly.
type Config struct {
	ID                    string
	Version               string
	SupportedAPIVersions  string
	RequestedCapabilities []string
}

// Client is a connected plugin. It is safe for concurrent use, but calls are
// serialized: the protocol allows one request in flight.
type Client struct {
	mu     sync.Mutex
	in     *bufio.Reader
	out    io.Writer
	nextID int64
	queued []protocol.EventNotificationParams

	handshake protocol.HandshakeResult
}

// Connect performs the handshake over r and w.
func Connect(r io.Reader, w io.Writer, cfg Config) (*Client, error) {
	if cfg.SupportedAPIVersions == "" {
		cfg.SupportedAPIVersions = DefaultSupportedAPIVersions
	}
	if cfg.RequestedCapabilities == nil {
		cfg.RequestedCapabilities = []string{}
	}

	c := &Client{in: bufio.NewReader(r), out: w}
	err := c.Call(protocol.MethodNameHandshake, protocol.HandshakeParams{
		PluginID:              cfg.ID,
		PluginVersion:         cfg.Version,
		SupportedAPIVersions:  cfg.SupportedAPIVersions,
		RequestedCapabilities: cfg.RequestedCapabilities,
	}, &c.handshake)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Handshake returns the host's handshake answer.
func (c *Client) Handshake() protocol.HandshakeResult {
	return c.handshake
}

// Call sends one request and waits for its response, queueing any event
// notifications that arrive first. A host error response is returned as
// *protocol.RPCError.
func (c *Client) Call(method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := protocol.NumberID(c.nextID)

	raw, err := json.Marshal(params)
	if err != nil {
		return oops.Code(CodeProtocol).With("method", method).Wrapf(err, "failed to encode %s params", method)
	}
	if err := c.writeLine(protocol.Request{JSONRPC: protocol.JSONRPCVersion, ID: id, Method: method, Params: raw}); err != nil {
		return err
	}

	for {
		line, err := c.readLine()
		if err != nil {
			return err
		}
		if gjson.GetBytes(line, "method").Exists() {
			if err := c.queueNotification(line); err != nil {
				return err
			}
			continue
		}

		var resp protocol.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return oops.Code(CodeProtocol).With("method", method).Wrapf(err, "invalid response line: %s", line)
		}
		if resp.ID != id {
			return oops.Code(CodeProtocol).With("method", method).
				Errorf("response id %s does not match request id %s", resp.ID.String(), id.String())
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return oops.Code(CodeProtocol).With("method", method).Wrapf(err, "failed to decode %s result", method)
		}
		return nil
	}
}

// NextEvent returns the next event notification, blocking until one
// arrives. io.EOF means the host closed the pipe.
func (c *Client) NextEvent() (protocol.EventNotificationParams, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.queued) == 0 {
		line, err := c.readLine()
		if err != nil {
			return protocol.EventNotificationParams{}, err
		}
		if !gjson.GetBytes(line, "method").Exists() {
			return protocol.EventNotificationParams{}, oops.Code(CodeProtocol).
				Errorf("unexpected response while waiting for an event: %s", line)
		}
		if err := c.queueNotification(line); err != nil {
			return protocol.EventNotificationParams{}, err
		}
	}

	ev := c.queued[0]
	c.queued = c.queued[1:]
	return ev, nil
}

// StateSnapshot fetches the host state.
func (c *Client) StateSnapshot() (protocol.StateSnapshot, error) {
	var snap protocol.StateSnapshot
	err := c.Call(protocol.MethodNameGetSnapshot, protocol.GetSnapshotParams{}, &snap)
	return snap, err
}

// Subscribe adds categories and returns the full subscription set.
func (c *Client) Subscribe(categories ...protocol.EventCategory) ([]protocol.EventCategory, error) {
	return c.subscription(protocol.MethodNameSubscribe, categories)
}

// Unsubscribe removes categories and returns the remaining subscriptions.
func (c *Client) Unsubscribe(categories ...protocol.EventCategory) ([]protocol.EventCategory, error) {
	return c.subscription(protocol.MethodNameUnsubscribe, categories)
}

func (c *Client) subscription(method string, categories []protocol.EventCategory) ([]protocol.EventCategory, error) {
	if categories == nil {
		categories = []protocol.EventCategory{}
	}
	var res protocol.SubscriptionResult
	if err := c.Call(method, protocol.SubscribeParams{Categories: categories}, &res); err != nil {
		return nil, err
	}
	return res.Subscribed, nil
}

// InvokeCommand runs a host console command and returns its output lines.
func (c *Client) InvokeCommand(command string, args ...string) ([]string, error) {
	if args == nil {
		args = []string{}
	}
	var res protocol.InvokeCommandResult
	if err := c.Call(protocol.MethodNameInvokeCommand, protocol.InvokeCommandParams{Command: command, Args: args}, &res); err != nil {
		return nil, err
	}
	return res.Lines, nil
}

// PublishEvent publishes a tagged custom event to the host.
func (c *Client) PublishEvent(tag, payload string) (bool, error) {
	var res protocol.PublishEventResult
	if err := c.Call(protocol.MethodNamePublishEvent, protocol.PublishEventParams{Tag: tag, Payload: payload}, &res); err != nil {
		return false, err
	}
	return res.Accepted, nil
}

func (c *Client) queueNotification(line []byte) error {
	var n struct {
		Method string                           `json:"method"`
		Params protocol.EventNotificationParams `json:"params"`
	}
	if err := json.Unmarshal(line, &n); err != nil {
		return oops.Code(CodeProtocol).Wrapf(err, "invalid notification line: %s", line)
	}
	if n.Method != protocol.MethodNameEventsEmit {
		return oops.Code(CodeProtocol).With("method", n.Method).Errorf("unexpected host notification %s", n.Method)
	}
	c.queued = append(c.queued, n.Params)
	return nil
}

func (c *Client) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return oops.Code(CodeProtocol).Wrapf(err, "failed to encode line")
	}
	if _, err := c.out.Write(append(data, '\n')); err != nil {
		return oops.Code(CodeTransport).Wrapf(err, "failed to write to host")
	}
	return nil
}

// readLine returns the next non-blank line. A clean end of input is io.EOF.
func (c *Client) readLine() ([]byte, error) {
	for {
		line, err := c.in.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			return trimmed, nil
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, oops.Code(CodeTransport).Wrapf(err, "failed to read from host")
		}
	}
}

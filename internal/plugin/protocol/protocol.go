// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

// Package protocol defines the line-delimited JSON-RPC contract spoken
// between the host and out-of-process plugins: envelopes, method names,
// error codes, payload types, and handshake negotiation.
package protocol

// JSONRPCVersion is the protocol tag carried by every envelope.
const JSONRPCVersion = "2.0"

// HostAPIVersion is the host API version offered during spud.handshake.
const HostAPIVersion = "1.0.0"

// OpenRPCVersion is the expected version of the embedded contract document.
const OpenRPCVersion = "1.3.2"

// Wire method names.
const (
	MethodNameHandshake     = "spud.handshake"
	MethodNameGetSnapshot   = "spud.state.get_snapshot"
	MethodNameSubscribe     = "spud.events.subscribe"
	MethodNameUnsubscribe   = "spud.events.unsubscribe"
	MethodNameInvokeCommand = "spud.host.invoke_command"
	MethodNamePublishEvent  = "spud.host.publish_event"

	// MethodNameEventsEmit is the host-to-plugin event notification.
	MethodNameEventsEmit = "spud.events.emit"
)

// RequiredMethods lists the methods the embedded contract must declare.
var RequiredMethods = []string{
	MethodNameHandshake,
	MethodNameGetSnapshot,
	MethodNameSubscribe,
	MethodNameUnsubscribe,
	MethodNameInvokeCommand,
	MethodNamePublishEvent,
}

// Host error codes returned in response envelopes.
const (
	CodeInvalidParams         = -32602
	CodeUnsupportedAPIVersion = -32001
	CodeUnauthorized          = -32002
	CodePluginUnavailable     = -32003
)

// Method is the closed set of requests a plugin may send.
type Method int

// Known methods. MethodUnsupported covers every name outside the contract.
const (
	MethodUnsupported Method = iota
	MethodHandshake
	MethodGetSnapshot
	MethodSubscribe
	MethodUnsubscribe
	MethodInvokeCommand
	MethodPublishEvent
)

// ParseMethod maps a wire method name onto a Method.
func ParseMethod(name string) Method {
	switch name {
	case MethodNameHandshake:
		return MethodHandshake
	case MethodNameGetSnapshot:
		return MethodGetSnapshot
	case MethodNameSubscribe:
		return MethodSubscribe
	case MethodNameUnsubscribe:
		return MethodUnsubscribe
	case MethodNameInvokeCommand:
		return MethodInvokeCommand
	case MethodNamePublishEvent:
		return MethodPublishEvent
	default:
		return MethodUnsupported
	}
}

// String returns the wire name, or "unsupported".
func (m Method) String() string {
	switch m {
	case MethodHandshake:
		return MethodNameHandshake
	case MethodGetSnapshot:
		return MethodNameGetSnapshot
	case MethodSubscribe:
		return MethodNameSubscribe
	case MethodUnsubscribe:
		return MethodNameUnsubscribe
	case MethodInvokeCommand:
		return MethodNameInvokeCommand
	case MethodPublishEvent:
		return MethodNamePublishEvent
	default:
		return "unsupported"
	}
}

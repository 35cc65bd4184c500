// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestValidateContract_Embedded(t *testing.T) {
	require.NoError(t, ValidateContract())
}

func TestValidateContract_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "not json",
			doc:     `{"openrpc":`,
			wantErr: "failed to parse embedded OpenRPC document",
		},
		{
			name:    "wrong version",
			doc:     `{"openrpc":"1.2.6","methods":[]}`,
			wantErr: "does not match expected 1.3.2",
		},
		{
			name: "missing method",
			doc: `{"openrpc":"1.3.2","methods":[
				{"name":"spud.handshake"},{"name":"spud.state.get_snapshot"},
				{"name":"spud.events.subscribe"},{"name":"spud.events.unsubscribe"},
				{"name":"spud.host.invoke_command"}]}`,
			wantErr: "method set mismatch",
		},
		{
			name: "extra method",
			doc: `{"openrpc":"1.3.2","methods":[
				{"name":"spud.handshake"},{"name":"spud.state.get_snapshot"},
				{"name":"spud.events.subscribe"},{"name":"spud.events.unsubscribe"},
				{"name":"spud.host.invoke_command"},{"name":"spud.host.publish_event"},
				{"name":"spud.host.shutdown"}]}`,
			wantErr: "method set mismatch",
		},
		{
			name:    "no methods",
			doc:     `{"openrpc":"1.3.2"}`,
			wantErr: "no methods array",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateContract([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHostCapabilities_ReadsMethodsFromContract(t *testing.T) {
	caps, err := HostCapabilities()
	require.NoError(t, err)

	assert.ElementsMatch(t, RequiredMethods, caps.Methods)
	assert.Equal(t, AllCategories(), caps.EventCategories)
}

func TestNegotiateAPIVersion(t *testing.T) {
	selected, err := NegotiateAPIVersion("^1.0")
	require.NoError(t, err)
	assert.Equal(t, HostAPIVersion, selected)

	_, err = NegotiateAPIVersion("^2.0")
	require.Error(t, err)
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, HandshakeUnsupportedAPIVersion, hsErr.Kind)
	assert.Equal(t, "1.0.0", hsErr.Host)
	assert.Equal(t, "^2.0", hsErr.Requirement)
	assert.Equal(t, CodeUnsupportedAPIVersion, hsErr.Code())
	assert.Equal(t, "host API version 1.0.0 is not compatible with plugin requirement ^2.0", hsErr.Error())
}

func TestNegotiateAPIVersion_InvalidRequirement(t *testing.T) {
	_, err := NegotiateAPIVersion("definitely not semver")
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, HandshakeInvalidVersionRequirement, hsErr.Kind)
	assert.Equal(t, CodeInvalidParams, hsErr.RPCError().Code)
}

func TestNegotiate_InvalidHostVersion(t *testing.T) {
	_, err := negotiate("^1.0", "1.0")
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, HandshakeHostAPIVersionInvalid, hsErr.Kind)
	assert.Equal(t, CodePluginUnavailable, hsErr.Code())
}

func TestBuildHandshakeResult_NoFilter(t *testing.T) {
	result, err := BuildHandshakeResult(HandshakeParams{
		PluginID:             "spud.test",
		PluginVersion:        "0.1.0",
		SupportedAPIVersions: "^1.0.0",
	})
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", result.SelectedAPIVersion)
	assert.Len(t, result.HostCapabilities.Methods, len(RequiredMethods))
	assert.Len(t, result.HostCapabilities.EventCategories, 5)
}

func TestBuildHandshakeResult_FiltersBothAxes(t *testing.T) {
	result, err := BuildHandshakeResult(HandshakeParams{
		PluginID:              "spud.test",
		PluginVersion:         "0.1.0",
		SupportedAPIVersions:  "^1.0.0",
		RequestedCapabilities: []string{"spud.handshake", "tick", "bogus"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"spud.handshake"}, result.HostCapabilities.Methods)
	assert.Equal(t, []EventCategory{CategoryTick}, result.HostCapabilities.EventCategories)
}

func TestBuildHandshakeResult_OnlyCategoriesKeepsEmptyMethods(t *testing.T) {
	result, err := BuildHandshakeResult(HandshakeParams{
		PluginID:              "spud.test",
		PluginVersion:         "0.1.0",
		SupportedAPIVersions:  "^1.0.0",
		RequestedCapabilities: []string{"resize"},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Equal(t, `[]`, gjson.GetBytes(raw, "host_capabilities.methods").Raw)
	assert.Equal(t, `["resize"]`, gjson.GetBytes(raw, "host_capabilities.event_categories").Raw)
}

func TestBuildHandshakeResult_NothingSupported(t *testing.T) {
	_, err := BuildHandshakeResult(HandshakeParams{
		PluginID:              "spud.test",
		PluginVersion:         "0.1.0",
		SupportedAPIVersions:  "^1.0.0",
		RequestedCapabilities: []string{"bogus", "alpha", "bogus"},
	})
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, HandshakeUnsupportedRequestedCapabilities, hsErr.Kind)
	assert.Equal(t, []string{"alpha", "bogus"}, hsErr.Requested)
	assert.Equal(t, CodeInvalidParams, hsErr.Code())
	assert.Equal(t, "requested_capabilities contains no supported entries: alpha, bogus", hsErr.Error())
}

func TestBuildHandshakeResult_NegotiationFailsFirst(t *testing.T) {
	_, err := BuildHandshakeResult(HandshakeParams{
		PluginID:              "spud.test",
		PluginVersion:         "0.1.0",
		SupportedAPIVersions:  "^3",
		RequestedCapabilities: []string{"bogus"},
	})
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, HandshakeUnsupportedAPIVersion, hsErr.Kind)
}

func TestParseMethod(t *testing.T) {
	for _, name := range RequiredMethods {
		m := ParseMethod(name)
		assert.NotEqual(t, MethodUnsupported, m, name)
		assert.Equal(t, name, m.String())
	}

	assert.Equal(t, MethodUnsupported, ParseMethod("spud.events.emit"))
	assert.Equal(t, MethodUnsupported, ParseMethod("SPUD.HANDSHAKE"))
	assert.Equal(t, "unsupported", MethodUnsupported.String())
}

func TestDecodeRequest_IDVariants(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		wantID string
		isNull bool
	}{
		{name: "string id", line: `{"jsonrpc":"2.0","id":"abc","method":"m"}`, wantID: `"abc"`},
		{name: "number id", line: `{"jsonrpc":"2.0","id":42,"method":"m"}`, wantID: `42`},
		{name: "negative id", line: `{"jsonrpc":"2.0","id":-7,"method":"m"}`, wantID: `-7`},
		{name: "null id", line: `{"jsonrpc":"2.0","id":null,"method":"m"}`, wantID: `null`, isNull: true},
		{name: "absent id", line: `{"jsonrpc":"2.0","method":"m"}`, wantID: `null`, isNull: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.isNull, req.ID.IsNull())

			resp := NewErrorResponse(req.ID, NewRPCError(CodeInvalidParams, "nope"))
			raw, err := json.Marshal(resp)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, gjson.GetBytes(raw, "id").Raw)
		})
	}
}

func TestDecodeRequest_Rejects(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "not json", line: `hello`},
		{name: "array", line: `[1,2]`},
		{name: "null", line: `null`},
		{name: "missing jsonrpc", line: `{"id":1,"method":"m"}`},
		{name: "numeric jsonrpc", line: `{"jsonrpc":2,"id":1,"method":"m"}`},
		{name: "missing method", line: `{"jsonrpc":"2.0","id":1}`},
		{name: "empty method", line: `{"jsonrpc":"2.0","id":1,"method":""}`},
		{name: "fractional id", line: `{"jsonrpc":"2.0","id":1.5,"method":"m"}`},
		{name: "object id", line: `{"jsonrpc":"2.0","id":{},"method":"m"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(tt.line))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid JSON-RPC request")
		})
	}
}

func TestDecodeRequest_KeepsWrongVersionTag(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"jsonrpc":"1.0","id":1,"method":"spud.handshake"}`))
	require.NoError(t, err)
	assert.Equal(t, "1.0", req.JSONRPC)
}

func TestDecodeParams(t *testing.T) {
	t.Run("unknown category", func(t *testing.T) {
		req := Request{Method: MethodNameSubscribe, Params: json.RawMessage(`{"categories":["tick","weather"]}`)}
		var p SubscribeParams
		rpcErr := DecodeParams(req, &p)
		require.NotNil(t, rpcErr)
		assert.Equal(t, CodeInvalidParams, rpcErr.Code)
		assert.Contains(t, rpcErr.Message, "invalid params for spud.events.subscribe")
		assert.Contains(t, rpcErr.Message, "weather")
	})

	t.Run("missing categories", func(t *testing.T) {
		req := Request{Method: MethodNameSubscribe}
		var p SubscribeParams
		rpcErr := DecodeParams(req, &p)
		require.NotNil(t, rpcErr)
		assert.Contains(t, rpcErr.Message, "missing field categories")
	})

	t.Run("args default empty", func(t *testing.T) {
		req := Request{Method: MethodNameInvokeCommand, Params: json.RawMessage(`{"command":"help"}`)}
		var p InvokeCommandParams
		require.Nil(t, DecodeParams(req, &p))
		assert.Equal(t, "help", p.Command)
		assert.Equal(t, []string{}, p.Args)
	})

	t.Run("snapshot accepts absent params", func(t *testing.T) {
		req := Request{Method: MethodNameGetSnapshot}
		var p GetSnapshotParams
		assert.Nil(t, DecodeParams(req, &p))
	})

	t.Run("handshake requires plugin id", func(t *testing.T) {
		req := Request{Method: MethodNameHandshake, Params: json.RawMessage(`{"plugin_version":"0.1.0","supported_api_versions":"^1"}`)}
		var p HandshakeParams
		rpcErr := DecodeParams(req, &p)
		require.NotNil(t, rpcErr)
		assert.Contains(t, rpcErr.Message, "missing field plugin_id")
	})
}

func TestNewNotification_HasNoID(t *testing.T) {
	n, err := NewNotification(MethodNameEventsEmit, EventNotificationParams{
		Category: CategoryTick,
		Payload:  json.RawMessage(`{"uptime_seconds":3}`),
	})
	require.NoError(t, err)

	raw, err := json.Marshal(n)
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(raw, "id").Exists())
	assert.Equal(t, "2.0", gjson.GetBytes(raw, "jsonrpc").String())
	assert.Equal(t, "tick", gjson.GetBytes(raw, "params.category").String())
	assert.False(t, gjson.GetBytes(raw, "params.tag").Exists())
	assert.Equal(t, int64(3), gjson.GetBytes(raw, "params.payload.uptime_seconds").Int())
}

func TestNewResultResponse_OmitsError(t *testing.T) {
	resp, err := NewResultResponse(NumberID(1), PublishEventResult{Accepted: true})
	require.NoError(t, err)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(raw, "error").Exists())
	assert.True(t, gjson.GetBytes(raw, "result.accepted").Bool())
}

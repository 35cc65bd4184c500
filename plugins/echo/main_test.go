// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/spud-tui/spud/internal/plugin/protocol"
)

func emit(t *testing.T, w io.Writer, category protocol.EventCategory, tag, payload string) {
	t.Helper()
	n, err := protocol.NewNotification(protocol.MethodNameEventsEmit, protocol.EventNotificationParams{
		Category: category,
		Tag:      tag,
		Payload:  json.RawMessage(payload),
	})
	require.NoError(t, err)
	data, err := json.Marshal(n)
	require.NoError(t, err)
	_, err = w.Write(append(data, '\n'))
	require.NoError(t, err)
}

func respond(t *testing.T, w io.Writer, req gjson.Result, result string) {
	t.Helper()
	_, err := io.WriteString(w, `{"jsonrpc":"2.0","id":`+req.Get("id").Raw+`,"result":`+result+"}\n")
	require.NoError(t, err)
}

func TestRun_EchoesCustomEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	pluginIn, hostOut := io.Pipe()
	hostIn, pluginOut := io.Pipe()
	requests := bufio.NewScanner(hostIn)
	next := func() gjson.Result {
		require.True(t, requests.Scan())
		return gjson.Parse(requests.Text())
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	done := make(chan error, 1)
	go func() { done <- run(pluginIn, pluginOut, logger) }()

	req := next()
	assert.Equal(t, protocol.MethodNameHandshake, req.Get("method").String())
	assert.Equal(t, pluginID, req.Get("params.plugin_id").String())
	respond(t, hostOut, req, `{"selected_api_version":"1.0.0","host_capabilities":{"methods":[],"event_categories":[]}}`)

	req = next()
	assert.Equal(t, protocol.MethodNameSubscribe, req.Get("method").String())
	assert.JSONEq(t, `["tick","custom"]`, req.Get("params.categories").Raw)
	respond(t, hostOut, req, `{"subscribed":["tick","custom"]}`)

	emit(t, hostOut, protocol.CategoryCustom, replyTag, `"ignored"`)
	emit(t, hostOut, protocol.CategoryCustom, "greet", `"hello"`)

	req = next()
	assert.Equal(t, protocol.MethodNamePublishEvent, req.Get("method").String())
	assert.JSONEq(t, `{"tag":"echo.reply","payload":"hello"}`, req.Get("params").Raw, "own replies are not echoed")
	respond(t, hostOut, req, `{"accepted":true}`)

	for i := 0; i < statusEvery; i++ {
		emit(t, hostOut, protocol.CategoryTick, "", `{"uptime_seconds":1}`)
	}
	req = next()
	assert.Equal(t, protocol.MethodNameInvokeCommand, req.Get("method").String())
	assert.Equal(t, "status", req.Get("params.command").String())
	respond(t, hostOut, req, `{"lines":["status: ok"]}`)

	require.NoError(t, hostOut.Close())
	require.NoError(t, <-done)
	require.NoError(t, hostIn.Close())

	assert.Contains(t, logs.String(), "status: ok")
	assert.Contains(t, logs.String(), "host closed the pipe")
}

func TestPayloadText(t *testing.T) {
	assert.Equal(t, "hi", payloadText(json.RawMessage(`"hi"`)))
	assert.Equal(t, `{"a":1}`, payloadText(json.RawMessage(`{"a":1}`)))
}

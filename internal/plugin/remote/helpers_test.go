// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/spud-tui/spud/internal/plugin"
	"github.com/spud-tui/spud/internal/plugin/protocol"
)

const (
	startTimeout = 2 * time.Second
	pumpTimeout  = 2 * time.Second
)

// mockBridge is a mock for Bridge.
type mockBridge struct {
	mock.Mock
}

func (m *mockBridge) StateSnapshot(ctx context.Context) (protocol.StateSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(protocol.StateSnapshot), args.Error(1)
}

func (m *mockBridge) InvokeCommand(ctx context.Context, params protocol.InvokeCommandParams) (protocol.InvokeCommandResult, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(protocol.InvokeCommandResult), args.Error(1)
}

func (m *mockBridge) PublishEvent(ctx context.Context, params protocol.PublishEventParams) (protocol.PublishEventResult, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(protocol.PublishEventResult), args.Error(1)
}

// fixture describes a /bin/sh plugin written to a temp directory.
type fixture struct {
	id            string
	version       string
	hostAPI       string
	commands      []string
	eventTags     []string
	subscriptions []string
	// body is the shell script after the TRANSCRIPT assignment.
	body string
}

func tomlArray(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// writeFixture writes plugin.toml and plugin.sh under root/<id> and returns
// the transcript path the script appends host replies to.
func writeFixture(t *testing.T, root string, f fixture) string {
	t.Helper()
	if f.version == "" {
		f.version = "0.1.0"
	}
	if f.hostAPI == "" {
		f.hostAPI = "^1.0.0"
	}

	dir := filepath.Join(root, f.id)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	transcript := filepath.Join(dir, "transcript.log")

	manifest := fmt.Sprintf(`
id = %q
name = "Fixture Plugin"
version = %q

[runtime]
entrypoint = "plugin.sh"
command = "sh"

[compatibility]
host_api = %q

[permissions]
commands = %s
event_tags = %s
subscriptions = %s
`, f.id, f.version, f.hostAPI, tomlArray(f.commands), tomlArray(f.eventTags), tomlArray(f.subscriptions))
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.ManifestFileName), []byte(manifest), 0o600))

	script := "#!/bin/sh\nset -eu\nTRANSCRIPT=\"" + transcript + "\"\n" + f.body
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.sh"), []byte(script), 0o600))
	return transcript
}

// send writes one request line.
func send(request string) string {
	return "echo '" + request + "'\n"
}

// record appends the next host line to the transcript.
const record = "IFS= read -r line\necho \"$line\" >> \"$TRANSCRIPT\"\n"

// exchange sends a request and records the reply.
func exchange(request string) string {
	return send(request) + record
}

func handshakeRequest(id, version string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"spud.handshake","params":{"plugin_id":%q,"plugin_version":%q,"supported_api_versions":"^1.0.0","requested_capabilities":[]}}`, id, version)
}

// waitForTranscript polls until the transcript holds at least minLines.
func waitForTranscript(t *testing.T, path string, minLines int) []string {
	t.Helper()
	var lines []string
	backoff := retry.WithMaxDuration(3*time.Second, retry.NewConstant(10*time.Millisecond))
	err := retry.Do(context.Background(), backoff, func(_ context.Context) error {
		raw, err := os.ReadFile(path) //nolint:gosec // test fixture path
		if err != nil {
			return retry.RetryableError(err)
		}
		lines = strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
		if len(lines) < minLines {
			return retry.RetryableError(fmt.Errorf("transcript has %d lines, want %d", len(lines), minLines))
		}
		return nil
	})
	require.NoError(t, err, "waiting for transcript %s", path)
	return lines
}

func newRuntime(t *testing.T, root string) *Runtime {
	t.Helper()
	rt, err := NewRuntime([]string{root})
	require.NoError(t, err)
	return rt
}

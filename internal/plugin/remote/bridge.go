// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package remote

import (
	"context"

	"github.com/spud-tui/spud/internal/plugin/protocol"
)

// Bridge exposes host state and actions to plugin requests. Calls run
// synchronously inside the pump, so implementations must return promptly.
type Bridge interface {
	StateSnapshot(ctx context.Context) (protocol.StateSnapshot, error)
	InvokeCommand(ctx context.Context, params protocol.InvokeCommandParams) (protocol.InvokeCommandResult, error)
	PublishEvent(ctx context.Context, params protocol.PublishEventParams) (protocol.PublishEventResult, error)
}

// HandledRequest describes one serviced plugin request.
type HandledRequest struct {
	PluginID string
	Method   string
	// IsError is true when the response carried an error.
	IsError bool
}

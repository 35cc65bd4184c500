// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

// Package errutil holds helpers for samber/oops errors: structured logging
// and test assertions on codes and context.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Log writes err at level. For oops errors the code and context are logged
// as separate attributes.
func Log(logger *slog.Logger, level slog.Level, msg string, err error) {
	attrs := []any{"error", err.Error()}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
	}
	logger.Log(context.Background(), level, msg, attrs...)
}

// LogError logs err at error level.
func LogError(logger *slog.Logger, msg string, err error) {
	Log(logger, slog.LevelError, msg, err)
}

// LogWarn logs err at warn level.
func LogWarn(logger *slog.Logger, msg string, err error) {
	Log(logger, slog.LevelWarn, msg, err)
}

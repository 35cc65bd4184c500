// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

// Package main implements the echo plugin. It republishes every custom
// event it sees under the echo.reply tag and periodically logs the host
// status.
//
// Build:
//
//	go build -o plugins/echo/bin/spud-echo ./plugins/echo
package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spud-tui/spud/internal/logging"
	"github.com/spud-tui/spud/internal/plugin/protocol"
	"github.com/spud-tui/spud/pkg/errutil"
	"github.com/spud-tui/spud/pkg/pluginsdk"
)

const (
	pluginID      = "spud.echo"
	pluginVersion = "0.1.0"

	// replyTag marks events published by this plugin.
	replyTag = "echo.reply"

	// statusEvery is how many ticks pass between status queries.
	statusEvery = 50
)

func main() {
	level, err := logging.ParseLevel(os.Getenv("SPUD_LOG_LEVEL"))
	if err != nil {
		level = slog.LevelInfo
	}
	logger := logging.Setup(pluginID, pluginVersion, logging.FormatJSON, level, os.Stderr)

	if err := run(os.Stdin, os.Stdout, logger); err != nil {
		errutil.LogError(logger, "echo plugin stopped", err)
		os.Exit(1)
	}
}

func run(in io.Reader, out io.Writer, logger *slog.Logger) error {
	client, err := pluginsdk.Connect(in, out, pluginsdk.Config{ID: pluginID, Version: pluginVersion})
	if err != nil {
		return err
	}
	logger.Info("connected", "api_version", client.Handshake().SelectedAPIVersion)

	if _, err := client.Subscribe(protocol.CategoryTick, protocol.CategoryCustom); err != nil {
		return err
	}

	ticks := 0
	for {
		ev, err := client.NextEvent()
		if errors.Is(err, io.EOF) {
			logger.Info("host closed the pipe")
			return nil
		}
		if err != nil {
			return err
		}

		switch ev.Category {
		case protocol.CategoryTick:
			ticks++
			if ticks%statusEvery != 0 {
				continue
			}
			lines, err := client.InvokeCommand("status")
			if err != nil {
				errutil.LogWarn(logger, "status query failed", err)
				continue
			}
			logger.Info("host status", "lines", strings.Join(lines, "; "))
		case protocol.CategoryCustom:
			if ev.Tag == replyTag {
				continue
			}
			if _, err := client.PublishEvent(replyTag, payloadText(ev.Payload)); err != nil {
				errutil.LogWarn(logger.With("tag", ev.Tag), "echo publish failed", err)
			}
		}
	}
}

// payloadText unwraps a JSON string payload; anything else is echoed raw.
func payloadText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

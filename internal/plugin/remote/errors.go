// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package remote

import (
	"github.com/samber/oops"
)

// Error codes attached to runtime failures.
const (
	CodeDiscovery      = "PLUGIN_DISCOVERY"
	CodeSpawn          = "PLUGIN_SPAWN"
	CodeUnknown        = "PLUGIN_UNKNOWN"
	CodeAlreadyRunning = "PLUGIN_ALREADY_RUNNING"
	CodeNotRunning     = "PLUGIN_NOT_RUNNING"
	CodeTimeout        = "PLUGIN_TIMEOUT"
	CodeProcessExited  = "PLUGIN_PROCESS_EXITED"
	CodeProtocol       = "PLUGIN_PROTOCOL"
	CodeIO             = "PLUGIN_IO"
)

// IsTimeout reports whether err means the plugin had nothing to send yet.
func IsTimeout(err error) bool {
	return hasCode(err, CodeTimeout)
}

// IsProcessExited reports whether err means the plugin process is gone.
func IsProcessExited(err error) bool {
	return hasCode(err, CodeProcessExited)
}

// IsNotRunning reports whether err was caused by addressing a stopped plugin.
func IsNotRunning(err error) bool {
	return hasCode(err, CodeNotRunning)
}

// ExitCode extracts the exit code from a PLUGIN_PROCESS_EXITED error.
// A process killed by a signal reports -1.
func ExitCode(err error) (int, bool) {
	if !IsProcessExited(err) {
		return 0, false
	}
	oopsErr, _ := oops.AsOops(err)
	code, ok := oopsErr.Context()["exit_code"].(int)
	return code, ok
}

func hasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == code
}

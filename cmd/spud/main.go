// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

// Package main is the entry point for the SPUD plugin host.
package main

import (
	"fmt"
	"os"

	"github.com/spud-tui/spud/internal/plugin/protocol"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := protocol.ValidateContract(); err != nil {
		fmt.Fprintf(os.Stderr, "spud: embedded plugin contract is invalid: %v\n", err)
		os.Exit(2)
	}

	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

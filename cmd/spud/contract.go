// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/spud-tui/spud/internal/plugin/protocol"
)

// NewContractCmd creates the contract subcommand.
func NewContractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contract",
		Short: "Print the OpenRPC document describing the plugin protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(protocol.ContractDocument())
			return err
		},
	}
}

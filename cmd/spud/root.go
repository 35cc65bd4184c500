// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spud-tui/spud/internal/config"
	"github.com/spud-tui/spud/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the SPUD CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spud",
		Short: "SPUD - terminal dashboard plugin host",
		Long: `SPUD hosts out-of-process plugins that speak line-delimited
JSON-RPC over stdin/stdout, gated by the permissions in each plugin.toml.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/spud/config.yaml)")
	cmd.PersistentFlags().String("log-format", logging.FormatJSON, "log format (json or text)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewPluginsCmd())
	cmd.AddCommand(NewContractCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// loadConfig resolves the configuration for cmd from every source.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(config.Options{ConfigFile: configFile, Flags: cmd.Flags()})
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "spud %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

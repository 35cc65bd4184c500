// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/spud-tui/spud/internal/plugin"
	"github.com/spud-tui/spud/internal/plugin/permission"
	"github.com/spud-tui/spud/internal/plugin/protocol"
	"github.com/spud-tui/spud/internal/xdg"
)

// pluginListing is one entry of `plugins list` output.
type pluginListing struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Version       string   `yaml:"version"`
	Path          string   `yaml:"path"`
	HostAPI       string   `yaml:"host_api"`
	Commands      []string `yaml:"commands"`
	EventTags     []string `yaml:"event_tags"`
	Subscriptions []string `yaml:"subscriptions"`
}

// NewPluginsCmd creates the plugins command group.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect discovered plugins",
	}

	cmd.PersistentFlags().StringSlice("plugin-dir", nil, "plugin search root, repeatable (default: XDG_DATA_HOME/spud/plugins)")

	cmd.AddCommand(newPluginsListCmd())
	cmd.AddCommand(newPluginsCheckCmd())
	cmd.AddCommand(newPluginsDirsCmd())

	return cmd
}

func newPluginsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered plugins and their permissions as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			discovered, err := plugin.Discover(cfg.Plugins.Dirs)
			if err != nil {
				return err
			}

			listing := make([]pluginListing, 0, len(discovered))
			for _, d := range discovered {
				policy := permission.FromManifest(d.Manifest)
				listing = append(listing, pluginListing{
					ID:            d.Manifest.ID,
					Name:          d.Manifest.Name,
					Version:       d.Manifest.Version,
					Path:          d.ManifestPath,
					HostAPI:       policy.HostAPIRequirement(),
					Commands:      policy.Commands(),
					EventTags:     policy.EventTags(),
					Subscriptions: policy.Subscriptions(),
				})
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(map[string]any{"plugins": listing}); err != nil {
				return fmt.Errorf("failed to encode plugin list: %w", err)
			}
			return enc.Close()
		},
	}
}

func newPluginsCheckCmd() *cobra.Command {
	var schema bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate every discovered manifest against this host",
		Long: `Load every plugin.toml under the search roots, then check each plugin's
host_api range against the host API version. With --schema the raw
manifest is also validated against the generated JSON schema.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			discovered, err := plugin.Discover(cfg.Plugins.Dirs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, d := range discovered {
				if err := checkPlugin(d, schema); err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s (%s): %s\n", d.Manifest.ID, d.ManifestPath, err)
					continue
				}
				fmt.Fprintf(out, "ok   %s (%s)\n", d.Manifest.ID, d.ManifestPath)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d plugins failed validation", failed, len(discovered))
			}
			fmt.Fprintf(out, "%d plugins compatible with host API %s\n", len(discovered), protocol.HostAPIVersion)
			return nil
		},
	}

	cmd.Flags().BoolVar(&schema, "schema", false, "also validate against the manifest JSON schema")

	return cmd
}

func checkPlugin(d plugin.DiscoveredPlugin, schema bool) error {
	if schema {
		data, err := os.ReadFile(d.ManifestPath)
		if err != nil {
			return err
		}
		if err := plugin.ValidateSchema(data); err != nil {
			return errors.New(plugin.FormatSchemaError(err))
		}
	}
	_, err := permission.FromManifestChecked(d.Manifest)
	return err
}

func newPluginsDirsCmd() *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "dirs",
		Short: "Print the plugin search roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			for _, dir := range cfg.Plugins.Dirs {
				if create {
					if err := xdg.EnsureDir(dir); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), dir)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&create, "create", false, "create missing directories")

	return cmd
}

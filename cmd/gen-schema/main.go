// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

// Command gen-schema writes the plugin.toml JSON Schema.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/spud-tui/spud/internal/plugin"
)

func main() {
	out := pflag.StringP("out", "o", filepath.Join("schemas", "plugin.schema.json"), "output path, or - for stdout")
	pflag.Parse()

	if err := generate(*out, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func generate(outPath string, stdout io.Writer) error {
	schema, err := plugin.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generating schema: %w", err)
	}

	if outPath == "-" {
		_, err := stdout.Write(append(schema, '\n'))
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(outPath, append(schema, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	fmt.Fprintf(stdout, "Generated %s (%s)\n", outPath, plugin.SchemaID())
	return nil
}

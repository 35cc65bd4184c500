// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestGenerate_WritesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "schemas", "plugin.schema.json")
	var stdout bytes.Buffer

	require.NoError(t, generate(out, &stdout))
	assert.Contains(t, stdout.String(), "Generated "+out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.True(t, gjson.ValidBytes(data))
	assert.True(t, gjson.GetBytes(data, "properties.permissions").Exists())
}

func TestGenerate_Stdout(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, generate("-", &stdout))
	assert.True(t, gjson.Valid(stdout.String()))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package plugin_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/spud-tui/spud/internal/plugin"
)

func TestGenerateSchema(t *testing.T) {
	data, err := plugin.GenerateSchema()
	if err != nil {
		t.Fatalf("GenerateSchema() error = %v", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}

	if got := schema["$id"]; got != plugin.SchemaID() {
		t.Errorf("$id = %v, want %s", got, plugin.SchemaID())
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties object")
	}
	for _, key := range []string{"id", "name", "version", "runtime", "compatibility", "permissions"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema missing property %q", key)
		}
	}
}

func TestValidateSchema_ValidManifest(t *testing.T) {
	if err := plugin.ValidateSchema([]byte(validManifest)); err != nil {
		t.Errorf("ValidateSchema() error = %v, want nil", err)
	}
}

func TestValidateSchema_MissingRuntime(t *testing.T) {
	raw := `
id = "spud.test"
name = "SPUD Test Plugin"
version = "0.1.0"

[compatibility]
host_api = "^1.0.0"

[permissions]
`
	err := plugin.ValidateSchema([]byte(raw))
	if err == nil {
		t.Fatal("ValidateSchema() expected error for missing runtime table")
	}
	if !strings.Contains(plugin.FormatSchemaError(err), "runtime") {
		t.Errorf("error %q does not mention runtime", err)
	}
}

func TestValidateSchema_UnknownKey(t *testing.T) {
	raw := validManifest + "\nflavour = \"mint\"\n"
	if err := plugin.ValidateSchema([]byte(raw)); err == nil {
		t.Error("ValidateSchema() expected error for unknown top-level key")
	}
}

func TestValidateSchema_DuplicateAllowlistEntry(t *testing.T) {
	raw := strings.Replace(validManifest, `commands = ["help", "switch"]`, `commands = ["help", "help"]`, 1)
	if err := plugin.ValidateSchema([]byte(raw)); err == nil {
		t.Error("ValidateSchema() expected error for duplicate allowlist entry")
	}
}

func TestValidateSchema_Empty(t *testing.T) {
	if err := plugin.ValidateSchema(nil); err == nil {
		t.Error("ValidateSchema() expected error for empty data")
	}
}

func TestFormatSchemaError_Nil(t *testing.T) {
	if got := plugin.FormatSchemaError(nil); got != "" {
		t.Errorf("FormatSchemaError(nil) = %q, want empty", got)
	}
}

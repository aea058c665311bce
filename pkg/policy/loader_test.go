package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

const testRego = `# Test policy for validation
package test.policy

import rego.v1

deny contains "invalid step" if {
	input.step.name == "invalid"
}`

func TestLoad_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "test-policy.rego")
	if err := os.WriteFile(policyFile, []byte(testRego), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policy, err := loader.Load(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "test-policy" {
		t.Errorf("Expected name 'test-policy', got '%s'", policy.Name)
	}
	if policy.Rego != testRego {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected default severity error, got %s", policy.Severity)
	}
	if policy.Description != "Test policy for validation" {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if policy.Source != policyFile {
		t.Errorf("Expected source %s, got %s", policyFile, policy.Source)
	}
}

func TestLoad_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "test-policy.json")
	data, err := json.Marshal(Policy{
		Name:        "test-json-policy",
		Description: "A test policy",
		Rego:        testRego,
		Enabled:     true,
	})
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	if err := os.WriteFile(policyFile, data, 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loaded, err := loader.Load(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if loaded.Name != "test-json-policy" {
		t.Errorf("Expected name 'test-json-policy', got '%s'", loaded.Name)
	}
	if loaded.Severity != SeverityError {
		t.Errorf("Expected default severity error, got %s", loaded.Severity)
	}
}

func TestLoad_Invalid(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	for name, content := range map[string]string{
		"garbage.json": "{not json",
		"noname.json":  `{"rego": "package x"}`,
		"norego.yaml":  "name: empty\n",
		"broken.rego":  "package broken\n\ndeny[msg] {",
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := loader.Load(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		filepath.Join(dir, "a.rego"):      testRego,
		filepath.Join(nested, "b.rego"):   testRego,
		filepath.Join(dir, "README.md"):   "ignored",
		filepath.Join(nested, "notes.txt"): "ignored",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
}

func TestLoadFromPaths_Missing(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestLoad_YAMLDefinition(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "defs.yaml")
	content := "name: yaml-policy\nseverity: warning\nrego: |\n  package yaml.policy\n  deny contains \"x\" if { false }\n"
	if err := os.WriteFile(policyFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := loader.Load(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if p.Name != "yaml-policy" || p.Severity != SeverityWarning || !p.Enabled {
		t.Errorf("Unexpected policy %+v", p)
	}
}

func TestLoad_RegoMetadata(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	src := `# METADATA
# title: Tags
# description: Deploy steps must be named.
# custom:
#   severity: warning
package fx.names

deny contains "unnamed step" if {
	input.step.name == ""
}
`
	policyFile := filepath.Join(t.TempDir(), "names.rego")
	if err := os.WriteFile(policyFile, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := loader.Load(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if p.Description != "Deploy steps must be named." {
		t.Errorf("Unexpected description %q", p.Description)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("Expected severity from metadata, got %s", p.Severity)
	}
}

func TestLoaderCache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "cached.rego")
	if err := os.WriteFile(policyFile, []byte(testRego), 0o644); err != nil {
		t.Fatal(err)
	}

	first, err := loader.Load(policyFile)
	if err != nil {
		t.Fatal(err)
	}
	second, err := loader.Load(policyFile)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("Expected the cached pointer for an unchanged file")
	}

	changed := strings.Replace(testRego, "Test policy", "Changed policy", 1)
	if err := os.WriteFile(policyFile, []byte(changed), 0o644); err != nil {
		t.Fatal(err)
	}
	third, err := loader.Load(policyFile)
	if err != nil {
		t.Fatal(err)
	}
	if third.Description != "Changed policy for validation" {
		t.Errorf("Expected the file to be re-read, got %q", third.Description)
	}

	loader.ClearCache()
	if err := os.Remove(policyFile); err != nil {
		t.Fatal(err)
	}
	if _, err := loader.Load(policyFile); err == nil {
		t.Error("Expected error for a removed file")
	}
}

package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(testLogger())

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "no-root-compose.rego")

	regoContent := `# Compose files belong in deploy/.
# severity: warning
package acme.compose

import rego.v1

deny contains "compose must live in deploy/" if {
	input.write.artifact == "compose"
	not startswith(input.write.path, "deploy/")
}`

	if err := os.WriteFile(policyFile, []byte(regoContent), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "no-root-compose" {
		t.Errorf("Expected name 'no-root-compose', got '%s'", policy.Name)
	}
	if policy.Description != "Compose files belong in deploy/." {
		t.Errorf("Unexpected description: %q", policy.Description)
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("Expected warning severity, got %s", policy.Severity)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Source != policyFile {
		t.Errorf("Expected source %s, got %s", policyFile, policy.Source)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(testLogger())
	policyFile := filepath.Join(t.TempDir(), "policy.json")

	data, err := json.Marshal(map[string]interface{}{
		"name":        "json-policy",
		"description": "from json",
		"rego":        "package json.policy\n",
	})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	if err := os.WriteFile(policyFile, data, 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "json-policy" || policy.Severity != SeverityError || !policy.Enabled {
		t.Errorf("Unexpected policy: %+v", policy)
	}
}

func TestLoadFromFile_JSONWithoutRego(t *testing.T) {
	loader := NewLoader(testLogger())
	policyFile := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(policyFile, []byte(`{"name":"empty"}`), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	if _, err := loader.loadFromFile(context.Background(), policyFile); err == nil {
		t.Error("Expected error for JSON policy without rego")
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	loader := NewLoader(testLogger())
	tmpDir := t.TempDir()

	nested := filepath.Join(tmpDir, "team", "platform")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("Failed to create dirs: %v", err)
	}
	files := map[string]string{
		filepath.Join(tmpDir, "a.rego"):    "package a\n",
		filepath.Join(nested, "b.rego"):    "package b\n",
		filepath.Join(tmpDir, "notes.txt"): "ignored",
		filepath.Join(tmpDir, "bad.json"):  "{not json",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}

	policies, err := loader.LoadFromPaths(context.Background(), []string{tmpDir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(policies))
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	loader := NewLoader(testLogger())
	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/policies"}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestLoadFromFile_UnsupportedType(t *testing.T) {
	loader := NewLoader(testLogger())
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("x: 1"), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	if _, err := loader.loadFromFile(context.Background(), path); err == nil {
		t.Error("Expected error for unsupported file type")
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		description string
		severity    Severity
	}{
		{"none", "package x\n\ndeny contains 1 if { true }", "", ""},
		{"before package", "# One.\n# Two.\npackage x\n", "One. Two.", ""},
		{"after package", "package x\n\n# Checks.\n# Severity: Info\n\ndeny contains 1 if { true }", "Checks.", SeverityInfo},
		{"stops at code", "package x\n# First.\ndeny contains 1 if { true }\n# Later.", "First.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := parseHeader(tt.content)
			if h.description != tt.description {
				t.Errorf("description: expected %q, got %q", tt.description, h.description)
			}
			if h.severity != tt.severity {
				t.Errorf("severity: expected %q, got %q", tt.severity, h.severity)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(testLogger())
	path := filepath.Join(t.TempDir(), "p.rego")
	if err := os.WriteFile(path, []byte("package p\n"), 0o644); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if _, err := loader.loadFromFile(context.Background(), path); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Fatalf("Expected 1 cached policy, got %d", len(loader.cache))
	}
	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Error("Expected empty cache")
	}
}

func TestWatchReloadsPolicies(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	err := loader.Watch(ctx, []string{dir}, func(p []Policy) error {
		reloaded <- p
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "late.rego"), []byte("package late\n"), 0o644); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	select {
	case policies := <-reloaded:
		if len(policies) != 1 || policies[0].Name != "late" {
			t.Errorf("Unexpected reload: %+v", policies)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}

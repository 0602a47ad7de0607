package config

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stackforge/stackforge/pkg/engine"
)

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	expected := []string{SchemaConfig, SchemaRelationship, SchemaService, SchemaServices}
	names := sr.ListSchemas()
	if len(names) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, names)
	}
	for i, name := range expected {
		if names[i] != name {
			t.Errorf("schema %d: expected %s, got %s", i, name, names[i])
		}
		schema, ok := sr.GetSchema(name)
		if !ok {
			t.Fatalf("built-in schema %s not found", name)
		}
		if schema.Err() != nil {
			t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
		}
	}
}

func TestSchemaRegistry_RegisterSingleDefinition(t *testing.T) {
	sr := NewSchemaRegistry()

	err := sr.RegisterSchema("label", `
#Label: {
	key:   string & =~"^[a-z]+$"
	value: string
}
`)
	if err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	ctx := context.Background()
	if err := sr.ValidateAgainstSchema(ctx, "label", map[string]interface{}{"key": "team", "value": "platform"}); err != nil {
		t.Errorf("expected valid label: %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "label", map[string]interface{}{"key": "Team", "value": "platform"}); err == nil {
		t.Error("expected pattern violation")
	}
	if err := sr.ValidateAgainstSchema(ctx, "label", map[string]interface{}{"key": "team"}); err == nil {
		t.Error("expected missing value to be rejected")
	}
}

func TestSchemaRegistry_Errors(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("broken", "#X: {"); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.ValidateAgainstSchema(context.Background(), "missing", map[string]string{}); err == nil {
		t.Error("expected error for unknown schema")
	}
}

func TestSchemaRegistry_RelationshipSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	ok := engine.Relationship{From: "frontend-1", To: "backend-0", Type: engine.RelationAPI}
	if err := sr.ValidateAgainstSchema(ctx, SchemaRelationship, ok); err != nil {
		t.Errorf("expected valid relationship: %v", err)
	}

	bad := engine.Relationship{From: "a", To: "b", Type: "cache"}
	if err := sr.ValidateAgainstSchema(ctx, SchemaRelationship, bad); err == nil {
		t.Error("expected unknown relationship type to be rejected")
	}
}

func TestParseServices_CUE(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "services.cue", `
services: [
	{id: "backend-0", stack_type: "SPRING_MAVEN", kind: "backend", working_directory: "./api/", port: 8080, database: "POSTGRESQL"},
	{id: "frontend-1", stack_type: "NODE", kind: "frontend", working_directory: "web", env: {API_URL: "http://backend-0:8080"}},
	{id: "service-2", stack_type: "GENERIC"},
]
relationships: [{from: "frontend-1", to: "backend-0", type: "api"}]
`)

	set, err := NewCUEParser().ParseServices(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to parse services: %v", err)
	}
	if len(set.Services) != 3 || len(set.Relationships) != 1 {
		t.Fatalf("unexpected set: %+v", set)
	}

	backend := set.Services[0]
	if backend.StackType != engine.StackSpringMaven || backend.Port != 8080 || backend.Database != engine.DatabasePostgreSQL {
		t.Errorf("unexpected backend: %+v", backend)
	}
	if backend.WorkingDirectory != "api" {
		t.Errorf("working directory not normalized: %q", backend.WorkingDirectory)
	}
	if set.Services[1].Env["API_URL"] != "http://backend-0:8080" {
		t.Errorf("env not decoded: %+v", set.Services[1].Env)
	}
	if set.Services[2].WorkingDirectory != engine.RootDirectory {
		t.Errorf("expected root working directory default, got %q", set.Services[2].WorkingDirectory)
	}
}

func TestParseServices_JSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "services.json", `{
  "services": [
    {"id": "service-0", "stack_type": "GENERIC", "working_directory": "."}
  ]
}`)

	set, err := NewCUEParser().ParseServices(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to parse services: %v", err)
	}
	if len(set.Services) != 1 || set.Services[0].ID != "service-0" || len(set.Relationships) != 0 {
		t.Errorf("unexpected set: %+v", set)
	}
}

func TestParseServices_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"empty list", `services: []`},
		{"unknown stack", `services: [{id: "service-0", stack_type: "RUST"}]`},
		{"bad id", `services: [{id: "Service 0", stack_type: "GENERIC"}]`},
		{"duplicate id", `services: [{id: "a", stack_type: "GENERIC"}, {id: "a", stack_type: "NODE"}]`},
		{"dangling relationship", `services: [{id: "a", stack_type: "GENERIC"}], relationships: [{from: "a", to: "b", type: "api"}]`},
		{"unknown field", `services: [{id: "a", stack_type: "GENERIC", replicas: 3}]`},
	}

	parser := NewCUEParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "services.cue", tt.content)
			_, err := parser.ParseServices(context.Background(), path)
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Errorf("expected ValidationErrors, got %v", err)
			}
		})
	}

	if _, err := parser.ParseServices(context.Background(), filepath.Join(dir, "missing.cue")); err == nil {
		t.Error("expected error for missing file")
	}
}

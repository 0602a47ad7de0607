package config

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

const schemaFileName = "schema.cue"

//go:embed schema.cue
var builtinSchemaSource string

// Built-in schema names.
const (
	SchemaConfig       = "config"
	SchemaService      = "service"
	SchemaRelationship = "relationship"
	SchemaServices     = "services"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

// registerBuiltInSchemas registers the definitions of the embedded schema.
// The embedded source is compiled into the binary, so a failure here is a
// programming error.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	root := sr.ctx.CompileString(builtinSchemaSource, cue.Filename(schemaFileName))
	if err := root.Err(); err != nil {
		panic(fmt.Sprintf("embedded config schema does not compile: %v", err))
	}

	defs := map[string]string{
		SchemaConfig:       "#Config",
		SchemaService:      "#Service",
		SchemaRelationship: "#Relationship",
		SchemaServices:     "#Services",
	}
	for name, def := range defs {
		val := root.LookupPath(cue.ParsePath(def))
		if !val.Exists() {
			panic(fmt.Sprintf("embedded config schema has no %s", def))
		}
		sr.schemas[name] = val
	}
}

// RegisterSchema compiles schema and registers it under name. When the
// source declares exactly one definition, that definition is the schema.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	if def, ok := singleDefinition(val); ok {
		val = def
	}

	sr.schemas[name] = val
	return nil
}

func singleDefinition(val cue.Value) (cue.Value, bool) {
	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return cue.Value{}, false
	}
	var found cue.Value
	count := 0
	for iter.Next() {
		if iter.Selector().IsDefinition() {
			found = iter.Value()
			count++
		}
	}
	return found, count == 1
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies val with the named schema and requires a concrete result.
// Defaults from the schema fill fields val leaves open.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Final(), cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if _, err := sr.Unify(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

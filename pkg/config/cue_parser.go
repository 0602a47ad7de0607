package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stackforge/stackforge/pkg/engine"
)

// DefaultFileName is the configuration file looked up in the working directory.
const DefaultFileName = "stackforge.cue"

// CUEParser parses stackforge configuration and service files.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: newSchemaRegistry(ctx),
		validator:      newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	return v
}

// Default returns the configuration of an empty file.
func Default() *Config {
	cfg, err := Load(context.Background())
	if err != nil {
		panic(fmt.Sprintf("embedded config defaults are invalid: %v", err))
	}
	return cfg
}

// Load parses sources and returns the configuration, or ValidationErrors.
// With no sources the defaults are returned.
func Load(ctx context.Context, sources ...string) (*Config, error) {
	parser := NewCUEParser()

	var parsed *ParsedConfig
	var err error
	if len(sources) == 0 {
		parsed, err = parser.ParseInline(ctx, "")
	} else {
		parsed, err = parser.Parse(ctx, sources)
	}
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, ValidationErrors(parsed.Errors)
	}
	return parsed.Config, nil
}

// Parse unifies the given files and directories with the config schema.
// Directories contribute every *.cue file they contain, in name order.
// Problems with the content are reported in ParsedConfig.Errors; the error
// return is reserved for unreadable sources.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedConfig, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var files []string
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		if !info.IsDir() {
			files = append(files, source)
			continue
		}

		matches, err := filepath.Glob(filepath.Join(source, "*.cue"))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", source, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no CUE files found in %s", source)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}

	var value cue.Value
	var parseErrors []ValidationError
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}

		val := cp.ctx.CompileBytes(content, cue.Filename(file))
		if err := val.Err(); err != nil {
			parseErrors = append(parseErrors, cp.convertCUEErrors(err)...)
			continue
		}

		if value.Exists() {
			value = value.Unify(val)
		} else {
			value = val
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedConfig{SourceFiles: files, ParsedAt: time.Now(), Errors: parseErrors}, nil
	}

	return cp.extractConfig(value, files), nil
}

// ParseInline parses configuration held in memory.
func (cp *CUEParser) ParseInline(_ context.Context, content string) (*ParsedConfig, error) {
	if strings.TrimSpace(content) == "" {
		content = "{}"
	}

	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &ParsedConfig{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      cp.convertCUEErrors(err),
		}, nil
	}

	return cp.extractConfig(val, []string{"inline"}), nil
}

// extractConfig applies the schema, decodes and runs struct validation.
func (cp *CUEParser) extractConfig(val cue.Value, sourceFiles []string) *ParsedConfig {
	parsed := &ParsedConfig{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	unified, err := cp.schemaRegistry.Unify(SchemaConfig, val)
	if err != nil {
		parsed.Errors = cp.convertCUEErrors(err)
		return parsed
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		parsed.Errors = []ValidationError{{Message: fmt.Sprintf("failed to decode config: %v", err)}}
		return parsed
	}

	if errs := cp.validateStruct(&cfg); len(errs) > 0 {
		parsed.Errors = errs
		return parsed
	}

	parsed.Config = &cfg
	return parsed
}

// Validate runs struct validation on a configuration assembled in Go, for
// example after flag and environment overrides.
func (cp *CUEParser) Validate(cfg *Config) error {
	if errs := cp.validateStruct(cfg); len(errs) > 0 {
		return ValidationErrors(errs)
	}
	return nil
}

func (cp *CUEParser) validateStruct(cfg *Config) []ValidationError {
	err := cp.validator.Struct(cfg)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := strings.TrimPrefix(fe.Namespace(), "Config.")
		msg := fmt.Sprintf("failed %q check", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q check (%s)", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{Path: path, Message: msg})
	}
	return out
}

// ParseServices reads a caller-supplied service list. JSON is accepted as
// well as CUE.
func (cp *CUEParser) ParseServices(_ context.Context, path string) (*ServiceSet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	val := cp.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, ValidationErrors(cp.convertCUEErrors(err))
	}

	unified, err := cp.schemaRegistry.Unify(SchemaServices, val)
	if err != nil {
		return nil, ValidationErrors(cp.convertCUEErrors(err))
	}

	var set ServiceSet
	if err := unified.Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode services: %w", err)
	}

	seen := make(map[string]bool, len(set.Services))
	for i := range set.Services {
		svc := &set.Services[i]
		if seen[svc.ID] {
			return nil, ValidationErrors{{File: path, Path: fmt.Sprintf("services.%d.id", i), Message: fmt.Sprintf("duplicate service id %q", svc.ID)}}
		}
		seen[svc.ID] = true
		svc.WorkingDirectory = engine.NormalizeWorkingDirectory(svc.WorkingDirectory)
	}
	for i, rel := range set.Relationships {
		if !seen[rel.From] || !seen[rel.To] {
			return nil, ValidationErrors{{File: path, Path: fmt.Sprintf("relationships.%d", i), Message: fmt.Sprintf("unknown service in %s -> %s", rel.From, rel.To)}}
		}
	}

	return &set, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var ve ValidationError
		for _, pos := range errors.Positions(e) {
			// Prefer the user's file over the embedded schema.
			if ve.File == "" || ve.File == schemaFileName {
				ve.File = pos.Filename()
				ve.Line = pos.Line()
				ve.Column = pos.Column()
			}
		}
		ve.Path = strings.Join(e.Path(), ".")
		format, args := e.Msg()
		ve.Message = fmt.Sprintf(format, args...)
		validationErrors = append(validationErrors, ve)
	}

	return validationErrors
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// ExportYAML renders cfg as YAML with secrets masked.
func ExportYAML(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

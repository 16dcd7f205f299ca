package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// CUEParser parses and validates CUE workspace manifests.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser with the built-in schemas registered.
func NewCUEParser() (*CUEParser, error) {
	registry, err := NewSchemaRegistry()
	if err != nil {
		return nil, err
	}

	// User values must come from the registry's context or they cannot be
	// unified with the registered schemas.
	return &CUEParser{
		ctx:            registry.Context(),
		schemaRegistry: registry,
		validator:      validator.New(),
	}, nil
}

// Load parses a single source (file or directory), validates it, and returns
// the decoded workspace configuration. Any validation error is fatal.
func Load(ctx context.Context, source string) (*WorkspaceConfig, error) {
	parser, err := NewCUEParser()
	if err != nil {
		return nil, err
	}

	parsed, err := parser.Parse(ctx, []string{source})
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		first := parsed.Errors[0]
		if len(parsed.Errors) == 1 {
			return nil, fmt.Errorf("invalid workspace configuration: %s", first)
		}
		return nil, fmt.Errorf("invalid workspace configuration: %s (and %d more errors)", first, len(parsed.Errors)-1)
	}

	return parsed.Workspace, nil
}

// Parse loads one or more CUE sources, unifies them, and decodes the
// workspace configuration. Validation failures are collected in the returned
// ParsedConfig rather than aborting the parse, so callers can report all of
// them at once.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedConfig, error) {
	parsed := &ParsedConfig{
		ParsedAt: time.Now(),
	}

	var values []cue.Value
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to access source %s: %w", source, err)
		}

		var value cue.Value
		if info.IsDir() {
			value, err = cp.loadDirectory(source)
		} else {
			value, err = cp.loadFile(source)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", source, err)
		}

		values = append(values, value)
		parsed.SourceFiles = append(parsed.SourceFiles, source)
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("no configuration sources provided")
	}

	unified := values[0]
	for _, value := range values[1:] {
		unified = unified.Unify(value)
	}
	// Err only reports structural errors, field conflicts need a walk.
	if err := unified.Validate(); err != nil {
		parsed.Errors = convertCUEErrors(err)
		return parsed, fmt.Errorf("failed to unify configuration sources: %w", err)
	}

	workspace, verrs := cp.extractWorkspace(unified)
	parsed.Workspace = workspace
	parsed.Errors = append(parsed.Errors, verrs...)

	return parsed, nil
}

// ParseInline parses a CUE configuration from a string.
func (cp *CUEParser) ParseInline(ctx context.Context, source string) (*ParsedConfig, error) {
	parsed := &ParsedConfig{
		SourceFiles: []string{"<inline>"},
		ParsedAt:    time.Now(),
	}

	value := cp.ctx.CompileString(source, cue.Filename("<inline>"))
	if err := value.Err(); err != nil {
		parsed.Errors = convertCUEErrors(err)
		return parsed, fmt.Errorf("failed to compile configuration: %w", err)
	}

	workspace, verrs := cp.extractWorkspace(value)
	parsed.Workspace = workspace
	parsed.Errors = append(parsed.Errors, verrs...)

	return parsed, nil
}

// loadDirectory loads all CUE files in a directory as a single instance.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, error) {
	instances := load.Instances([]string{"."}, &load.Config{
		Dir: dir,
	})
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE instances found in %s", dir)
	}

	instance := instances[0]
	if instance.Err != nil {
		return cue.Value{}, fmt.Errorf("failed to load instance: %w", instance.Err)
	}

	value := cp.ctx.BuildInstance(instance)
	if err := value.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to build instance: %w", err)
	}

	return value, nil
}

// loadFile compiles a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to read file: %w", err)
	}

	value := cp.ctx.CompileString(string(data), cue.Filename(path))
	if err := value.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile file: %w", err)
	}

	return value, nil
}

// extractWorkspace locates the workspace block, unifies it with the workspace
// schema so defaults fill in and unknown fields are rejected, and decodes it.
func (cp *CUEParser) extractWorkspace(value cue.Value) (*WorkspaceConfig, []ValidationError) {
	wsValue := value.LookupPath(cue.ParsePath("workspace"))
	if !wsValue.Exists() {
		return nil, []ValidationError{{
			Path:     "workspace",
			Message:  "workspace block not found",
			Severity: "error",
		}}
	}

	schema, err := cp.schemaRegistry.GetSchema("workspace")
	if err != nil {
		return nil, []ValidationError{{
			Path:     "workspace",
			Message:  err.Error(),
			Severity: "error",
		}}
	}

	unified := schema.Unify(wsValue)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	var workspace WorkspaceConfig
	if err := unified.Decode(&workspace); err != nil {
		return nil, []ValidationError{{
			Path:     "workspace",
			Message:  fmt.Sprintf("failed to decode workspace: %v", err),
			Severity: "error",
		}}
	}

	if err := cp.validator.Struct(&workspace); err != nil {
		return nil, convertValidatorErrors(err)
	}

	return &workspace, nil
}

// ValidateWithSchema validates arbitrary data against a registered schema.
func (cp *CUEParser) ValidateWithSchema(ctx context.Context, schemaName string, data interface{}) error {
	return cp.schemaRegistry.ValidateAgainstSchema(ctx, schemaName, data)
}

// GetSchemaRegistry returns the parser's schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// ExtractValue extracts the value at a path from a CUE source.
func (cp *CUEParser) ExtractValue(source, path string) (interface{}, error) {
	value := cp.ctx.CompileString(source)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile source: %w", err)
	}

	extracted := value.LookupPath(cue.ParsePath(path))
	if !extracted.Exists() {
		return nil, fmt.Errorf("path not found: %s", path)
	}

	var result interface{}
	if err := extracted.Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode value at %s: %w", path, err)
	}

	return result, nil
}

// MergeValues unifies multiple CUE sources into a single value.
func (cp *CUEParser) MergeValues(sources ...string) (cue.Value, error) {
	if len(sources) == 0 {
		return cue.Value{}, fmt.Errorf("no sources to merge")
	}

	merged := cp.ctx.CompileString(sources[0])
	if err := merged.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile source 0: %w", err)
	}

	for i, source := range sources[1:] {
		value := cp.ctx.CompileString(source)
		if err := value.Err(); err != nil {
			return cue.Value{}, fmt.Errorf("failed to compile source %d: %w", i+1, err)
		}
		merged = merged.Unify(value)
	}

	if err := merged.Validate(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to merge sources: %w", err)
	}

	return merged, nil
}

// ExportJSON renders a CUE value as JSON.
func (cp *CUEParser) ExportJSON(value cue.Value) ([]byte, error) {
	data, err := value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export value as JSON: %w", err)
	}
	return data, nil
}

// LoadFromDirectory returns the paths of all CUE files under dir.
func (cp *CUEParser) LoadFromDirectory(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return files, nil
}

// convertCUEErrors converts CUE errors into ValidationErrors with source
// positions.
func convertCUEErrors(err error) []ValidationError {
	var verrs []ValidationError
	for _, cueErr := range errors.Errors(err) {
		verr := ValidationError{
			Message:  cueErr.Error(),
			Severity: "error",
		}
		if positions := errors.Positions(cueErr); len(positions) > 0 {
			pos := positions[0]
			verr.File = pos.Filename()
			verr.Line = pos.Line()
			verr.Column = pos.Column()
		}
		if path := cueErr.Path(); len(path) > 0 {
			verr.Path = strings.Join(path, ".")
		}
		verrs = append(verrs, verr)
	}
	return verrs
}

// convertValidatorErrors converts struct validation failures into
// ValidationErrors.
func convertValidatorErrors(err error) []ValidationError {
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{
			Path:     "workspace",
			Message:  err.Error(),
			Severity: "error",
		}}
	}

	verrs := make([]ValidationError, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		verrs = append(verrs, ValidationError{
			Path:     fieldError.Namespace(),
			Message:  fmt.Sprintf("failed %s validation", fieldError.Tag()),
			Severity: "error",
		})
	}
	return verrs
}

package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// builtinSchemas declares every built-in definition in a single compile unit
// so the definitions can reference each other.
const builtinSchemas = `
#Store: {
	path:           *".smelt/results.db" | string
	max_open_conns: *25 | int & >0
	max_idle_conns: *5 | int & >=0
}

#Policy: {
	enabled: *true | bool
	paths: [...string]
	watch: *false | bool
	mode:  *"enforcing" | "advisory"
}

#Diagnostics: {
	quiet:        *false | bool
	escalate_all: *false | bool
	escalate: [...string & =~"^[a-z][a-z0-9_]*$"]
}

#Telemetry: {
	logging: {
		level:  *"info" | "trace" | "debug" | "warn" | "error" | "fatal"
		format: *"console" | "json"
		output: *"stderr" | string
	}
	metrics: {
		enabled:        *false | bool
		listen_address: *":9090" | string
	}
	tracing: {
		enabled:  *false | bool
		exporter: *"none" | "otlp" | "stdout"
		endpoint: *"localhost:4317" | string
	}
}

#Workspace: {
	name: string & =~"^[a-zA-Z0-9_-]+$"
	cells: {[=~"^[a-z][a-z0-9_]*$"]: string}
	build_file_name:       *"BUILD.star" | string
	default_configuration: *"dev" | string
	store:                 #Store
	policy:                #Policy
	diagnostics:           #Diagnostics
	telemetry:             #Telemetry
}
`

// SchemaRegistry manages CUE schema definitions for configuration validation.
type SchemaRegistry struct {
	mu      sync.RWMutex
	ctx     *cue.Context
	schemas map[string]cue.Value
}

// NewSchemaRegistry creates a schema registry with the built-in schemas
// registered.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.registerBuiltInSchemas(); err != nil {
		return nil, fmt.Errorf("failed to register built-in schemas: %w", err)
	}
	return sr, nil
}

// Context returns the CUE context backing the registry. Values validated
// against registered schemas must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

func (sr *SchemaRegistry) registerBuiltInSchemas() error {
	file := sr.ctx.CompileString(builtinSchemas)
	if err := file.Err(); err != nil {
		return fmt.Errorf("failed to compile schemas: %w", err)
	}

	builtins := map[string]string{
		"workspace":   "#Workspace",
		"store":       "#Store",
		"policy":      "#Policy",
		"diagnostics": "#Diagnostics",
		"telemetry":   "#Telemetry",
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	for name, definition := range builtins {
		value := file.LookupPath(cue.ParsePath(definition))
		if err := value.Err(); err != nil {
			return fmt.Errorf("failed to resolve %s: %w", definition, err)
		}
		sr.schemas[name] = value
	}
	return nil
}

// RegisterSchema compiles a schema source and registers it under the given
// name. When the source declares definitions, the first definition becomes
// the registered schema.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	value := sr.ctx.CompileString(schema)
	if err := value.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = firstDefinition(value)
	return nil
}

// firstDefinition returns the first definition declared in value, or the
// value itself when the source declares none.
func firstDefinition(value cue.Value) cue.Value {
	iter, err := value.Fields(cue.Definitions(true))
	if err != nil {
		return value
	}
	for iter.Next() {
		if iter.Selector().IsDefinition() {
			return iter.Value()
		}
	}
	return value
}

// GetSchema returns a registered schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	schema, ok := sr.schemas[name]
	if !ok {
		return cue.Value{}, fmt.Errorf("schema not found: %s", name)
	}
	return schema, nil
}

// ListSchemas returns the names of all registered schemas, sorted.
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

// ValidateAgainstSchema validates data against a registered schema. The data
// is encoded into the registry's context, unified with the schema, and
// checked for concreteness so missing required fields are reported.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, err := sr.GetSchema(schemaName)
	if err != nil {
		return err
	}

	value := sr.ctx.Encode(data)
	if err := value.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed for schema %s: %w", schemaName, err)
	}

	return nil
}

// ValidateWorkspace validates a workspace configuration against the built-in
// workspace schema.
func (sr *SchemaRegistry) ValidateWorkspace(ctx context.Context, cfg *WorkspaceConfig) error {
	return sr.ValidateAgainstSchema(ctx, "workspace", cfg)
}

// ValidateStore validates store settings against the built-in store schema.
func (sr *SchemaRegistry) ValidateStore(ctx context.Context, cfg *StoreConfig) error {
	return sr.ValidateAgainstSchema(ctx, "store", cfg)
}

// ValidatePolicy validates policy settings against the built-in policy schema.
func (sr *SchemaRegistry) ValidatePolicy(ctx context.Context, cfg *PolicyConfig) error {
	return sr.ValidateAgainstSchema(ctx, "policy", cfg)
}

// ValidateDiagnostics validates diagnostics settings against the built-in
// diagnostics schema.
func (sr *SchemaRegistry) ValidateDiagnostics(ctx context.Context, cfg *DiagnosticsConfig) error {
	return sr.ValidateAgainstSchema(ctx, "diagnostics", cfg)
}

// ValidateTelemetry validates telemetry settings against the built-in
// telemetry schema.
func (sr *SchemaRegistry) ValidateTelemetry(ctx context.Context, cfg *TelemetrySettings) error {
	return sr.ValidateAgainstSchema(ctx, "telemetry", cfg)
}

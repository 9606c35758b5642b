package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Names of the built-in schemas.
const (
	SchemaConfig   = "config"
	SchemaManifest = "manifest"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SchemaConfig, "#Config", builtinConfigSchema); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaManifest, "#Manifest", builtinManifestSchema); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles schema and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates plain Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	return validateUnified(schema, dataVal)
}

// unifyConfig unifies a compiled CUE configuration with the config schema.
func (sr *SchemaRegistry) unifyConfig(val cue.Value) (cue.Value, error) {
	schema, _ := sr.GetSchema(SchemaConfig)
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, fmt.Errorf("validation failed: %w", err)
	}
	return unified, nil
}

func validateUnified(schema, data cue.Value) error {
	if err := schema.Unify(data).Validate(cue.Concrete(true)); err != nil {
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

// Built-in schema definitions

const builtinConfigSchema = `
// Host configuration. Closed: unknown keys are rejected.
#Config: {
	module_paths?: [...string & !=""]

	database?: {
		path?:       string
		collection?: string & =~"^[^/]+$"
	}

	system_namespace?: string & =~"^[^/]+$"

	environment?: {[string]: _}

	max_steps?: int & >=0

	policy?: {
		enabled?: bool
		paths?: [...string & !=""]
		watch?: bool
	}

	logging?: {
		level?:         "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		format?:        "console" | "json"
		output?:        string
		enable_caller?: bool
		time_format?:   "unix" | "unixms" | "rfc3339"
	}

	metrics?: {
		enabled?:        bool
		listen_address?: string
		path?:           string
		namespace?:      string
		buckets?: [...number]
	}

	tracing?: {
		enabled?:               bool
		exporter?:              "otlp" | "stdout" | "none"
		endpoint?:              string
		sampling_rate?:         number & >=0 & <=1
		max_export_batch_size?: int & >0
		export_timeout?:        string | int
		headers?: {[string]: string}
		insecure?: bool
	}
}
`

const builtinManifestSchema = `
// Package manifest. Open: other package.json keys are allowed.
#Manifest: {
	name?:    string & =~"^.{0,214}$"
	version?: string
	main?:    string & !=""
	lib?:     string & !=""
	environment?: {[string]: _}
	...
}
`

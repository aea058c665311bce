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
	SchemaLifecycleFile = "lifecycle"
	SchemaStep          = "step"
	SchemaSettings      = "settings"
)

// schema is a compiled CUE source and the definition data is checked against.
type schema struct {
	source cue.Value
	def    cue.Value
}

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]schema
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]schema),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	// Built-in schemas are constants; a compile failure is a programming error.
	for _, s := range []struct{ name, def, src string }{
		{SchemaStep, "#Step", builtinStepSchema},
		{SchemaLifecycleFile, "#LifecycleFile", builtinStepSchema + builtinLifecycleSchema},
		{SchemaSettings, "#Settings", builtinSettingsSchema},
	} {
		if err := sr.RegisterSchema(s.name, s.def, s.src); err != nil {
			panic(err)
		}
	}
}

// RegisterSchema compiles source and registers the definition named def
// (for example "#Step") under name.
func (sr *SchemaRegistry) RegisterSchema(name, def, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	d := val.LookupPath(cue.ParsePath(def))
	if !d.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, def)
	}

	sr.schemas[name] = schema{source: val, def: d}
	return nil
}

// GetSchema retrieves the definition of a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	s, ok := sr.schemas[name]
	return s.def, ok
}

// Context returns the CUE context schemas are compiled in.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	return sr.ValidateValue(schemaName, dataVal)
}

// ValidateValue validates a CUE value against a named schema.
func (sr *SchemaRegistry) ValidateValue(schemaName string, v cue.Value) error {
	def, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
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

const builtinStepSchema = `
// A step runs one driver.
#Step: {
	// Uses names the driver, e.g. "script/run".
	uses: string & =~"^[a-z0-9-]+/[a-z0-9-]+$"

	name?: string & =~"^[a-zA-Z0-9_.-]+$"

	// If is a Starlark expression; the step is skipped when it is false.
	if?: string

	// With holds the driver arguments.
	with?: {...}

	env?: {[string]: string}

	// WriteToEnvironmentFile maps env keys to driver output keys.
	writeToEnvironmentFile?: {[=~"^[A-Za-z_][A-Za-z0-9_]*$"]: string}
}
`

const builtinLifecycleSchema = `
// The lifecycle file of a project.
#LifecycleFile: {
	version: =~"^v[0-9]+(\\.[0-9]+)*$"

	provision?: [...#Step]
	deploy?:    [...#Step]
	publish?:   [...#Step]
	configure?: [...#Step]
}
`

const builtinSettingsSchema = `
// The settings document of a project.
#Settings: {
	version:    string
	trackingId: =~"^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$"
	name?:      string
	...
}
`

package config

import (
	"context"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// CUEParser validates YAML documents against the schema registry and
// reports errors with their source positions.
type CUEParser struct {
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{schemaRegistry: NewSchemaRegistry()}
}

// GetSchemaRegistry returns the registry used for validation.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// ParseYAML compiles a YAML document into a CUE value. Syntax errors are
// returned as validation errors.
func (cp *CUEParser) ParseYAML(filename string, data []byte) (cue.Value, []ValidationError) {
	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return cue.Value{}, cp.convertCUEErrors(err, filename)
	}

	val := cp.schemaRegistry.Context().BuildFile(file)
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err, filename)
	}
	return val, nil
}

// ValidateYAML checks a YAML document against the named schema. The
// returned slice is empty when the document is valid.
func (cp *CUEParser) ValidateYAML(ctx context.Context, filename string, data []byte, schemaName string) ([]ValidationError, error) {
	val, verrs := cp.ParseYAML(filename, data)
	if len(verrs) > 0 {
		return verrs, nil
	}

	def, ok := cp.schemaRegistry.GetSchema(schemaName)
	if !ok {
		return nil, fmt.Errorf("schema %s not found", schemaName)
	}

	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return cp.convertCUEErrors(err, filename), nil
	}
	return nil, nil
}

// ValidateWithSchema validates Go data against a named schema.
func (cp *CUEParser) ValidateWithSchema(ctx context.Context, data interface{}, schemaName string) error {
	return cp.schemaRegistry.ValidateAgainstSchema(ctx, schemaName, data)
}

// convertCUEErrors converts CUE errors to ValidationError slice. Positions
// in file are preferred over positions in the schema.
func (cp *CUEParser) convertCUEErrors(err error, file string) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var at token.Pos
		for i, pos := range errors.Positions(e) {
			if i == 0 || pos.Filename() == file {
				at = pos
			}
			if pos.Filename() == file {
				break
			}
		}

		var line, column int
		if at.IsValid() {
			line = at.Line()
			column = at.Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     at.Filename(),
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  strings.TrimSpace(errors.Details(e, nil)),
			Severity: "error",
		})
	}

	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{Message: err.Error(), Severity: "error"})
	}
	return validationErrors
}

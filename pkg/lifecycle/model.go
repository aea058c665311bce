// Package lifecycle loads the project lifecycle file and runs its steps.
//
// A lifecycle file (fxapp.yml) lists, per lifecycle, the steps to run. Each
// step names a driver and its arguments. Steps run one after another and the
// first failure stops the lifecycle.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fxctl/fxctl/pkg/config"
	"github.com/fxctl/fxctl/pkg/engine"
)

// FileName is the lifecycle file name at the project root.
const FileName = "fxapp.yml"

// Source is the error source of this package.
const Source = "lifecycle"

// Name is a lifecycle name.
type Name string

const (
	Provision Name = "provision"
	Deploy    Name = "deploy"
	Publish   Name = "publish"
	Configure Name = "configure"
)

// Names lists the lifecycles in the order they appear in a file.
var Names = []Name{Provision, Deploy, Publish, Configure}

// Step is one entry of a lifecycle.
type Step struct {
	Uses string         `yaml:"uses"`
	Name string         `yaml:"name,omitempty"`
	If   string         `yaml:"if,omitempty"`
	With map[string]any `yaml:"with,omitempty"`

	// Env is added to the driver's environment after placeholder expansion.
	Env map[string]string `yaml:"env,omitempty"`

	// WriteToEnvironmentFile maps environment keys to output keys of the driver.
	WriteToEnvironmentFile map[string]string `yaml:"writeToEnvironmentFile,omitempty"`
}

// Label names the step in logs and progress messages.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Uses
}

// ProjectModel is a parsed lifecycle file.
type ProjectModel struct {
	Version   string `yaml:"version"`
	Provision []Step `yaml:"provision,omitempty"`
	Deploy    []Step `yaml:"deploy,omitempty"`
	Publish   []Step `yaml:"publish,omitempty"`
	Configure []Step `yaml:"configure,omitempty"`
}

// Steps returns the steps of a lifecycle. A lifecycle missing from the file
// has no steps.
func (m *ProjectModel) Steps(name Name) ([]Step, error) {
	switch name {
	case Provision:
		return m.Provision, nil
	case Deploy:
		return m.Deploy, nil
	case Publish:
		return m.Publish, nil
	case Configure:
		return m.Configure, nil
	}
	return nil, engine.NewUserError(Source, engine.NameInvalidLifecycle,
		fmt.Sprintf("unknown lifecycle %q", name)).WithDetail("lifecycle", string(name))
}

// Path returns the lifecycle file path of a project.
func Path(projectPath string) string {
	return filepath.Join(projectPath, FileName)
}

// Load reads and validates the lifecycle file of a project.
func Load(ctx context.Context, projectPath string) (*ProjectModel, error) {
	path := Path(projectPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, engine.NewPathNotExistError(path).WithSource(Source)
		}
		return nil, engine.NewReadFileError(Source, path, err)
	}
	return Parse(ctx, path, data)
}

// Parse parses and validates a lifecycle document. filename is used in error
// positions.
func Parse(ctx context.Context, filename string, data []byte) (*ProjectModel, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, newYamlParsingError(filename, err)
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, newYamlParsingError(filename, fmt.Errorf("document must be a mapping, got %T", raw))
	}

	verrs, err := Validate(ctx, filename, data)
	if err != nil {
		return nil, err
	}
	if len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, ve := range verrs {
			msgs[i] = ve.String()
		}
		return nil, engine.NewUserError(Source, engine.NameInvalidLifecycle,
			fmt.Sprintf("invalid lifecycle file %s: %s", filename, strings.Join(msgs, "; "))).
			WithDetail("file", filename).
			WithDetail("errors", msgs)
	}

	var model ProjectModel
	if err := yaml.Unmarshal(data, &model); err != nil {
		return nil, newYamlParsingError(filename, err)
	}
	return &model, nil
}

// Validate checks a lifecycle document against the lifecycle schema and
// returns every problem found. Step conditions of a schema-valid document
// are checked for syntax errors too.
func Validate(ctx context.Context, filename string, data []byte) ([]config.ValidationError, error) {
	verrs, err := config.NewCUEParser().ValidateYAML(ctx, filename, data, config.SchemaLifecycleFile)
	if err != nil {
		return nil, engine.NewSystemError(Source, engine.NameUnhandled, "schema validation failed").WithCause(err)
	}
	if len(verrs) > 0 {
		return verrs, nil
	}

	var model ProjectModel
	if err := yaml.Unmarshal(data, &model); err != nil {
		return nil, newYamlParsingError(filename, err)
	}
	for _, name := range Names {
		steps, _ := model.Steps(name)
		for i, step := range steps {
			if step.If == "" {
				continue
			}
			if err := config.CheckExpr(step.If); err != nil {
				verrs = append(verrs, config.ValidationError{
					File:     filename,
					Path:     fmt.Sprintf("%s[%d].if", name, i),
					Message:  err.Error(),
					Severity: "error",
				})
			}
		}
	}
	return verrs, nil
}

func newYamlParsingError(filename string, err error) *engine.FxError {
	return engine.NewUserError(Source, engine.NameYamlParsing,
		fmt.Sprintf("failed to parse %s: %v", filename, err)).
		WithCause(err).
		WithDetail("file", filename)
}

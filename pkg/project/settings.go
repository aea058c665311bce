// Package project locates and initializes fxctl projects.
//
// A project is a folder containing a settings folder (.fx) with a settings.yml
// document. The settings carry the tracking ID that scopes secret encryption.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fxctl/fxctl/pkg/engine"
)

const (
	// SettingsFolder is the hidden folder holding project state.
	SettingsFolder = ".fx"

	// SettingsFile is the settings document inside SettingsFolder.
	SettingsFile = "settings.yml"

	// LifecycleFile is the lifecycle definition at the project root.
	LifecycleFile = "fxapp.yml"

	// SettingsVersion is the current settings schema version.
	SettingsVersion = "1.0.0"

	source = "project"
)

// Settings is the content of settings.yml.
type Settings struct {
	// Version is the settings schema version.
	Version string `yaml:"version" validate:"required"`

	// TrackingID identifies the project for telemetry and secret encryption.
	TrackingID string `yaml:"trackingId" validate:"required,uuid"`

	// Name is an optional display name.
	Name string `yaml:"name,omitempty"`
}

var validate = validator.New()

// SettingsDir returns the settings folder of a project.
func SettingsDir(projectPath string) string {
	return filepath.Join(projectPath, SettingsFolder)
}

// SettingsPath returns the path of settings.yml.
func SettingsPath(projectPath string) string {
	return filepath.Join(SettingsDir(projectPath), SettingsFile)
}

// IsProject reports whether projectPath holds a settings document.
func IsProject(projectPath string) bool {
	info, err := os.Stat(SettingsPath(projectPath))
	return err == nil && !info.IsDir()
}

// LoadSettings reads and validates settings.yml.
func LoadSettings(projectPath string) (*Settings, error) {
	path := SettingsPath(projectPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, engine.NewInvalidProjectError(projectPath).WithCause(err)
		}
		return nil, engine.NewReadFileError(source, path, err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, engine.NewUserError(source, engine.NameYamlParsing,
			fmt.Sprintf("failed to parse %s", path)).WithCause(err)
	}
	if err := validate.Struct(&s); err != nil {
		return nil, engine.NewUserError(source, engine.NameInvalidProject,
			fmt.Sprintf("invalid settings in %s", path)).WithCause(err)
	}

	return &s, nil
}

// SaveSettings writes settings.yml, creating the settings folder if needed.
func SaveSettings(projectPath string, s *Settings) error {
	if err := validate.Struct(s); err != nil {
		return engine.NewUserError(source, engine.NameInvalidProject, "invalid settings").WithCause(err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return engine.NewSystemError(source, engine.NameUnhandled, "failed to encode settings").WithCause(err)
	}

	path := SettingsPath(projectPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return engine.NewWriteFileError(source, path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return engine.NewWriteFileError(source, path, err)
	}
	return nil
}

// Init creates a new project in projectPath with a fresh tracking ID.
func Init(projectPath, name string) (*Settings, error) {
	if IsProject(projectPath) {
		return nil, engine.NewUserError(source, engine.NameProjectAlreadyInit,
			fmt.Sprintf("%s is already a project", projectPath))
	}

	s := &Settings{
		Version:    SettingsVersion,
		TrackingID: uuid.New().String(),
		Name:       name,
	}
	if err := SaveSettings(projectPath, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Check validates a project path before a guarded operation.
// The three failure modes return distinct errors.
func Check(projectPath string) error {
	if projectPath == "" {
		return engine.NewNoProjectOpenedError()
	}
	if _, err := os.Stat(projectPath); err != nil {
		return engine.NewPathNotExistError(projectPath).WithCause(err)
	}
	if !IsProject(projectPath) {
		return engine.NewInvalidProjectError(projectPath)
	}
	return nil
}

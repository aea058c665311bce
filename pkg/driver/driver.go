// Package driver defines the pluggable units that implement lifecycle steps.
//
// A lifecycle file names a driver per step ("uses: script/run") and hands it
// the step's "with" map. Drivers return a flat map of outputs that the
// lifecycle runner can persist into the environment file.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"

	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/ui"
)

// Driver runs one lifecycle step.
type Driver interface {
	Run(ctx context.Context, args map[string]any, dctx *Context) (map[string]string, error)
}

// Func adapts a plain function to the Driver interface.
type Func func(ctx context.Context, args map[string]any, dctx *Context) (map[string]string, error)

// Run calls f.
func (f Func) Run(ctx context.Context, args map[string]any, dctx *Context) (map[string]string, error) {
	return f(ctx, args, dctx)
}

// ErrCredentialNotFound is returned by a CredentialProvider that has no value
// for the requested key.
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialProvider resolves secrets a driver needs but the lifecycle file
// should not contain.
type CredentialProvider interface {
	Credential(ctx context.Context, key string) (string, error)
}

// StaticCredentials serves credentials from a fixed map.
type StaticCredentials map[string]string

// Credential implements CredentialProvider.
func (s StaticCredentials) Credential(_ context.Context, key string) (string, error) {
	if v, ok := s[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrCredentialNotFound, key)
}

// EnvCredentials reads credentials from the process environment. The key is
// upper-cased, non-alphanumerics become underscores and Prefix is prepended,
// so "sftp/example.com" with prefix "FX_CRED_" reads FX_CRED_SFTP_EXAMPLE_COM.
type EnvCredentials struct {
	Prefix string
}

// Credential implements CredentialProvider.
func (e EnvCredentials) Credential(_ context.Context, key string) (string, error) {
	name := e.Prefix + envName(key)
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrCredentialNotFound, name)
}

func envName(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
}

// Context is what a driver may use from its caller.
type Context struct {
	// ProjectPath is the absolute project root.
	ProjectPath string

	// Env is the environment name the lifecycle runs against.
	Env string

	// StepEnv holds the step's "env" entries, already expanded.
	StepEnv map[string]string

	Logger      zerolog.Logger
	UI          ui.UserInteraction
	Progress    ui.ProgressBar
	Credentials CredentialProvider
	Telemetry   engine.TelemetryReporter
}

// credential looks a key up, returning "" when there is no provider or no value.
func (c *Context) credential(ctx context.Context, key string) (string, error) {
	if c.Credentials == nil {
		return "", nil
	}
	v, err := c.Credentials.Credential(ctx, key)
	if errors.Is(err, ErrCredentialNotFound) {
		return "", nil
	}
	return v, err
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeArgs decodes a step's "with" map into out and validates it with the
// `validate` struct tags. Unknown keys are rejected.
func DecodeArgs(driverName string, args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return engine.NewSystemError(driverName, engine.NameUnhandled, "failed to build argument decoder").WithCause(err)
	}
	if err := dec.Decode(args); err != nil {
		return NewInvalidArgsError(driverName, err)
	}
	if err := validate.Struct(out); err != nil {
		return NewInvalidArgsError(driverName, err)
	}
	return nil
}

// NewInvalidArgsError reports a malformed "with" map.
func NewInvalidArgsError(driverName string, err error) *engine.FxError {
	return engine.NewUserError(driverName, engine.NameInvalidDriverArgs,
		fmt.Sprintf("invalid arguments for driver %s: %v", driverName, err)).
		WithCause(err).
		WithDetail("driver", driverName)
}

// resolvePath makes p absolute relative to the project root.
func (c *Context) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectPath, p)
}

// Error names raised by builtin drivers.
const (
	NameScriptFailed     = "ScriptExecutionError"
	NameWasmFailed       = "WasmExecutionError"
	NameInvalidOutput    = "InvalidDriverOutputError"
	NameRemoteConnection = "RemoteConnectionError"
	NameUploadFailed     = "UploadError"
	NameRemoteCommand    = "RemoteCommandError"
)

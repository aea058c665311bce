package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/fxctl/fxctl/pkg/telemetry"
)

// EnvPrefix is the prefix of runtime configuration variables.
const EnvPrefix = "FX"

// Runtime is the configuration of the fxctl process, read from FX_*
// environment variables.
type Runtime struct {
	// LogLevel is FX_LOG_LEVEL.
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console" validate:"oneof=console json"`

	TelemetryEnabled bool   `envconfig:"TELEMETRY_ENABLED" default:"true"`
	TraceExporter    string `envconfig:"TRACE_EXPORTER" default:"none" validate:"oneof=none stdout otlp"`
	TraceEndpoint    string `envconfig:"TRACE_ENDPOINT" validate:"required_if=TraceExporter otlp"`

	// MetricsAddr is the listen address of the metrics server; empty disables it.
	MetricsAddr string `envconfig:"METRICS_ADDR" validate:"omitempty,hostname_port"`

	// HistoryDB is the SQLite file of the action history; empty uses the
	// user cache directory.
	HistoryDB string `envconfig:"HISTORY_DB"`

	LockBackend    string        `envconfig:"LOCK_BACKEND" default:"file" validate:"oneof=file redis"`
	RedisAddr      string        `envconfig:"REDIS_ADDR" validate:"required_if=LockBackend redis"`
	LockRetries    int           `envconfig:"LOCK_RETRIES" default:"10" validate:"min=1"`
	LockRetryDelay time.Duration `envconfig:"LOCK_RETRY_DELAY" default:"1s" validate:"min=0"`

	Interactive bool `envconfig:"INTERACTIVE" default:"true"`

	HelpLink  string `envconfig:"HELP_LINK" default:"https://github.com/fxctl/fxctl/blob/main/docs/errors.md" validate:"omitempty,url"`
	IssueLink string `envconfig:"ISSUE_LINK" default:"https://github.com/fxctl/fxctl/issues/new" validate:"omitempty,url"`
}

var validate = validator.New()

// LoadRuntime reads the runtime configuration from the environment.
func LoadRuntime() (*Runtime, error) {
	var rt Runtime
	if err := envconfig.Process(EnvPrefix, &rt); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if rt.HistoryDB == "" {
		rt.HistoryDB = defaultHistoryDB()
	}
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	return &rt, nil
}

// Validate checks the configuration.
func (rt *Runtime) Validate() error {
	if err := validate.Struct(rt); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Telemetry derives the telemetry configuration.
func (rt *Runtime) Telemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = rt.LogLevel
	cfg.Logging.Format = rt.LogFormat

	cfg.Events.Enabled = rt.TelemetryEnabled
	cfg.Metrics.Enabled = rt.TelemetryEnabled
	cfg.Metrics.ListenAddress = rt.MetricsAddr

	if rt.TelemetryEnabled && rt.TraceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = rt.TraceExporter
		cfg.Tracing.Endpoint = rt.TraceEndpoint
	}
	return cfg
}

// Usage describes the supported environment variables.
func Usage() string {
	var b strings.Builder
	_ = envconfig.Usagef(EnvPrefix, &Runtime{}, &b, envconfig.DefaultTableFormat)
	return b.String()
}

func defaultHistoryDB() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "fxctl", "history.db")
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the dotted path of the offending field.
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is "error" or "warning".
	Severity string `json:"severity"`
}

func (ve ValidationError) String() string {
	var loc string
	switch {
	case ve.File != "" && ve.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", ve.File, ve.Line, ve.Column)
	case ve.Path != "":
		loc = ve.Path + ": "
	}
	return loc + ve.Message
}

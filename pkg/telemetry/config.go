package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the observability setup of one fxctl process.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`

	// Environment tags traces and events with where fxctl itself runs (local,
	// ci). It is unrelated to project environments.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error"`
	Format string `validate:"oneof=console json"`

	// Output is stdout, stderr or a file path. Empty means stderr.
	Output string

	EnableCaller bool
	NoColor      bool

	// TimeFormat is one of rfc3339, unix, unixms or kitchen.
	TimeFormat string `validate:"omitempty,oneof=rfc3339 unix unixms kitchen"`
}

// TracingConfig configures the tracer behind action spans and the migrated
// telemetry channel.
type TracingConfig struct {
	Enabled  bool
	Exporter string `validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint     string
	Insecure     bool
	Headers      map[string]string
	SamplingRate float64 `validate:"gte=0,lte=1"`
	BatchTimeout time.Duration
}

type MetricsConfig struct {
	Enabled bool

	// ListenAddress exposes /metrics and /healthz. Empty records without
	// serving.
	ListenAddress string
	Path          string
	Namespace     string
	Buckets       []float64
}

// EventsConfig configures the primary telemetry channel.
type EventsConfig struct {
	Enabled         bool
	BufferSize      int `validate:"required_if=Enabled true,gte=0"`
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "fxctl",
		ServiceVersion: "dev",
		Environment:    "local",
		Logging: LoggingConfig{
			Level:      "warn",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			Insecure:     true,
			SamplingRate: 1,
			BatchTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "fxctl",
			// Actions range from milliseconds to a long provision.
			Buckets: []float64{0.01, 0.05, 0.25, 1, 2.5, 5, 15, 30, 60, 300, 900},
		},
		Events: EventsConfig{
			Enabled:         true,
			BufferSize:      256,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

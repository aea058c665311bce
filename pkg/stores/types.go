package stores

import (
	"context"
	"time"

	"github.com/fxctl/fxctl/pkg/telemetry"
)

// Entry is one recorded telemetry event.
type Entry struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Name          string            `json:"name"`
	Component     string            `json:"component,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Env           string            `json:"env,omitempty"`
	Success       bool              `json:"success"`
	ErrorClass    string            `json:"error_class,omitempty"`
	ErrorName     string            `json:"error_name,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	Duration      *time.Duration    `json:"duration,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// ListOptions filters List. Zero values match everything.
type ListOptions struct {
	// Limit caps the number of entries; 0 uses DefaultListLimit.
	Limit int

	Name          string
	CorrelationID string

	// FailedOnly returns error events only.
	FailedOnly bool
}

// DefaultListLimit is the number of entries List returns by default.
const DefaultListLimit = 20

// Store defines the interface for the history persistence layer.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	Record(ctx context.Context, event telemetry.Event) error
	List(ctx context.Context, opts ListOptions) ([]*Entry, error)
	Prune(ctx context.Context, before time.Time) (int64, error)

	HealthCheck(ctx context.Context) error
}

package engine

import (
	"context"
)

// TelemetryReporter sends usage telemetry.
// Implementations must not block the caller on transport.
type TelemetryReporter interface {
	// SendEvent records a named event with string properties and numeric measurements.
	SendEvent(ctx context.Context, name string, props map[string]string, measures map[string]float64)

	// SendErrorEvent records a named failure event.
	SendErrorEvent(ctx context.Context, name string, err *FxError, props map[string]string, measures map[string]float64)
}

// NopReporter discards all telemetry.
type NopReporter struct{}

// SendEvent implements TelemetryReporter.
func (NopReporter) SendEvent(context.Context, string, map[string]string, map[string]float64) {}

// SendErrorEvent implements TelemetryReporter.
func (NopReporter) SendErrorEvent(context.Context, string, *FxError, map[string]string, map[string]float64) {
}

// Well-known telemetry property keys.
const (
	PropComponent   = "component"
	PropMethod      = "method"
	PropSuccess     = "success"
	PropErrorType   = "error-type"
	PropErrorCode   = "error-code"
	PropErrorMsg    = "error-message"
	PropEnv         = "env"
	PropCorrelation = "correlation-id"

	MeasureTimeCost = "timeCost"
)

// Property values for PropSuccess and PropErrorType.
const (
	ValueYes         = "yes"
	ValueNo          = "no"
	ValueUserError   = "user"
	ValueSystemError = "system"
)

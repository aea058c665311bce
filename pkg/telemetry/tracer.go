package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys.
var (
	AttrAction        = attribute.Key("fx.action")
	AttrCorrelationID = attribute.Key("fx.correlation_id")
	AttrLifecycle     = attribute.Key("fx.lifecycle")
	AttrDriver        = attribute.Key("fx.driver")
	AttrStepName      = attribute.Key("fx.step")

	AttrErrorClass   = attribute.Key("error.class")
	AttrErrorName    = attribute.Key("error.name")
	AttrErrorMessage = attribute.Key("error.message")
)

// Tracer opens the spans of actions and lifecycle steps. A nil *Tracer is
// valid and opens no-op spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds the tracer described by cfg.Tracing. With tracing
// disabled spans are still created, so span events from the migrated
// channel have somewhere to go, but nothing is exported.
func NewTracer(cfg *Config) (*Tracer, error) {
	tc := cfg.Tracing
	if !tc.Enabled {
		provider := sdktrace.NewTracerProvider()
		return &Tracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}, nil
	}

	exporter, err := newSpanExporter(tc, cfg.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", tc.Exporter, err)
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tc.SamplingRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(tc.BatchTimeout)))
	}
	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Tracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}, nil
}

// newSpanExporter returns nil for the "none" exporter. The OTLP client dials
// lazily, so an unreachable collector does not slow down a command.
func newSpanExporter(tc TracingConfig, version string) (sdktrace.SpanExporter, error) {
	switch tc.Exporter {
	case "", "none":
		return nil, nil
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(tc.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent("fxctl/" + version)),
		}
		if tc.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(tc.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(tc.Headers))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	}
	return nil, fmt.Errorf("unknown exporter %q", tc.Exporter)
}

// Start opens a span named name.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartAction opens the span of one action invocation.
func (t *Tracer) StartAction(ctx context.Context, action, correlationID string) (context.Context, trace.Span) {
	return t.Start(ctx, "action."+action,
		AttrAction.String(action),
		AttrCorrelationID.String(correlationID))
}

// StartStep opens the span of one lifecycle step.
func (t *Tracer) StartStep(ctx context.Context, lifecycle, driver, label string) (context.Context, trace.Span) {
	return t.Start(ctx, "step."+driver,
		AttrLifecycle.String(lifecycle),
		AttrDriver.String(driver),
		AttrStepName.String(label))
}

// SetSpanStatus marks span as failed with err, or as ok when err is nil.
func SetSpanStatus(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Shutdown exports pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

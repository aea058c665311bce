package telemetry

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fxctl/fxctl/pkg/engine"
)

// Reporter is the primary telemetry channel. Events are queued on the
// publisher and counted in metrics; delivery to subscribers such as the
// history store happens in the background.
type Reporter struct {
	publisher *EventPublisher
	metrics   *Metrics
	logger    *Logger
	common    map[string]string
}

var _ engine.TelemetryReporter = (*Reporter)(nil)

// NewReporter creates a reporter. common properties are added to every event
// unless the event sets them itself.
func NewReporter(publisher *EventPublisher, metrics *Metrics, logger *Logger, common map[string]string) *Reporter {
	if logger == nil {
		logger = NopLogger()
	}
	return &Reporter{
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.NewComponentLogger("telemetry"),
		common:    common,
	}
}

// SendEvent implements engine.TelemetryReporter.
func (r *Reporter) SendEvent(ctx context.Context, name string, props map[string]string, measures map[string]float64) {
	r.publish(r.buildEvent(name, EventLevelInfo, props, measures))
}

// SendErrorEvent implements engine.TelemetryReporter.
func (r *Reporter) SendErrorEvent(ctx context.Context, name string, err *engine.FxError, props map[string]string, measures map[string]float64) {
	event := r.buildEvent(name, EventLevelError, props, measures)
	if err != nil {
		event.ErrorClass = string(err.Class)
		event.ErrorName = err.Name
		event.ErrorMessage = err.Message
		if r.metrics != nil {
			r.metrics.RecordError(event.ErrorClass, event.ErrorName)
		}
	}
	r.publish(event)
}

func (r *Reporter) buildEvent(name, level string, props map[string]string, measures map[string]float64) Event {
	merged := make(map[string]string, len(r.common)+len(props))
	for k, v := range r.common {
		merged[k] = v
	}
	for k, v := range props {
		merged[k] = v
	}
	return Event{
		Name:          name,
		Component:     merged[engine.PropComponent],
		CorrelationID: merged[engine.PropCorrelation],
		Level:         level,
		Properties:    merged,
		Measures:      measures,
	}
}

func (r *Reporter) publish(event Event) {
	if r.metrics != nil {
		r.metrics.RecordEvent(event.Name, event.Level)
	}
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(event); err != nil {
		r.logger.WithError(err).Debugf("Telemetry event %s not queued", event.Name)
	}
}

// OTelReporter is the migrated telemetry channel. It records events as span
// events on the active span, or on a short-lived span when none is active.
type OTelReporter struct {
	tracer *Tracer
}

var _ engine.TelemetryReporter = (*OTelReporter)(nil)

// NewOTelReporter creates a reporter backed by tracer.
func NewOTelReporter(tracer *Tracer) *OTelReporter {
	return &OTelReporter{tracer: tracer}
}

// SendEvent implements engine.TelemetryReporter.
func (r *OTelReporter) SendEvent(ctx context.Context, name string, props map[string]string, measures map[string]float64) {
	r.record(ctx, name, eventAttributes(props, measures), nil)
}

// SendErrorEvent implements engine.TelemetryReporter.
func (r *OTelReporter) SendErrorEvent(ctx context.Context, name string, err *engine.FxError, props map[string]string, measures map[string]float64) {
	attrs := eventAttributes(props, measures)
	if err != nil {
		attrs = append(attrs,
			AttrErrorClass.String(string(err.Class)),
			AttrErrorName.String(err.Name),
			AttrErrorMessage.String(err.Message),
		)
	}
	r.record(ctx, name, attrs, err)
}

func (r *OTelReporter) record(ctx context.Context, name string, attrs []attribute.KeyValue, err *engine.FxError) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		_, span = r.tracer.Start(ctx, "telemetry."+name)
		defer span.End()
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err, trace.WithAttributes(attrs...))
	}
}

// eventAttributes converts properties and measures into sorted attributes.
func eventAttributes(props map[string]string, measures map[string]float64) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(props)+len(measures))
	for k, v := range props {
		attrs = append(attrs, attribute.String("fx."+k, v))
	}
	for k, v := range measures {
		attrs = append(attrs, attribute.Float64("fx."+k, v))
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Key < attrs[j].Key })
	return attrs
}

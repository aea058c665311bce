// Package telemetry provides the observability stack of fxctl.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and usage telemetry events into a single Telemetry
// value created at startup.
//
// # Telemetry channels
//
// Actions report usage telemetry through two independent channels, both of
// which implement engine.TelemetryReporter:
//
//   - Reporter, the primary channel. Events are queued on an EventPublisher
//     and delivered in order to subscribers in the background. The history
//     store subscribes to persist every event. Events are also counted in
//     Prometheus.
//   - OTelReporter, the migrated channel. Events become span events on the
//     active span, or on a short span of their own.
//
// Neither channel blocks its caller on transport. A full event buffer drops
// the event.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Logging:
//
//	logger := tel.Logger.NewComponentLogger("lifecycle")
//	logger.WithAction("deploy", correlationID).Info("Running steps")
//
// Spans:
//
//	ctx, span := tel.Tracer.StartAction(ctx, "deploy", correlationID)
//	defer span.End()
//	err := run(ctx)
//	telemetry.SetSpanStatus(span, err)
//
// # Metrics
//
// Metrics are recorded in a private registry. Set MetricsConfig.ListenAddress
// to expose them over HTTP together with a /healthz route.
package telemetry

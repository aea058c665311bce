package telemetry

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Telemetry is the observability stack of one fxctl process: the logger,
// the tracer, Prometheus metrics and both telemetry channels.
type Telemetry struct {
	Logger   *Logger
	Tracer   *Tracer
	Metrics  *Metrics
	Events   *EventPublisher
	Reporter *Reporter
	Migrated *OTelReporter
	Config   *Config

	server *MetricsServer
}

// Option customizes NewTelemetry.
type Option func(*Telemetry)

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(l *Logger) Option {
	return func(t *Telemetry) { t.Logger = l }
}

// NewTelemetry validates cfg and builds the stack.
func NewTelemetry(cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Telemetry{Config: cfg}
	for _, opt := range opts {
		opt(t)
	}
	if t.Logger == nil {
		logger, err := NewLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
		t.Logger = logger
	}

	tracer, err := NewTracer(cfg)
	if err != nil {
		return nil, err
	}
	t.Tracer = tracer
	t.Metrics = NewMetrics(cfg.Metrics)
	t.Events = NewEventPublisher(cfg.Events)
	t.Reporter = NewReporter(t.Events, t.Metrics, t.Logger, map[string]string{
		"service-version": cfg.ServiceVersion,
		"environment":     cfg.Environment,
	})
	t.Migrated = NewOTelReporter(tracer)
	return t, nil
}

// StartMetricsServer serves the metrics when an address is configured.
func (t *Telemetry) StartMetricsServer() error {
	server, err := t.Metrics.StartMetricsServer(t.Logger)
	if err != nil {
		return err
	}
	t.server = server
	return nil
}

// Shutdown drains the event queue, flushes spans and stops the metrics
// server in parallel, bounded by Events.ShutdownTimeout.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if d := t.Config.Events.ShutdownTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, stop := range []func(context.Context) error{t.Events.Shutdown, t.Tracer.Shutdown, t.server.Shutdown} {
		g.Go(func() error {
			if err := stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

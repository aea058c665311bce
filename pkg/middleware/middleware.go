// Package middleware wraps lifecycle actions with questions, progress,
// telemetry and error normalization.
//
// Every invocation walks the same states: start, question, progress start,
// running, then success or error, then end. Each concern is an Interceptor;
// Execute composes them into one chain around the action.
package middleware

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/question"
	"github.com/fxctl/fxctl/pkg/telemetry"
	"github.com/fxctl/fxctl/pkg/ui"
)

// Action is the function an invocation runs once questions are answered.
type Action[T any] func(ctx context.Context, actx *ActionContext) (T, error)

// QuestionsFunc builds the question tree for one invocation. A nil node
// means nothing needs to be asked.
type QuestionsFunc func(ctx context.Context, inputs question.Inputs) (*question.Node, error)

// PrepareFunc loads what an invocation needs before it asks questions.
// Its errors and panics are reported like action errors.
type PrepareFunc func(ctx context.Context, opts *ActionOptions, actx *ActionContext) error

// ErrorHandler replaces the default normalization of action errors.
type ErrorHandler func(err error, opts *ActionOptions) *engine.FxError

// ActionOptions configures how one action is wrapped.
type ActionOptions struct {
	Component string
	Method    string

	// TelemetryEvent is the event name; defaults to Method.
	TelemetryEvent  string
	EnableTelemetry bool

	// Prepare runs before the questions are asked. It may adjust the options
	// of this invocation, e.g. the progress step count once the work is known.
	Prepare PrepareFunc

	Questions QuestionsFunc

	EnableProgress bool
	ProgressTitle  string
	ProgressSteps  int

	ErrorHandler ErrorHandler

	// Defaults applied to errors that do not set them.
	ErrorSource string
	HelpLink    string
	IssueLink   string
}

// Name returns the qualified action name.
func (o *ActionOptions) Name() string {
	if o.Component == "" {
		return o.Method
	}
	return o.Component + "." + o.Method
}

func (o *ActionOptions) eventName() string {
	if o.TelemetryEvent != "" {
		return o.TelemetryEvent
	}
	return o.Method
}

func (o *ActionOptions) defaults() engine.Defaults {
	source := o.ErrorSource
	if source == "" {
		source = o.Component
	}
	return engine.Defaults{Source: source, HelpLink: o.HelpLink, IssueLink: o.IssueLink}
}

// ActionContext is private to one invocation. Actions add telemetry
// properties and measures to it and advance its progress bar.
type ActionContext struct {
	Name          string
	CorrelationID string
	Inputs        question.Inputs
	ProgressBar   ui.ProgressBar
	Props         map[string]string
	Measures      map[string]float64
}

// Invocation is the state shared by the interceptors of one call.
type Invocation struct {
	Options *ActionOptions
	Context *ActionContext

	chain []Interceptor
	run   func(ctx context.Context) error
}

// Next continues the chain.
type Next func(ctx context.Context) error

// Interceptor handles one concern of an invocation and calls next to
// continue. Returning without calling next stops the chain.
type Interceptor func(ctx context.Context, inv *Invocation, next Next) error

func (inv *Invocation) proceed(ctx context.Context, i int) error {
	if i == len(inv.chain) {
		return inv.run(ctx)
	}
	return inv.chain[i](ctx, inv, func(ctx context.Context) error {
		return inv.proceed(ctx, i+1)
	})
}

// ActionMetrics counts actions. *telemetry.Metrics implements it.
type ActionMetrics interface {
	RecordActionStarted()
	RecordActionFinished(action, status string, duration time.Duration)
}

// Executor runs actions through the interceptor chain.
type Executor struct {
	ui       ui.UserInteraction
	primary  engine.TelemetryReporter
	migrated engine.TelemetryReporter
	metrics  ActionMetrics
	eval     question.ExprEvaluator
	logger   *telemetry.Logger
	tracer   *telemetry.Tracer
	extra    []Interceptor

	pending sync.WaitGroup
}

// Option configures an Executor.
type Option func(*Executor)

// WithTelemetry sets the primary and migrated telemetry channels. Either may
// be nil.
func WithTelemetry(primary, migrated engine.TelemetryReporter) Option {
	return func(e *Executor) {
		if primary != nil {
			e.primary = primary
		}
		e.migrated = migrated
	}
}

// WithMetrics sets the action metrics.
func WithMetrics(m ActionMetrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithEvaluator sets the evaluator for expression conditions in questions.
func WithEvaluator(eval question.ExprEvaluator) Option {
	return func(e *Executor) { e.eval = eval }
}

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l.NewComponentLogger("middleware")
		}
	}
}

// WithTracer opens a span around every action. Migrated telemetry events
// are recorded on it.
func WithTracer(t *telemetry.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithInterceptors appends interceptors that run right before the action.
func WithInterceptors(interceptors ...Interceptor) Option {
	return func(e *Executor) { e.extra = append(e.extra, interceptors...) }
}

// NewExecutor creates an executor prompting through u.
func NewExecutor(u ui.UserInteraction, opts ...Option) *Executor {
	e := &Executor{
		ui:      u,
		primary: engine.NopReporter{},
		logger:  telemetry.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wait blocks until all migrated telemetry emissions have finished.
func (e *Executor) Wait() {
	e.pending.Wait()
}

// Execute runs action wrapped by the executor's interceptors. inputs is the
// input bag questions are answered into; it may be nil. The returned error
// is always an *engine.FxError.
func Execute[T any](ctx context.Context, e *Executor, opts ActionOptions, inputs question.Inputs, action Action[T]) (T, error) {
	if inputs == nil {
		inputs = question.Inputs{}
	}

	inv := &Invocation{
		Options: &opts,
		Context: &ActionContext{
			Name:          opts.Name(),
			CorrelationID: uuid.NewString(),
			Inputs:        inputs,
			ProgressBar:   nopBar{},
			Props:         map[string]string{},
			Measures:      map[string]float64{},
		},
	}
	inv.chain = append([]Interceptor{
		e.telemetryInterceptor,
		e.errorInterceptor,
		e.questionInterceptor,
		e.progressInterceptor,
	}, e.extra...)

	var result T
	inv.run = func(ctx context.Context) (err error) {
		result, err = action(ctx, inv.Context)
		return err
	}

	if err := inv.proceed(ctx, 0); err != nil {
		var zero T
		return zero, engine.Normalize(err, opts.defaults())
	}
	return result, nil
}

// telemetryInterceptor emits the start, success and error events and
// records the time cost of the invocation.
func (e *Executor) telemetryInterceptor(ctx context.Context, inv *Invocation, next Next) error {
	actx := inv.Context
	opts := inv.Options
	actx.Props[engine.PropComponent] = opts.Component
	actx.Props[engine.PropMethod] = opts.Method
	actx.Props[engine.PropCorrelation] = actx.CorrelationID

	ctx, span := e.tracer.StartAction(ctx, actx.Name, actx.CorrelationID)
	defer span.End()
	logger := e.logger.WithAction(actx.Name, actx.CorrelationID)
	logger.Debug("Action started")

	if e.metrics != nil {
		e.metrics.RecordActionStarted()
	}
	if opts.EnableTelemetry {
		e.send(ctx, opts.eventName()+"-start", actx.Props, nil, nil)
	}

	start := time.Now()
	err := next(ctx)
	elapsed := time.Since(start)
	actx.Measures[engine.MeasureTimeCost] = float64(elapsed.Milliseconds())

	status := "success"
	if err != nil {
		status = "error"
		if engine.IsCancel(err) {
			status = "canceled"
		}
	}
	if e.metrics != nil {
		e.metrics.RecordActionFinished(actx.Name, status, elapsed)
	}

	if opts.EnableTelemetry {
		if err == nil {
			actx.Props[engine.PropSuccess] = engine.ValueYes
			e.send(ctx, opts.eventName(), actx.Props, actx.Measures, nil)
		} else {
			fe := engine.Normalize(err, opts.defaults())
			actx.Props[engine.PropSuccess] = engine.ValueNo
			actx.Props[engine.PropErrorType] = string(fe.Class)
			actx.Props[engine.PropErrorCode] = fe.Source + "." + fe.Name
			actx.Props[engine.PropErrorMsg] = fe.Message
			e.send(ctx, opts.eventName(), actx.Props, actx.Measures, fe)
		}
	}

	telemetry.SetSpanStatus(span, err)
	if err != nil {
		logger.WithError(err).Debugf("Action finished with status %s", status)
	} else {
		logger.Debugf("Action succeeded in %s", elapsed)
	}
	return err
}

// errorInterceptor normalizes errors coming out of the rest of the chain.
// A panic in questions, progress, extra interceptors or the action becomes
// an UnhandledError.
func (e *Executor) errorInterceptor(ctx context.Context, inv *Invocation, next Next) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = engine.NewSystemError(inv.Options.defaults().Source, engine.NameUnhandled,
				fmt.Sprintf("action %s panicked: %v", inv.Context.Name, r))
		}
	}()

	err = next(ctx)
	if err == nil {
		return nil
	}
	if inv.Options.ErrorHandler != nil {
		if fe := inv.Options.ErrorHandler(err, inv.Options); fe != nil {
			return fe
		}
	}
	return engine.Normalize(err, inv.Options.defaults())
}

// questionInterceptor prepares the invocation and asks the action's
// questions before it runs.
func (e *Executor) questionInterceptor(ctx context.Context, inv *Invocation, next Next) error {
	if inv.Options.Prepare != nil {
		if err := inv.Options.Prepare(ctx, inv.Options, inv.Context); err != nil {
			return err
		}
	}
	if inv.Options.Questions == nil {
		return next(ctx)
	}
	node, err := inv.Options.Questions(ctx, inv.Context.Inputs)
	if err != nil {
		return err
	}
	if node != nil {
		if e.ui == nil {
			return engine.NewSystemError(engine.SourceCore, engine.NameUnhandled,
				"action "+inv.Context.Name+" asks questions but no user interaction is configured")
		}
		traverser := question.NewTraverser(e.ui, e.eval, e.logger.Zerolog())
		if err := traverser.Traverse(ctx, node, inv.Context.Inputs); err != nil {
			return err
		}
	}
	return next(ctx)
}

// progressInterceptor starts a progress bar and ends it on every exit path.
func (e *Executor) progressInterceptor(ctx context.Context, inv *Invocation, next Next) error {
	if !inv.Options.EnableProgress || e.ui == nil {
		return next(ctx)
	}
	title := inv.Options.ProgressTitle
	if title == "" {
		title = inv.Context.Name
	}
	bar := e.ui.CreateProgressBar(title, inv.Options.ProgressSteps)
	bar.Start("")
	inv.Context.ProgressBar = bar

	ended := false
	defer func() {
		if !ended {
			bar.End(false)
		}
	}()

	err := next(ctx)
	bar.End(err == nil)
	ended = true
	return err
}

// send emits on the primary channel and, asynchronously, on the migrated
// channel. A failure of one channel never affects the other.
func (e *Executor) send(ctx context.Context, name string, props map[string]string, measures map[string]float64, fe *engine.FxError) {
	props = maps.Clone(props)
	measures = maps.Clone(measures)

	if e.migrated != nil {
		e.pending.Add(1)
		go func(ctx context.Context) {
			defer e.pending.Done()
			e.emit(ctx, e.migrated, "migrated", name, props, measures, fe)
		}(context.WithoutCancel(ctx))
	}
	e.emit(ctx, e.primary, "primary", name, props, measures, fe)
}

func (e *Executor) emit(ctx context.Context, r engine.TelemetryReporter, channel, name string, props map[string]string, measures map[string]float64, fe *engine.FxError) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.WithField("channel", channel).Debugf("Telemetry event %s dropped: %v", name, rec)
		}
	}()
	if fe != nil {
		r.SendErrorEvent(ctx, name, fe, props, measures)
		return
	}
	r.SendEvent(ctx, name, props, measures)
}

// nopBar is the progress bar of actions without progress reporting.
type nopBar struct{}

func (nopBar) Start(string) {}
func (nopBar) Next(string)  {}
func (nopBar) End(bool)     {}

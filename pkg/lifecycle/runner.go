package lifecycle

import (
	"context"
	"fmt"
	"maps"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxctl/fxctl/pkg/config"
	"github.com/fxctl/fxctl/pkg/driver"
	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/envstore"
	"github.com/fxctl/fxctl/pkg/policy"
	"github.com/fxctl/fxctl/pkg/question"
	"github.com/fxctl/fxctl/pkg/telemetry"
)

// PolicyChecker guards steps before they run.
type PolicyChecker interface {
	CheckStep(ctx context.Context, in policy.StepInput) (*policy.Result, error)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Uses     string
	Skipped  bool
	Outputs  map[string]string
	Duration time.Duration
	Err      error

	// Unresolved lists ${{NAME}} placeholders that had no value.
	Unresolved []string
}

// Result is the outcome of a lifecycle run.
type Result struct {
	Lifecycle Name
	Steps     []StepResult

	// Outputs merges the outputs of every successful step, later steps winning.
	Outputs map[string]string

	// EnvUpdates holds the values written to the environment file.
	EnvUpdates map[string]string
}

// Unresolved returns the placeholders left unresolved by any step, sorted.
func (r *Result) Unresolved() []string {
	seen := make(map[string]struct{})
	for _, s := range r.Steps {
		for _, name := range s.Unresolved {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runner runs lifecycle steps through the driver registry.
type Runner struct {
	registry *driver.Registry
	store    *envstore.Store
	policy   PolicyChecker
	eval     *config.StarlarkEvaluator
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	logger   zerolog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPolicy checks every step with p before running it.
func WithPolicy(p PolicyChecker) RunnerOption {
	return func(r *Runner) { r.policy = p }
}

// WithMetrics records step counts and durations.
func WithMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer opens a span per step.
func WithTracer(t *telemetry.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// WithEvaluator replaces the evaluator of step "if" guards.
func WithEvaluator(e *config.StarlarkEvaluator) RunnerOption {
	return func(r *Runner) { r.eval = e }
}

// NewRunner creates a runner. Outputs mapped by writeToEnvironmentFile are
// persisted through store.
func NewRunner(registry *driver.Registry, store *envstore.Store, logger zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: registry,
		store:    store,
		eval:     config.NewStarlarkEvaluator(0),
		logger:   logger.With().Str("component", "lifecycle").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run is the mutable state of one lifecycle run.
type run struct {
	name    Name
	inputs  question.Inputs
	dctx    *driver.Context
	result  *Result
	updates map[string]string
}

func (st *run) lookup(name string) (string, bool) {
	if name == "FX_ENV" && st.dctx.Env != "" {
		return st.dctx.Env, true
	}
	if v, ok := st.updates[name]; ok {
		return v, true
	}
	return os.LookupEnv(name)
}

// Run runs the steps of a lifecycle in order and stops at the first failure.
// Environment updates of the steps that succeeded are persisted even when a
// later step fails.
func (r *Runner) Run(ctx context.Context, model *ProjectModel, name Name, inputs question.Inputs, dctx *driver.Context) (*Result, error) {
	steps, err := model.Steps(name)
	if err != nil {
		return nil, err
	}
	if inputs == nil {
		inputs = question.Inputs{}
	}

	st := &run{
		name:    name,
		inputs:  inputs,
		dctx:    dctx,
		result:  &Result{Lifecycle: name, Outputs: map[string]string{}, EnvUpdates: map[string]string{}},
		updates: map[string]string{},
	}

	logger := r.logger.With().Str("lifecycle", string(name)).Str("env", dctx.Env).Logger()
	logger.Info().Int("steps", len(steps)).Msg("Lifecycle started")

	tasks := make([]engine.Task[StepResult], len(steps))
	labels := make([]string, len(steps))
	for i, step := range steps {
		labels[i] = step.Label()
		tasks[i] = func(ctx context.Context) (StepResult, error) {
			res := r.runStep(ctx, st, step, logger)
			st.result.Steps = append(st.result.Steps, res)
			return res, res.Err
		}
	}

	group := engine.NewTaskGroup(tasks, engine.TaskGroupOptions{
		Names:      labels,
		FastFail:   true,
		Cancelable: true,
		OnProgress: func(u engine.ProgressUpdate) {
			if dctx.Progress != nil {
				dctx.Progress.Next(fmt.Sprintf("%s (%d/%d)", u.Name, u.Completed, u.Total))
			}
		},
	})
	_, runErr := group.Run(ctx)

	if err := r.persist(ctx, st); err != nil {
		if runErr == nil {
			return st.result, err
		}
		logger.Error().Err(err).Msg("Failed to persist environment updates")
	}

	if runErr != nil {
		logger.Warn().Err(runErr).Msg("Lifecycle failed")
		return st.result, runErr
	}
	logger.Info().Int("outputs", len(st.result.Outputs)).Msg("Lifecycle completed")
	return st.result, nil
}

func (r *Runner) runStep(ctx context.Context, st *run, step Step, logger zerolog.Logger) StepResult {
	res := StepResult{Name: step.Label(), Uses: step.Uses}
	start := time.Now()
	log := logger.With().Str("step", step.Label()).Str("driver", step.Uses).Logger()

	if step.If != "" {
		ok, err := r.eval.EvalBool(ctx, step.If, map[string]interface{}{
			"inputs":    map[string]interface{}(st.inputs),
			"env":       st.envVars(),
			"lifecycle": string(st.name),
		})
		if err != nil {
			res.Err = engine.NewUserError(Source, engine.NameInvalidLifecycle,
				fmt.Sprintf("step %s: invalid condition: %v", step.Label(), err)).
				WithCause(err).
				WithDetail("if", step.If)
			return res
		}
		if !ok {
			log.Info().Str("if", step.If).Msg("Step skipped")
			res.Skipped = true
			r.recordStep(step.Uses, "skipped", time.Since(start))
			return res
		}
	}

	exp := newExpander(st.lookup)
	args, _ := exp.Value(step.With).(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	stepEnv := exp.Map(step.Env)
	res.Unresolved = exp.Unresolved()
	if len(res.Unresolved) > 0 {
		log.Warn().Strs("placeholders", res.Unresolved).Msg("Unresolved placeholders")
	}

	if r.policy != nil {
		if _, err := r.policy.CheckStep(ctx, policy.StepInput{
			Lifecycle: string(st.name),
			Env:       st.dctx.Env,
			Step:      policy.StepRef{Uses: step.Uses, Name: step.Name, With: args},
		}); err != nil {
			res.Err = err
			r.recordStep(step.Uses, "denied", time.Since(start))
			return res
		}
	}

	drv, err := r.registry.Get(step.Uses)
	if err != nil {
		res.Err = err
		return res
	}

	ctx, span := r.tracer.StartStep(ctx, string(st.name), step.Uses, step.Label())
	defer span.End()

	dctx := *st.dctx
	dctx.StepEnv = stepEnv
	dctx.Logger = log

	log.Debug().Msg("Step started")
	outputs, err := drv.Run(ctx, args, &dctx)
	res.Duration = time.Since(start)
	if err != nil {
		telemetry.SetSpanStatus(span, err)
		r.recordStep(step.Uses, "failure", res.Duration)
		log.Error().Err(err).Dur("duration", res.Duration).Msg("Step failed")
		res.Err = err
		return res
	}
	telemetry.SetSpanStatus(span, nil)
	r.recordStep(step.Uses, "success", res.Duration)

	res.Outputs = outputs
	maps.Copy(st.result.Outputs, outputs)
	for envKey, outputKey := range step.WriteToEnvironmentFile {
		v, ok := outputs[outputKey]
		if !ok {
			log.Warn().Str("output", outputKey).Str("key", envKey).Msg("Driver did not produce the mapped output")
			continue
		}
		st.updates[envKey] = v
	}

	log.Info().Dur("duration", res.Duration).Int("outputs", len(outputs)).Msg("Step completed")
	return res
}

// envVars is the "env" value seen by step conditions: the process
// environment overlaid with updates from earlier steps.
func (st *run) envVars() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	maps.Copy(env, st.updates)
	if st.dctx.Env != "" {
		env["FX_ENV"] = st.dctx.Env
	}
	return env
}

func (r *Runner) persist(ctx context.Context, st *run) error {
	if len(st.updates) == 0 {
		return nil
	}
	if st.dctx.Env == "" {
		r.logger.Warn().Int("keys", len(st.updates)).Msg("No environment selected, outputs not persisted")
		return nil
	}

	current, err := r.store.Read(ctx, st.dctx.ProjectPath, st.dctx.Env, envstore.ReadOptions{Silent: true})
	if err != nil {
		return err
	}
	maps.Copy(current, st.updates)
	if err := r.store.Write(ctx, st.dctx.ProjectPath, st.dctx.Env, current); err != nil {
		return err
	}
	maps.Copy(st.result.EnvUpdates, st.updates)
	return nil
}

func (r *Runner) recordStep(driverName, status string, d time.Duration) {
	if r.metrics != nil {
		r.metrics.RecordStep(driverName, status, d)
	}
}

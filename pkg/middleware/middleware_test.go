package middleware

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/question"
	"github.com/fxctl/fxctl/pkg/ui"
)

type sentEvent struct {
	name     string
	props    map[string]string
	measures map[string]float64
	err      *engine.FxError
}

type recordingReporter struct {
	mu     sync.Mutex
	events []sentEvent
	panics bool
	block  chan struct{}
}

func (r *recordingReporter) SendEvent(_ context.Context, name string, props map[string]string, measures map[string]float64) {
	r.record(sentEvent{name: name, props: props, measures: measures})
}

func (r *recordingReporter) SendErrorEvent(_ context.Context, name string, err *engine.FxError, props map[string]string, measures map[string]float64) {
	r.record(sentEvent{name: name, props: props, measures: measures, err: err})
}

func (r *recordingReporter) record(e sentEvent) {
	if r.block != nil {
		<-r.block
	}
	if r.panics {
		panic("reporter down")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingReporter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, e := range r.events {
		names = append(names, e.name)
	}
	return names
}

func (r *recordingReporter) last() sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type recordingMetrics struct {
	started  int
	statuses []string
}

func (m *recordingMetrics) RecordActionStarted() { m.started++ }

func (m *recordingMetrics) RecordActionFinished(_, status string, _ time.Duration) {
	m.statuses = append(m.statuses, status)
}

// cancelingUI cancels every select prompt.
type cancelingUI struct {
	*ui.Scripted
}

func (cancelingUI) SelectOption(context.Context, ui.SingleSelectConfig) ui.InputResult[string] {
	return ui.Canceled[string]()
}

func deployOptions() ActionOptions {
	return ActionOptions{
		Component:       "core",
		Method:          "deploy",
		EnableTelemetry: true,
		EnableProgress:  true,
		ProgressTitle:   "Deploying",
		ProgressSteps:   2,
		ErrorSource:     "core",
		HelpLink:        "https://help.example/fx",
		IssueLink:       "https://issues.example/fx",
	}
}

func TestExecute_Success(t *testing.T) {
	var out bytes.Buffer
	primary := &recordingReporter{}
	migrated := &recordingReporter{}
	metrics := &recordingMetrics{}
	ex := NewExecutor(ui.NewScripted(nil, &out), WithTelemetry(primary, migrated), WithMetrics(metrics))

	got, err := Execute(context.Background(), ex, deployOptions(), nil,
		func(_ context.Context, actx *ActionContext) (string, error) {
			actx.ProgressBar.Next("upload")
			actx.Props["target"] = "dev"
			return "done", nil
		})
	ex.Wait()

	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, []string{"deploy-start", "deploy"}, primary.names())
	assert.ElementsMatch(t, []string{"deploy-start", "deploy"}, migrated.names())

	final := primary.last()
	assert.Nil(t, final.err)
	assert.Equal(t, engine.ValueYes, final.props[engine.PropSuccess])
	assert.Equal(t, "dev", final.props["target"])
	assert.Equal(t, "core", final.props[engine.PropComponent])
	assert.NotEmpty(t, final.props[engine.PropCorrelation])
	assert.Contains(t, final.measures, engine.MeasureTimeCost)

	assert.Equal(t, 1, metrics.started)
	assert.Equal(t, []string{"success"}, metrics.statuses)

	assert.Contains(t, out.String(), "(1/2) upload")
	assert.Contains(t, out.String(), "Deploying succeeded")
}

func TestExecute_BareErrorGetsDefaults(t *testing.T) {
	var out bytes.Buffer
	primary := &recordingReporter{}
	ex := NewExecutor(ui.NewScripted(nil, &out), WithTelemetry(primary, nil))

	_, err := Execute(context.Background(), ex, deployOptions(), nil,
		func(context.Context, *ActionContext) (int, error) {
			return 0, errors.New("connection refused")
		})

	fe, ok := engine.AsFxError(err)
	require.True(t, ok)
	assert.Equal(t, engine.ClassSystem, fe.Class)
	assert.Equal(t, engine.NameUnhandled, fe.Name)
	assert.Equal(t, "core", fe.Source)
	assert.Equal(t, "https://issues.example/fx", fe.IssueLink)

	final := primary.last()
	require.NotNil(t, final.err)
	assert.Equal(t, engine.ValueNo, final.props[engine.PropSuccess])
	assert.Equal(t, engine.ValueSystemError, final.props[engine.PropErrorType])
	assert.Equal(t, "core.UnhandledError", final.props[engine.PropErrorCode])
	assert.Contains(t, out.String(), "Deploying failed")
}

func TestExecute_UserErrorDefaultsOnlyWhenUnset(t *testing.T) {
	ex := NewExecutor(ui.NewScripted(nil, nil))

	_, err := Execute(context.Background(), ex, deployOptions(), nil,
		func(context.Context, *ActionContext) (int, error) {
			return 0, engine.NewUserError("", "BadThing", "bad")
		})
	fe, _ := engine.AsFxError(err)
	assert.Equal(t, "core", fe.Source)
	assert.Equal(t, "https://help.example/fx", fe.HelpLink)

	_, err = Execute(context.Background(), ex, deployOptions(), nil,
		func(context.Context, *ActionContext) (int, error) {
			return 0, engine.NewUserError("driver", "BadThing", "bad").WithHelpLink("https://own.example")
		})
	fe, _ = engine.AsFxError(err)
	assert.Equal(t, "driver", fe.Source)
	assert.Equal(t, "https://own.example", fe.HelpLink)
}

func TestExecute_CustomErrorHandler(t *testing.T) {
	opts := deployOptions()
	opts.ErrorHandler = func(err error, o *ActionOptions) *engine.FxError {
		return engine.NewUserError(o.Component, "Mapped", "mapped: "+err.Error())
	}

	_, err := Execute(context.Background(), NewExecutor(nil), opts, nil,
		func(context.Context, *ActionContext) (int, error) { return 0, errors.New("raw") })
	assert.True(t, engine.HasName(err, "Mapped"))
}

func TestExecute_QuestionsFillInputs(t *testing.T) {
	s := ui.NewScripted(map[string]any{"env": "dev"}, nil)
	opts := deployOptions()
	opts.Questions = func(context.Context, question.Inputs) (*question.Node, error) {
		return question.SingleSelect("env", "Environment", ui.Option{ID: "dev"}, ui.Option{ID: "prod"}), nil
	}

	got, err := Execute(context.Background(), NewExecutor(s), opts, question.Inputs{},
		func(_ context.Context, actx *ActionContext) (string, error) {
			return actx.Inputs.String("env"), nil
		})
	require.NoError(t, err)
	assert.Equal(t, "dev", got)
}

func TestExecute_CancelDuringQuestions(t *testing.T) {
	primary := &recordingReporter{}
	metrics := &recordingMetrics{}
	ran := false
	opts := deployOptions()
	opts.Questions = func(context.Context, question.Inputs) (*question.Node, error) {
		return question.SingleSelect("env", "Environment", ui.Option{ID: "dev"}, ui.Option{ID: "prod"}), nil
	}

	ex := NewExecutor(cancelingUI{ui.NewScripted(nil, nil)}, WithTelemetry(primary, nil), WithMetrics(metrics))
	_, err := Execute(context.Background(), ex, opts, nil,
		func(context.Context, *ActionContext) (int, error) {
			ran = true
			return 0, nil
		})

	assert.True(t, engine.IsCancel(err))
	assert.False(t, ran)
	assert.Equal(t, []string{"deploy-start", "deploy"}, primary.names())
	assert.Equal(t, []string{"canceled"}, metrics.statuses)
}

func TestExecute_QuestionsFuncError(t *testing.T) {
	opts := deployOptions()
	boom := errors.New("cannot list subscriptions")
	opts.Questions = func(context.Context, question.Inputs) (*question.Node, error) { return nil, boom }

	_, err := Execute(context.Background(), NewExecutor(ui.NewScripted(nil, nil)), opts, nil,
		func(context.Context, *ActionContext) (int, error) {
			t.Fatal("action must not run")
			return 0, nil
		})
	assert.ErrorIs(t, err, boom)
}

func TestExecute_PanicBecomesSystemError(t *testing.T) {
	var out bytes.Buffer
	_, err := Execute(context.Background(), NewExecutor(ui.NewScripted(nil, &out)), deployOptions(), nil,
		func(context.Context, *ActionContext) (int, error) {
			panic("nil map")
		})

	assert.True(t, engine.IsSystemError(err))
	assert.Contains(t, err.Error(), "nil map")
	assert.Contains(t, out.String(), "Deploying failed")
}

func TestExecute_PanicInQuestions(t *testing.T) {
	primary := &recordingReporter{}
	opts := deployOptions()
	opts.Questions = func(context.Context, question.Inputs) (*question.Node, error) {
		node := question.SingleSelect("env", "Environment")
		node.DynamicOptions = func(context.Context, question.Inputs) ([]ui.Option, error) {
			var seen map[string]bool
			seen["dev"] = true
			return nil, nil
		}
		return node, nil
	}

	ex := NewExecutor(ui.NewScripted(nil, nil), WithTelemetry(primary, nil))
	var err error
	require.NotPanics(t, func() {
		_, err = Execute(context.Background(), ex, opts, nil,
			func(context.Context, *ActionContext) (int, error) {
				t.Fatal("action must not run")
				return 0, nil
			})
	})

	require.Error(t, err)
	assert.True(t, engine.IsSystemError(err))
	assert.True(t, engine.HasName(err, engine.NameUnhandled))
	assert.Contains(t, err.Error(), "nil map")
	assert.Equal(t, []string{"deploy-start", "deploy"}, primary.names())
	require.NotNil(t, primary.last().err)
	assert.Equal(t, engine.NameUnhandled, primary.last().err.Name)
}

func TestExecute_TelemetryDisabled(t *testing.T) {
	primary := &recordingReporter{}
	opts := deployOptions()
	opts.EnableTelemetry = false

	_, err := Execute(context.Background(), NewExecutor(nil, WithTelemetry(primary, nil)), opts, nil,
		func(context.Context, *ActionContext) (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Empty(t, primary.names())
}

func TestExecute_ChannelsAreIndependent(t *testing.T) {
	primary := &recordingReporter{panics: true}
	migrated := &recordingReporter{}
	ex := NewExecutor(nil, WithTelemetry(primary, migrated))

	got, err := Execute(context.Background(), ex, deployOptions(), nil,
		func(context.Context, *ActionContext) (int, error) { return 7, nil })
	ex.Wait()

	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Len(t, migrated.names(), 2)
}

func TestExecute_MigratedChannelDoesNotBlock(t *testing.T) {
	migrated := &recordingReporter{block: make(chan struct{})}
	primary := &recordingReporter{}
	ex := NewExecutor(nil, WithTelemetry(primary, migrated))

	done := make(chan struct{})
	go func() {
		_, _ = Execute(context.Background(), ex, deployOptions(), nil,
			func(context.Context, *ActionContext) (int, error) { return 0, nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("action blocked on the migrated channel")
	}
	assert.Len(t, primary.names(), 2)

	close(migrated.block)
	ex.Wait()
	assert.Len(t, migrated.names(), 2)
}

func TestExecute_InterceptorOrder(t *testing.T) {
	var order []string
	trace := func(name string) Interceptor {
		return func(ctx context.Context, inv *Invocation, next Next) error {
			order = append(order, name+">")
			err := next(ctx)
			order = append(order, "<"+name)
			return err
		}
	}

	ex := NewExecutor(nil, WithInterceptors(trace("a"), trace("b")))
	_, err := Execute(context.Background(), ex, deployOptions(), nil,
		func(context.Context, *ActionContext) (int, error) {
			order = append(order, "run")
			return 0, nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"a>", "b>", "run", "<b", "<a"}, order)
}

func TestExecute_InterceptorShortCircuit(t *testing.T) {
	deny := func(context.Context, *Invocation, Next) error {
		return engine.NewUserError("policy", engine.NamePolicyViolation, "denied")
	}
	_, err := Execute(context.Background(), NewExecutor(nil, WithInterceptors(deny)), deployOptions(), nil,
		func(context.Context, *ActionContext) (int, error) {
			t.Fatal("action must not run")
			return 0, nil
		})
	assert.True(t, engine.HasName(err, engine.NamePolicyViolation))
	assert.Equal(t, "policy", err.(*engine.FxError).Source)
}

func TestActionOptionsName(t *testing.T) {
	assert.Equal(t, "core.deploy", (&ActionOptions{Component: "core", Method: "deploy"}).Name())
	assert.Equal(t, "deploy", (&ActionOptions{Method: "deploy"}).Name())
}

package question

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxctl/fxctl/pkg/config"
	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/ui"
)

// fakeUI answers prompts from per-question queues and records every prompt.
type fakeUI struct {
	ui.Scripted
	responses map[string][]answer
	prompts   []string
	options   map[string][]ui.Option
}

func newFakeUI(responses map[string][]answer) *fakeUI {
	return &fakeUI{responses: responses, options: map[string][]ui.Option{}}
}

func ok(v any) answer { return answer{Kind: ui.ResultSuccess, Value: v} }

func (f *fakeUI) next(name string) answer {
	f.prompts = append(f.prompts, name)
	queue := f.responses[name]
	if len(queue) == 0 {
		return answer{Kind: ui.ResultError, Err: errors.New("unexpected prompt " + name)}
	}
	f.responses[name] = queue[1:]
	return queue[0]
}

func toResult[T any](a answer) ui.InputResult[T] {
	v, _ := a.Value.(T)
	return ui.InputResult[T]{Kind: a.Kind, Value: v, Err: a.Err}
}

func (f *fakeUI) SelectOption(_ context.Context, cfg ui.SingleSelectConfig) ui.InputResult[string] {
	f.options[cfg.Name] = cfg.Options
	return toResult[string](f.next(cfg.Name))
}

func (f *fakeUI) SelectOptions(_ context.Context, cfg ui.MultiSelectConfig) ui.InputResult[[]string] {
	f.options[cfg.Name] = cfg.Options
	return toResult[[]string](f.next(cfg.Name))
}

func (f *fakeUI) InputText(_ context.Context, cfg ui.InputTextConfig) ui.InputResult[string] {
	return toResult[string](f.next(cfg.Name))
}

func (f *fakeUI) SelectFile(_ context.Context, cfg ui.SelectFileConfig) ui.InputResult[string] {
	return toResult[string](f.next(cfg.Name))
}

func (f *fakeUI) SelectFiles(_ context.Context, cfg ui.SelectFilesConfig) ui.InputResult[[]string] {
	return toResult[[]string](f.next(cfg.Name))
}

func (f *fakeUI) SelectFolder(_ context.Context, cfg ui.SelectFolderConfig) ui.InputResult[string] {
	return toResult[string](f.next(cfg.Name))
}

var runtimeOptions = []ui.Option{{ID: "node"}, {ID: "dotnet"}}

// tree: runtime -> (version if runtime == node)
func conditionalTree() *Node {
	version := Text("version", "Node version")
	version.Condition = Equals("runtime", "node")
	return Group(SingleSelect("runtime", "Runtime", runtimeOptions...), version)
}

func TestTraverse_ConditionHolds(t *testing.T) {
	fake := newFakeUI(map[string][]answer{"version": {ok("20")}})
	inputs := Inputs{"runtime": "node"}

	require.NoError(t, Traverse(context.Background(), conditionalTree(), inputs, fake))

	assert.Equal(t, []string{"version"}, fake.prompts)
	assert.Equal(t, "20", inputs["version"])
}

func TestTraverse_ConditionFails(t *testing.T) {
	fake := newFakeUI(nil)
	inputs := Inputs{"runtime": "dotnet"}

	require.NoError(t, Traverse(context.Background(), conditionalTree(), inputs, fake))

	assert.Empty(t, fake.prompts)
	assert.False(t, inputs.Has("version"))
}

func TestTraverse_LaterSiblingSeesFreshAnswer(t *testing.T) {
	fake := newFakeUI(map[string][]answer{
		"runtime": {ok("node")},
		"version": {ok("22")},
	})
	inputs := Inputs{}

	require.NoError(t, Traverse(context.Background(), conditionalTree(), inputs, fake))

	assert.Equal(t, []string{"runtime", "version"}, fake.prompts)
	assert.Equal(t, Inputs{"runtime": "node", "version": "22"}, inputs)
}

func TestTraverse_NoRePrompt(t *testing.T) {
	called := false
	node := SingleSelect("env", "Environment")
	node.DynamicOptions = func(context.Context, Inputs) ([]ui.Option, error) {
		called = true
		return nil, nil
	}

	fake := newFakeUI(nil)
	inputs := Inputs{"env": "dev"}

	require.NoError(t, Traverse(context.Background(), Group(node, Text("name", "Name")), Inputs{"env": "dev", "name": "x"}, fake))
	require.NoError(t, Traverse(context.Background(), node, inputs, fake))

	assert.Empty(t, fake.prompts)
	assert.False(t, called, "dynamic options must not be computed for answered questions")
}

func TestTraverse_DynamicOptionsSeeEarlierAnswers(t *testing.T) {
	sub := SingleSelect("resourceGroup", "Resource group")
	sub.DynamicOptions = func(_ context.Context, in Inputs) ([]ui.Option, error) {
		return []ui.Option{{ID: in.String("subscription") + "-rg"}}, nil
	}

	fake := newFakeUI(map[string][]answer{
		"subscription":  {ok("sub1")},
		"resourceGroup": {ok("sub1-rg")},
	})
	inputs := Inputs{}
	root := Group(SingleSelect("subscription", "Subscription", ui.Option{ID: "sub1"}), sub)

	require.NoError(t, Traverse(context.Background(), root, inputs, fake))
	assert.Equal(t, []ui.Option{{ID: "sub1-rg"}}, fake.options["resourceGroup"])
}

func TestTraverse_CancelAbortsEverything(t *testing.T) {
	fake := newFakeUI(map[string][]answer{
		"a": {{Kind: ui.ResultCancel}},
		"b": {ok("b")},
	})

	err := Traverse(context.Background(), Group(Text("a", "A"), Text("b", "B")), Inputs{}, fake)
	require.Error(t, err)
	assert.True(t, engine.IsCancel(err))
	assert.Equal(t, []string{"a"}, fake.prompts)
}

func TestTraverse_ErrorResultPropagates(t *testing.T) {
	boom := engine.NewMissingInputError("a")
	fake := newFakeUI(map[string][]answer{"a": {{Kind: ui.ResultError, Err: boom}}})

	err := Traverse(context.Background(), Text("a", "A"), Inputs{}, fake)
	assert.ErrorIs(t, err, boom)
}

func TestTraverse_SkipStoresNothing(t *testing.T) {
	fake := newFakeUI(map[string][]answer{"a": {{Kind: ui.ResultSkip}}})
	inputs := Inputs{}

	require.NoError(t, Traverse(context.Background(), Text("a", "A"), inputs, fake))
	assert.False(t, inputs.Has("a"))
}

func TestTraverse_Back(t *testing.T) {
	fake := newFakeUI(map[string][]answer{
		"a": {ok("first"), ok("second")},
		"b": {{Kind: ui.ResultBack}, ok("done")},
	})
	inputs := Inputs{}

	require.NoError(t, Traverse(context.Background(), Group(Text("a", "A"), Text("b", "B")), inputs, fake))

	assert.Equal(t, []string{"a", "b", "a", "b"}, fake.prompts)
	assert.Equal(t, Inputs{"a": "second", "b": "done"}, inputs)
}

func TestTraverse_ChildConditionOnParentAnswer(t *testing.T) {
	trigger := MultiSelect("triggers", "Triggers", ui.Option{ID: "http"}, ui.Option{ID: "timer"})
	trigger.Condition = &Condition{Equals: "function"}

	root := SingleSelect("capability", "Capability", ui.Option{ID: "function"}, ui.Option{ID: "tab"})
	root.AddChild(trigger)

	fake := newFakeUI(map[string][]answer{"triggers": {ok([]string{"http"})}})
	inputs := Inputs{"capability": "function"}
	require.NoError(t, Traverse(context.Background(), root, inputs, fake))
	assert.Equal(t, []string{"http"}, inputs.Strings("triggers"))

	fake = newFakeUI(nil)
	require.NoError(t, Traverse(context.Background(), root, Inputs{"capability": "tab"}, fake))
	assert.Empty(t, fake.prompts)
}

func TestTraverse_Functional(t *testing.T) {
	calls := 0
	fn := Functional("appName", func(_ context.Context, in Inputs) (any, error) {
		calls++
		return in.String("folder") + "-app", nil
	})
	child := Text("desc", "Description")
	child.Condition = &Condition{Func: func(subject any, _ Inputs) string {
		if subject == "demo-app" {
			return ""
		}
		return "not demo"
	}}
	fn.AddChild(child)

	fake := newFakeUI(map[string][]answer{"desc": {ok("hello")}})
	inputs := Inputs{"folder": "demo"}
	require.NoError(t, Traverse(context.Background(), fn, inputs, fake))

	assert.Equal(t, 1, calls)
	assert.Equal(t, "demo-app", inputs["appName"])
	assert.Equal(t, "hello", inputs["desc"])

	failing := Functional("x", func(context.Context, Inputs) (any, error) { return nil, errors.New("boom") })
	assert.Error(t, Traverse(context.Background(), failing, Inputs{}, fake))
}

func TestTraverse_PresetValueValidated(t *testing.T) {
	node := Text("name", "Name")
	node.Validate = func(v any, _ Inputs) string {
		if s, _ := v.(string); len(s) > 3 {
			return "too long"
		}
		return ""
	}

	err := Traverse(context.Background(), node, Inputs{"name": "toolong"}, newFakeUI(nil))
	assert.True(t, engine.HasName(err, engine.NameInvalidInput))
}

func TestTraverse_ExprCondition(t *testing.T) {
	version := Text("version", "Version")
	version.Condition = Expr(`inputs.get("runtime") == "node" and "http" in inputs.get("triggers", [])`)
	root := Group(version)

	tr := NewTraverser(newFakeUI(map[string][]answer{"version": {ok("20")}}), config.NewStarlarkEvaluator(time.Second), zerolog.Nop())

	inputs := Inputs{"runtime": "node", "triggers": []string{"http"}}
	require.NoError(t, tr.Traverse(context.Background(), root, inputs))
	assert.Equal(t, "20", inputs["version"])

	inputs = Inputs{"runtime": "node", "triggers": []string{"timer"}}
	require.NoError(t, tr.Traverse(context.Background(), root, inputs))
	assert.False(t, inputs.Has("version"))

	// Without an evaluator the condition cannot be checked.
	err := Traverse(context.Background(), root, Inputs{}, newFakeUI(nil))
	assert.True(t, engine.IsSystemError(err))
}

func TestCondition_Sets(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cond    Condition
		subject any
		want    bool
	}{
		{"one of hit", Condition{OneOf: []string{"a", "b"}}, "b", true},
		{"one of miss", Condition{OneOf: []string{"a", "b"}}, "c", false},
		{"not equals", Condition{NotEquals: "a"}, "b", true},
		{"not equals miss", Condition{NotEquals: "a"}, "a", false},
		{"contains", Condition{Contains: "apim"}, []string{"sql", "apim"}, true},
		{"contains miss", Condition{Contains: "apim"}, []string{"sql"}, false},
		{"contains any", Condition{ContainsAny: []string{"x", "sql"}}, []string{"sql"}, true},
		{"equals on nil", Condition{Equals: "a"}, nil, false},
		{"empty", Condition{}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.holds(ctx, tt.subject, Inputs{}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTraverse_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Traverse(ctx, Text("a", "A"), Inputs{}, newFakeUI(nil))
	assert.True(t, engine.IsCancel(err))
}

func TestInputsAccessors(t *testing.T) {
	in := Inputs{"s": "x", "l": []string{"a", "b"}, "b": true, "y": "yes"}

	assert.Equal(t, "a,b", in.String("l"))
	assert.Equal(t, []string{"x"}, in.Strings("s"))
	assert.True(t, in.Bool("b"))
	assert.True(t, in.Bool("y"))
	assert.False(t, in.Bool("s"))
	assert.Equal(t, "", in.String("missing"))

	clone := in.Clone()
	clone["s"] = "changed"
	assert.Equal(t, "x", in["s"])
}

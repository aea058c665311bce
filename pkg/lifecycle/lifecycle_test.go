package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxctl/fxctl/pkg/driver"
	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/envstore"
	"github.com/fxctl/fxctl/pkg/policy"
	"github.com/fxctl/fxctl/pkg/project"
	"github.com/fxctl/fxctl/pkg/question"
)

const validFile = `version: v1
provision:
  - uses: script/run
    name: create-resources
    with:
      run: echo ok
    env:
      TARGET: "${{FX_ENV}}"
    writeToEnvironmentFile:
      RESOURCE_ID: resourceId
deploy:
  - uses: sftp/upload
    if: 'inputs.get("confirm") == "yes"'
    with:
      host: example.com
      source: dist
      target: /srv/app
publish: []
`

func TestParse(t *testing.T) {
	model, err := Parse(context.Background(), FileName, []byte(validFile))
	require.NoError(t, err)

	assert.Equal(t, "v1", model.Version)
	require.Len(t, model.Provision, 1)
	step := model.Provision[0]
	assert.Equal(t, "script/run", step.Uses)
	assert.Equal(t, "create-resources", step.Label())
	assert.Equal(t, "echo ok", step.With["run"])
	assert.Equal(t, map[string]string{"TARGET": "${{FX_ENV}}"}, step.Env)
	assert.Equal(t, map[string]string{"RESOURCE_ID": "resourceId"}, step.WriteToEnvironmentFile)

	require.Len(t, model.Deploy, 1)
	assert.Equal(t, "sftp/upload", model.Deploy[0].Label())
	assert.Empty(t, model.Publish)

	steps, err := model.Steps(Configure)
	require.NoError(t, err)
	assert.Empty(t, steps)

	_, err = model.Steps("teardown")
	assert.True(t, engine.HasName(err, engine.NameInvalidLifecycle))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantName string
	}{
		{"not yaml", "version: [v1", engine.NameYamlParsing},
		{"list document", "- uses: script/run", engine.NameYamlParsing},
		{"empty document", "", engine.NameYamlParsing},
		{"missing version", "provision: []", engine.NameInvalidLifecycle},
		{"bad driver name", "version: v1\nprovision:\n  - uses: Script Run\n", engine.NameInvalidLifecycle},
		{"lifecycle not a list", "version: v1\ndeploy:\n  uses: script/run\n", engine.NameInvalidLifecycle},
		{"non-string env", "version: v1\ndeploy:\n  - uses: script/run\n    env:\n      A: [1]\n", engine.NameInvalidLifecycle},
		{"unknown lifecycle", "version: v1\nteardown: []\n", engine.NameInvalidLifecycle},
		{"bad condition", "version: v1\ndeploy:\n  - uses: script/run\n    if: 'inputs['\n", engine.NameInvalidLifecycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(context.Background(), FileName, []byte(tt.data))
			require.Error(t, err)
			assert.True(t, engine.IsUserError(err), "expected user error, got %v", err)
			assert.True(t, engine.HasName(err, tt.wantName), "expected %s, got %v", tt.wantName, err)
		})
	}
}

func TestValidate_Conditions(t *testing.T) {
	data := `version: v1
provision:
  - uses: script/run
    if: 'inputs.get("a") == "b"'
deploy:
  - uses: script/run
  - uses: script/run
    if: 'inputs.get('
`
	verrs, err := Validate(context.Background(), FileName, []byte(data))
	require.NoError(t, err)
	require.Len(t, verrs, 1)
	assert.Equal(t, "deploy[1].if", verrs[0].Path)
	assert.Equal(t, "error", verrs[0].Severity)
	assert.Equal(t, FileName, verrs[0].File)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(context.Background(), dir)
	assert.True(t, engine.HasName(err, engine.NamePathNotExist))

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(validFile), 0o644))
	model, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, model.Provision, 1)
}

func TestExpander(t *testing.T) {
	exp := newExpander(func(name string) (string, bool) {
		if name == "HOST" {
			return "web1", true
		}
		return "", false
	})

	got := exp.Value(map[string]any{
		"host":  "${{HOST}}",
		"url":   "https://${{ HOST }}:${{PORT}}/",
		"list":  []any{"${{HOST}}", 3},
		"count": 2,
	}).(map[string]any)

	assert.Equal(t, "web1", got["host"])
	assert.Equal(t, "https://web1:${{PORT}}/", got["url"])
	assert.Equal(t, []any{"web1", 3}, got["list"])
	assert.Equal(t, 2, got["count"])
	assert.Equal(t, []string{"PORT"}, exp.Unresolved())
}

type recordingProgress struct {
	messages []string
}

func (p *recordingProgress) Start(string)        {}
func (p *recordingProgress) Next(message string) { p.messages = append(p.messages, message) }
func (p *recordingProgress) End(bool)            {}

type call struct {
	args map[string]any
	env  map[string]string
}

// fakeDrivers registers test/echo, which returns its args as outputs, and
// test/fail, which always fails.
func fakeDrivers(t *testing.T, calls *[]call) *driver.Registry {
	t.Helper()
	reg := driver.NewRegistry()
	echo := driver.Func(func(_ context.Context, args map[string]any, dctx *driver.Context) (map[string]string, error) {
		*calls = append(*calls, call{args: args, env: dctx.StepEnv})
		out := make(map[string]string, len(args))
		for k, v := range args {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
		return out, nil
	})
	fail := driver.Func(func(_ context.Context, _ map[string]any, _ *driver.Context) (map[string]string, error) {
		return nil, engine.NewUserError("test", "StepFailed", "step failed")
	})
	reg.MustRegister("test/echo", echo)
	reg.MustRegister("script/run", echo)
	reg.MustRegister("test/fail", fail)
	return reg
}

func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := project.Init(dir, "app")
	require.NoError(t, err)
	return dir
}

func TestRunner_Run(t *testing.T) {
	dir := newProject(t)
	var calls []call
	store := envstore.NewStore(zerolog.Nop())
	runner := NewRunner(fakeDrivers(t, &calls), store, zerolog.Nop())

	model := &ProjectModel{
		Version: "v1",
		Provision: []Step{
			{
				Uses:                   "test/echo",
				Name:                   "create",
				With:                   map[string]any{"resourceId": "r-1", "secret": "s3cret"},
				Env:                    map[string]string{"TARGET": "${{FX_ENV}}"},
				WriteToEnvironmentFile: map[string]string{"RESOURCE_ID": "resourceId", "SECRET_TOKEN": "secret"},
			},
			{
				Uses: "test/echo",
				Name: "use",
				With: map[string]any{"target": "${{RESOURCE_ID}}", "missing": "${{NOPE_NOT_SET}}"},
			},
			{
				Uses: "test/echo",
				Name: "skipped",
				If:   `inputs.get("confirm") == "yes" and env["RESOURCE_ID"] == "r-1"`,
			},
		},
	}

	progress := &recordingProgress{}
	dctx := &driver.Context{ProjectPath: dir, Env: "dev", Logger: zerolog.Nop(), Progress: progress}

	res, err := runner.Run(context.Background(), model, Provision, question.Inputs{"confirm": "no"}, dctx)
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Equal(t, map[string]string{"TARGET": "dev"}, calls[0].env)
	assert.Equal(t, "r-1", calls[1].args["target"])

	require.Len(t, res.Steps, 3)
	assert.True(t, res.Steps[2].Skipped)
	assert.Equal(t, []string{"NOPE_NOT_SET"}, res.Unresolved())
	assert.Equal(t, "r-1", res.Outputs["target"])
	assert.Equal(t, map[string]string{"RESOURCE_ID": "r-1", "SECRET_TOKEN": "s3cret"}, res.EnvUpdates)
	assert.Equal(t, []string{"create (1/3)", "use (2/3)", "skipped (3/3)"}, progress.messages)

	values, err := store.Read(context.Background(), dir, "dev", envstore.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "r-1", values["RESOURCE_ID"])
	assert.Equal(t, "s3cret", values["SECRET_TOKEN"])

	raw, err := os.ReadFile(envstore.Path(dir, "dev"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cret")
}

func TestRunner_ConditionTrue(t *testing.T) {
	dir := newProject(t)
	var calls []call
	runner := NewRunner(fakeDrivers(t, &calls), envstore.NewStore(zerolog.Nop()), zerolog.Nop())

	model := &ProjectModel{Deploy: []Step{{Uses: "test/echo", If: `inputs.get("confirm") == "yes" and lifecycle == "deploy"`}}}
	dctx := &driver.Context{ProjectPath: dir, Env: "dev", Logger: zerolog.Nop()}

	res, err := runner.Run(context.Background(), model, Deploy, question.Inputs{"confirm": "yes"}, dctx)
	require.NoError(t, err)
	assert.Len(t, calls, 1)
	assert.False(t, res.Steps[0].Skipped)
}

func TestRunner_PartialFailurePersists(t *testing.T) {
	dir := newProject(t)
	var calls []call
	store := envstore.NewStore(zerolog.Nop())
	runner := NewRunner(fakeDrivers(t, &calls), store, zerolog.Nop())

	require.NoError(t, store.Write(context.Background(), dir, "dev", map[string]string{"EXISTING": "1"}))

	model := &ProjectModel{Provision: []Step{
		{Uses: "test/echo", With: map[string]any{"id": "abc"}, WriteToEnvironmentFile: map[string]string{"APP_ID": "id"}},
		{Uses: "test/fail"},
		{Uses: "test/echo"},
	}}
	dctx := &driver.Context{ProjectPath: dir, Env: "dev", Logger: zerolog.Nop()}

	res, err := runner.Run(context.Background(), model, Provision, nil, dctx)
	require.Error(t, err)
	assert.True(t, engine.HasName(err, "StepFailed"))
	assert.Len(t, calls, 1, "steps after the failure must not run")
	require.Len(t, res.Steps, 2)
	assert.Error(t, res.Steps[1].Err)

	values, err := store.Read(context.Background(), dir, "dev", envstore.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"EXISTING": "1", "APP_ID": "abc"}, values)
}

func TestRunner_PolicyDenied(t *testing.T) {
	dir := newProject(t)
	var calls []call
	pe, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)
	runner := NewRunner(fakeDrivers(t, &calls), envstore.NewStore(zerolog.Nop()), zerolog.Nop(), WithPolicy(pe))

	model := &ProjectModel{Provision: []Step{{Uses: "script/run", Name: "wipe", With: map[string]any{"run": "rm -rf /"}}}}
	dctx := &driver.Context{ProjectPath: dir, Env: "dev", Logger: zerolog.Nop()}

	_, err = runner.Run(context.Background(), model, Provision, nil, dctx)
	require.Error(t, err)
	assert.True(t, engine.HasName(err, engine.NamePolicyViolation))
	assert.Empty(t, calls)
}

func TestRunner_DriverNotFound(t *testing.T) {
	var calls []call
	runner := NewRunner(fakeDrivers(t, &calls), envstore.NewStore(zerolog.Nop()), zerolog.Nop())

	model := &ProjectModel{Publish: []Step{{Uses: "teams/publish"}}}
	dctx := &driver.Context{ProjectPath: t.TempDir(), Env: "dev", Logger: zerolog.Nop()}

	_, err := runner.Run(context.Background(), model, Publish, nil, dctx)
	assert.True(t, engine.HasName(err, engine.NameDriverNotFound))
}

func TestRunner_InvalidCondition(t *testing.T) {
	var calls []call
	runner := NewRunner(fakeDrivers(t, &calls), envstore.NewStore(zerolog.Nop()), zerolog.Nop())

	model := &ProjectModel{Deploy: []Step{{Uses: "test/echo", If: "inputs.get("}}}
	dctx := &driver.Context{ProjectPath: t.TempDir(), Env: "dev", Logger: zerolog.Nop()}

	_, err := runner.Run(context.Background(), model, Deploy, nil, dctx)
	var fe *engine.FxError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, engine.NameInvalidLifecycle, fe.Name)
	assert.Empty(t, calls)
}

func TestRunner_EmptyLifecycle(t *testing.T) {
	var calls []call
	runner := NewRunner(fakeDrivers(t, &calls), envstore.NewStore(zerolog.Nop()), zerolog.Nop())

	res, err := runner.Run(context.Background(), &ProjectModel{}, Configure, nil,
		&driver.Context{ProjectPath: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Empty(t, res.Steps)
	assert.Empty(t, res.EnvUpdates)
}

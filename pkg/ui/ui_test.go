package ui

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxctl/fxctl/pkg/engine"
)

var envOptions = []Option{{ID: "dev"}, {ID: "prod"}}

func TestScripted_SelectOption(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		answers map[string]any
		cfg     SingleSelectConfig
		want    ResultKind
		value   string
		errName string
	}{
		{
			name:    "answered",
			answers: map[string]any{"env": "prod"},
			cfg:     SingleSelectConfig{Prompt: Prompt{Name: "env"}, Options: envOptions},
			want:    ResultSuccess,
			value:   "prod",
		},
		{
			name:  "default",
			cfg:   SingleSelectConfig{Prompt: Prompt{Name: "env"}, Options: envOptions, Default: "dev"},
			want:  ResultSuccess,
			value: "dev",
		},
		{
			name:  "single option",
			cfg:   SingleSelectConfig{Prompt: Prompt{Name: "env"}, Options: envOptions[:1]},
			want:  ResultSuccess,
			value: "dev",
		},
		{
			name:    "missing",
			cfg:     SingleSelectConfig{Prompt: Prompt{Name: "env"}, Options: envOptions},
			want:    ResultError,
			errName: engine.NameMissingInput,
		},
		{
			name:    "not an option",
			answers: map[string]any{"env": "qa"},
			cfg:     SingleSelectConfig{Prompt: Prompt{Name: "env"}, Options: envOptions},
			want:    ResultError,
			errName: engine.NameInvalidInput,
		},
		{
			name:    "validation",
			answers: map[string]any{"env": "prod"},
			cfg: SingleSelectConfig{
				Prompt:   Prompt{Name: "env"},
				Options:  envOptions,
				Validate: func(s string) string { return "no prod from CI" },
			},
			want:    ResultError,
			errName: engine.NameInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewScripted(tt.answers, nil).SelectOption(ctx, tt.cfg)
			assert.Equal(t, tt.want, res.Kind)
			assert.Equal(t, tt.value, res.Value)
			if tt.errName != "" {
				assert.True(t, engine.HasName(res.Err, tt.errName), "got %v", res.Err)
			}
		})
	}
}

func TestScripted_SelectOptions(t *testing.T) {
	ctx := context.Background()
	s := NewScripted(map[string]any{"envs": "dev, prod", "list": []string{"dev"}}, nil)

	res := s.SelectOptions(ctx, MultiSelectConfig{Prompt: Prompt{Name: "envs"}, Options: envOptions})
	require.Equal(t, ResultSuccess, res.Kind)
	assert.Equal(t, []string{"dev", "prod"}, res.Value)

	res = s.SelectOptions(ctx, MultiSelectConfig{Prompt: Prompt{Name: "list"}, Options: envOptions})
	assert.Equal(t, []string{"dev"}, res.Value)

	res = s.SelectOptions(ctx, MultiSelectConfig{Prompt: Prompt{Name: "none"}, Default: []string{}})
	require.Equal(t, ResultSuccess, res.Kind)
	assert.Empty(t, res.Value)

	res = s.SelectOptions(ctx, MultiSelectConfig{Prompt: Prompt{Name: "missing"}})
	assert.Equal(t, ResultError, res.Kind)

	assert.Equal(t, []string{"envs", "list", "none", "missing"}, s.Asked())
}

func TestScripted_Paths(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	file := filepath.Join(dir, "app.zip")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	s := NewScripted(map[string]any{"file": file, "folder": dir, "wrong": dir, "files": []string{file}}, nil)

	assert.Equal(t, file, s.SelectFile(ctx, SelectFileConfig{Prompt: Prompt{Name: "file"}}).Value)
	assert.Equal(t, dir, s.SelectFolder(ctx, SelectFolderConfig{Prompt: Prompt{Name: "folder"}}).Value)
	assert.Equal(t, []string{file}, s.SelectFiles(ctx, SelectFilesConfig{Prompt: Prompt{Name: "files"}}).Value)

	res := s.SelectFile(ctx, SelectFileConfig{Prompt: Prompt{Name: "wrong"}})
	assert.Equal(t, ResultError, res.Kind)
}

func TestScripted_InputText(t *testing.T) {
	ctx := context.Background()
	s := NewScripted(map[string]any{"name": "app"}, nil)

	assert.Equal(t, "app", s.InputText(ctx, InputTextConfig{Prompt: Prompt{Name: "name"}}).Value)
	assert.Equal(t, "x", s.InputText(ctx, InputTextConfig{Prompt: Prompt{Name: "other"}, Default: "x"}).Value)
	assert.Equal(t, ResultError, s.InputText(ctx, InputTextConfig{Prompt: Prompt{Name: "other"}}).Kind)
}

func TestScripted_MessagesAndProgress(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	s := NewScripted(nil, &out)

	assert.True(t, s.OpenURL(ctx, "https://example.com").Value)
	assert.Equal(t, "Retry", s.ShowMessage(ctx, LevelWarn, "failed", true, "Retry", "Abort").Value)
	assert.Contains(t, out.String(), "[warn] failed")

	res := s.RunWithProgress(ctx, ProgressTask{
		Name: "upload",
		Run: func(ctx context.Context, report ProgressFunc) (any, error) {
			report(50, "half")
			return 42, nil
		},
	})
	assert.Equal(t, ResultSuccess, res.Kind)
	assert.Equal(t, 42, res.Value)
	assert.Contains(t, out.String(), "upload:  50% half")

	res = s.RunWithProgress(ctx, ProgressTask{
		Run: func(context.Context, ProgressFunc) (any, error) { return nil, engine.NewUserCancelError() },
	})
	assert.Equal(t, ResultCancel, res.Kind)

	res = s.RunWithProgress(ctx, ProgressTask{
		Run: func(context.Context, ProgressFunc) (any, error) { return nil, errors.New("boom") },
	})
	assert.Equal(t, ResultError, res.Kind)
}

func TestTextProgressBar(t *testing.T) {
	var out bytes.Buffer
	bar := NewTextProgressBar(&out, "Deploying", 2)

	bar.Start("")
	bar.Next("build")
	bar.Next("upload")
	bar.End(true)
	bar.End(false)
	bar.Next("ignored")

	assert.Equal(t, 2, bar.Steps())
	assert.True(t, bar.Ended())
	assert.Equal(t, "Deploying\n  (1/2) build\n  (2/2) upload\n✔ Deploying succeeded\n", out.String())
}

func key(t tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: t}
}

func TestSelectModel_Single(t *testing.T) {
	m := newSelectModel(Prompt{Name: "env"}, envOptions, false, []string{"prod"}, nil)
	assert.Equal(t, 1, m.cursor)

	next, _ := m.Update(key(tea.KeyUp))
	next, cmd := next.Update(key(tea.KeyEnter))
	require.NotNil(t, cmd)

	sm := next.(selectModel)
	assert.Equal(t, ResultSuccess, sm.outcome.kind())
	assert.Equal(t, []string{"dev"}, sm.selected())
	assert.Contains(t, sm.View(), "dev")
}

func TestSelectModel_MultiAndValidation(t *testing.T) {
	validate := func(v []string) string {
		if len(v) == 0 {
			return "pick at least one"
		}
		return ""
	}
	m := newSelectModel(Prompt{Name: "envs"}, envOptions, true, nil, validate)

	next, _ := m.Update(key(tea.KeyEnter))
	sm := next.(selectModel)
	assert.False(t, sm.outcome.done)
	assert.Contains(t, sm.View(), "pick at least one")

	next, _ = sm.Update(key(tea.KeySpace))
	next, _ = next.Update(key(tea.KeyDown))
	next, _ = next.Update(key(tea.KeySpace))
	next, _ = next.Update(key(tea.KeyEnter))

	sm = next.(selectModel)
	assert.True(t, sm.outcome.done)
	assert.Equal(t, []string{"dev", "prod"}, sm.selected())
}

func TestSelectModel_CancelAndBack(t *testing.T) {
	m := newSelectModel(Prompt{Name: "env"}, envOptions, false, nil, nil)

	next, _ := m.Update(key(tea.KeyEsc))
	assert.Equal(t, ResultCancel, next.(selectModel).outcome.kind())

	next, _ = m.Update(key(tea.KeyShiftTab))
	assert.Equal(t, ResultBack, next.(selectModel).outcome.kind())
}

func TestInputModel(t *testing.T) {
	m := newInputModel(Prompt{Name: "name"}, "", false, func(s string) string {
		if s == "" {
			return "required"
		}
		return ""
	})

	next, _ := m.Update(key(tea.KeyEnter))
	im := next.(inputModel)
	assert.Equal(t, "required", im.errMsg)

	next, _ = im.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("app")})
	next, _ = next.Update(key(tea.KeyEnter))
	im = next.(inputModel)
	assert.True(t, im.outcome.done)
	assert.Equal(t, "app", im.input.Value())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a , ,b "))
	assert.Nil(t, splitList(""))
}

package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/fxctl/fxctl/pkg/engine"
)

const source = "ui"

// Scripted answers prompts from a fixed answer set. Prompts without an
// answer fall back to their default, then to a single available option,
// and fail with a MissingRequiredInputError otherwise.
type Scripted struct {
	answers map[string]any
	out     io.Writer

	mu    sync.Mutex
	asked []string
}

var _ UserInteraction = (*Scripted)(nil)

// NewScripted creates a non-interactive UI. Answer values are strings or
// string slices; a string answers a multi-value prompt as a comma-separated
// list.
func NewScripted(answers map[string]any, out io.Writer) *Scripted {
	if answers == nil {
		answers = map[string]any{}
	}
	if out == nil {
		out = io.Discard
	}
	return &Scripted{answers: answers, out: out}
}

// Asked returns the names of all prompts, in order.
func (s *Scripted) Asked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.asked)
}

func (s *Scripted) record(name string) {
	s.mu.Lock()
	s.asked = append(s.asked, name)
	s.mu.Unlock()
}

func (s *Scripted) single(name string) (string, bool) {
	v, ok := s.answers[name]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []string:
		return strings.Join(t, ","), true
	default:
		return fmt.Sprint(t), true
	}
}

func (s *Scripted) multi(name string) ([]string, bool) {
	v, ok := s.answers[name]
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case []string:
		return t, true
	case string:
		if t == "" {
			return []string{}, true
		}
		parts := strings.Split(t, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, true
	default:
		return []string{fmt.Sprint(t)}, true
	}
}

func invalidInput(name, msg string) error {
	return engine.NewUserError(source, engine.NameInvalidInput,
		fmt.Sprintf("invalid value for %q: %s", name, msg)).WithDetail("input", name)
}

func checkString(name, value string, validate StringValidator) InputResult[string] {
	if validate != nil {
		if msg := validate(value); msg != "" {
			return Failed[string](invalidInput(name, msg))
		}
	}
	return Success(value)
}

func checkList(name string, value []string, validate ListValidator) InputResult[[]string] {
	if validate != nil {
		if msg := validate(value); msg != "" {
			return Failed[[]string](invalidInput(name, msg))
		}
	}
	return Success(value)
}

// SelectOption implements UserInteraction.
func (s *Scripted) SelectOption(ctx context.Context, cfg SingleSelectConfig) InputResult[string] {
	s.record(cfg.Name)

	value, ok := s.single(cfg.Name)
	switch {
	case ok:
	case cfg.Default != "":
		value = cfg.Default
	case len(cfg.Options) == 1:
		value = cfg.Options[0].ID
	default:
		return Failed[string](engine.NewMissingInputError(cfg.Name))
	}

	if len(cfg.Options) > 0 && !slices.Contains(OptionIDs(cfg.Options), value) {
		return Failed[string](invalidInput(cfg.Name,
			fmt.Sprintf("%q is not one of %s", value, strings.Join(OptionIDs(cfg.Options), ", "))))
	}
	return checkString(cfg.Name, value, cfg.Validate)
}

// SelectOptions implements UserInteraction.
func (s *Scripted) SelectOptions(ctx context.Context, cfg MultiSelectConfig) InputResult[[]string] {
	s.record(cfg.Name)

	values, ok := s.multi(cfg.Name)
	if !ok {
		if cfg.Default == nil {
			return Failed[[]string](engine.NewMissingInputError(cfg.Name))
		}
		values = cfg.Default
	}

	ids := OptionIDs(cfg.Options)
	for _, v := range values {
		if len(ids) > 0 && !slices.Contains(ids, v) {
			return Failed[[]string](invalidInput(cfg.Name,
				fmt.Sprintf("%q is not one of %s", v, strings.Join(ids, ", "))))
		}
	}
	return checkList(cfg.Name, values, cfg.Validate)
}

// InputText implements UserInteraction.
func (s *Scripted) InputText(ctx context.Context, cfg InputTextConfig) InputResult[string] {
	s.record(cfg.Name)

	value, ok := s.single(cfg.Name)
	if !ok {
		if cfg.Default == "" {
			return Failed[string](engine.NewMissingInputError(cfg.Name))
		}
		value = cfg.Default
	}
	return checkString(cfg.Name, value, cfg.Validate)
}

// SelectFile implements UserInteraction.
func (s *Scripted) SelectFile(ctx context.Context, cfg SelectFileConfig) InputResult[string] {
	s.record(cfg.Name)
	return s.path(cfg.Name, cfg.Default, false, cfg.Validate)
}

// SelectFolder implements UserInteraction.
func (s *Scripted) SelectFolder(ctx context.Context, cfg SelectFolderConfig) InputResult[string] {
	s.record(cfg.Name)
	return s.path(cfg.Name, cfg.Default, true, cfg.Validate)
}

func (s *Scripted) path(name, def string, dir bool, validate StringValidator) InputResult[string] {
	value, ok := s.single(name)
	if !ok {
		if def == "" {
			return Failed[string](engine.NewMissingInputError(name))
		}
		value = def
	}
	if msg := checkPath(value, dir); msg != "" {
		return Failed[string](invalidInput(name, msg))
	}
	return checkString(name, value, validate)
}

// SelectFiles implements UserInteraction.
func (s *Scripted) SelectFiles(ctx context.Context, cfg SelectFilesConfig) InputResult[[]string] {
	s.record(cfg.Name)

	values, ok := s.multi(cfg.Name)
	if !ok {
		if cfg.Default == nil {
			return Failed[[]string](engine.NewMissingInputError(cfg.Name))
		}
		values = cfg.Default
	}
	for _, v := range values {
		if msg := checkPath(v, false); msg != "" {
			return Failed[[]string](invalidInput(cfg.Name, msg))
		}
	}
	return checkList(cfg.Name, values, cfg.Validate)
}

// OpenURL implements UserInteraction. The URL is printed, not opened.
func (s *Scripted) OpenURL(ctx context.Context, url string) InputResult[bool] {
	fmt.Fprintf(s.out, "Open %s in your browser\n", url)
	return Success(true)
}

// ShowMessage implements UserInteraction. Modal messages resolve to their
// first item.
func (s *Scripted) ShowMessage(ctx context.Context, level MessageLevel, message string, modal bool, items ...string) InputResult[string] {
	fmt.Fprintf(s.out, "[%s] %s\n", level, message)
	if modal && len(items) > 0 {
		return Success(items[0])
	}
	return Success("")
}

// RunWithProgress implements UserInteraction.
func (s *Scripted) RunWithProgress(ctx context.Context, task ProgressTask) InputResult[any] {
	return runTask(ctx, task, func(percent float64, message string) {
		fmt.Fprintf(s.out, "%s: %3.0f%% %s\n", task.Name, percent, message)
	})
}

// CreateProgressBar implements UserInteraction.
func (s *Scripted) CreateProgressBar(title string, totalSteps int) ProgressBar {
	return NewTextProgressBar(s.out, title, totalSteps)
}

// runTask runs task and maps its outcome to an InputResult.
func runTask(ctx context.Context, task ProgressTask, report ProgressFunc) InputResult[any] {
	value, err := task.Run(ctx, report)
	switch {
	case err == nil:
		return Success(value)
	case engine.IsCancel(err) || errors.Is(err, context.Canceled):
		return Canceled[any]()
	default:
		return Failed[any](err)
	}
}

// checkPath returns a validation message when path does not exist or has
// the wrong type.
func checkPath(path string, dir bool) string {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("%s does not exist", path)
	}
	if dir && !info.IsDir() {
		return fmt.Sprintf("%s is not a folder", path)
	}
	if !dir && info.IsDir() {
		return fmt.Sprintf("%s is a folder", path)
	}
	return ""
}

// Package ui defines how fxctl talks to the person running it.
//
// UserInteraction is implemented by Terminal for interactive sessions and by
// Scripted for CI and tests, where answers come from flags.
package ui

import (
	"context"
)

// ResultKind is the outcome of a prompt.
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultSkip    ResultKind = "skip"
	ResultCancel  ResultKind = "cancel"
	ResultBack    ResultKind = "back"
	ResultError   ResultKind = "error"
)

// InputResult is the tagged result of every interaction. Value is meaningful
// for ResultSuccess only; Err for ResultError only.
type InputResult[T any] struct {
	Kind  ResultKind
	Value T
	Err   error
}

// Success builds a successful result.
func Success[T any](v T) InputResult[T] {
	return InputResult[T]{Kind: ResultSuccess, Value: v}
}

// Canceled builds a cancel result.
func Canceled[T any]() InputResult[T] {
	return InputResult[T]{Kind: ResultCancel}
}

// Failed builds an error result.
func Failed[T any](err error) InputResult[T] {
	return InputResult[T]{Kind: ResultError, Err: err}
}

// Option is one choice of a select prompt.
type Option struct {
	ID          string
	Label       string
	Description string
}

// OptionIDs returns the IDs of opts.
func OptionIDs(opts []Option) []string {
	ids := make([]string, len(opts))
	for i, o := range opts {
		ids[i] = o.ID
	}
	return ids
}

// StringValidator returns an error message, or "" when input is valid.
type StringValidator func(input string) string

// ListValidator is the StringValidator of multi-value prompts.
type ListValidator func(input []string) string

// Prompt holds the fields shared by every prompt configuration.
type Prompt struct {
	// Name is the input key the answer is stored under.
	Name        string
	Title       string
	Placeholder string
	Step        int
	TotalSteps  int
}

type SingleSelectConfig struct {
	Prompt
	Options  []Option
	Default  string
	Validate StringValidator
}

type MultiSelectConfig struct {
	Prompt
	Options  []Option
	Default  []string
	Validate ListValidator
}

type InputTextConfig struct {
	Prompt
	Default  string
	Password bool
	Validate StringValidator
}

type SelectFileConfig struct {
	Prompt
	Default  string
	Validate StringValidator
}

type SelectFilesConfig struct {
	Prompt
	Default  []string
	Validate ListValidator
}

type SelectFolderConfig struct {
	Prompt
	Default  string
	Validate StringValidator
}

// MessageLevel is the severity of ShowMessage.
type MessageLevel string

const (
	LevelInfo  MessageLevel = "info"
	LevelWarn  MessageLevel = "warn"
	LevelError MessageLevel = "error"
)

// ProgressFunc reports task progress in percent with a short message.
type ProgressFunc func(percent float64, message string)

// ProgressTask is a long-running unit driven by RunWithProgress.
type ProgressTask struct {
	Name       string
	Cancelable bool
	Run        func(ctx context.Context, report ProgressFunc) (any, error)
}

// ProgressBar shows the steps of one action. End must be called exactly once.
type ProgressBar interface {
	Start(message string)
	Next(message string)
	End(success bool)
}

// UserInteraction is the prompt surface used by question traversal, actions
// and drivers.
type UserInteraction interface {
	SelectOption(ctx context.Context, cfg SingleSelectConfig) InputResult[string]
	SelectOptions(ctx context.Context, cfg MultiSelectConfig) InputResult[[]string]
	InputText(ctx context.Context, cfg InputTextConfig) InputResult[string]
	SelectFile(ctx context.Context, cfg SelectFileConfig) InputResult[string]
	SelectFiles(ctx context.Context, cfg SelectFilesConfig) InputResult[[]string]
	SelectFolder(ctx context.Context, cfg SelectFolderConfig) InputResult[string]

	OpenURL(ctx context.Context, url string) InputResult[bool]
	ShowMessage(ctx context.Context, level MessageLevel, message string, modal bool, items ...string) InputResult[string]
	RunWithProgress(ctx context.Context, task ProgressTask) InputResult[any]
	CreateProgressBar(title string, totalSteps int) ProgressBar
}

package policy

import "time"

// Severity is the weight of a violation. Error and critical violations
// block the step; the others are reported as warnings.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module checked before every step.
type Policy struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`

	// Rego must declare a package with a "deny" set of messages or
	// {message, severity} objects.
	Rego string `json:"rego" yaml:"rego"`

	// Severity applies to deny entries without their own.
	Severity Severity `json:"severity" yaml:"severity"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Builtin  bool     `json:"builtin,omitempty" yaml:"-"`

	// Source is the file the policy was loaded from; empty for builtins.
	Source string `json:"source,omitempty" yaml:"-"`
}

type Violation struct {
	Policy   string   `json:"policy"`
	Step     string   `json:"step,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of checking one step.
type Result struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []Violation `json:"warnings,omitempty"`

	// Errors names the policies that could not be evaluated.
	Errors []string `json:"errors,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// StepInput is what policies see as input.
type StepInput struct {
	Lifecycle string
	Env       string
	Step      StepRef
}

type StepRef struct {
	Uses string
	Name string
	With map[string]any
}

// Label is the step name, or its driver when unnamed.
func (s StepRef) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Uses
}

// document builds the input document:
//
//	{"lifecycle": ..., "env": ..., "step": {"uses": ..., "name": ..., "with": {...}}}
//
// "name" and "with" are omitted when empty.
func (in StepInput) document() map[string]any {
	step := map[string]any{"uses": in.Step.Uses}
	if in.Step.Name != "" {
		step["name"] = in.Step.Name
	}
	if len(in.Step.With) > 0 {
		step["with"] = in.Step.With
	}
	return map[string]any{
		"lifecycle": in.Lifecycle,
		"env":       in.Env,
		"step":      step,
	}
}

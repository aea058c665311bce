package policy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/project"
)

// SourcePolicy is the error source for policy violations.
const SourcePolicy = "policy"

// ProjectPoliciesDir is where project policies live, relative to the settings folder.
const ProjectPoliciesDir = "policies"

// ErrPolicyNotFound is returned for an unknown policy name.
var ErrPolicyNotFound = errors.New("policy not found")

// Engine holds the compiled policies and checks lifecycle steps against
// them. Each policy is a Rego module whose package defines a "deny" set.
type Engine struct {
	loader *Loader
	logger zerolog.Logger

	mu       sync.RWMutex
	policies map[string]*compiledPolicy
}

type compiledPolicy struct {
	policy Policy
	query  rego.PreparedEvalQuery
}

// NewEngine returns an engine with the builtin policies compiled.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		loader:   NewLoader(logger),
		logger:   logger.With().Str("component", "policy").Logger(),
		policies: make(map[string]*compiledPolicy),
	}
	for _, p := range Builtins() {
		cp, err := compile(context.Background(), p)
		if err != nil {
			return nil, fmt.Errorf("builtin policy %s: %w", p.Name, err)
		}
		e.policies[p.Name] = cp
	}
	return e, nil
}

func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	filename := p.Name + ".rego"
	module, err := ast.ParseModuleWithOpts(filename, p.Rego, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, err
	}
	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &compiledPolicy{policy: p, query: query}, nil
}

// LoadPolicies compiles the policies found under paths, replacing loaded
// policies of the same name. A policy whose file and Rego are unchanged
// is kept as is, enabled state included.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loaded, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}

	fresh := make(map[string]*compiledPolicy)
	e.mu.RLock()
	for _, p := range loaded {
		if cp, ok := e.policies[p.Name]; ok && cp.policy.Source == p.Source && cp.policy.Rego == p.Rego {
			continue
		}
		fresh[p.Name] = nil
	}
	e.mu.RUnlock()

	for _, p := range loaded {
		if _, ok := fresh[p.Name]; !ok {
			continue
		}
		cp, err := compile(ctx, p)
		if err != nil {
			return fmt.Errorf("compile %s: %w", p.Source, err)
		}
		fresh[p.Name] = cp
	}

	e.mu.Lock()
	maps.Copy(e.policies, fresh)
	e.mu.Unlock()

	e.logger.Debug().Int("loaded", len(loaded)).Int("compiled", len(fresh)).Msg("Policies loaded")
	return nil
}

// LoadProjectPolicies loads <project>/.fx/policies when it exists. A broken
// policy file is the user's to fix and is reported as a user error.
func (e *Engine) LoadProjectPolicies(ctx context.Context, projectPath string) error {
	dir := filepath.Join(project.SettingsDir(projectPath), ProjectPoliciesDir)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := e.LoadPolicies(ctx, []string{dir}); err != nil {
		return engine.NewUserError(SourcePolicy, engine.NameInvalidInput,
			fmt.Sprintf("invalid project policy: %v", err)).WithCause(err).WithDetail("path", dir)
	}
	return nil
}

// enabled returns the enabled policies sorted by name.
func (e *Engine) enabled() []*compiledPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*compiledPolicy
	for _, name := range slices.Sorted(maps.Keys(e.policies)) {
		if cp := e.policies[name]; cp.policy.Enabled {
			out = append(out, cp)
		}
	}
	return out
}

// EvaluateStep runs every enabled policy against one step. A policy that
// fails to evaluate is recorded in Result.Errors and does not block.
func (e *Engine) EvaluateStep(ctx context.Context, in StepInput) (*Result, error) {
	start := time.Now()
	input := in.document()
	label := in.Step.Label()

	result := &Result{Allowed: true}
	for _, cp := range e.enabled() {
		name := cp.policy.Name
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error().Err(err).Str("policy", name).Str("step", label).Msg("Policy evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}

		for _, entry := range denyEntries(rs) {
			v := newViolation(cp.policy, entry, label)
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}
	result.Duration = time.Since(start)

	e.logger.Debug().Str("step", label).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Step checked")
	return result, nil
}

func denyEntries(rs rego.ResultSet) []any {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}
	entries, _ := rs[0].Expressions[0].Value.([]any)
	return entries
}

// newViolation reads one deny entry: a message string, or an object with
// "message" and an optional "severity" overriding the policy default.
func newViolation(p Policy, entry any, step string) Violation {
	v := Violation{Policy: p.Name, Step: step, Severity: p.Severity}
	switch d := entry.(type) {
	case string:
		v.Message = d
	case map[string]any:
		v.Message, _ = d["message"].(string)
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprint(entry)
	}
	return v
}

// CheckStep is EvaluateStep that fails with a PolicyViolationError when a
// blocking violation is found. Warnings are logged.
func (e *Engine) CheckStep(ctx context.Context, in StepInput) (*Result, error) {
	result, err := e.EvaluateStep(ctx, in)
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		e.logger.Warn().Str("policy", w.Policy).Str("step", w.Step).Msg(w.Message)
	}
	if result.Allowed {
		return result, nil
	}

	messages := make([]string, len(result.Violations))
	names := make([]string, len(result.Violations))
	for i, v := range result.Violations {
		messages[i] = v.Message
		names[i] = v.Policy
	}
	return result, engine.NewUserError(SourcePolicy, engine.NamePolicyViolation,
		fmt.Sprintf("step %s violates policy: %s", in.Step.Label(), strings.Join(messages, "; "))).
		WithDetail("policies", names).
		WithDetail("lifecycle", in.Lifecycle)
}

// GetPolicy returns a copy of the named policy.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	p := cp.policy
	return &p, nil
}

// ListPolicies returns every loaded policy sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, name := range slices.Sorted(maps.Keys(e.policies)) {
		out = append(out, e.policies[name].policy)
	}
	return out
}

// SetEnabled turns a policy on or off for the life of the engine.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	cp.policy.Enabled = enabled
	e.logger.Debug().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

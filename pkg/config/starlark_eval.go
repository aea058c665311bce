package config

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DefaultEvalTimeout bounds a single condition evaluation.
const DefaultEvalTimeout = 5 * time.Second

// StarlarkEvaluator evaluates the Starlark expressions used as question
// conditions and lifecycle step guards. Parsed expressions are cached, so a
// condition checked for every step is parsed once.
type StarlarkEvaluator struct {
	timeout time.Duration

	mu     sync.Mutex
	parsed map[string]syntax.Expr
}

// NewStarlarkEvaluator creates an evaluator. A zero timeout means
// DefaultEvalTimeout.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout <= 0 {
		timeout = DefaultEvalTimeout
	}
	return &StarlarkEvaluator{
		timeout: timeout,
		parsed:  make(map[string]syntax.Expr),
	}
}

// CheckExpr reports a syntax error in expr without evaluating it.
func CheckExpr(expr string) error {
	_, err := syntax.ParseExpr("condition", expr, 0)
	return err
}

func (se *StarlarkEvaluator) parse(expr string) (syntax.Expr, error) {
	se.mu.Lock()
	defer se.mu.Unlock()

	if e, ok := se.parsed[expr]; ok {
		return e, nil
	}
	e, err := syntax.ParseExpr("condition", expr, 0)
	if err != nil {
		return nil, err
	}
	se.parsed[expr] = e
	return e, nil
}

// EvalBool evaluates expr with vars as its globals and returns the Starlark
// truth value of the result. Evaluation stops when ctx is done or the
// timeout expires.
func (se *StarlarkEvaluator) EvalBool(ctx context.Context, expr string, vars map[string]interface{}) (bool, error) {
	parsed, err := se.parse(expr)
	if err != nil {
		return false, fmt.Errorf("invalid expression %q: %w", expr, err)
	}

	env := make(starlark.StringDict, len(vars))
	for name, v := range vars {
		sv, err := toStarlark(v)
		if err != nil {
			return false, fmt.Errorf("variable %s: %w", name, err)
		}
		env[name] = sv
	}

	thread := &starlark.Thread{
		Name:  "condition",
		Print: func(*starlark.Thread, string) {},
	}
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()
	stop := context.AfterFunc(evalCtx, func() { thread.Cancel(evalCtx.Err().Error()) })
	defer stop()

	val, err := starlark.EvalExpr(thread, parsed, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate %q: %w", expr, err)
	}
	return bool(val.Truth()), nil
}

// toStarlark converts the values conditions see: scalars, string lists and
// string-keyed maps, nested. Containers are frozen.
func toStarlark(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		items := make([]starlark.Value, len(val))
		for i, s := range val {
			items[i] = starlark.String(s)
		}
		return frozen(starlark.NewList(items)), nil
	case []interface{}:
		items := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			items[i] = sv
		}
		return frozen(starlark.NewList(items)), nil
	case map[string]string:
		d := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			if err := d.SetKey(starlark.String(k), starlark.String(val[k])); err != nil {
				return nil, err
			}
		}
		return frozen(d), nil
	case map[string]interface{}:
		d := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			sv, err := toStarlark(val[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return frozen(d), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func frozen(v starlark.Value) starlark.Value {
	v.Freeze()
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

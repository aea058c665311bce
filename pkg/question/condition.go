package question

import (
	"context"
	"slices"
)

// Condition is a predicate over the input bag. The subject is the answer
// stored under Key, or the answer of the nearest answered ancestor when Key
// is empty. All set fields must hold.
type Condition struct {
	Key string

	// Equals holds when the subject is this string.
	Equals string

	// NotEquals holds when the subject is not this string.
	NotEquals string

	// OneOf holds when the subject is one of these strings.
	OneOf []string

	// Contains holds when the subject list contains this string.
	Contains string

	// ContainsAny holds when the subject list shares an element with this list.
	ContainsAny []string

	// Func returns "" when the condition holds, or the reason it does not.
	Func func(subject any, inputs Inputs) string

	// Expr is a Starlark expression over `inputs` and `value`.
	Expr string
}

// ExprEvaluator evaluates Condition.Expr.
type ExprEvaluator interface {
	EvalBool(ctx context.Context, expr string, vars map[string]interface{}) (bool, error)
}

// Equals builds a condition on the answer of key.
func Equals(key, value string) *Condition {
	return &Condition{Key: key, Equals: value}
}

// OneOf builds a set-membership condition on the answer of key.
func OneOf(key string, values ...string) *Condition {
	return &Condition{Key: key, OneOf: values}
}

// Expr builds a Starlark condition.
func Expr(expr string) *Condition {
	return &Condition{Expr: expr}
}

func asList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case string:
		return []string{t}
	default:
		return nil
	}
}

// holds evaluates the condition. A non-nil error means the condition could
// not be evaluated at all.
func (c *Condition) holds(ctx context.Context, subject any, inputs Inputs, eval ExprEvaluator) (bool, error) {
	str, isString := subject.(string)

	if c.Equals != "" && (!isString || str != c.Equals) {
		return false, nil
	}
	if c.NotEquals != "" && isString && str == c.NotEquals {
		return false, nil
	}
	if len(c.OneOf) > 0 && (!isString || !slices.Contains(c.OneOf, str)) {
		return false, nil
	}
	if c.Contains != "" && !slices.Contains(asList(subject), c.Contains) {
		return false, nil
	}
	if len(c.ContainsAny) > 0 {
		list := asList(subject)
		if !slices.ContainsFunc(c.ContainsAny, func(s string) bool { return slices.Contains(list, s) }) {
			return false, nil
		}
	}
	if c.Func != nil && c.Func(subject, inputs) != "" {
		return false, nil
	}
	if c.Expr != "" {
		if eval == nil {
			return false, errNoEvaluator
		}
		vars := map[string]interface{}{
			"inputs": map[string]interface{}(inputs),
			"value":  subject,
		}
		return eval.EvalBool(ctx, c.Expr, vars)
	}
	return true, nil
}

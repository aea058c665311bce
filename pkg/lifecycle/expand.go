package lifecycle

import (
	"regexp"
	"sort"
)

var placeholderPattern = regexp.MustCompile(`\$\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// LookupFunc resolves a placeholder name.
type LookupFunc func(name string) (string, bool)

// expander replaces ${{NAME}} placeholders and remembers the names it could
// not resolve. Unresolved placeholders are left in place.
type expander struct {
	lookup     LookupFunc
	unresolved map[string]struct{}
}

func newExpander(lookup LookupFunc) *expander {
	return &expander{lookup: lookup, unresolved: make(map[string]struct{})}
}

func (e *expander) String(s string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := e.lookup(name); ok {
			return v
		}
		e.unresolved[name] = struct{}{}
		return m
	})
}

// Value expands strings anywhere inside maps and lists.
func (e *expander) Value(v any) any {
	switch val := v.(type) {
	case string:
		return e.String(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = e.Value(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = e.Value(item)
		}
		return out
	default:
		return v
	}
}

func (e *expander) Map(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = e.String(v)
	}
	return out
}

// Unresolved returns the names that had no value, sorted.
func (e *expander) Unresolved() []string {
	if len(e.unresolved) == 0 {
		return nil
	}
	names := make([]string, 0, len(e.unresolved))
	for name := range e.unresolved {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

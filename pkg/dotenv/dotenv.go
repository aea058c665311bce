// Package dotenv reads and writes KEY=VALUE environment files without losing
// comments, blank lines or key order.
package dotenv

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var (
	lineSplitter = regexp.MustCompile(`\r\n|\n|\r`)
	pairPattern  = regexp.MustCompile(`^\s*([\w.-]+)\s*=\s*(.*)?\s*$`)
)

// Pair is a parsed KEY=VALUE line.
type Pair struct {
	Key     string
	Value   string
	Comment string
}

// Line is one line of a document. Pair is nil for comments, blank lines and
// anything else that is not a key/value assignment.
type Line struct {
	Raw  string
	Pair *Pair
}

// Document is a parsed environment file.
//
// Values is the editable view. Serialize writes Lines back in order, replacing
// values that changed in Values, dropping pairs removed from Values, and
// appending new keys at the end.
type Document struct {
	Lines  []Line
	Values map[string]string
}

// New returns an empty document.
func New() *Document {
	return &Document{Values: make(map[string]string)}
}

// Parse parses the text of an environment file.
func Parse(text string) *Document {
	doc := New()
	if text == "" {
		return doc
	}

	for _, raw := range lineSplitter.Split(text, -1) {
		m := pairPattern.FindStringSubmatch(raw)
		if m == nil {
			doc.Lines = append(doc.Lines, Line{Raw: raw})
			continue
		}

		pair := parsePair(m[1], m[2])
		if pair.Value != "" {
			doc.Values[pair.Key] = pair.Value
		}
		doc.Lines = append(doc.Lines, Line{Raw: raw, Pair: pair})
	}

	return doc
}

func parsePair(key, value string) *Pair {
	pair := &Pair{Key: key}
	value = strings.TrimSpace(value)

	if q, inner, ok := unquote(value); ok {
		if q == '"' {
			inner = strings.ReplaceAll(inner, `\n`, "\n")
		}
		pair.Value = inner
		return pair
	}

	if idx := strings.Index(value, "#"); idx >= 0 {
		pair.Comment = value[idx:]
		value = strings.TrimSpace(value[:idx])
	}
	pair.Value = value
	return pair
}

// unquote strips a pair of matching single or double quotes.
func unquote(value string) (byte, string, bool) {
	if len(value) < 2 {
		return 0, value, false
	}
	q := value[0]
	if (q != '"' && q != '\'') || value[len(value)-1] != q {
		return 0, value, false
	}
	return q, value[1 : len(value)-1], true
}

// Serialize renders a document back to text.
func Serialize(doc *Document) string {
	if doc == nil {
		return ""
	}

	remaining := make(map[string]string, len(doc.Values))
	for k, v := range doc.Values {
		remaining[k] = v
	}

	// slot is the line that holds a key's current value: the last non-empty
	// assignment, or the first empty one when the key never had a value.
	slot := make(map[string]int)
	hasValue := make(map[string]bool)
	for i, line := range doc.Lines {
		if line.Pair == nil {
			continue
		}
		k := line.Pair.Key
		if line.Pair.Value != "" {
			slot[k] = i
			hasValue[k] = true
		} else if _, ok := slot[k]; !ok {
			slot[k] = i
		}
	}

	out := make([]string, 0, len(doc.Lines)+len(remaining))
	for i, line := range doc.Lines {
		if line.Pair == nil {
			out = append(out, line.Raw)
			continue
		}
		k := line.Pair.Key

		if slot[k] != i {
			if _, ok := doc.Values[k]; ok || !hasValue[k] {
				out = append(out, line.Raw)
			}
			continue
		}

		value, ok := remaining[k]
		if !ok {
			if !hasValue[k] {
				out = append(out, line.Raw)
			}
			continue
		}
		delete(remaining, k)

		if value == line.Pair.Value {
			out = append(out, line.Raw)
			continue
		}
		out = append(out, formatPair(k, value, line.Pair.Comment))
	}

	keys := make([]string, 0, len(remaining))
	for k := range remaining {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, formatPair(k, remaining[k], ""))
	}

	return strings.TrimRightFunc(strings.Join(out, "\n"), unicode.IsSpace)
}

func formatPair(key, value, comment string) string {
	line := key + "=" + quote(value)
	if comment != "" {
		line += " " + comment
	}
	return line
}

// ErrUnrepresentable is returned by CheckValue for values that do not
// survive a Serialize/Parse round trip.
var ErrUnrepresentable = errors.New("value cannot be stored in an environment file")

// CheckValue reports whether Parse would read value back unchanged after
// Serialize. Carriage returns always split lines, and a double-quoted value
// cannot tell an escaped newline from a literal backslash-n.
func CheckValue(value string) error {
	switch {
	case strings.ContainsRune(value, '\r'):
		return fmt.Errorf("%w: contains a carriage return", ErrUnrepresentable)
	case strings.Contains(value, "\n") && strings.Contains(value, `\n`):
		return fmt.Errorf(`%w: contains both a newline and a literal \n`, ErrUnrepresentable)
	}
	return nil
}

// quote returns value in a form that Parse reads back unchanged. Values
// rejected by CheckValue are the exception.
func quote(value string) string {
	switch {
	case strings.Contains(value, "\n"):
		return `"` + strings.ReplaceAll(value, "\n", `\n`) + `"`
	case needsQuotes(value):
		if strings.Contains(value, `\n`) {
			return "'" + value + "'"
		}
		return `"` + value + `"`
	default:
		return value
	}
}

func needsQuotes(value string) bool {
	if value == "" {
		return false
	}
	if strings.ContainsRune(value, '#') {
		return true
	}
	first, last := rune(value[0]), rune(value[len(value)-1])
	if unicode.IsSpace(first) || unicode.IsSpace(last) {
		return true
	}
	return first == '"' || first == '\''
}

// Get returns the value of key.
func (d *Document) Get(key string) (string, bool) {
	v, ok := d.Values[key]
	return v, ok
}

// Set assigns key.
func (d *Document) Set(key, value string) {
	if d.Values == nil {
		d.Values = make(map[string]string)
	}
	d.Values[key] = value
}

// Delete removes key. Its line is dropped on the next Serialize.
func (d *Document) Delete(key string) {
	delete(d.Values, key)
}

// Keys returns the keys of Values in file order, followed by keys that only
// exist in Values, sorted.
func (d *Document) Keys() []string {
	seen := make(map[string]bool, len(d.Values))
	keys := make([]string, 0, len(d.Values))
	for _, line := range d.Lines {
		if line.Pair == nil || seen[line.Pair.Key] {
			continue
		}
		if _, ok := d.Values[line.Pair.Key]; ok {
			seen[line.Pair.Key] = true
			keys = append(keys, line.Pair.Key)
		}
	}

	var extra []string
	for k := range d.Values {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

// Replace swaps Values for a copy of values.
func (d *Document) Replace(values map[string]string) {
	d.Values = make(map[string]string, len(values))
	for k, v := range values {
		d.Values[k] = v
	}
}

// Package question models the questions an action asks before it runs and
// walks them against an input bag.
//
// A tree is built once per command invocation. Conditions and dynamic
// option lists are evaluated while walking, so answers collected earlier in
// the same traversal decide what is asked later.
package question

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/fxctl/fxctl/pkg/ui"
)

// Kind is the variant of a Node.
type Kind int

const (
	KindSingleSelect Kind = iota + 1
	KindMultiSelect
	KindText
	KindFile
	KindFiles
	KindFolder
	KindGroup
	KindFunctional
)

var kindNames = map[Kind]string{
	KindSingleSelect: "single-select",
	KindMultiSelect:  "multi-select",
	KindText:         "text",
	KindFile:         "file",
	KindFiles:        "files",
	KindFolder:       "folder",
	KindGroup:        "group",
	KindFunctional:   "functional",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Inputs is the input bag of one invocation. Values are string, []string or
// bool.
type Inputs map[string]any

// Has reports whether key has been answered.
func (in Inputs) Has(key string) bool {
	_, ok := in[key]
	return ok
}

// String returns the answer for key as a string. Lists are comma-joined.
func (in Inputs) String(key string) string {
	switch v := in[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, ",")
	default:
		return fmt.Sprint(v)
	}
}

// Strings returns the answer for key as a list.
func (in Inputs) Strings(key string) []string {
	switch v := in[key].(type) {
	case nil:
		return nil
	case []string:
		return v
	case string:
		return []string{v}
	default:
		return []string{fmt.Sprint(v)}
	}
}

// Bool returns the answer for key as a boolean. The strings "true" and
// "yes" are true.
func (in Inputs) Bool(key string) bool {
	switch v := in[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "yes"
	default:
		return false
	}
}

// Clone returns a shallow copy.
func (in Inputs) Clone() Inputs {
	return maps.Clone(in)
}

// OptionsFunc computes the options of a select node when it is reached.
type OptionsFunc func(ctx context.Context, inputs Inputs) ([]ui.Option, error)

// ComputeFunc produces the answer of a functional node.
type ComputeFunc func(ctx context.Context, inputs Inputs) (any, error)

// Validator returns an error message for an invalid answer, or "".
type Validator func(value any, inputs Inputs) string

// Node is one question, a group of questions, or a computed value.
type Node struct {
	// ID is the input key the answer is stored under. Groups may leave it empty.
	ID          string
	Kind        Kind
	Title       string
	Placeholder string

	// Options are the static choices of select nodes.
	Options []ui.Option

	// DynamicOptions, when set, replaces Options and is called only when the
	// node is about to be prompted.
	DynamicOptions OptionsFunc

	// Default is a string or []string.
	Default any

	// Password hides text input.
	Password bool

	// Condition decides whether the node and its subtree are visited.
	Condition *Condition

	Validate Validator

	// Compute produces the answer of a functional node.
	Compute ComputeFunc

	Children []*Node
}

// AddChild appends children and returns n.
func (n *Node) AddChild(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// SingleSelect creates a single-select node with static options.
func SingleSelect(id, title string, options ...ui.Option) *Node {
	return &Node{ID: id, Kind: KindSingleSelect, Title: title, Options: options}
}

// MultiSelect creates a multi-select node with static options.
func MultiSelect(id, title string, options ...ui.Option) *Node {
	return &Node{ID: id, Kind: KindMultiSelect, Title: title, Options: options}
}

// Text creates a free-text node.
func Text(id, title string) *Node {
	return &Node{ID: id, Kind: KindText, Title: title}
}

// Group creates a node that only holds children.
func Group(children ...*Node) *Node {
	return &Node{Kind: KindGroup, Children: children}
}

// Functional creates a node whose answer is computed without prompting.
func Functional(id string, fn ComputeFunc) *Node {
	return &Node{ID: id, Kind: KindFunctional, Compute: fn}
}

package question

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/rs/zerolog"

	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/ui"
)

const source = "question"

var errNoEvaluator = errors.New("expression conditions need an evaluator")

// Traverser walks question trees.
type Traverser struct {
	ui     ui.UserInteraction
	eval   ExprEvaluator
	logger zerolog.Logger
}

// NewTraverser creates a traverser prompting through ui. eval may be nil
// when no node uses an expression condition.
func NewTraverser(u ui.UserInteraction, eval ExprEvaluator, logger zerolog.Logger) *Traverser {
	return &Traverser{
		ui:     u,
		eval:   eval,
		logger: logger.With().Str("component", "question").Logger(),
	}
}

// Traverse is a convenience for NewTraverser(u, nil, zerolog.Nop()).Traverse.
func Traverse(ctx context.Context, root *Node, inputs Inputs, u ui.UserInteraction) error {
	return NewTraverser(u, nil, zerolog.Nop()).Traverse(ctx, root, inputs)
}

// frame is a node waiting to be visited and the subject its condition
// tests when it has no explicit key.
type frame struct {
	node    *Node
	subject any
}

// checkpoint is the traversal state just before a prompt, used to go back.
type checkpoint struct {
	stack  []frame
	inputs Inputs
	at     frame
}

// Traverse walks root depth-first in declaration order and stores answers
// in inputs. Keys already present in inputs are never prompted. A cancel
// from the user aborts the whole traversal with a UserCancelError.
func (t *Traverser) Traverse(ctx context.Context, root *Node, inputs Inputs) error {
	if root == nil {
		return nil
	}
	if inputs == nil {
		return engine.NewSystemError(source, engine.NameUnhandled, "nil input bag")
	}

	stack := []frame{{node: root}}
	var history []checkpoint

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return engine.NewUserCancelError().WithCause(err)
		}

		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := cur.node

		if node.Condition != nil {
			subject := cur.subject
			if node.Condition.Key != "" {
				subject = inputs[node.Condition.Key]
			}
			ok, err := node.Condition.holds(ctx, subject, inputs, t.eval)
			if err != nil {
				return engine.NewSystemError(source, engine.NameUnhandled,
					fmt.Sprintf("failed to evaluate condition of %q", node.ID)).WithCause(err)
			}
			if !ok {
				t.logger.Debug().Str("question", node.ID).Msg("Condition not met, skipping subtree")
				continue
			}
		}

		answer := cur.subject
		switch node.Kind {
		case KindGroup:

		case KindFunctional:
			if !inputs.Has(node.ID) {
				if node.Compute == nil {
					return engine.NewSystemError(source, engine.NameUnhandled,
						fmt.Sprintf("functional question %q has no function", node.ID))
				}
				value, err := node.Compute(ctx, inputs)
				if err != nil {
					return err
				}
				inputs[node.ID] = value
			}
			answer = inputs[node.ID]

		case KindSingleSelect, KindMultiSelect, KindText, KindFile, KindFiles, KindFolder:
			if inputs.Has(node.ID) {
				if node.Validate != nil {
					if msg := node.Validate(inputs[node.ID], inputs); msg != "" {
						return engine.NewUserError(source, engine.NameInvalidInput,
							fmt.Sprintf("invalid value for %q: %s", node.ID, msg)).WithDetail("input", node.ID)
					}
				}
				answer = inputs[node.ID]
				break
			}

			cp := checkpoint{stack: append([]frame(nil), stack...), inputs: inputs.Clone(), at: cur}
			res, err := t.ask(ctx, node, inputs)
			if err != nil {
				return err
			}

			switch res.Kind {
			case ui.ResultSuccess:
				inputs[node.ID] = res.Value
				answer = res.Value
				history = append(history, cp)
			case ui.ResultSkip:
				answer = nil
				history = append(history, cp)
			case ui.ResultCancel:
				return engine.NewUserCancelError()
			case ui.ResultBack:
				stack = t.back(&history, cp, inputs)
				continue
			case ui.ResultError:
				if res.Err != nil {
					return res.Err
				}
				return engine.NewSystemError(source, engine.NameUnhandled,
					fmt.Sprintf("question %q failed", node.ID))
			}

		default:
			return engine.NewSystemError(source, engine.NameUnhandled,
				fmt.Sprintf("question %q has unknown kind %s", node.ID, node.Kind))
		}

		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: node.Children[i], subject: answer})
		}
	}
	return nil
}

// back restores the state before the previous prompt and returns the stack
// that re-asks it. With no previous prompt the current one is asked again.
func (t *Traverser) back(history *[]checkpoint, current checkpoint, inputs Inputs) []frame {
	target := current
	if n := len(*history); n > 0 {
		target = (*history)[n-1]
		*history = (*history)[:n-1]
	}

	clear(inputs)
	maps.Copy(inputs, target.inputs)

	return append(append([]frame(nil), target.stack...), target.at)
}

// answer is the prompt outcome in a kind-independent shape.
type answer struct {
	Kind  ui.ResultKind
	Value any
	Err   error
}

func from[T any](r ui.InputResult[T]) answer {
	return answer{Kind: r.Kind, Value: r.Value, Err: r.Err}
}

// ask prompts for one leaf node.
func (t *Traverser) ask(ctx context.Context, node *Node, inputs Inputs) (answer, error) {
	prompt := ui.Prompt{Name: node.ID, Title: node.Title, Placeholder: node.Placeholder}

	var strValidate ui.StringValidator
	var listValidate ui.ListValidator
	if node.Validate != nil {
		strValidate = func(s string) string { return node.Validate(s, inputs) }
		listValidate = func(l []string) string { return node.Validate(l, inputs) }
	}
	defString, _ := node.Default.(string)
	defList, _ := node.Default.([]string)

	t.logger.Debug().Str("question", node.ID).Str("kind", node.Kind.String()).Msg("Prompting")

	switch node.Kind {
	case KindSingleSelect, KindMultiSelect:
		options, err := t.options(ctx, node, inputs)
		if err != nil {
			return answer{}, err
		}
		if node.Kind == KindSingleSelect {
			return from(t.ui.SelectOption(ctx, ui.SingleSelectConfig{
				Prompt: prompt, Options: options, Default: defString, Validate: strValidate,
			})), nil
		}
		return from(t.ui.SelectOptions(ctx, ui.MultiSelectConfig{
			Prompt: prompt, Options: options, Default: defList, Validate: listValidate,
		})), nil

	case KindText:
		return from(t.ui.InputText(ctx, ui.InputTextConfig{
			Prompt: prompt, Default: defString, Password: node.Password, Validate: strValidate,
		})), nil

	case KindFile:
		return from(t.ui.SelectFile(ctx, ui.SelectFileConfig{
			Prompt: prompt, Default: defString, Validate: strValidate,
		})), nil

	case KindFiles:
		return from(t.ui.SelectFiles(ctx, ui.SelectFilesConfig{
			Prompt: prompt, Default: defList, Validate: listValidate,
		})), nil

	case KindFolder:
		return from(t.ui.SelectFolder(ctx, ui.SelectFolderConfig{
			Prompt: prompt, Default: defString, Validate: strValidate,
		})), nil

	default:
		return answer{}, engine.NewSystemError(source, engine.NameUnhandled,
			fmt.Sprintf("question %q of kind %s cannot be prompted", node.ID, node.Kind))
	}
}

// options returns the static options, or computes the dynamic ones.
func (t *Traverser) options(ctx context.Context, node *Node, inputs Inputs) ([]ui.Option, error) {
	if node.DynamicOptions == nil {
		return node.Options, nil
	}
	options, err := node.DynamicOptions(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return options, nil
}

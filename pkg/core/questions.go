package core

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/envstore"
	"github.com/fxctl/fxctl/pkg/lifecycle"
	"github.com/fxctl/fxctl/pkg/middleware"
	"github.com/fxctl/fxctl/pkg/question"
	"github.com/fxctl/fxctl/pkg/ui"
)

const noCopy = "none"

func validEnvName(value any, _ question.Inputs) string {
	name, _ := value.(string)
	if err := envstore.ValidateName(name); err != nil {
		return "use letters, digits, '-' and '_' only"
	}
	return ""
}

// envQuestion selects one of the environments of the project.
func (c *FxCore) envQuestion(projectPath string) *question.Node {
	n := question.SingleSelect(InputEnv, "Select an environment")
	n.DynamicOptions = func(ctx context.Context, _ question.Inputs) ([]ui.Option, error) {
		envs, err := c.store.List(ctx, projectPath)
		if err != nil {
			return nil, err
		}
		if len(envs) == 0 {
			return nil, engine.NewUserError(engine.SourceCore, engine.NameDotEnvNotExist,
				"the project has no environment").
				WithDisplayMessage("No environment found. Create one with 'fxctl env add <name>'.")
		}
		opts := make([]ui.Option, len(envs))
		for i, env := range envs {
			opts[i] = ui.Option{ID: env, Label: env}
		}
		return opts, nil
	}
	n.Validate = validEnvName
	return n
}

func (c *FxCore) lifecycleQuestions(projectPath string, name lifecycle.Name) middleware.QuestionsFunc {
	return func(ctx context.Context, inputs question.Inputs) (*question.Node, error) {
		root := question.Group(c.envQuestion(projectPath))
		if name == lifecycle.Deploy {
			root.AddChild(question.SingleSelect(InputConfirm, "Deploy to the selected environment?",
				ui.Option{ID: "yes", Label: "Yes"},
				ui.Option{ID: "no", Label: "No"},
			))
		}
		return root, nil
	}
}

func (c *FxCore) createEnvQuestions(projectPath string) middleware.QuestionsFunc {
	return func(ctx context.Context, inputs question.Inputs) (*question.Node, error) {
		name := question.Text(InputName, "New environment name")
		name.Validate = validEnvName

		copyFrom := question.SingleSelect(InputCopyFrom, "Copy values from")
		copyFrom.Default = noCopy
		copyFrom.DynamicOptions = func(ctx context.Context, inputs question.Inputs) ([]ui.Option, error) {
			envs, err := c.store.List(ctx, projectPath)
			if err != nil {
				return nil, err
			}
			opts := []ui.Option{{ID: noCopy, Label: "Start empty"}}
			for _, env := range envs {
				if env != inputs.String(InputName) {
					opts = append(opts, ui.Option{ID: env, Label: env})
				}
			}
			return opts, nil
		}
		return question.Group(name, copyFrom), nil
	}
}

func initQuestions(ctx context.Context, inputs question.Inputs) (*question.Node, error) {
	folder := &question.Node{
		ID:      InputProjectPath,
		Kind:    question.KindFolder,
		Title:   "Project folder",
		Default: ".",
	}
	name := question.Functional(InputName, func(ctx context.Context, inputs question.Inputs) (any, error) {
		abs, err := filepath.Abs(inputs.String(InputProjectPath))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve project folder: %w", err)
		}
		return filepath.Base(abs), nil
	})
	return question.Group(folder, name), nil
}

package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/fxctl/fxctl/pkg/driver"
	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/envstore"
	"github.com/fxctl/fxctl/pkg/lifecycle"
	"github.com/fxctl/fxctl/pkg/middleware"
	"github.com/fxctl/fxctl/pkg/question"
)

// Provision runs the provision lifecycle of the project in inputs.
func (c *FxCore) Provision(ctx context.Context, inputs question.Inputs) (*lifecycle.Result, error) {
	return c.runLifecycle(ctx, lifecycle.Provision, inputs)
}

// Deploy runs the deploy lifecycle. It asks for confirmation first.
func (c *FxCore) Deploy(ctx context.Context, inputs question.Inputs) (*lifecycle.Result, error) {
	return c.runLifecycle(ctx, lifecycle.Deploy, inputs)
}

// Publish runs the publish lifecycle.
func (c *FxCore) Publish(ctx context.Context, inputs question.Inputs) (*lifecycle.Result, error) {
	return c.runLifecycle(ctx, lifecycle.Publish, inputs)
}

func (c *FxCore) runLifecycle(ctx context.Context, name lifecycle.Name, inputs question.Inputs) (*lifecycle.Result, error) {
	if inputs == nil {
		inputs = question.Inputs{}
	}
	projectPath := inputs.String(InputProjectPath)

	var result *lifecycle.Result
	err := c.guard.Do(ctx, projectPath, string(name), func(ctx context.Context) error {
		// fxapp.yml is read by the action; a broken file is an action failure.
		var model *lifecycle.ProjectModel

		opts := c.options(string(name))
		opts.EnableProgress = true
		opts.ProgressTitle = fmt.Sprintf("Running %s", name)
		opts.Prepare = func(ctx context.Context, opts *middleware.ActionOptions, _ *middleware.ActionContext) error {
			m, err := lifecycle.Load(ctx, projectPath)
			if err != nil {
				return err
			}
			steps, err := m.Steps(name)
			if err != nil {
				return err
			}
			model = m
			opts.ProgressSteps = len(steps)
			return nil
		}
		opts.Questions = c.lifecycleQuestions(projectPath, name)

		var err error
		result, err = middleware.Execute(ctx, c.exec, opts, inputs,
			func(ctx context.Context, actx *middleware.ActionContext) (*lifecycle.Result, error) {
				return c.executeLifecycle(ctx, projectPath, model, name, actx)
			})
		return err
	})
	return result, c.normalize(err)
}

func (c *FxCore) executeLifecycle(ctx context.Context, projectPath string, model *lifecycle.ProjectModel, name lifecycle.Name, actx *middleware.ActionContext) (*lifecycle.Result, error) {
	env := actx.Inputs.String(InputEnv)
	actx.Props[engine.PropEnv] = env

	if name == lifecycle.Deploy && actx.Inputs.String(InputConfirm) != "yes" {
		return nil, engine.NewUserCancelError()
	}

	if err := c.policies.LoadProjectPolicies(ctx, projectPath); err != nil {
		return nil, err
	}

	penv := envstore.NewProcessEnv()
	defer func() {
		if err := penv.Restore(); err != nil {
			c.logger.WithError(err).Warn("Failed to restore process environment")
		}
	}()
	if _, err := c.store.Read(ctx, projectPath, env, envstore.ReadOptions{Process: penv}); err != nil {
		return nil, err
	}

	logger := c.logger.WithEnv(env)
	runner := lifecycle.NewRunner(c.registry, c.store, logger.Zerolog(),
		append([]lifecycle.RunnerOption{lifecycle.WithPolicy(c.policies)}, c.runnerOpts...)...)

	dctx := &driver.Context{
		ProjectPath: projectPath,
		Env:         env,
		Logger:      logger.Zerolog(),
		UI:          c.ui,
		Progress:    actx.ProgressBar,
		Credentials: c.credentials,
		Telemetry:   c.reporter,
	}

	res, err := runner.Run(ctx, model, name, actx.Inputs, dctx)
	if res != nil {
		actx.Measures["steps"] = float64(len(res.Steps))
		if unresolved := res.Unresolved(); len(unresolved) > 0 {
			actx.Props["unresolved"] = strings.Join(unresolved, ",")
		}
	}
	return res, err
}

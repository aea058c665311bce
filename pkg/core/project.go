package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxctl/fxctl/pkg/config"
	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/lifecycle"
	"github.com/fxctl/fxctl/pkg/middleware"
	"github.com/fxctl/fxctl/pkg/policy"
	"github.com/fxctl/fxctl/pkg/project"
	"github.com/fxctl/fxctl/pkg/question"
)

const starterLifecycle = `version: v1

provision:
  - uses: env/generate
    name: app-env
    with:
      target: ./.env.app
      envs:
        APP_ENV: "${{FX_ENV}}"

deploy:
  - uses: script/run
    name: build
    with:
      run: echo "deploying to $FX_ENV"

publish: []
`

// InitProject creates the settings folder, a starter lifecycle file and the
// default environment in the folder given by inputs.
func (c *FxCore) InitProject(ctx context.Context, inputs question.Inputs) (*project.Settings, error) {
	opts := c.options("init")
	opts.Questions = initQuestions

	settings, err := middleware.Execute(ctx, c.exec, opts, inputs,
		func(ctx context.Context, actx *middleware.ActionContext) (*project.Settings, error) {
			projectPath, err := filepath.Abs(actx.Inputs.String(InputProjectPath))
			if err != nil {
				return nil, engine.NewPathNotExistError(actx.Inputs.String(InputProjectPath)).WithCause(err)
			}
			if err := os.MkdirAll(projectPath, 0o755); err != nil {
				return nil, engine.NewWriteFileError(engine.SourceCore, projectPath, err)
			}

			settings, err := project.Init(projectPath, actx.Inputs.String(InputName))
			if err != nil {
				return nil, err
			}
			actx.Props["trackingId"] = settings.TrackingID

			lifecyclePath := lifecycle.Path(projectPath)
			if _, err := os.Stat(lifecyclePath); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(lifecyclePath, []byte(starterLifecycle), 0o644); err != nil {
					return nil, engine.NewWriteFileError(engine.SourceCore, lifecyclePath, err)
				}
			}

			envs, err := c.store.List(ctx, projectPath)
			if err != nil {
				return nil, err
			}
			if len(envs) == 0 {
				if err := c.store.Write(ctx, projectPath, DefaultEnv, map[string]string{}); err != nil {
					return nil, err
				}
			}

			c.logger.Infof("Project %s initialized in %s", settings.Name, projectPath)
			return settings, nil
		})
	return settings, c.normalize(err)
}

// Validate checks the lifecycle file and the project policies and returns
// every problem found.
func (c *FxCore) Validate(ctx context.Context, projectPath string) ([]config.ValidationError, error) {
	verrs, err := middleware.Execute(ctx, c.exec, c.options("validate"), nil,
		func(ctx context.Context, actx *middleware.ActionContext) ([]config.ValidationError, error) {
			if err := project.Check(projectPath); err != nil {
				return nil, err
			}

			path := lifecycle.Path(projectPath)
			data, err := os.ReadFile(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil, engine.NewPathNotExistError(path)
				}
				return nil, engine.NewReadFileError(engine.SourceCore, path, err)
			}
			verrs, err := lifecycle.Validate(ctx, path, data)
			if err != nil {
				return nil, err
			}

			if err := c.policies.LoadProjectPolicies(ctx, projectPath); err != nil {
				verrs = append(verrs, config.ValidationError{
					File:     filepath.Join(project.SettingsDir(projectPath), policy.ProjectPoliciesDir),
					Message:  fmt.Sprint(err),
					Severity: "error",
				})
			}

			actx.Measures["errors"] = float64(len(verrs))
			return verrs, nil
		})
	return verrs, c.normalize(err)
}

package core

import (
	"context"
	"fmt"
	"maps"
	"os"
	"regexp"

	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/envstore"
	"github.com/fxctl/fxctl/pkg/middleware"
	"github.com/fxctl/fxctl/pkg/project"
	"github.com/fxctl/fxctl/pkg/question"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][\w.-]*$`)

// ListEnvs returns the environment names of a project.
func (c *FxCore) ListEnvs(ctx context.Context, projectPath string) ([]string, error) {
	envs, err := middleware.Execute(ctx, c.exec, c.options("listEnvs"), nil,
		func(ctx context.Context, actx *middleware.ActionContext) ([]string, error) {
			if err := project.Check(projectPath); err != nil {
				return nil, err
			}
			envs, err := c.store.List(ctx, projectPath)
			actx.Measures["envs"] = float64(len(envs))
			return envs, err
		})
	return envs, c.normalize(err)
}

// GetEnv returns the decrypted values of an environment.
func (c *FxCore) GetEnv(ctx context.Context, projectPath, env string) (map[string]string, error) {
	values, err := middleware.Execute(ctx, c.exec, c.options("getEnv"), nil,
		func(ctx context.Context, actx *middleware.ActionContext) (map[string]string, error) {
			actx.Props[engine.PropEnv] = env
			if err := project.Check(projectPath); err != nil {
				return nil, err
			}
			return c.store.Read(ctx, projectPath, env, envstore.ReadOptions{})
		})
	return values, c.normalize(err)
}

// SetEnv merges values into an existing environment. An empty value
// removes the key.
func (c *FxCore) SetEnv(ctx context.Context, projectPath, env string, values map[string]string) error {
	for key := range values {
		if !envKeyPattern.MatchString(key) {
			return c.normalize(engine.NewUserError(engine.SourceCore, engine.NameInvalidInput,
				fmt.Sprintf("invalid key %q", key)).WithDetail("key", key))
		}
	}

	err := c.guard.Do(ctx, projectPath, "setEnv", func(ctx context.Context) error {
		_, err := middleware.Execute(ctx, c.exec, c.options("setEnv"), nil,
			func(ctx context.Context, actx *middleware.ActionContext) (struct{}, error) {
				actx.Props[engine.PropEnv] = env
				current, err := c.store.Read(ctx, projectPath, env, envstore.ReadOptions{})
				if err != nil {
					return struct{}{}, err
				}
				for k, v := range values {
					if v == "" {
						delete(current, k)
						continue
					}
					current[k] = v
				}
				actx.Measures["keys"] = float64(len(values))
				return struct{}{}, c.store.Write(ctx, projectPath, env, current)
			})
		return err
	})
	return c.normalize(err)
}

// CreateEnv creates an environment, optionally copying the values of
// another one, and returns its name. The name and source come from inputs
// or are asked for.
func (c *FxCore) CreateEnv(ctx context.Context, inputs question.Inputs) (string, error) {
	if inputs == nil {
		inputs = question.Inputs{}
	}
	projectPath := inputs.String(InputProjectPath)

	var created string
	err := c.guard.Do(ctx, projectPath, "createEnv", func(ctx context.Context) error {
		opts := c.options("createEnv")
		opts.Questions = c.createEnvQuestions(projectPath)

		var err error
		created, err = middleware.Execute(ctx, c.exec, opts, inputs,
			func(ctx context.Context, actx *middleware.ActionContext) (string, error) {
				name := actx.Inputs.String(InputName)
				actx.Props[engine.PropEnv] = name

				if _, err := os.Stat(envstore.Path(projectPath, name)); err == nil {
					return "", engine.NewUserError(engine.SourceCore, engine.NameEnvAlreadyExists,
						fmt.Sprintf("environment %q already exists", name)).WithDetail("env", name)
				}

				values := map[string]string{}
				if from := actx.Inputs.String(InputCopyFrom); from != "" && from != noCopy {
					src, err := c.store.Read(ctx, projectPath, from, envstore.ReadOptions{})
					if err != nil {
						return "", err
					}
					values = maps.Clone(src)
					actx.Props["copyFrom"] = from
				}

				if err := c.store.Write(ctx, projectPath, name, values); err != nil {
					return "", err
				}
				c.logger.WithEnv(name).Infof("Environment created with %d keys", len(values))
				return name, nil
			})
		return err
	})
	return created, c.normalize(err)
}

// WatchEnv calls fn with the values of an environment every time its file
// changes, until ctx is done.
func (c *FxCore) WatchEnv(ctx context.Context, projectPath, env string, fn envstore.WatchFunc) error {
	if err := project.Check(projectPath); err != nil {
		return c.normalize(err)
	}
	if err := c.store.Watch(ctx, projectPath, env, envstore.DefaultDebounce, fn); err != nil {
		return c.normalize(err)
	}
	return nil
}

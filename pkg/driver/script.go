package driver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/fxctl/fxctl/pkg/engine"
)

// setOutputPattern matches "::set-output NAME=VALUE" lines on stdout.
var setOutputPattern = regexp.MustCompile(`^::set-output\s+([A-Za-z_][\w.-]*)=(.*)$`)

type scriptArgs struct {
	Run              string        `mapstructure:"run" validate:"required"`
	WorkingDirectory string        `mapstructure:"workingDirectory"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"min=0"`
}

// ScriptDriver runs a POSIX shell script with an in-process interpreter.
// External commands are executed from PATH. Outputs are collected from
// "::set-output NAME=VALUE" lines.
type ScriptDriver struct{}

// Run implements Driver.
func (d *ScriptDriver) Run(ctx context.Context, args map[string]any, dctx *Context) (map[string]string, error) {
	var a scriptArgs
	if err := DecodeArgs(NameScriptRun, args, &a); err != nil {
		return nil, err
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(a.Run), "run")
	if err != nil {
		return nil, NewInvalidArgsError(NameScriptRun, fmt.Errorf("script syntax error: %w", err))
	}

	dir := dctx.ProjectPath
	if a.WorkingDirectory != "" {
		dir = dctx.resolvePath(a.WorkingDirectory)
	}

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(scriptEnv(dctx)...)),
		interp.StdIO(nil, &stdout, &stderr),
	)
	if err != nil {
		return nil, engine.NewSystemError(NameScriptRun, NameScriptFailed, "failed to create shell interpreter").WithCause(err)
	}

	dctx.Logger.Debug().Str("dir", dir).Msg("running script")
	start := time.Now()
	runErr := runner.Run(ctx, prog)

	outputs := parseOutputs(stdout.String(), dctx)

	var status interp.ExitStatus
	switch {
	case runErr == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, engine.NewUserError(NameScriptRun, NameScriptFailed,
			fmt.Sprintf("script timed out after %s", a.Timeout)).WithCause(runErr)
	case errors.As(runErr, &status):
		return nil, engine.NewUserError(NameScriptRun, NameScriptFailed,
			fmt.Sprintf("script exited with code %d: %s", int(status), lastLine(stderr.String()))).
			WithCause(runErr).
			WithDetail("exitCode", int(status)).
			WithDetail("stderr", stderr.String())
	default:
		return nil, engine.NewSystemError(NameScriptRun, NameScriptFailed, "script execution failed").WithCause(runErr)
	}

	dctx.Logger.Debug().Dur("duration", time.Since(start)).Int("outputs", len(outputs)).Msg("script completed")
	return outputs, nil
}

// scriptEnv is the process environment plus FX_ENV and the step env, later
// entries winning.
func scriptEnv(dctx *Context) []string {
	env := os.Environ()
	if dctx.Env != "" {
		env = append(env, "FX_ENV="+dctx.Env)
	}
	keys := make([]string, 0, len(dctx.StepEnv))
	for k := range dctx.StepEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+dctx.StepEnv[k])
	}
	return env
}

func parseOutputs(stdout string, dctx *Context) map[string]string {
	outputs := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if m := setOutputPattern.FindStringSubmatch(line); m != nil {
			outputs[m[1]] = m[2]
			continue
		}
		if line != "" {
			dctx.Logger.Info().Str("driver", NameScriptRun).Msg(line)
		}
	}
	return outputs
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

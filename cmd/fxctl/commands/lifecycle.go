package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fxctl/fxctl/pkg/core"
	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/envstore"
	"github.com/fxctl/fxctl/pkg/lifecycle"
	"github.com/fxctl/fxctl/pkg/policy"
	"github.com/fxctl/fxctl/pkg/question"
)

type stepView struct {
	Name       string            `json:"name"`
	Uses       string            `json:"uses"`
	Skipped    bool              `json:"skipped,omitempty"`
	Duration   string            `json:"duration"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	Unresolved []string          `json:"unresolved,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type resultView struct {
	Lifecycle  string            `json:"lifecycle"`
	Steps      []stepView        `json:"steps"`
	EnvUpdates map[string]string `json:"envUpdates,omitempty"`
}

func newLifecycleCommand(name, short string) *cobra.Command {
	var (
		env    string
		yes    bool
		extras map[string]string
		skip   []string
	)

	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Long: fmt.Sprintf(`Run the %[1]s steps of fxapp.yml against an environment.

The environment file is loaded into the process environment for the
duration of the run. Step outputs listed under writeToEnvironmentFile are
written back to it, even when a later step fails.`, name),
		Example: fmt.Sprintf(`  # Run against the dev environment
  fxctl %[1]s --env dev

  # Pass inputs to step conditions
  fxctl %[1]s --env prod --input region=eu

  # Run without a warning-only policy
  fxctl %[1]s --env dev --skip-policy wasm-timeout`, name),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			path, err := absProjectPath()
			if err != nil {
				return err
			}

			if err := skipPolicies(cmd, a, path, skip); err != nil {
				return err
			}

			inputs := question.Inputs{}
			for k, v := range extras {
				inputs[k] = v
			}
			inputs[core.InputProjectPath] = path
			if env != "" {
				inputs[core.InputEnv] = env
			}
			if yes {
				inputs[core.InputConfirm] = "yes"
			}

			var res *lifecycle.Result
			switch lifecycle.Name(name) {
			case lifecycle.Provision:
				res, err = a.core.Provision(cmd.Context(), inputs)
			case lifecycle.Deploy:
				res, err = a.core.Deploy(cmd.Context(), inputs)
			case lifecycle.Publish:
				res, err = a.core.Publish(cmd.Context(), inputs)
			default:
				return engine.NewUserError(engine.SourceCore, engine.NameInvalidLifecycle,
					fmt.Sprintf("unknown lifecycle %q", name))
			}
			if res != nil {
				if perr := printResult(cmd, res); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "environment to run against")
	cmd.Flags().StringToStringVarP(&extras, "input", "i", nil, "extra inputs (key=value)")
	cmd.Flags().StringSliceVar(&skip, "skip-policy", nil, "policies to disable for this run")
	if name == string(lifecycle.Deploy) {
		cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the deploy confirmation")
	}

	return cmd
}

// skipPolicies disables the named policies. Project policies are loaded first
// so they can be skipped too; the lifecycle reload keeps unchanged policies
// as they are.
func skipPolicies(cmd *cobra.Command, a *app, projectPath string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	pe := a.core.Policies()
	if err := pe.LoadProjectPolicies(cmd.Context(), projectPath); err != nil {
		return err
	}
	for _, name := range names {
		if err := pe.SetEnabled(name, false); err != nil {
			if errors.Is(err, policy.ErrPolicyNotFound) {
				return engine.NewUserError(engine.SourceCore, engine.NameInvalidInput,
					fmt.Sprintf("unknown policy %q", name)).WithCause(err)
			}
			return err
		}
	}
	return nil
}

func printResult(cmd *cobra.Command, res *lifecycle.Result) error {
	view := resultView{Lifecycle: string(res.Lifecycle), EnvUpdates: masked(res.EnvUpdates)}
	for _, s := range res.Steps {
		sv := stepView{
			Name:       s.Name,
			Uses:       s.Uses,
			Skipped:    s.Skipped,
			Duration:   s.Duration.Round(time.Millisecond).String(),
			Outputs:    masked(s.Outputs),
			Unresolved: s.Unresolved,
		}
		if s.Err != nil {
			sv.Error = s.Err.Error()
		}
		view.Steps = append(view.Steps, sv)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), view)
	}

	out := cmd.OutOrStdout()
	for _, s := range view.Steps {
		label := s.Uses
		if s.Name != "" {
			label = s.Name + " (" + s.Uses + ")"
		}
		switch {
		case s.Error != "":
			fmt.Fprintf(out, "✗ %s: %s\n", label, s.Error)
		case s.Skipped:
			fmt.Fprintf(out, "- %s: skipped\n", label)
		default:
			fmt.Fprintf(out, "✓ %s [%s]\n", label, s.Duration)
		}
		if len(s.Unresolved) > 0 {
			fmt.Fprintf(out, "  unresolved placeholders: %s\n", strings.Join(s.Unresolved, ", "))
		}
	}
	if len(view.EnvUpdates) > 0 {
		fmt.Fprintf(out, "\n%d value(s) written to the environment file\n", len(view.EnvUpdates))
	}
	return nil
}

// masked hides the values of secret keys.
func masked(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if strings.HasPrefix(k, envstore.SecretPrefix) {
			v = "***"
		}
		out[k] = v
	}
	return out
}

package commands

import (
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fxctl/fxctl/pkg/core"
	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/envstore"
	"github.com/fxctl/fxctl/pkg/question"
)

func newEnvCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage project environments",
		Long: `Manage the .env.<name> files of a project.

Values of keys starting with SECRET_ are encrypted with the project key and
shown decrypted.`,
	}

	cmd.AddCommand(newEnvListCommand())
	cmd.AddCommand(newEnvGetCommand())
	cmd.AddCommand(newEnvSetCommand())
	cmd.AddCommand(newEnvAddCommand())
	cmd.AddCommand(newEnvWatchCommand())

	return cmd
}

func newEnvListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List environments",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			path, err := absProjectPath()
			if err != nil {
				return err
			}
			envs, err := a.core.ListEnvs(cmd.Context(), path)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), envs)
			}
			for _, env := range envs {
				fmt.Fprintln(cmd.OutOrStdout(), env)
			}
			return nil
		},
	}
}

func newEnvGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <env> [key]",
		Short: "Show the values of an environment",
		Example: `  # Show every value
  fxctl env get dev

  # Show one value
  fxctl env get dev SECRET_TOKEN`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			path, err := absProjectPath()
			if err != nil {
				return err
			}
			values, err := a.core.GetEnv(cmd.Context(), path, args[0])
			if err != nil {
				return err
			}

			if len(args) == 2 {
				v, ok := values[args[1]]
				if !ok {
					return engine.NewUserError(engine.SourceCore, engine.NameInvalidInput,
						fmt.Sprintf("key %s is not set in %s", args[1], args[0]))
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), values)
			}
			printValues(cmd, values)
			return nil
		},
	}
}

func newEnvSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <env> KEY=VALUE...",
		Short: "Set values of an environment",
		Long: `Set values of an environment. Other values are kept; an empty value
removes the key.`,
		Example: `  fxctl env set dev API_URL=https://api.example.com SECRET_TOKEN=s3cret
  fxctl env set dev OLD_KEY=`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			path, err := absProjectPath()
			if err != nil {
				return err
			}

			values := make(map[string]string, len(args)-1)
			for _, arg := range args[1:] {
				k, v, ok := strings.Cut(arg, "=")
				if !ok {
					return engine.NewUserError(engine.SourceCore, engine.NameInvalidInput,
						fmt.Sprintf("expected KEY=VALUE, got %q", arg))
				}
				values[k] = v
			}

			if err := a.core.SetEnv(cmd.Context(), path, args[0], values); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Updated %d key(s) in %s\n", len(values), args[0])
			return nil
		},
	}
}

func newEnvAddCommand() *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Create an environment",
		Example: `  # Create an empty environment
  fxctl env add staging

  # Copy the values of dev
  fxctl env add staging --from dev`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			path, err := absProjectPath()
			if err != nil {
				return err
			}

			inputs := question.Inputs{core.InputProjectPath: path}
			if len(args) > 0 {
				inputs[core.InputName] = args[0]
			}
			if from != "" {
				inputs[core.InputCopyFrom] = from
			}

			name, err := a.core.CreateEnv(cmd.Context(), inputs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Environment %s created\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "environment to copy values from")

	return cmd
}

func newEnvWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <env>",
		Short: "Print the values of an environment whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			path, err := absProjectPath()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s, press Ctrl+C to stop\n", args[0])
			return a.core.WatchEnv(ctx, path, args[0], watchPrinter(cmd, args[0]))
		},
	}
}

// watchPrinter prints every reload of env. Output failures are logged since
// the watch keeps running.
func watchPrinter(cmd *cobra.Command, env string) envstore.WatchFunc {
	return func(values map[string]string, err error) {
		if err != nil {
			PrintError(cmd.ErrOrStderr(), err)
			return
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), values); err != nil {
				log.Warn().Err(err).Str("env", env).Msg("Failed to print environment")
			}
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "--- %s changed\n", env)
		printValues(cmd, values)
	}
}

func printValues(cmd *cobra.Command, values map[string]string) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, values[k])
	}
}

package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fxctl/fxctl/pkg/core"
	"github.com/fxctl/fxctl/pkg/question"
)

func newInitCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "init [folder]",
		Short: "Initialize a project",
		Long: `Initialize a project in a folder.

This creates:
  - .fx/settings.yml with a fresh tracking ID
  - a starter fxapp.yml, unless one exists
  - the dev environment (.env.dev)`,
		Example: `  # Initialize the current folder
  fxctl init

  # Initialize another folder with a display name
  fxctl init ./my-app --name my-app`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}

			inputs := question.Inputs{}
			if len(args) > 0 {
				inputs[core.InputProjectPath] = args[0]
			} else if cmd.Flags().Changed("project") {
				inputs[core.InputProjectPath] = projectPath
			}
			if name != "" {
				inputs[core.InputName] = name
			}

			log.Debug().Interface("inputs", inputs).Msg("Initializing project")

			settings, err := a.core.InitProject(cmd.Context(), inputs)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), settings)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Project %s initialized\n\n", settings.Name)
			fmt.Fprintf(out, "Next steps:\n")
			fmt.Fprintf(out, "  1. Edit fxapp.yml\n")
			fmt.Fprintf(out, "  2. Run the provision lifecycle:\n")
			fmt.Fprintf(out, "     fxctl provision --env %s\n", core.DefaultEnv)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "project display name (default: folder name)")

	return cmd
}

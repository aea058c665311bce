package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fxctl/fxctl/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the lifecycle file and project policies",
		Long: `Validate a project without running anything.

This command checks:
  - fxapp.yml syntax and schema conformance
  - Rego syntax of the policies in .fx/policies`,
		Example: `  # Validate the current project
  fxctl validate

  # Validate another project
  fxctl validate -p ./my-app`,
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

			log.Debug().Str("path", path).Msg("Validating project")

			verrs, err := a.core.Validate(cmd.Context(), path)
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), verrs); err != nil {
					return err
				}
			} else {
				for _, ve := range verrs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", ve.Severity, ve.String())
				}
			}

			if len(verrs) > 0 {
				return engine.NewUserError(engine.SourceCore, engine.NameInvalidLifecycle,
					fmt.Sprintf("%d problem(s) found", len(verrs)))
			}
			if !jsonOutput {
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Project is valid")
			}
			return nil
		},
	}

	return cmd
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fxctl/fxctl/pkg/config"
)

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "config",
		Short:       "Describe the FX_* environment variables",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.OutOrStdout(), config.Usage())
			return nil
		},
	}
}

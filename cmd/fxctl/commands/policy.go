package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fxctl/fxctl/pkg/engine"
	"github.com/fxctl/fxctl/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect step policies",
		Long: `Inspect the policies checked before every lifecycle step.

Builtin policies ship with fxctl; project policies are the .rego, .json
and .yaml files under .fx/policies.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyShowCommand())

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List builtin and project policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			path, err := absProjectPath()
			if err != nil {
				return err
			}

			pe := a.core.Policies()
			if err := pe.LoadProjectPolicies(cmd.Context(), path); err != nil {
				return err
			}
			policies := pe.ListPolicies()
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), policies)
			}

			for _, p := range policies {
				origin := "project"
				if p.Builtin {
					origin = "builtin"
				}
				state := "enabled"
				if !p.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-28s %-8s %-8s %-8s %s\n", p.Name, origin, state, p.Severity, p.Description)
			}
			return nil
		},
	}
}

func newPolicyShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a policy and its Rego source",
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

			pe := a.core.Policies()
			if err := pe.LoadProjectPolicies(cmd.Context(), path); err != nil {
				return err
			}
			p, err := pe.GetPolicy(args[0])
			if err != nil {
				if errors.Is(err, policy.ErrPolicyNotFound) {
					return engine.NewUserError(engine.SourceCore, engine.NameInvalidInput,
						fmt.Sprintf("unknown policy %q", args[0])).WithCause(err)
				}
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), p)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:        %s\n", p.Name)
			fmt.Fprintf(out, "severity:    %s\n", p.Severity)
			fmt.Fprintf(out, "enabled:     %t\n", p.Enabled)
			if p.Description != "" {
				fmt.Fprintf(out, "description: %s\n", p.Description)
			}
			fmt.Fprintf(out, "\n%s\n", strings.TrimSpace(p.Rego))
			return nil
		},
	}
}

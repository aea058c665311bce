package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fxctl/fxctl/pkg/stores"
)

var errNoHistory = errors.New("action history is not available")

func newHistoryCommand() *cobra.Command {
	var opts stores.ListOptions

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently run actions",
		Long: `Show the actions recorded in the local history database, newest first.

The database location is set with FX_HISTORY_DB.`,
		Example: `  # Last 20 actions
  fxctl history

  # Failed deploys only
  fxctl history --name deploy --failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			if a.history == nil {
				return errNoHistory
			}

			entries, err := a.history.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), entries)
			}

			for _, e := range entries {
				status := "ok"
				if !e.Success {
					status = "failed: " + e.ErrorName
				}
				duration := "-"
				if e.Duration != nil {
					duration = e.Duration.Round(time.Millisecond).String()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s %-8s %-8s %s\n",
					e.Timestamp.Local().Format(time.DateTime), e.Name, e.Env, duration, status)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", stores.DefaultListLimit, "maximum number of entries")
	cmd.Flags().StringVar(&opts.Name, "name", "", "only show actions with this name")
	cmd.Flags().StringVar(&opts.CorrelationID, "correlation-id", "", "only show one action")
	cmd.Flags().BoolVar(&opts.FailedOnly, "failed", false, "only show failed actions")

	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old history entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd.Context())
			if err != nil {
				return err
			}
			if a.history == nil {
				return errNoHistory
			}
			n, err := a.history.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %d entries\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete entries older than this")

	return cmd
}

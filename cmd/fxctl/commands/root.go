package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fxctl/fxctl/pkg/engine"
)

var (
	// Global flags
	projectPath string
	verbose     bool
	jsonOutput  bool
	interactive bool
)

// skipSetup marks commands that run without the application stack.
const skipSetup = "fxctl/skip-setup"

// current is the stack set up for the running command, if any.
var current *app

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)
	teardown(ctx)
	return err
}

// teardown releases the stack of the last command. Failures are logged only,
// so they never mask the command's own result.
func teardown(ctx context.Context) {
	if current == nil {
		return
	}
	if err := current.close(context.WithoutCancel(ctx)); err != nil {
		current.tel.Logger.WithError(err).Warn("Shutdown incomplete")
	}
	current = nil
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fxctl",
		Short: "fxctl - project lifecycle runner",
		Long: `fxctl runs the provision, deploy and publish lifecycles of a project.

A project is a folder holding an fxapp.yml lifecycle file and a .fx folder
with the project settings and one .env.<name> file per environment. Lifecycle steps are executed
by drivers:
  - script/run: POSIX shell scripts run in-process
  - env/generate: dotenv file generation
  - sftp/upload: file upload over SSH
  - wasm/run: sandboxed WASI modules

Keys starting with SECRET_ are encrypted at rest.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipSetup] != "" {
				return nil
			}
			a, err := setup(cmd.Context(), version, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			current = a
			cmd.SetContext(withApp(cmd.Context(), a))
			return nil
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&projectPath, "project", "p", ".", "project folder")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&interactive, "interactive", true, "prompt for missing inputs")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newEnvCommand())
	rootCmd.AddCommand(newLifecycleCommand("provision", "Provision the resources of an environment"))
	rootCmd.AddCommand(newLifecycleCommand("deploy", "Deploy the project to an environment"))
	rootCmd.AddCommand(newLifecycleCommand("publish", "Publish the project"))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newDriversCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}

func absProjectPath() (string, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return "", engine.NewPathNotExistError(projectPath).WithCause(err)
	}
	return abs, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintError writes err the way a user should see it: the display message,
// plus the help or issue link when there is one.
func PrintError(w io.Writer, err error) {
	fe, ok := engine.AsFxError(err)
	if !ok {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	if engine.IsCancel(fe) {
		fmt.Fprintln(w, "Canceled.")
		return
	}
	fmt.Fprintf(w, "Error (%s.%s): %s\n", fe.Source, fe.Name, fe.UserMessage())
	switch {
	case fe.Class == engine.ClassUser && fe.HelpLink != "":
		fmt.Fprintf(w, "See %s\n", fe.HelpLink)
	case fe.Class != engine.ClassUser && fe.IssueLink != "":
		fmt.Fprintf(w, "If the problem persists, report it at %s\n", fe.IssueLink)
	}
}

// ExitCode maps err to the process exit status: 2 for user errors, 130 for
// cancellation and 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case engine.IsCancel(err):
		return 130
	case engine.IsUserError(err):
		return 2
	default:
		return 1
	}
}

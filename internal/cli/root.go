// Package cli implements the bishma command line.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Execute runs the root command until ctx is cancelled.
func Execute(ctx context.Context, version string) error {
	return newRootCmd(newApp(version)).ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bishma",
		Short:         "Score tasks with RICE by talking about them",
		Long:          "bishma asks about reach, impact, confidence and effort for each task you describe, scores complete tasks and saves them to a record store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       a.version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	cmd.SetIn(a.in)
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default ~/.config/bishma/config.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format (console, json)")
	flags.StringVar(&a.sessionID, "session", "", "session id to use instead of the current one")

	cmd.AddCommand(
		newChatCmd(a),
		newServeCmd(a),
		newTasksCmd(a),
		newRecordsCmd(a),
		newDoctorCmd(a),
		newResetCmd(a),
		newEventsCmd(a),
	)
	return cmd
}

func hasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

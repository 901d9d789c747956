package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/iHildy/jules-wrapped/internal/config"
)

// newRootCmd builds the command tree writing results to out and
// diagnostics to errOut.
func newRootCmd(out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "wrapped",
		Short: "Summarize a year of Jules agent usage",
		Long: `wrapped collects a year of sessions, sources and activities from the
Jules API and prints an annual summary: totals, top repositories,
activity streaks and the busiest days.

The API key is read from ` + config.EnvAPIKey + `, the config file in the data
directory (see "wrapped auth"), or --api-key. Fetched data is cached in
SQLite so later runs can use --offline.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Default to the stats command.
			return runStats(cmd, out, errOut)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Collect and print the annual summary (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runStats(cmd, out, errOut)
			},
		},
		&cobra.Command{
			Use:   "auth <api-key>",
			Short: "Store the Jules API key in the config file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runAuth(cmd, args[0], errOut)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Args:  cobra.NoArgs,
			Run: func(*cobra.Command, []string) {
				fmt.Fprintf(out, "wrapped %s (commit %s, built %s)\n",
					version, commit, buildDate)
			},
		},
	)
	return root
}

func runAuth(cmd *cobra.Command, key string, errOut io.Writer) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.SaveAPIKey(key); err != nil {
		return err
	}
	success.Fprintf(errOut, "API key saved to %s\n", cfg.DataDir)
	return nil
}

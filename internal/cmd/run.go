package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [pattern]",
	Short: "Execute the stale steps a pattern selects",
	Long: `Resolve the pattern to a set of steps, expand their dependency
closure, and execute every stale step in dependency order. With no
pattern, the whole graph is considered.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	flags := runCmd.Flags()
	flags.Bool("force", false, "execute selected steps even if fresh")
	flags.Bool("dry-run", false, "print the execution plan without running it")
	flags.Bool("only", false, "execute only the matched steps, assuming dependencies in place")
	flags.Bool("downstream", false, "also execute every descendant of the matched steps")
	flags.Bool("private", false, "let patterns match private steps")
	flags.Bool("archived", false, "let patterns match archived steps")
	flags.Bool("fail-fast", false, "cancel the whole run on the first failure")
	flags.Int("workers", 0, "number of concurrent step executions (0 uses the configured default)")

	rootCmd.AddCommand(runCmd)
}

// errRunFailed signals a completed run with failed or skipped steps; it
// carries no extra detail because the report already printed it.
var errRunFailed = errors.New("one or more steps failed or were skipped")

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	query := ""
	if len(args) == 1 {
		query = args[0]
	}

	flags := cmd.Flags()
	opts := appRunOptions(flags)

	report, err := a.Run(cmd.Context(), query, opts)
	if err != nil {
		return err
	}
	if report != nil && report.Failed() {
		return errRunFailed
	}
	return nil
}

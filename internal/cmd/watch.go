package cmd

import (
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [pattern]",
	Short: "Rebuild the selected steps whenever their inputs change",
	Long: `Run the pattern once, then keep watching the manifest and step
sources and re-run after every settled batch of changes. Stops on
interrupt.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	flags := watchCmd.Flags()
	flags.Bool("force", false, "execute selected steps even if fresh")
	flags.Bool("dry-run", false, "print each execution plan without running it")
	flags.Bool("only", false, "execute only the matched steps, assuming dependencies in place")
	flags.Bool("downstream", false, "also execute every descendant of the matched steps")
	flags.Bool("private", false, "let patterns match private steps")
	flags.Bool("archived", false, "let patterns match archived steps")
	flags.Bool("fail-fast", false, "cancel an individual run on its first failure")
	flags.Int("workers", 0, "number of concurrent step executions (0 uses the configured default)")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	query := ""
	if len(args) == 1 {
		query = args[0]
	}

	return a.Watch(cmd.Context(), query, appRunOptions(cmd.Flags()))
}

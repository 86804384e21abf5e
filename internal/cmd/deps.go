package cmd

import (
	"github.com/spf13/cobra"
)

var depsCmd = &cobra.Command{
	Use:   "deps <step-uri>",
	Short: "List a step's transitive dependencies",
	Long: `Print every transitive dependency of the given step, one URI per
line. With --reverse, print its transitive dependents instead: the
steps that would rebuild if this one changed.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeps,
}

func init() {
	depsCmd.Flags().Bool("reverse", false, "list dependents instead of dependencies")
	rootCmd.AddCommand(depsCmd)
}

func runDeps(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	reverse, _ := cmd.Flags().GetBool("reverse")
	return a.Deps(cmd.Context(), args[0], reverse)
}

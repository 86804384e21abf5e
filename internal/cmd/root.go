// Package cmd defines the datakiln command tree.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vk/datakiln/internal/app"
	"github.com/vk/datakiln/internal/config"
	"github.com/vk/datakiln/internal/registry"
	"github.com/vk/datakiln/modules/httpsource"
	"github.com/vk/datakiln/modules/scriptrun"
)

var rootCmd = &cobra.Command{
	Use:   "datakiln",
	Short: "Incremental build engine for data pipelines",
	Long: `Datakiln walks a declared dependency graph of data-transformation
steps, determines which are stale relative to their inputs and code,
and executes only those, in dependency order.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// v is the process-wide configuration store; flags are bound onto it by
// the subcommands.
var v *viper.Viper

func init() {
	v = config.New()

	flags := rootCmd.PersistentFlags()
	flags.String("manifest", "", "path to the manifest file or directory")
	flags.String("steps-dir", "", "root directory of step sources")
	flags.String("catalog-dir", "", "root directory of published outputs")
	flags.String("log-level", "", "logging level: debug, info, warn, error")
	flags.String("log-format", "", "log output format: text or json")

	cobra.CheckErr(v.BindPFlag("manifest_path", flags.Lookup("manifest")))
	cobra.CheckErr(v.BindPFlag("steps_dir", flags.Lookup("steps-dir")))
	cobra.CheckErr(v.BindPFlag("catalog_dir", flags.Lookup("catalog-dir")))
	cobra.CheckErr(v.BindPFlag("log_level", flags.Lookup("log-level")))
	cobra.CheckErr(v.BindPFlag("log_format", flags.Lookup("log-format")))
}

// coreModules are the built-in runners installed into every CLI app
// instance.
var coreModules = []registry.Module{
	&httpsource.Module{},
	&scriptrun.Module{},
}

// newApp loads the resolved configuration and constructs the wired
// application. Flags shared by several subcommands (like --workers) are
// bound here, against the invoked command, so sibling commands never
// shadow each other's values.
func newApp(cmd *cobra.Command) (*app.App, error) {
	if f := cmd.Flags().Lookup("workers"); f != nil && f.Changed && f.Value.String() != "0" {
		if err := v.BindPFlag("workers", f); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	return app.New(cmd.OutOrStdout(), cfg, coreModules...), nil
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

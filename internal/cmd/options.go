package cmd

import (
	"github.com/spf13/pflag"

	"github.com/vk/datakiln/internal/app"
)

// appRunOptions translates the shared run/watch flag set into
// app.RunOptions. Flag lookup errors are impossible for flags defined
// in this package, so values are read with the non-erroring accessors.
func appRunOptions(flags *pflag.FlagSet) app.RunOptions {
	boolFlag := func(name string) bool {
		val, _ := flags.GetBool(name)
		return val
	}
	return app.RunOptions{
		Force:           boolFlag("force"),
		DryRun:          boolFlag("dry-run"),
		Only:            boolFlag("only"),
		Downstream:      boolFlag("downstream"),
		IncludePrivate:  boolFlag("private"),
		IncludeArchived: boolFlag("archived"),
		FailFast:        boolFlag("fail-fast"),
	}
}

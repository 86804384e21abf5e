package app

import (
	"context"

	"github.com/vk/datakiln/internal/watch"
)

// Watch runs the query once, then re-plans and re-executes after every
// settled batch of changes under the manifest or steps directories. It
// blocks until ctx is cancelled. Individual run failures are reported
// and do not stop the loop.
func (a *App) Watch(ctx context.Context, query string, opts RunOptions) error {
	ctx = a.Context(ctx)

	rebuild := func(ctx context.Context) {
		report, err := a.Run(ctx, query, opts)
		switch {
		case err != nil:
			a.logger.Error("Rebuild failed.", "error", err)
		case report != nil && report.Failed():
			a.logger.Warn("Rebuild finished with failures.")
		}
	}

	rebuild(ctx)

	w, err := watch.New([]string{a.cfg.ManifestPath, a.cfg.StepsDir}, watch.DefaultDebounce)
	if err != nil {
		return err
	}
	return w.Run(ctx, func(ctx context.Context, paths []string) {
		a.logger.Info("Changes detected, rebuilding.", "changed", len(paths))
		rebuild(ctx)
	})
}

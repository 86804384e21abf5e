package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/viant/afs"

	"github.com/vk/datakiln/internal/catalog"
	"github.com/vk/datakiln/internal/checksum"
	"github.com/vk/datakiln/internal/config"
	"github.com/vk/datakiln/internal/ctxlog"
	"github.com/vk/datakiln/internal/graph"
	"github.com/vk/datakiln/internal/manifest"
	"github.com/vk/datakiln/internal/registry"
	"github.com/vk/datakiln/internal/staleness"
	"github.com/vk/datakiln/internal/stepid"
)

// Version is the engine version string stamped into catalog records; it
// is overridden at build time via -ldflags.
var Version = "dev"

// App encapsulates the engine's dependencies, configuration and
// lifecycle for one process.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	cfg      *config.Config
	fs       afs.Service
	registry *registry.Registry
	catalog  *catalog.Catalog
	loader   *manifest.Loader
}

// New constructs a fully wired App with its own isolated logger and
// registry. Modules register their runners in order, later ones winning
// specificity ties.
func New(outW io.Writer, cfg *config.Config, modules ...registry.Module) *App {
	logger := newLogger(cfg, outW)

	fs := afs.New()
	reg := registry.New()
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("Modules registered.", "count", len(modules))

	return &App{
		outW:     outW,
		logger:   logger,
		cfg:      cfg,
		fs:       fs,
		registry: reg,
		catalog:  catalog.New(fs, cfg.CatalogDir, Version),
		loader:   manifest.NewLoader(fs),
	}
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Registry returns the application's runner registry. Primarily for
// tests.
func (a *App) Registry() *registry.Registry { return a.registry }

// Context returns ctx with the application logger attached.
func (a *App) Context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// loadGraph loads the manifest, reads the persisted catalog checksums
// and builds the validated graph. Structural errors abort here, before
// any execution.
func (a *App) loadGraph(ctx context.Context) (*graph.Graph, error) {
	entries, err := a.loader.Load(ctx, a.cfg.ManifestPath)
	if err != nil {
		return nil, err
	}

	ids := make([]stepid.Identity, len(entries))
	for i, e := range entries {
		ids[i] = e.Identity
	}
	records, err := a.catalog.LoadChecksums(ctx, ids)
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(ctx, entries, records)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Graph loaded.",
		"steps", g.Len(),
		"fingerprint", fmt.Sprintf("%016x", g.Fingerprint()),
	)
	return g, nil
}

// evaluate computes every step's staleness verdict bottom-up with a
// fresh checksum computer, so no state leaks between invocations.
func (a *App) evaluate(ctx context.Context, g *graph.Graph) (*staleness.Evaluation, error) {
	order, err := g.TopologicalOrder(g.Identities())
	if err != nil {
		return nil, err
	}
	comp := checksum.NewComputer(a.fs, a.cfg.StepsDir)
	return staleness.Evaluate(ctx, g, order, comp)
}

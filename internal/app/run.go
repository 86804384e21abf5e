package app

import (
	"context"
	"fmt"

	"github.com/vk/datakiln/internal/checksum"
	"github.com/vk/datakiln/internal/ledger"
	"github.com/vk/datakiln/internal/scheduler"
	"github.com/vk/datakiln/internal/stepid"
)

// RunOptions carries the per-invocation knobs of a run.
type RunOptions struct {
	Force           bool
	DryRun          bool
	Only            bool
	Downstream      bool
	IncludePrivate  bool
	IncludeArchived bool
	FailFast        bool
}

// Run resolves query, plans, and — unless DryRun — executes the plan
// and records the outcome in the ledger. The returned report is nil for
// dry runs.
func (a *App) Run(ctx context.Context, query string, opts RunOptions) (*scheduler.Report, error) {
	ctx = a.Context(ctx)

	pattern, err := stepid.ParsePattern(query)
	if err != nil {
		return nil, err
	}

	g, err := a.loadGraph(ctx)
	if err != nil {
		return nil, err
	}
	eval, err := a.evaluate(ctx, g)
	if err != nil {
		return nil, err
	}

	plan, err := scheduler.NewPlan(ctx, g, eval, pattern, scheduler.PlanOptions{
		Force:           opts.Force,
		Only:            opts.Only,
		Downstream:      opts.Downstream,
		IncludePrivate:  opts.IncludePrivate,
		IncludeArchived: opts.IncludeArchived,
	})
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		a.renderPlan(plan)
		return nil, nil
	}

	led, err := ledger.Open(a.cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	defer led.Close()

	runID, err := led.BeginRun(query, opts.Force, g.Fingerprint())
	if err != nil {
		return nil, err
	}

	exec := &scheduler.Executor{
		Registry: a.registry,
		Catalog:  a.catalog,
		Computer: checksum.NewComputer(a.fs, a.cfg.StepsDir),
		Workers:  a.cfg.Workers,
		FailFast: opts.FailFast,
	}
	report, err := exec.Execute(ctx, plan)
	if err != nil {
		return nil, err
	}

	if err := led.FinishRun(runID, report); err != nil {
		// Ledger bookkeeping must never turn a successful build into a
		// failed run.
		a.logger.Warn("Failed to record run in ledger.", "error", err)
	}

	report.Render(a.outW)
	return report, nil
}

// renderPlan prints the ordered plan without executing it.
func (a *App) renderPlan(plan *scheduler.Plan) {
	if plan.IsEmpty() {
		fmt.Fprintln(a.outW, "nothing to do: all selected steps are up to date")
		return
	}
	for _, item := range plan.Items {
		fmt.Fprintf(a.outW, "%s  (%s)\n", item.Identity, item.Reason)
	}
	fmt.Fprintf(a.outW, "\n%d steps would execute\n", len(plan.Items))
}

// Deps prints a step's transitive ancestors, or with reverse its
// descendants — the "what rebuilds if I touch this" query.
func (a *App) Deps(ctx context.Context, uri string, reverse bool) error {
	ctx = a.Context(ctx)

	id, err := stepid.Parse(uri)
	if err != nil {
		return err
	}
	g, err := a.loadGraph(ctx)
	if err != nil {
		return err
	}

	var related []stepid.Identity
	if reverse {
		related, err = g.DescendantsOf(id)
	} else {
		related, err = g.AncestorsOf(id)
	}
	if err != nil {
		return err
	}

	for _, r := range related {
		fmt.Fprintln(a.outW, r.String())
	}
	return nil
}

// History prints the most recent runs from the ledger.
func (a *App) History(ctx context.Context, limit int) error {
	led, err := ledger.Open(a.cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer led.Close()

	runs, err := led.Runs(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.outW, "no recorded runs")
		return nil
	}

	for _, run := range runs {
		query := run.Query
		if query == "" {
			query = "(all)"
		}
		flags := ""
		if run.Force {
			flags = " [force]"
		}
		fmt.Fprintf(a.outW, "#%d  %s  %s%s  %d built, %d fresh, %d failed, %d skipped\n",
			run.ID, run.Started.Format("2006-01-02 15:04:05"), query, flags,
			run.Built, run.Fresh, run.Failed, run.Skipped,
		)
	}
	return nil
}

package scheduler

import (
	"context"
	"fmt"

	"github.com/vk/datakiln/internal/ctxlog"
	"github.com/vk/datakiln/internal/graph"
	"github.com/vk/datakiln/internal/staleness"
	"github.com/vk/datakiln/internal/stepid"
)

// PlanOptions tunes which steps a query selects and which of those get
// executed.
type PlanOptions struct {
	// Force plans every selected step regardless of staleness. It never
	// overrides the failure cascade and never resurrects broken steps.
	Force bool
	// Only restricts execution to the steps the pattern matched
	// directly; their dependencies are assumed to be in place. The
	// staleness filter still applies unless Force is also set.
	Only bool
	// Downstream extends the selection with every descendant of the
	// matched steps, for "rebuild everything I affect" queries.
	Downstream bool
	// IncludePrivate and IncludeArchived widen prefix-pattern
	// selection; see graph.SelectOptions.
	IncludePrivate  bool
	IncludeArchived bool
}

// PlanReason records why a step made it into the plan.
type PlanReason string

const (
	PlanNeverBuilt    PlanReason = "never-built"
	PlanChanged       PlanReason = "changed"
	PlanStaleAncestor PlanReason = "stale-ancestor"
	PlanForced        PlanReason = "forced"
)

// Item is one step scheduled for execution. Digest is the freshly
// computed input digest persisted to the catalog on success.
type Item struct {
	Identity stepid.Identity
	Digest   string
	Reason   PlanReason
}

// Plan is the ordered, filtered subset of the graph that will execute.
// Items appear in a valid bottom-up topological order; execution itself
// only honors the partial order implied by inPlanDeps.
type Plan struct {
	Items []Item

	graph *graph.Graph
	eval  *staleness.Evaluation
	// closure is the full topological closure the query expanded to,
	// including steps that will not execute; the report covers all of
	// it.
	closure []stepid.Identity
	// inPlanDeps maps each planned step to its planned ancestors'
	// direct-dependency edges, the partial order execution respects.
	inPlanDeps map[stepid.Identity][]stepid.Identity
}

// IsEmpty reports whether the plan schedules no work at all.
func (p *Plan) IsEmpty() bool { return len(p.Items) == 0 }

// NewPlan resolves query against the graph, expands the dependency
// closure, and keeps the steps that need to run. Broken steps are never
// planned; they and their planned-side descendants surface in the
// report instead. A query matching no steps is an error, since a typo
// silently planning nothing would be indistinguishable from success.
func NewPlan(ctx context.Context, g *graph.Graph, eval *staleness.Evaluation, query stepid.Pattern, opts PlanOptions) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)

	roots := g.Select(query, graph.SelectOptions{
		IncludePrivate:  opts.IncludePrivate,
		IncludeArchived: opts.IncludeArchived,
	})
	if len(roots) == 0 {
		return nil, fmt.Errorf("query %q matches no steps", query.String())
	}

	matched := make(map[stepid.Identity]bool, len(roots))
	for _, id := range roots {
		matched[id] = true
	}

	if opts.Downstream {
		for _, id := range roots {
			descendants, err := g.DescendantsOf(id)
			if err != nil {
				return nil, err
			}
			for _, d := range descendants {
				if !matched[d] {
					matched[d] = true
					roots = append(roots, d)
				}
			}
		}
	}

	closure, err := g.TopologicalOrder(roots)
	if err != nil {
		return nil, err
	}
	if opts.Only {
		// Dependencies outside the matched set are assumed in place;
		// they are neither planned nor reported.
		restricted := closure[:0:0]
		for _, id := range closure {
			if matched[id] {
				restricted = append(restricted, id)
			}
		}
		closure = restricted
	}

	plan := &Plan{
		graph:      g,
		eval:       eval,
		closure:    closure,
		inPlanDeps: make(map[stepid.Identity][]stepid.Identity),
	}

	planned := make(map[stepid.Identity]bool)
	for _, id := range closure {
		verdict := eval.Verdict(id)
		if verdict.State == staleness.Unknown {
			return nil, fmt.Errorf("step %s was never evaluated", id)
		}
		if verdict.State == staleness.Broken {
			continue
		}

		var reason PlanReason
		switch {
		case verdict.State == staleness.Stale:
			reason = planReason(verdict.Reason)
		case opts.Force:
			reason = PlanForced
		default:
			continue // fresh, not forced
		}

		plan.Items = append(plan.Items, Item{Identity: id, Digest: verdict.Digest, Reason: reason})
		planned[id] = true
	}

	// Record the in-plan dependency edges; execution orders itself by
	// these, not by the serialized item order.
	for _, item := range plan.Items {
		for _, dep := range g.Node(item.Identity).Dependencies {
			if planned[dep] {
				plan.inPlanDeps[item.Identity] = append(plan.inPlanDeps[item.Identity], dep)
			}
		}
	}

	logger.Debug("Plan computed.",
		"query", query.String(),
		"closure", len(closure),
		"planned", len(plan.Items),
		"force", opts.Force,
	)
	return plan, nil
}

// planReason translates a staleness reason into the plan vocabulary.
func planReason(r staleness.Reason) PlanReason {
	switch r {
	case staleness.ReasonNeverBuilt:
		return PlanNeverBuilt
	case staleness.ReasonChanged:
		return PlanChanged
	default:
		return PlanStaleAncestor
	}
}

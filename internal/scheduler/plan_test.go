package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"

	"github.com/vk/datakiln/internal/catalog"
	"github.com/vk/datakiln/internal/checksum"
	"github.com/vk/datakiln/internal/graph"
	"github.com/vk/datakiln/internal/manifest"
	"github.com/vk/datakiln/internal/staleness"
	"github.com/vk/datakiln/internal/stepid"
	"github.com/vk/datakiln/internal/testutil"
)

const (
	snapA    = "snapshot://ns/latest/a"
	dataB    = "data://meadow/ns/latest/b"
	dataC    = "data://garden/ns/latest/c"
	dataD    = "data://garden/other/latest/d"
	grapherE = "grapher://grapher/ns/latest/e"
)

// pipeline bundles the pieces a run needs, built from a workspace the
// same way the app builds them.
type pipeline struct {
	ws   *testutil.Workspace
	deps map[string][]string
}

func newPipeline(t *testing.T, deps map[string][]string) *pipeline {
	p := &pipeline{ws: testutil.NewWorkspace(t), deps: deps}
	p.ws.PopulateSources(deps)
	return p
}

func (p *pipeline) catalog() *catalog.Catalog {
	return catalog.New(afs.New(), p.ws.CatalogDir, "test")
}

// load builds the graph and evaluates the full closure.
func (p *pipeline) load(t *testing.T) (*graph.Graph, *staleness.Evaluation, *checksum.Computer) {
	t.Helper()
	ctx := context.Background()

	var entries []manifest.Entry
	ids := make([]stepid.Identity, 0, len(p.deps))
	for uri, stepDeps := range p.deps {
		e := manifest.Entry{Identity: stepid.MustParse(uri)}
		for _, d := range stepDeps {
			e.Dependencies = append(e.Dependencies, stepid.MustParse(d))
		}
		entries = append(entries, e)
		ids = append(ids, e.Identity)
	}

	records, err := p.catalog().LoadChecksums(ctx, ids)
	require.NoError(t, err)
	g, err := graph.Build(ctx, entries, records)
	require.NoError(t, err)

	order, err := g.TopologicalOrder(g.Identities())
	require.NoError(t, err)

	comp := checksum.NewComputer(afs.New(), p.ws.StepsDir)
	eval, err := staleness.Evaluate(ctx, g, order, comp)
	require.NoError(t, err)
	return g, eval, comp
}

func (p *pipeline) plan(t *testing.T, query string, opts PlanOptions) *Plan {
	t.Helper()
	g, eval, _ := p.load(t)
	pattern, err := stepid.ParsePattern(query)
	require.NoError(t, err)
	plan, err := NewPlan(context.Background(), g, eval, pattern, opts)
	require.NoError(t, err)
	return plan
}

func planURIs(plan *Plan) []string {
	out := make([]string, len(plan.Items))
	for i, item := range plan.Items {
		out[i] = item.Identity.String()
	}
	return out
}

// chain is snapA <- dataB <- dataC.
func chain() map[string][]string {
	return map[string][]string{
		snapA: {},
		dataB: {snapA},
		dataC: {dataB},
	}
}

func TestPlanNeverBuiltCoversClosure(t *testing.T) {
	p := newPipeline(t, chain())

	plan := p.plan(t, dataC, PlanOptions{})
	assert.Equal(t, []string{snapA, dataB, dataC}, planURIs(plan))
	assert.Equal(t, PlanNeverBuilt, plan.Items[0].Reason)
	assert.Equal(t, PlanStaleAncestor, plan.Items[2].Reason)
}

func TestPlanFreshPipelineIsEmpty(t *testing.T) {
	p := newPipeline(t, chain())
	runAll(t, p)

	plan := p.plan(t, dataC, PlanOptions{})
	assert.True(t, plan.IsEmpty())
}

func TestPlanTouchedRootCascades(t *testing.T) {
	p := newPipeline(t, chain())
	runAll(t, p)

	p.ws.TouchSource(snapA, "edited\n")
	plan := p.plan(t, dataC, PlanOptions{})
	assert.Equal(t, []string{snapA, dataB, dataC}, planURIs(plan))
	assert.Equal(t, PlanChanged, plan.Items[0].Reason)
}

func TestPlanStaleMiddleSkipsFreshDependency(t *testing.T) {
	p := newPipeline(t, chain())
	runAll(t, p)

	// Touch the middle step: its fresh dependency must not re-execute.
	p.ws.TouchSource(dataB, "edited\n")
	plan := p.plan(t, dataC, PlanOptions{})
	assert.Equal(t, []string{dataB, dataC}, planURIs(plan))
}

func TestPlanForcePlansFreshSteps(t *testing.T) {
	p := newPipeline(t, chain())
	runAll(t, p)

	plan := p.plan(t, dataC, PlanOptions{Force: true})
	assert.Equal(t, []string{snapA, dataB, dataC}, planURIs(plan))
	for _, item := range plan.Items {
		assert.Equal(t, PlanForced, item.Reason)
	}
}

func TestPlanOnlyRestrictsToMatchedSteps(t *testing.T) {
	p := newPipeline(t, chain())
	runAll(t, p)
	p.ws.TouchSource(dataC, "edited\n")

	plan := p.plan(t, dataC, PlanOptions{Only: true})
	assert.Equal(t, []string{dataC}, planURIs(plan))
}

func TestPlanOnlyForceSingleStep(t *testing.T) {
	// The answer to "force one step without forcing its dependencies":
	// Only restricts the plan to the matched step, Force overrides its
	// freshness.
	p := newPipeline(t, chain())
	runAll(t, p)

	plan := p.plan(t, dataB, PlanOptions{Only: true, Force: true})
	assert.Equal(t, []string{dataB}, planURIs(plan))
	assert.Equal(t, PlanForced, plan.Items[0].Reason)
}

func TestPlanDownstreamExtendsSelection(t *testing.T) {
	deps := chain()
	deps[grapherE] = []string{dataC}
	p := newPipeline(t, deps)

	plan := p.plan(t, dataB, PlanOptions{Downstream: true})
	assert.Equal(t, []string{snapA, dataB, dataC, grapherE}, planURIs(plan))
}

func TestPlanExcludesBrokenSubtree(t *testing.T) {
	deps := chain()
	deps[dataD] = nil

	// dataB gets no source file at all: b and c become broken, d stays.
	p := &pipeline{ws: testutil.NewWorkspace(t), deps: deps}
	p.ws.TouchSource(snapA, "a\n")
	p.ws.TouchSource(dataC, "c\n")
	p.ws.TouchSource(dataD, "d\n")

	plan := p.plan(t, "", PlanOptions{})
	assert.ElementsMatch(t, []string{snapA, dataD}, planURIs(plan))
}

func TestPlanUnmatchedQueryFails(t *testing.T) {
	p := newPipeline(t, chain())
	g, eval, _ := p.load(t)

	pattern, err := stepid.ParsePattern("data://garden/nothing")
	require.NoError(t, err)
	_, err = NewPlan(context.Background(), g, eval, pattern, PlanOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matches no steps")
}

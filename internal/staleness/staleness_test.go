package staleness

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"

	"github.com/vk/datakiln/internal/catalog"
	"github.com/vk/datakiln/internal/checksum"
	"github.com/vk/datakiln/internal/graph"
	"github.com/vk/datakiln/internal/manifest"
	"github.com/vk/datakiln/internal/stepid"
	"github.com/vk/datakiln/internal/testutil"
)

// fixture wires a workspace into an evaluated graph the way the app
// does: sources hashed, records read from the catalog.
type fixture struct {
	ws *testutil.Workspace
}

func newFixture(t *testing.T) *fixture {
	return &fixture{ws: testutil.NewWorkspace(t)}
}

// evaluate builds the graph from deps and evaluates the full closure.
func (f *fixture) evaluate(t *testing.T, deps map[string][]string) (*graph.Graph, *Evaluation) {
	t.Helper()
	ctx := context.Background()

	var entries []manifest.Entry
	ids := make([]stepid.Identity, 0, len(deps))
	for uri, stepDeps := range deps {
		e := manifest.Entry{Identity: stepid.MustParse(uri)}
		for _, d := range stepDeps {
			e.Dependencies = append(e.Dependencies, stepid.MustParse(d))
		}
		entries = append(entries, e)
		ids = append(ids, e.Identity)
	}

	cat := catalog.New(afs.New(), f.ws.CatalogDir, "")
	records, err := cat.LoadChecksums(ctx, ids)
	require.NoError(t, err)

	g, err := graph.Build(ctx, entries, records)
	require.NoError(t, err)

	order, err := g.TopologicalOrder(g.Identities())
	require.NoError(t, err)

	comp := checksum.NewComputer(afs.New(), f.ws.StepsDir)
	eval, err := Evaluate(ctx, g, order, comp)
	require.NoError(t, err)
	return g, eval
}

// markBuilt persists the freshly computed digests for every step, as a
// successful run would.
func (f *fixture) markBuilt(t *testing.T, g *graph.Graph, eval *Evaluation) {
	t.Helper()
	cat := catalog.New(afs.New(), f.ws.CatalogDir, "")
	for _, id := range g.Identities() {
		v := eval.Verdict(id)
		require.NotEqual(t, Broken, v.State)
		require.NoError(t, cat.WriteRecord(context.Background(), id, v.Digest))
	}
}

const (
	a = "snapshot://ns/latest/a"
	b = "data://meadow/ns/latest/b"
	c = "data://garden/ns/latest/c"
)

// chainDeps is a <- b <- c.
func chainDeps() map[string][]string {
	return map[string][]string{
		a: {},
		b: {a},
		c: {b},
	}
}

func TestNeverBuiltIsStale(t *testing.T) {
	f := newFixture(t)
	deps := chainDeps()
	f.ws.PopulateSources(deps)

	_, eval := f.evaluate(t, deps)
	for _, uri := range []string{a, b, c} {
		v := eval.Verdict(stepid.MustParse(uri))
		assert.Equal(t, Stale, v.State, uri)
	}
	assert.Equal(t, ReasonNeverBuilt, eval.Verdict(stepid.MustParse(a)).Reason)
	// Downstream steps report the ancestor, not their own record.
	assert.Equal(t, ReasonStaleAncestor, eval.Verdict(stepid.MustParse(b)).Reason)
}

func TestBuiltChainIsFresh(t *testing.T) {
	f := newFixture(t)
	deps := chainDeps()
	f.ws.PopulateSources(deps)

	g, eval := f.evaluate(t, deps)
	f.markBuilt(t, g, eval)

	_, eval = f.evaluate(t, deps)
	for _, uri := range []string{a, b, c} {
		v := eval.Verdict(stepid.MustParse(uri))
		assert.Equal(t, Fresh, v.State, uri)
		assert.Equal(t, ReasonUpToDate, v.Reason, uri)
	}
}

func TestSourceChangePropagatesDownstream(t *testing.T) {
	f := newFixture(t)
	deps := chainDeps()
	f.ws.PopulateSources(deps)

	g, eval := f.evaluate(t, deps)
	f.markBuilt(t, g, eval)

	// Touch the root; the whole chain goes stale, the unrelated state
	// of the middle step's own file notwithstanding.
	f.ws.TouchSource(a, "edited\n")

	_, eval = f.evaluate(t, deps)
	assert.Equal(t, ReasonChanged, eval.Verdict(stepid.MustParse(a)).Reason)
	assert.Equal(t, ReasonStaleAncestor, eval.Verdict(stepid.MustParse(b)).Reason)
	assert.Equal(t, ReasonStaleAncestor, eval.Verdict(stepid.MustParse(c)).Reason)
}

func TestLeafChangeLeavesAncestorsFresh(t *testing.T) {
	f := newFixture(t)
	deps := chainDeps()
	f.ws.PopulateSources(deps)

	g, eval := f.evaluate(t, deps)
	f.markBuilt(t, g, eval)

	f.ws.TouchSource(c, "edited\n")

	_, eval = f.evaluate(t, deps)
	assert.Equal(t, Fresh, eval.State(stepid.MustParse(a)))
	assert.Equal(t, Fresh, eval.State(stepid.MustParse(b)))
	assert.Equal(t, Stale, eval.State(stepid.MustParse(c)))
}

func TestMissingSourceBreaksSubtree(t *testing.T) {
	f := newFixture(t)
	deps := chainDeps()
	// b gets no source file at all.
	f.ws.TouchSource(a, "a\n")
	f.ws.TouchSource(c, "c\n")

	unrelated := "data://garden/other/latest/d"
	deps[unrelated] = nil
	f.ws.TouchSource(unrelated, "d\n")

	_, eval := f.evaluate(t, deps)

	assert.Equal(t, Stale, eval.State(stepid.MustParse(a)))

	vb := eval.Verdict(stepid.MustParse(b))
	assert.Equal(t, Broken, vb.State)
	assert.Equal(t, ReasonChecksumError, vb.Reason)
	require.Error(t, vb.Err)
	var csErr *checksum.Error
	require.ErrorAs(t, vb.Err, &csErr)

	vc := eval.Verdict(stepid.MustParse(c))
	assert.Equal(t, Broken, vc.State)
	assert.Equal(t, ReasonBrokenAncestor, vc.Reason)

	// The unrelated subtree still evaluates normally.
	assert.Equal(t, Stale, eval.State(stepid.MustParse(unrelated)))
}

// TestMonotonicStalenessProperty generates random DAGs, marks one random
// step's source changed, and asserts every descendant is stale.
func TestMonotonicStalenessProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 20; trial++ {
		t.Run(fmt.Sprintf("trial_%d", trial), func(t *testing.T) {
			f := newFixture(t)

			n := 4 + rng.Intn(8)
			uris := make([]string, n)
			deps := make(map[string][]string, n)
			for i := range uris {
				uris[i] = fmt.Sprintf("data://garden/rand/latest/s%02d", i)
			}
			// Edges only point to lower indices, so the graph is acyclic
			// by construction.
			for i, uri := range uris {
				for j := 0; j < i; j++ {
					if rng.Intn(3) == 0 {
						deps[uri] = append(deps[uri], uris[j])
					}
				}
				if deps[uri] == nil {
					deps[uri] = []string{}
				}
			}
			f.ws.PopulateSources(deps)

			g, eval := f.evaluate(t, deps)
			f.markBuilt(t, g, eval)

			touched := uris[rng.Intn(n)]
			f.ws.TouchSource(touched, "mutated\n")

			g, eval = f.evaluate(t, deps)

			descendants, err := g.DescendantsOf(stepid.MustParse(touched))
			require.NoError(t, err)

			assert.Equal(t, Stale, eval.State(stepid.MustParse(touched)), "touched step")
			for _, d := range descendants {
				assert.Equal(t, Stale, eval.State(d), "descendant %s of touched %s", d, touched)
			}
			// Everything that is neither the touched step nor downstream
			// of it stays fresh.
			downstream := map[stepid.Identity]bool{stepid.MustParse(touched): true}
			for _, d := range descendants {
				downstream[d] = true
			}
			for _, uri := range uris {
				id := stepid.MustParse(uri)
				if !downstream[id] {
					assert.Equal(t, Fresh, eval.State(id), "unrelated step %s", uri)
				}
			}
		})
	}
}

func TestDigestsAreIdenticalAcrossEvaluations(t *testing.T) {
	f := newFixture(t)
	deps := chainDeps()
	f.ws.PopulateSources(deps)

	_, first := f.evaluate(t, deps)
	for i := 0; i < 3; i++ {
		_, again := f.evaluate(t, deps)
		for _, uri := range []string{a, b, c} {
			id := stepid.MustParse(uri)
			assert.Equal(t, first.Verdict(id).Digest, again.Verdict(id).Digest, uri)
		}
	}
}

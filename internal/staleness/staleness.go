package staleness

import (
	"context"
	"fmt"

	"github.com/vk/datakiln/internal/checksum"
	"github.com/vk/datakiln/internal/ctxlog"
	"github.com/vk/datakiln/internal/graph"
	"github.com/vk/datakiln/internal/stepid"
)

// State is the verdict for a single step. Every step starts Unknown and
// moves to exactly one of the other states during evaluation.
type State int

const (
	Unknown State = iota
	// Fresh means the persisted checksum matches the freshly computed
	// one and every ancestor is fresh too.
	Fresh
	// Stale means the step must be rebuilt.
	Stale
	// Broken means the step's digest could not be computed (or an
	// ancestor's could not); it cannot be planned at all.
	Broken
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Broken:
		return "broken"
	default:
		return "unknown"
	}
}

// Reason explains why a step received its state.
type Reason string

const (
	ReasonUpToDate       Reason = "up-to-date"
	ReasonNeverBuilt     Reason = "never-built"
	ReasonChanged        Reason = "changed"
	ReasonStaleAncestor  Reason = "stale-ancestor"
	ReasonChecksumError  Reason = "checksum-error"
	ReasonBrokenAncestor Reason = "broken-ancestor"
)

// Verdict is the evaluation result for one step.
type Verdict struct {
	State  State
	Reason Reason
	// Digest is the freshly computed input digest; it is what gets
	// persisted if the step is rebuilt. Empty for broken steps.
	Digest string
	// Err is set for ReasonChecksumError verdicts.
	Err error
}

// Evaluation maps every step in the evaluated closure to its verdict.
type Evaluation struct {
	verdicts map[stepid.Identity]Verdict
}

// Verdict returns the verdict for id; steps outside the evaluated
// closure report Unknown.
func (e *Evaluation) Verdict(id stepid.Identity) Verdict {
	return e.verdicts[id]
}

// State is shorthand for Verdict(id).State.
func (e *Evaluation) State(id stepid.Identity) State {
	return e.verdicts[id].State
}

// Evaluate walks order (which must be a valid bottom-up topological
// order over a closure of g) and assigns every step a verdict. Checksum
// failures do not abort the evaluation: the affected step and its
// descendants become Broken while unrelated subtrees still evaluate.
func Evaluate(ctx context.Context, g *graph.Graph, order []stepid.Identity, comp *checksum.Computer) (*Evaluation, error) {
	logger := ctxlog.FromContext(ctx)
	eval := &Evaluation{verdicts: make(map[stepid.Identity]Verdict, len(order))}

	for _, id := range order {
		node := g.Node(id)
		if node == nil {
			return nil, fmt.Errorf("evaluation order names step %s outside the graph", id)
		}

		verdict := evaluateNode(ctx, node, eval, comp)
		eval.verdicts[id] = verdict
		logger.Debug("Step evaluated.",
			"step", id.String(),
			"state", verdict.State.String(),
			"reason", string(verdict.Reason),
		)
	}
	return eval, nil
}

// evaluateNode computes one step's verdict from its own digest and its
// dependencies' (already evaluated) verdicts.
func evaluateNode(ctx context.Context, node *graph.Node, eval *Evaluation, comp *checksum.Computer) Verdict {
	// A broken dependency poisons the subtree before any hashing.
	depDigests := make(map[stepid.Identity]string, len(node.Dependencies))
	depsStale := false
	for _, dep := range node.Dependencies {
		depVerdict := eval.verdicts[dep]
		switch depVerdict.State {
		case Broken:
			return Verdict{State: Broken, Reason: ReasonBrokenAncestor}
		case Stale:
			depsStale = true
		}
		depDigests[dep] = depVerdict.Digest
	}

	sourceDigest, err := comp.SourceDigest(ctx, node.Identity)
	if err != nil {
		return Verdict{State: Broken, Reason: ReasonChecksumError, Err: err}
	}
	digest := checksum.InputDigest(sourceDigest, depDigests)

	switch {
	case depsStale:
		// Monotonic propagation: a stale ancestor makes the step stale
		// even if its own digest happens to match.
		return Verdict{State: Stale, Reason: ReasonStaleAncestor, Digest: digest}
	case node.PersistedChecksum == "":
		return Verdict{State: Stale, Reason: ReasonNeverBuilt, Digest: digest}
	case node.PersistedChecksum != digest:
		return Verdict{State: Stale, Reason: ReasonChanged, Digest: digest}
	default:
		return Verdict{State: Fresh, Reason: ReasonUpToDate, Digest: digest}
	}
}

package graph

import (
	"fmt"
	"strings"

	"github.com/vk/datakiln/internal/stepid"
)

// Node is a single step in the dependency graph.
type Node struct {
	// Identity uniquely identifies the step.
	Identity stepid.Identity
	// Dependencies are the step's direct dependencies, in manifest
	// declaration order.
	Dependencies []stepid.Identity
	// Dependents is the derived reverse adjacency, sorted by URI.
	Dependents []stepid.Identity
	// Archived steps stay in the graph (they may still be depended on)
	// but are excluded from pattern selection.
	Archived bool
	// PersistedChecksum is the input digest recorded in the step's
	// catalog record at last successful build, or empty if the step has
	// never been built.
	PersistedChecksum string
}

// Graph is the validated, immutable dependency graph of all declared
// steps.
type Graph struct {
	nodes map[stepid.Identity]*Node
	// order caches every identity sorted by URI, for deterministic
	// iteration.
	order []stepid.Identity
}

// CycleError reports a dependency cycle, naming the steps along it in
// order, first repeated last.
type CycleError struct {
	Cycle []stepid.Identity
}

// Error implements the error interface for CycleError.
func (e *CycleError) Error() string {
	uris := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		uris[i] = id.String()
	}
	return fmt.Sprintf("dependency cycle: %s", strings.Join(uris, " -> "))
}

// UnknownDependencyError reports a manifest entry depending on a step
// that is not declared anywhere in the manifest.
type UnknownDependencyError struct {
	Step       stepid.Identity
	Dependency stepid.Identity
}

// Error implements the error interface for UnknownDependencyError.
func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("step %s depends on undeclared step %s", e.Step, e.Dependency)
}

// Node returns the node for id, or nil if the graph does not contain it.
func (g *Graph) Node(id stepid.Identity) *Node {
	return g.nodes[id]
}

// Contains reports whether the graph holds a node for id.
func (g *Graph) Contains(id stepid.Identity) bool {
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of steps in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Identities returns every step identity in the graph, sorted by URI.
// The returned slice is shared; callers must not mutate it.
func (g *Graph) Identities() []stepid.Identity {
	return g.order
}

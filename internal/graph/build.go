package graph

import (
	"context"
	"fmt"

	"github.com/vk/datakiln/internal/ctxlog"
	"github.com/vk/datakiln/internal/manifest"
	"github.com/vk/datakiln/internal/stepid"
)

// Build constructs a complete, validated dependency graph from manifest
// entries. records maps identities to the checksum persisted in their
// catalog record; steps absent from records have never been built.
func Build(ctx context.Context, entries []manifest.Entry, records map[stepid.Identity]string) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: Starting graph construction.", "entries", len(entries))

	g := &Graph{nodes: make(map[stepid.Identity]*Node, len(entries))}

	// First pass: create all nodes.
	for _, entry := range entries {
		if _, exists := g.nodes[entry.Identity]; exists {
			return nil, fmt.Errorf("step %s declared more than once", entry.Identity)
		}
		g.nodes[entry.Identity] = &Node{
			Identity:          entry.Identity,
			Dependencies:      entry.Dependencies,
			Archived:          entry.Archived,
			PersistedChecksum: records[entry.Identity],
		}
	}

	// Second pass: resolve edges and derive the reverse adjacency.
	for _, node := range g.nodes {
		for _, dep := range node.Dependencies {
			depNode, ok := g.nodes[dep]
			if !ok {
				return nil, &UnknownDependencyError{Step: node.Identity, Dependency: dep}
			}
			depNode.Dependents = append(depNode.Dependents, node.Identity)
		}
	}
	for _, node := range g.nodes {
		stepid.Sort(node.Dependents)
	}

	g.order = make([]stepid.Identity, 0, len(g.nodes))
	for id := range g.nodes {
		g.order = append(g.order, id)
	}
	stepid.Sort(g.order)

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	logger.Debug("Build: Graph construction successful.", "nodes", g.Len())
	return g, nil
}

// detectCycles runs a depth-first traversal with an explicit recursion
// stack; a back-edge into the stack is a cycle.
func (g *Graph) detectCycles() error {
	const (
		white = iota // unvisited
		grey         // on the recursion stack
		black        // fully explored
	)
	color := make(map[stepid.Identity]int, len(g.nodes))
	var stack []stepid.Identity

	var visit func(id stepid.Identity) error
	visit = func(id stepid.Identity) error {
		color[id] = grey
		stack = append(stack, id)

		for _, dep := range g.nodes[id].Dependencies {
			switch color[dep] {
			case grey:
				// Slice the stack from the first occurrence of dep to
				// name the cycle precisely.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle := append(append([]stepid.Identity{}, stack[start:]...), dep)
				return &CycleError{Cycle: cycle}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalOrder returns the closure of roots and all their transitive
// dependencies, ordered so every dependency precedes its dependents.
// Among steps whose dependencies are all satisfied, ties break
// lexicographically by URI, so the order is reproducible across runs.
func (g *Graph) TopologicalOrder(roots []stepid.Identity) ([]stepid.Identity, error) {
	closure := map[stepid.Identity]bool{}
	var expand func(id stepid.Identity) error
	expand = func(id stepid.Identity) error {
		if closure[id] {
			return nil
		}
		node := g.nodes[id]
		if node == nil {
			return fmt.Errorf("step %s is not in the graph", id)
		}
		closure[id] = true
		for _, dep := range node.Dependencies {
			if err := expand(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range roots {
		if err := expand(root); err != nil {
			return nil, err
		}
	}

	// Kahn's algorithm over the closure, with a sorted ready set.
	pending := make(map[stepid.Identity]int, len(closure))
	var ready []stepid.Identity
	for id := range closure {
		n := 0
		for _, dep := range g.nodes[id].Dependencies {
			if closure[dep] {
				n++
			}
		}
		pending[id] = n
		if n == 0 {
			ready = append(ready, id)
		}
	}
	stepid.Sort(ready)

	order := make([]stepid.Identity, 0, len(closure))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var unlocked []stepid.Identity
		for _, dependent := range g.nodes[id].Dependents {
			if !closure[dependent] {
				continue
			}
			pending[dependent]--
			if pending[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			stepid.Sort(ready)
		}
	}

	if len(order) != len(closure) {
		// Unreachable once detectCycles has passed at build time.
		return nil, fmt.Errorf("topological order covered %d of %d steps", len(order), len(closure))
	}
	return order, nil
}

// AncestorsOf returns every transitive dependency of id, sorted by URI.
func (g *Graph) AncestorsOf(id stepid.Identity) ([]stepid.Identity, error) {
	return g.reach(id, func(n *Node) []stepid.Identity { return n.Dependencies })
}

// DescendantsOf returns every transitive dependent of id, sorted by URI.
// This answers "what will rebuild if I touch this step".
func (g *Graph) DescendantsOf(id stepid.Identity) ([]stepid.Identity, error) {
	return g.reach(id, func(n *Node) []stepid.Identity { return n.Dependents })
}

func (g *Graph) reach(id stepid.Identity, next func(*Node) []stepid.Identity) ([]stepid.Identity, error) {
	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("step %s is not in the graph", id)
	}
	seen := map[stepid.Identity]bool{}
	var walk func(id stepid.Identity)
	walk = func(cur stepid.Identity) {
		for _, n := range next(g.nodes[cur]) {
			if !seen[n] {
				seen[n] = true
				walk(n)
			}
		}
	}
	walk(id)

	out := make([]stepid.Identity, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	stepid.Sort(out)
	return out, nil
}

// SelectOptions tunes pattern-based root selection.
type SelectOptions struct {
	// IncludePrivate lets prefix patterns match private steps. Exact
	// patterns always match them.
	IncludePrivate bool
	// IncludeArchived lets prefix patterns match archived steps. Exact
	// patterns always match them.
	IncludeArchived bool
}

// Select returns the identities matching pattern, sorted by URI. Private
// and archived steps are skipped by prefix patterns unless opted in; an
// exact pattern selects its step unconditionally, on the grounds that
// naming a step in full is always intentional.
func (g *Graph) Select(pattern stepid.Pattern, opts SelectOptions) []stepid.Identity {
	var out []stepid.Identity
	for _, id := range g.order {
		if !pattern.Matches(id) {
			continue
		}
		if !pattern.IsExact(id) {
			node := g.nodes[id]
			if node.Archived && !opts.IncludeArchived {
				continue
			}
			if id.IsPrivate() && !opts.IncludePrivate {
				continue
			}
		}
		out = append(out, id)
	}
	return out
}

// Package graph builds and validates the step dependency graph.
//
// The graph is constructed once per invocation from the parsed manifest
// entries plus the catalog's persisted checksum records, validated for
// cycles and dangling references, and then treated as immutable. All
// orderings it produces are deterministic: ties are broken
// lexicographically by step URI.
package graph

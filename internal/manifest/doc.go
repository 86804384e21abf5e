// Package manifest loads the hand-maintained dependency manifest: the
// declarative listing of every step in the pipeline and the steps it
// depends on. The manifest is the single source of truth for the shape of
// the dependency graph; nothing is inferred from the filesystem.
package manifest

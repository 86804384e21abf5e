// Package checksum computes the content digests the staleness decision
// is built on.
//
// A step's source digest covers the bytes of its own declared files; its
// input digest additionally folds in the input digests of every direct
// dependency, giving the whole graph Merkle-tree semantics: a change to
// any transitive ancestor reaches every descendant's digest. Digests are
// content-based only — file modification times never participate, since
// clones and checkouts rewrite mtimes without changing content.
package checksum

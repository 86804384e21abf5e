// Package stepid defines the typed identity of a pipeline step and the
// parsing of its canonical URI representation.
//
// A step identity is the 5-tuple (kind, channel, namespace, version,
// short name). Identities are small comparable value types, so they can be
// used directly as map keys; the raw URI string only appears at the
// manifest and CLI boundaries.
package stepid

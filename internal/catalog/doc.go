// Package catalog manages the published side of the pipeline: each
// step's output location and the checksum record stamped there after a
// successful build. The record is the engine's only persisted state; the
// run ledger is bookkeeping and is never consulted for staleness.
package catalog

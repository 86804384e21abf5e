// Package staleness decides, per step, whether the published output is
// still a faithful product of the step's current inputs.
//
// Evaluation walks the graph bottom-up in the same order checksum
// computation does, because a step's verdict depends on its
// dependencies' freshly computed digests, never their possibly-outdated
// persisted ones. The verdict is monotonic: a fresh step can never sit
// downstream of a stale one.
package staleness

package graph

import (
	"fmt"

	"github.com/minio/highwayhash"
)

// fingerprintKey is fixed: the fingerprint only needs to be stable, not
// unforgeable.
var fingerprintKey = []byte("datakiln.graph.fingerprint.key.1")

// Fingerprint returns a 64-bit hash of the graph's shape: every step URI
// and its dependency URIs, in sorted order. Two invocations over the same
// manifest produce the same fingerprint, so logs and ledger rows from
// different runs can be correlated to a manifest state.
func (g *Graph) Fingerprint() uint64 {
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		// New64 only fails on a bad key length; ours is constant.
		panic(fmt.Errorf("graph fingerprint: %w", err))
	}
	for _, id := range g.order {
		h.Write([]byte(id.String()))
		h.Write([]byte{'\n'})
		for _, dep := range g.nodes[id].Dependencies {
			h.Write([]byte{'\t'})
			h.Write([]byte(dep.String()))
			h.Write([]byte{'\n'})
		}
	}
	return h.Sum64()
}

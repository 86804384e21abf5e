package stepid

import (
	"sort"
	"strings"
)

// Kind classifies a step by the stage of the pipeline it belongs to.
type Kind string

const (
	KindSnapshot       Kind = "snapshot"
	KindData           Kind = "data"
	KindDataPrivate    Kind = "data-private"
	KindGrapher        Kind = "grapher"
	KindGrapherPrivate Kind = "grapher-private"
)

// knownKinds is the closed set of step kinds the engine understands.
var knownKinds = map[Kind]bool{
	KindSnapshot:       true,
	KindData:           true,
	KindDataPrivate:    true,
	KindGrapher:        true,
	KindGrapherPrivate: true,
}

// Valid reports whether k is one of the known step kinds.
func (k Kind) Valid() bool {
	return knownKinds[k]
}

// Private reports whether the kind carries the private suffix.
func (k Kind) Private() bool {
	return strings.HasSuffix(string(k), "-private")
}

// Base returns the kind with any private suffix stripped. Private steps
// share their base kind's directory layout on disk.
func (k Kind) Base() string {
	return strings.TrimSuffix(string(k), "-private")
}

// HasChannel reports whether identities of this kind carry a channel
// segment. Snapshot steps sit upstream of any channel.
func (k Kind) HasChannel() bool {
	return k != KindSnapshot
}

// VersionLatest is the floating version label a step may carry instead of
// an ISO date.
const VersionLatest = "latest"

// Identity uniquely identifies a step across the whole graph. It is a
// comparable value type; two identities are the same step iff all five
// fields are equal. Channel is empty exactly when Kind is snapshot.
type Identity struct {
	Kind      Kind
	Channel   string
	Namespace string
	Version   string
	ShortName string
}

// String serializes the identity into its canonical URI form, the inverse
// of Parse.
func (id Identity) String() string {
	var sb strings.Builder
	sb.WriteString(string(id.Kind))
	sb.WriteString("://")
	if id.Channel != "" {
		sb.WriteString(id.Channel)
		sb.WriteByte('/')
	}
	sb.WriteString(id.Namespace)
	sb.WriteByte('/')
	sb.WriteString(id.Version)
	sb.WriteByte('/')
	sb.WriteString(id.ShortName)
	return sb.String()
}

// IsPrivate reports whether the step belongs to a private kind.
func (id Identity) IsPrivate() bool {
	return id.Kind.Private()
}

// Path returns the identity's segments after the kind, in order. Used for
// pattern matching and for deriving filesystem layouts.
func (id Identity) Path() []string {
	if id.Channel == "" {
		return []string{id.Namespace, id.Version, id.ShortName}
	}
	return []string{id.Channel, id.Namespace, id.Version, id.ShortName}
}

// Less orders identities lexicographically by their URI string. All
// "deterministic tie-break" ordering in the engine goes through this.
func (id Identity) Less(other Identity) bool {
	return id.String() < other.String()
}

// Sort orders a slice of identities lexicographically by URI, in place.
func Sort(ids []Identity) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

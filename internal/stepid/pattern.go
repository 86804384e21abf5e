package stepid

import (
	"fmt"
	"strings"
)

// Pattern selects a subset of step identities by exact-segment prefix
// matching. A pattern with fewer segments than a full identity matches
// every identity sharing that prefix; matching is case-sensitive and never
// interprets regex metacharacters.
//
// A pattern may optionally pin the kind (`data://garden/energy`) or leave
// it open (`garden/energy`), in which case only the path segments are
// compared.
type Pattern struct {
	raw      string
	kind     Kind // empty means any kind
	segments []string
}

// ParsePattern parses a selection pattern. The empty string is a valid
// pattern and matches every step.
func ParsePattern(s string) (Pattern, error) {
	p := Pattern{raw: s}
	rest := s

	if kindStr, after, ok := strings.Cut(s, "://"); ok {
		kind := Kind(kindStr)
		if !kind.Valid() {
			return Pattern{}, &ParseError{URI: s, Reason: fmt.Sprintf("unknown kind %q in pattern", kindStr)}
		}
		p.kind = kind
		rest = after
	}

	if rest == "" {
		return p, nil
	}
	for _, seg := range strings.Split(rest, "/") {
		if !segmentRegex.MatchString(seg) {
			return Pattern{}, &ParseError{URI: s, Reason: fmt.Sprintf("invalid pattern segment %q", seg)}
		}
		p.segments = append(p.segments, seg)
	}
	return p, nil
}

// String returns the pattern as originally written.
func (p Pattern) String() string { return p.raw }

// IsEmpty reports whether the pattern matches everything.
func (p Pattern) IsEmpty() bool { return p.kind == "" && len(p.segments) == 0 }

// Specificity counts how many components the pattern pins: one per path
// segment, plus one when the kind is pinned. Higher is narrower.
func (p Pattern) Specificity() int {
	n := len(p.segments)
	if p.kind != "" {
		n++
	}
	return n
}

// Matches reports whether id falls under the pattern's prefix.
func (p Pattern) Matches(id Identity) bool {
	if p.kind != "" && p.kind != id.Kind {
		return false
	}
	path := id.Path()
	if len(p.segments) > len(path) {
		return false
	}
	for i, seg := range p.segments {
		if path[i] != seg {
			return false
		}
	}
	return true
}

// IsExact reports whether the pattern can only ever match a single
// identity of the given kind, i.e. it pins the kind and every path
// segment. Archived and private steps are only selectable by exact
// patterns.
func (p Pattern) IsExact(id Identity) bool {
	return p.kind == id.Kind && len(p.segments) == len(id.Path()) && p.Matches(id)
}

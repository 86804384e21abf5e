package stepid

import (
	"fmt"
	"regexp"
	"strings"
)

// segmentRegex constrains a single URI segment: no slashes, no whitespace,
// no empty segments.
var segmentRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// versionRegex matches an ISO date; the only other version allowed is the
// literal "latest".
var versionRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseError describes a step URI that does not conform to the canonical
// shape for its kind.
type ParseError struct {
	URI    string
	Reason string
}

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed step identity %q: %s", e.URI, e.Reason)
}

// Parse creates an Identity by parsing its canonical URI representation.
//
// Snapshot steps carry no channel:
//
//	snapshot://<namespace>/<version>/<short_name>
//
// Every other kind carries four path segments:
//
//	<kind>://<channel>/<namespace>/<version>/<short_name>
func Parse(uri string) (Identity, error) {
	kindStr, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return Identity{}, &ParseError{URI: uri, Reason: "missing '://' kind separator"}
	}

	kind := Kind(kindStr)
	if !kind.Valid() {
		return Identity{}, &ParseError{URI: uri, Reason: fmt.Sprintf("unknown kind %q", kindStr)}
	}

	segments := strings.Split(rest, "/")
	want := 3
	if kind.HasChannel() {
		want = 4
	}
	if len(segments) != want {
		return Identity{}, &ParseError{
			URI:    uri,
			Reason: fmt.Sprintf("kind %q requires %d path segments, got %d", kind, want, len(segments)),
		}
	}
	for _, seg := range segments {
		if !segmentRegex.MatchString(seg) {
			return Identity{}, &ParseError{URI: uri, Reason: fmt.Sprintf("invalid path segment %q", seg)}
		}
	}

	id := Identity{Kind: kind}
	if kind.HasChannel() {
		id.Channel = segments[0]
		segments = segments[1:]
	}
	id.Namespace, id.Version, id.ShortName = segments[0], segments[1], segments[2]

	if id.Version != VersionLatest && !versionRegex.MatchString(id.Version) {
		return Identity{}, &ParseError{
			URI:    uri,
			Reason: fmt.Sprintf("version %q is neither an ISO date nor %q", id.Version, VersionLatest),
		}
	}

	return id, nil
}

// MustParse is Parse for compile-time-known URIs; it panics on error.
// Intended for tests and built-in defaults only.
func MustParse(uri string) Identity {
	id, err := Parse(uri)
	if err != nil {
		panic(err)
	}
	return id
}

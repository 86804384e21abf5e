package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/url"

	"github.com/vk/datakiln/internal/stepid"
)

// Error reports a step whose source files could not be read or do not
// exist. It is deliberately fatal for the affected subtree: silently
// substituting an empty digest would mask staleness.
type Error struct {
	Step     stepid.Identity
	Location string
	Err      error
}

// Error implements the error interface for Error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checksum of %s at %s: %v", e.Step, e.Location, e.Err)
	}
	return fmt.Sprintf("checksum of %s: no source files at %s", e.Step, e.Location)
}

// Unwrap exposes the underlying IO error, if any.
func (e *Error) Unwrap() error { return e.Err }

// Computer computes source and input digests for steps. It owns an
// explicit memoization map, so independent evaluations (and tests) never
// share cached state; create one Computer per graph evaluation.
type Computer struct {
	fs        afs.Service
	stepsRoot string
	memo      map[stepid.Identity]string
}

// NewComputer creates a digest computer over the step sources rooted at
// stepsRoot.
func NewComputer(fs afs.Service, stepsRoot string) *Computer {
	return &Computer{
		fs:        fs,
		stepsRoot: stepsRoot,
		memo:      make(map[stepid.Identity]string),
	}
}

// SourceLocation returns the directory a step's own files live under and
// the name prefix identifying them, relative to the steps root. A step's
// files are everything named exactly after its short name (a script, a
// sidecar, or a whole directory) or carrying it as a dotted prefix.
func (c *Computer) SourceLocation(id stepid.Identity) (dir, prefix string) {
	parts := append([]string{id.Kind.Base()}, id.Path()...)
	// The short name selects entries inside the version directory rather
	// than naming a fixed path, so a step may be a single file with any
	// extension, a directory, or both.
	dir = url.Join(c.stepsRoot, path.Join(parts[:len(parts)-1]...))
	return dir, id.ShortName
}

// SourceDigest returns the hex SHA-256 digest over the step's own files,
// walked in sorted path order with each path and content length-prefixed.
// Results are memoized per Computer. A step with no readable source files
// fails with *Error.
func (c *Computer) SourceDigest(ctx context.Context, id stepid.Identity) (string, error) {
	if digest, ok := c.memo[id]; ok {
		return digest, nil
	}

	dir, prefix := c.SourceLocation(id)
	files, err := c.collectSourceFiles(ctx, dir, prefix)
	if err != nil {
		return "", &Error{Step: id, Location: dir, Err: err}
	}
	if len(files) == 0 {
		return "", &Error{Step: id, Location: url.Join(dir, prefix)}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	h := sha256.New()
	for _, f := range files {
		writeLenPrefixed(h, []byte(f.path))
		writeLenPrefixed(h, f.content)
	}
	digest := hex.EncodeToString(h.Sum(nil))
	c.memo[id] = digest
	return digest, nil
}

// InputDigest combines a step's own source digest with the input digests
// of its direct dependencies, sorted by dependency URI. This is the value
// persisted in the catalog record and compared for staleness. It is pure:
// identical inputs always produce the identical hex digest.
func InputDigest(sourceDigest string, depDigests map[stepid.Identity]string) string {
	deps := make([]stepid.Identity, 0, len(depDigests))
	for id := range depDigests {
		deps = append(deps, id)
	}
	stepid.Sort(deps)

	h := sha256.New()
	writeLenPrefixed(h, []byte(sourceDigest))
	for _, dep := range deps {
		writeLenPrefixed(h, []byte(dep.String()))
		writeLenPrefixed(h, []byte(depDigests[dep]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeLenPrefixed writes a uvarint length header before the payload, so
// adjacent fields can never alias under concatenation.
func writeLenPrefixed(w io.Writer, b []byte) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(b)))
	w.Write(buf[:n])
	w.Write(b)
}

// fileEntry is one source file contributing to a digest, keyed by its
// path relative to the steps root.
type fileEntry struct {
	path    string
	content []byte
}

// collectSourceFiles gathers every file belonging to the step: direct
// children of dir named prefix or prefix.*, descending into directories.
func (c *Computer) collectSourceFiles(ctx context.Context, dir, prefix string) ([]fileEntry, error) {
	exists, err := c.fs.Exists(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	objects, err := c.fs.List(ctx, dir)
	if err != nil {
		return nil, err
	}

	var files []fileEntry
	for _, obj := range objects {
		name := obj.Name()
		if name != prefix && !strings.HasPrefix(name, prefix+".") {
			continue
		}
		if obj.IsDir() {
			// Guard against List echoing the listed directory itself.
			if obj.URL() == dir || strings.TrimSuffix(obj.URL(), "/") == strings.TrimSuffix(dir, "/") {
				continue
			}
			sub, err := c.walkDir(ctx, obj.URL(), name)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
			continue
		}
		content, err := c.fs.DownloadWithURL(ctx, obj.URL())
		if err != nil {
			return nil, err
		}
		files = append(files, fileEntry{path: name, content: content})
	}
	return files, nil
}

// walkDir reads every regular file under dirURL, keyed relative to base.
func (c *Computer) walkDir(ctx context.Context, dirURL, base string) ([]fileEntry, error) {
	var rels []string
	err := c.fs.Walk(ctx, dirURL, func(ctx context.Context, baseURL, parent string, info os.FileInfo, reader io.Reader) (bool, error) {
		if info.IsDir() {
			return true, nil
		}
		rel := info.Name()
		if parent != "" {
			rel = path.Join(parent, rel)
		}
		rels = append(rels, rel)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	files := make([]fileEntry, 0, len(rels))
	for _, rel := range rels {
		content, err := c.fs.DownloadWithURL(ctx, url.Join(dirURL, rel))
		if err != nil {
			return nil, err
		}
		files = append(files, fileEntry{path: path.Join(base, rel), content: content})
	}
	return files, nil
}

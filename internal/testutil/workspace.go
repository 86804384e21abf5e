// Package testutil provides the shared harness for engine tests: a
// throwaway pipeline workspace on disk and runners that record their
// invocations.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/datakiln/internal/stepid"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Workspace is a temporary on-disk pipeline layout: a manifest
// directory, a steps directory and a catalog directory, all rooted under
// a single t.TempDir.
type Workspace struct {
	t           *testing.T
	Root        string
	ManifestDir string
	StepsDir    string
	CatalogDir  string
}

// NewWorkspace creates an empty pipeline workspace cleaned up with the
// test.
func NewWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()
	ws := &Workspace{
		t:           t,
		Root:        root,
		ManifestDir: filepath.Join(root, "manifest"),
		StepsDir:    filepath.Join(root, "steps"),
		CatalogDir:  filepath.Join(root, "catalog"),
	}
	for _, dir := range []string{ws.ManifestDir, ws.StepsDir, ws.CatalogDir} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	return ws
}

// WriteManifest writes a manifest file declaring the given steps. deps
// maps a step URI to its dependency URIs; every key becomes one step
// block.
func (ws *Workspace) WriteManifest(deps map[string][]string) {
	ws.t.Helper()
	var sb strings.Builder
	for uri, stepDeps := range deps {
		fmt.Fprintf(&sb, "step %q {\n", uri)
		if len(stepDeps) > 0 {
			sb.WriteString("  depends_on = [\n")
			for _, dep := range stepDeps {
				fmt.Fprintf(&sb, "    %q,\n", dep)
			}
			sb.WriteString("  ]\n")
		}
		sb.WriteString("}\n\n")
	}
	ws.WriteManifestFile("dag.hcl", sb.String())
}

// WriteManifestFile writes raw manifest content under the manifest dir.
func (ws *Workspace) WriteManifestFile(name, content string) {
	ws.t.Helper()
	require.NoError(ws.t, os.WriteFile(filepath.Join(ws.ManifestDir, name), []byte(content), 0o644))
}

// WriteSource writes (or rewrites) a step's source file. The file lands
// where the checksum computer expects it: inside the step's version
// directory, named short_name plus suffix.
func (ws *Workspace) WriteSource(uri, suffix, content string) {
	ws.t.Helper()
	id := stepid.MustParse(uri)
	parts := append([]string{id.Kind.Base()}, id.Path()...)
	dir := filepath.Join(append([]string{ws.StepsDir}, parts[:len(parts)-1]...)...)
	require.NoError(ws.t, os.MkdirAll(dir, 0o755))
	require.NoError(ws.t, os.WriteFile(filepath.Join(dir, id.ShortName+suffix), []byte(content), 0o644))
}

// TouchSource rewrites a step's default source file with new content, as
// a stand-in for "the author edited the step".
func (ws *Workspace) TouchSource(uri, content string) {
	ws.t.Helper()
	ws.WriteSource(uri, ".py", content)
}

// PopulateSources writes a default source file for every step in the
// manifest map.
func (ws *Workspace) PopulateSources(deps map[string][]string) {
	ws.t.Helper()
	for uri := range deps {
		ws.TouchSource(uri, "code of "+uri+"\n")
	}
}

package checksum

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"

	"github.com/vk/datakiln/internal/stepid"
)

// writeSource lays out a step source file under the steps root the way
// the engine expects to find it.
func writeSource(t *testing.T, root string, id stepid.Identity, suffix, content string) {
	t.Helper()
	parts := append([]string{id.Kind.Base()}, id.Path()...)
	dir := filepath.Join(append([]string{root}, parts[:len(parts)-1]...)...)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id.ShortName+suffix), []byte(content), 0o644))
}

func TestSourceDigestIsDeterministic(t *testing.T) {
	root := t.TempDir()
	id := stepid.MustParse("data://garden/energy/latest/mix")
	writeSource(t, root, id, ".py", "print('hello')\n")
	writeSource(t, root, id, ".meta.yml", "title: Mix\n")

	first, err := NewComputer(afs.New(), root).SourceDigest(context.Background(), id)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := NewComputer(afs.New(), root).SourceDigest(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Len(t, first, 64) // hex sha-256
}

func TestSourceDigestTracksContentNotMtime(t *testing.T) {
	root := t.TempDir()
	id := stepid.MustParse("data://garden/energy/latest/mix")
	writeSource(t, root, id, ".py", "v1")

	before, err := NewComputer(afs.New(), root).SourceDigest(context.Background(), id)
	require.NoError(t, err)

	// Rewriting identical bytes (new mtime) must not change the digest.
	writeSource(t, root, id, ".py", "v1")
	same, err := NewComputer(afs.New(), root).SourceDigest(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, before, same)

	writeSource(t, root, id, ".py", "v2")
	changed, err := NewComputer(afs.New(), root).SourceDigest(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, before, changed)
}

func TestSourceDigestCoversDirectorySteps(t *testing.T) {
	root := t.TempDir()
	id := stepid.MustParse("data://garden/energy/latest/mix")
	dir := filepath.Join(root, "data", "garden", "energy", "latest", "mix")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "shared"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shared", "util.py"), []byte("b"), 0o644))

	before, err := NewComputer(afs.New(), root).SourceDigest(context.Background(), id)
	require.NoError(t, err)

	// A nested file change must reach the digest.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shared", "util.py"), []byte("c"), 0o644))
	after, err := NewComputer(afs.New(), root).SourceDigest(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestSourceDigestIgnoresSiblings(t *testing.T) {
	root := t.TempDir()
	mix := stepid.MustParse("data://garden/energy/latest/mix")
	other := stepid.MustParse("data://garden/energy/latest/other")
	writeSource(t, root, mix, ".py", "mix code")
	writeSource(t, root, other, ".py", "other v1")

	before, err := NewComputer(afs.New(), root).SourceDigest(context.Background(), mix)
	require.NoError(t, err)

	// Touching a sibling step in the same version directory is invisible.
	writeSource(t, root, other, ".py", "other v2")
	after, err := NewComputer(afs.New(), root).SourceDigest(context.Background(), mix)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSourceDigestMissingSourceIsFatal(t *testing.T) {
	id := stepid.MustParse("data://garden/energy/latest/mix")
	_, err := NewComputer(afs.New(), t.TempDir()).SourceDigest(context.Background(), id)
	require.Error(t, err)

	var csErr *Error
	require.ErrorAs(t, err, &csErr)
	assert.Equal(t, id, csErr.Step)
}

func TestSourceDigestMemoizesPerComputer(t *testing.T) {
	root := t.TempDir()
	id := stepid.MustParse("data://garden/energy/latest/mix")
	writeSource(t, root, id, ".py", "v1")

	comp := NewComputer(afs.New(), root)
	first, err := comp.SourceDigest(context.Background(), id)
	require.NoError(t, err)

	// The same Computer returns its memoized value even after the file
	// changes; a fresh Computer sees the new content.
	writeSource(t, root, id, ".py", "v2")
	memoized, err := comp.SourceDigest(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, first, memoized)

	fresh, err := NewComputer(afs.New(), root).SourceDigest(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)
}

func TestInputDigestMerkleSemantics(t *testing.T) {
	a := stepid.MustParse("snapshot://ns/latest/a")
	b := stepid.MustParse("data://meadow/ns/latest/b")

	base := InputDigest("source-x", map[stepid.Identity]string{a: "da", b: "db"})

	t.Run("deterministic regardless of map iteration", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			assert.Equal(t, base, InputDigest("source-x", map[stepid.Identity]string{b: "db", a: "da"}))
		}
	})

	t.Run("dependency digest change propagates", func(t *testing.T) {
		assert.NotEqual(t, base, InputDigest("source-x", map[stepid.Identity]string{a: "da2", b: "db"}))
	})

	t.Run("own source change propagates", func(t *testing.T) {
		assert.NotEqual(t, base, InputDigest("source-y", map[stepid.Identity]string{a: "da", b: "db"}))
	})

	t.Run("no dependencies still hashes source", func(t *testing.T) {
		assert.NotEqual(t, InputDigest("s1", nil), InputDigest("s2", nil))
		assert.Equal(t, InputDigest("s1", nil), InputDigest("s1", map[stepid.Identity]string{}))
	})

	t.Run("fields cannot alias across boundaries", func(t *testing.T) {
		// Moving a byte between adjacent fields must change the digest.
		assert.NotEqual(t,
			InputDigest("ab", map[stepid.Identity]string{a: "c"}),
			InputDigest("a", map[stepid.Identity]string{a: "bc"}),
		)
	})
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &Error{Step: stepid.MustParse("snapshot://ns/latest/a"), Location: "x", Err: inner}
	assert.ErrorIs(t, err, inner)
}

package chunkstore

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "sportello/pkg/domain-errors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := New(t.TempDir(), logger)
	require.NoError(t, err)
	return store
}

func putAll(t *testing.T, store *Store, session string, chunks [][]byte, order []int) {
	t.Helper()
	for _, idx := range order {
		err := store.Put(session, idx, len(chunks), "archivio.zip", bytes.NewReader(chunks[idx]))
		require.NoError(t, err, "put chunk %d", idx)
	}
}

func chunksOf(payload []byte, n int) [][]byte {
	size := (len(payload) + n - 1) / n
	var out [][]byte
	for i := 0; i < n; i++ {
		lo := i * size
		hi := lo + size
		if hi > len(payload) {
			hi = len(payload)
		}
		out = append(out, payload[lo:hi])
	}
	return out
}

func TestReassembleInOrder(t *testing.T) {
	store := newStore(t)
	payload := []byte("contenuto dell'archivio di prova")
	chunks := chunksOf(payload, 4)

	putAll(t, store, "sess-1", chunks, []int{0, 1, 2, 3})

	art, err := store.Reassemble("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "archivio.zip", art.OriginalName)
	assert.Equal(t, int64(len(payload)), art.Size)

	got, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// Order invariance: any arrival permutation yields a byte-identical
// artifact.
func TestReassembleOrderInvariance(t *testing.T) {
	payload := make([]byte, 64*1024+17)
	_, err := rand.New(rand.NewSource(1)).Read(payload)
	require.NoError(t, err)

	// 12 chunks also exercises numeric ordering: chunk_10 and chunk_11
	// sort before chunk_2 lexically.
	chunks := chunksOf(payload, 12)

	orders := [][]int{
		{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
		{11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
		{5, 0, 11, 3, 8, 1, 10, 2, 7, 4, 9, 6},
	}

	for i, order := range orders {
		session := fmt.Sprintf("perm-%d", i)
		store := newStore(t)
		putAll(t, store, session, chunks, order)

		art, err := store.Reassemble(session)
		require.NoError(t, err, "order %v", order)

		got, err := os.ReadFile(art.Path)
		require.NoError(t, err)
		assert.Equal(t, payload, got, "order %v produced a different artifact", order)
	}
}

func TestPutDuplicateOverwrites(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.Put("dup", 0, 2, "a.zip", strings.NewReader("OLD0")))
	require.NoError(t, store.Put("dup", 1, 2, "a.zip", strings.NewReader("ONE")))
	// Retry of index 0 replaces, not appends.
	require.NoError(t, store.Put("dup", 0, 2, "a.zip", strings.NewReader("ZERO")))

	art, err := store.Reassemble("dup")
	require.NoError(t, err)

	got, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Equal(t, "ZEROONE", string(got))
}

func TestReassembleGapRejected(t *testing.T) {
	store := newStore(t)
	chunks := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}

	// Indices 0, 1, 3 of 4: index 2 never arrives.
	for _, idx := range []int{0, 1, 3} {
		require.NoError(t, store.Put("gap", idx, 4, "a.zip", bytes.NewReader(chunks[idx])))
	}

	_, err := store.Reassemble("gap")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing chunk 2")

	// No partial artifact may exist.
	entries, err := os.ReadDir(store.root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), assembledPrefix),
			"gap rejection left partial artifact %s", e.Name())
	}
}

func TestReassembleErrors(t *testing.T) {
	store := newStore(t)

	t.Run("unknown session", func(t *testing.T) {
		_, err := store.Reassemble("never-seen")
		require.Error(t, err)
		assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
	})

	t.Run("missing metadata", func(t *testing.T) {
		// Chunk 1 arrived but chunk 0 (which carries the metadata) did not.
		require.NoError(t, store.Put("no-meta", 1, 2, "a.zip", strings.NewReader("x")))
		_, err := store.Reassemble("no-meta")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metadata missing")
	})

	t.Run("no chunks", func(t *testing.T) {
		dir := store.sessionDir("empty")
		require.NoError(t, os.MkdirAll(dir, 0o750))
		raw := []byte(`{"original_name":"a.zip","total_chunks":2}`)
		require.NoError(t, os.WriteFile(filepath.Join(dir, metadataFile), raw, 0o640))

		_, err := store.Reassemble("empty")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no chunks")
	})
}

func TestReassembleConsumesSession(t *testing.T) {
	store := newStore(t)
	putAll(t, store, "once", [][]byte{[]byte("x"), []byte("y")}, []int{0, 1})

	_, err := store.Reassemble("once")
	require.NoError(t, err)

	// Session directory is gone; a second reassembly finds nothing.
	_, err = store.Reassemble("once")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeNotFound))
}

func TestPutRejectsBadInput(t *testing.T) {
	store := newStore(t)

	cases := map[string]error{
		"traversal id": store.Put("../evil", 0, 1, "a.zip", strings.NewReader("x")),
		"empty id":     store.Put("", 0, 1, "a.zip", strings.NewReader("x")),
		"slash id":     store.Put("a/b", 0, 1, "a.zip", strings.NewReader("x")),
		"negative idx": store.Put("ok", -1, 2, "a.zip", strings.NewReader("x")),
		"idx beyond":   store.Put("ok", 2, 2, "a.zip", strings.NewReader("x")),
		"zero total":   store.Put("ok", 0, 0, "a.zip", strings.NewReader("x")),
	}
	for name, err := range cases {
		assert.Error(t, err, name)
		assert.True(t, dErrors.Is(err, dErrors.CodeBadRequest), name)
	}
}

func TestDiscard(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Put("bye", 0, 1, "a.zip", strings.NewReader("x")))

	require.NoError(t, store.Discard("bye"))
	_, err := os.Stat(store.sessionDir("bye"))
	assert.True(t, os.IsNotExist(err))

	// Discarding again is fine.
	assert.NoError(t, store.Discard("bye"))
}

func TestSweepTiming(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.Put("old", 0, 2, "a.zip", strings.NewReader("x")))
	require.NoError(t, store.Put("fresh", 0, 2, "a.zip", strings.NewReader("x")))

	// An orphaned assembled artifact from a crashed pipeline run.
	orphan := filepath.Join(store.root, assembledPrefix+"crashed.zip")
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0o640))

	past25h := time.Now().Add(-25 * time.Hour)
	past23h := time.Now().Add(-23 * time.Hour)
	require.NoError(t, os.Chtimes(store.sessionDir("old"), past25h, past25h))
	require.NoError(t, os.Chtimes(store.sessionDir("fresh"), past23h, past23h))
	require.NoError(t, os.Chtimes(orphan, past25h, past25h))

	removed, err := store.Sweep(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = os.Stat(store.sessionDir("old"))
	assert.True(t, os.IsNotExist(err), "25h-old session must be swept")
	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err), "orphaned artifact must be swept")
	_, err = os.Stat(store.sessionDir("fresh"))
	assert.NoError(t, err, "23h-old session must survive")
}

func TestSweepSkipsInflightSession(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Put("busy", 0, 2, "a.zip", strings.NewReader("x")))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(store.sessionDir("busy"), past, past))

	// Simulate a reassembly holding the session.
	require.True(t, store.acquire("busy"))
	defer store.release("busy")

	removed, err := store.Sweep(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	_, err = os.Stat(store.sessionDir("busy"))
	assert.NoError(t, err, "in-flight session must not be swept")
}

func TestConcurrentReassemblyRejected(t *testing.T) {
	store := newStore(t)
	putAll(t, store, "race", [][]byte{[]byte("x")}, []int{0})

	require.True(t, store.acquire("race"))
	_, err := store.Reassemble("race")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeConflict))
	store.release("race")

	_, err = store.Reassemble("race")
	assert.NoError(t, err)
}

// Package chunkstore provides durable scratch storage for in-flight
// chunked uploads. Each session owns an isolated directory under the
// scratch root; reassembly concatenates the chunks in ascending numeric
// index order into a single artifact and consumes the session.
package chunkstore

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	dErrors "sportello/pkg/domain-errors"
)

const (
	metadataFile = "session.json"
	chunkPrefix  = "chunk_"
	// assembledPrefix names reassembled-but-not-yet-admitted artifacts in
	// the scratch root so the sweep can reclaim orphans.
	assembledPrefix = "assembled_"
)

// Session ids are client-supplied and therefore untrusted; anything that
// could traverse outside its own directory is rejected outright.
var validSessionID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// metadata is recorded when chunk 0 arrives.
type metadata struct {
	OriginalName string `json:"original_name"`
	TotalChunks  int    `json:"total_chunks"`
}

// Store manages chunk sessions on disk.
type Store struct {
	root   string
	logger *slog.Logger

	// mu guards inflight: sessions exclusively owned by a running
	// Reassemble call, which the sweep must not touch.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates the scratch root if needed and returns a Store.
func New(root string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create scratch root %s: %w", root, err)
	}
	return &Store{
		root:     root,
		logger:   logger.With(slog.String("component", "chunkstore")),
		inflight: make(map[string]struct{}),
	}, nil
}

// Put persists one chunk. Re-receiving an index overwrites the previous
// payload. On index 0 the declared original file name and total chunk
// count are recorded as session metadata. Write failures surface
// immediately; the client retries the failed index.
func (s *Store) Put(sessionID string, index, total int, originalName string, payload io.Reader) error {
	if !validSessionID.MatchString(sessionID) {
		return dErrors.New(dErrors.CodeBadRequest, "invalid upload session id")
	}
	if total <= 0 {
		return dErrors.New(dErrors.CodeBadRequest, "total chunk count must be positive")
	}
	if index < 0 || index >= total {
		return dErrors.Newf(dErrors.CodeBadRequest, "chunk index %d out of range 0..%d", index, total-1)
	}

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "create session directory")
	}

	if index == 0 {
		meta := metadata{OriginalName: filepath.Base(originalName), TotalChunks: total}
		raw, err := json.Marshal(meta)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "encode session metadata")
		}
		if err := os.WriteFile(filepath.Join(dir, metadataFile), raw, 0o640); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "write session metadata")
		}
	}

	chunkPath := filepath.Join(dir, chunkPrefix+strconv.Itoa(index))
	f, err := os.Create(chunkPath)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "create chunk file")
	}
	if _, err := io.Copy(f, payload); err != nil {
		f.Close()
		os.Remove(chunkPath)
		return dErrors.Wrap(err, dErrors.CodeInternal, "write chunk payload")
	}
	if err := f.Close(); err != nil {
		os.Remove(chunkPath)
		return dErrors.Wrap(err, dErrors.CodeInternal, "close chunk file")
	}

	return nil
}

// Artifact is the product of a successful reassembly. The caller owns
// Path and must remove it once admission (or failure handling) is done.
type Artifact struct {
	Path         string
	OriginalName string
	Size         int64
}

// Reassemble concatenates a complete session into a single artifact and
// destroys the session. Chunks are consumed in strictly ascending
// numeric index order and deleted as they are read. A session can be
// reassembled at most once; concurrent calls for the same id fail.
func (s *Store) Reassemble(sessionID string) (*Artifact, error) {
	if !validSessionID.MatchString(sessionID) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid upload session id")
	}

	if !s.acquire(sessionID) {
		return nil, dErrors.New(dErrors.CodeConflict, "upload session is already being finalized")
	}
	defer s.release(sessionID)

	dir := s.sessionDir(sessionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "upload session not found: %s", sessionID)
	}

	meta, err := s.readMetadata(dir)
	if err != nil {
		return nil, err
	}

	indices, err := s.chunkIndices(dir)
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "no chunks received for this session")
	}

	// Verify contiguity before writing anything: a gap must not leave a
	// partial artifact behind.
	present := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		present[idx] = struct{}{}
	}
	for i := 0; i < meta.TotalChunks; i++ {
		if _, ok := present[i]; !ok {
			return nil, dErrors.Newf(dErrors.CodeBadRequest, "missing chunk %d of %d", i, meta.TotalChunks)
		}
	}

	outPath := filepath.Join(s.root, assembledPrefix+sessionID+".zip")
	out, err := os.Create(outPath)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create assembled artifact")
	}

	// Stream each chunk through a bounded buffer; whole chunks are never
	// held in memory.
	buf := make([]byte, 64*1024)
	var size int64
	for i := 0; i < meta.TotalChunks; i++ {
		chunkPath := filepath.Join(dir, chunkPrefix+strconv.Itoa(i))
		n, err := appendFile(out, chunkPath, buf)
		if err != nil {
			out.Close()
			os.Remove(outPath)
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("append chunk %d", i))
		}
		size += n
		os.Remove(chunkPath)
	}

	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "close assembled artifact")
	}

	// The session is consumed: metadata and the now-empty directory go.
	os.Remove(filepath.Join(dir, metadataFile))
	if err := os.Remove(dir); err != nil {
		// Leftovers are reclaimed by the sweep; reassembly itself
		// succeeded.
		s.logger.Warn("could not remove session directory",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	return &Artifact{Path: outPath, OriginalName: meta.OriginalName, Size: size}, nil
}

// Discard removes a session and everything in it. Used for explicit
// failure cleanup; removing a non-existent session is not an error.
func (s *Store) Discard(sessionID string) error {
	if !validSessionID.MatchString(sessionID) {
		return dErrors.New(dErrors.CodeBadRequest, "invalid upload session id")
	}
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "remove session directory")
	}
	return nil
}

// Sweep removes session directories and orphaned assembled artifacts
// whose last modification is older than maxAge. Sessions currently
// mid-reassembly are skipped. Returns the number of entries removed.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("read scratch root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(s.root, entry.Name())
		switch {
		case entry.IsDir():
			if s.isInflight(entry.Name()) {
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				s.logger.Warn("sweep: could not remove session directory",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			removed++
		case strings.HasPrefix(entry.Name(), assembledPrefix):
			if err := os.Remove(path); err != nil {
				s.logger.Warn("sweep: could not remove orphaned artifact",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			removed++
		}
	}

	return removed, nil
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

func (s *Store) readMetadata(dir string) (*metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "session metadata missing (chunk 0 never received)")
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "session metadata corrupt")
	}
	if meta.TotalChunks <= 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "session metadata corrupt")
	}
	return &meta, nil
}

// chunkIndices lists the numeric indices present, sorted ascending.
// Numeric, not lexical: chunk_10 must follow chunk_9.
func (s *Store) chunkIndices(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "read session directory")
	}

	var indices []int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, chunkPrefix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(name, chunkPrefix))
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

func (s *Store) acquire(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[sessionID]; busy {
		return false
	}
	s.inflight[sessionID] = struct{}{}
	return true
}

func (s *Store) release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, sessionID)
}

func (s *Store) isInflight(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inflight[sessionID]
	return busy
}

func appendFile(dst io.Writer, path string, buf []byte) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.CopyBuffer(dst, f, buf)
}

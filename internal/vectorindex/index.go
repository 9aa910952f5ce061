// Package vectorindex stores per-knowledge-base chunk vectors and serves
// brute-force cosine top-k retrieval. Each base owns an append-only
// vectors.bin of length-prefixed JSON frames; the in-memory image is a flat
// slice scanned at query time. The parse worker is the single writer;
// readers snapshot under a read lock.
package vectorindex

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/internal/objstore"
	"github.com/rs/zerolog/log"
)

const vectorsFile = "vectors.bin"

// Entry is one embedded chunk of a document.
type Entry struct {
	ChunkID string    `json:"chunk_id"`
	DocID   string    `json:"doc_id"`
	Ordinal int       `json:"ordinal"`
	Offset  int       `json:"offset"`
	Text    string    `json:"text"`
	Vector  []float64 `json:"vector"`
}

// Scored is a retrieval hit.
type Scored struct {
	Entry
	Score float64 `json:"score"`
}

// Store manages one index per knowledge base.
type Store struct {
	mu      sync.Mutex
	obj     *objstore.Store
	indexes map[string]*index
}

type index struct {
	mu      sync.RWMutex
	entries []Entry
	dim     int
}

// NewStore creates the per-base index manager.
func NewStore(obj *objstore.Store) *Store {
	return &Store{obj: obj, indexes: make(map[string]*index)}
}

func vectorsPath(base string) string { return "rag/" + base + "/" + vectorsFile }

// open loads (or returns) the in-memory index for a base.
func (s *Store) open(base string) (*index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indexes[base]; ok {
		return idx, nil
	}
	entries, _, err := s.readFrames(base)
	if err != nil {
		return nil, err
	}
	idx := &index{entries: entries}
	if len(entries) > 0 {
		idx.dim = len(entries[0].Vector)
	}
	s.indexes[base] = idx
	return idx, nil
}

// readFrames replays vectors.bin. A trailing partial frame (crash during
// append) is tolerated and reported via truncated.
func (s *Store) readFrames(base string) (entries []Entry, truncated bool, err error) {
	data, err := s.obj.ReadRaw(vectorsPath(base))
	if err != nil {
		return nil, false, err
	}
	for off := 0; off < len(data); {
		if off+4 > len(data) {
			return entries, true, nil
		}
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		if off+4+n > len(data) {
			return entries, true, nil
		}
		var e Entry
		if err := json.Unmarshal(data[off+4:off+4+n], &e); err != nil {
			return entries, true, nil
		}
		entries = append(entries, e)
		off += 4 + n
	}
	return entries, false, nil
}

func encodeFrames(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	var lenbuf [4]byte
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		binary.BigEndian.PutUint32(lenbuf[:], uint32(len(payload)))
		buf.Write(lenbuf[:])
		buf.Write(payload)
	}
	return buf.Bytes(), nil
}

// Append adds embedded chunks to a base, persisting them to vectors.bin.
// Every vector must match the base's dimension once set.
func (s *Store) Append(base string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	idx, err := s.open(base)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	dim := idx.dim
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return errs.New(errs.InvalidRequest, "empty vector for chunk %s", e.ChunkID)
		}
		if dim == 0 {
			dim = len(e.Vector)
		} else if len(e.Vector) != dim {
			return errs.New(errs.InvalidRequest, "vector dimension %d does not match base dimension %d", len(e.Vector), dim)
		}
	}

	frames, err := encodeFrames(entries)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "encode vectors for %s", base)
	}
	if err := s.obj.Append(vectorsPath(base), frames); err != nil {
		return err
	}
	idx.entries = append(idx.entries, entries...)
	idx.dim = dim
	return nil
}

// Dimension returns the base's vector dimension, 0 while empty.
func (s *Store) Dimension(base string) (int, error) {
	idx, err := s.open(base)
	if err != nil {
		return 0, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim, nil
}

// Count returns the number of chunks indexed for a base.
func (s *Store) Count(base string) (int, error) {
	idx, err := s.open(base)
	if err != nil {
		return 0, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries), nil
}

// Query returns the top-k chunks of a base by cosine similarity against the
// query vector, restricted to allowedDocs when non-nil. Results sort by
// descending score; ties break toward the lower chunk ordinal, then ID.
func (s *Store) Query(base string, vector []float64, k int, allowedDocs map[string]bool) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}
	idx, err := s.open(base)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.dim != 0 && len(vector) != idx.dim {
		return nil, errs.New(errs.InvalidRequest, "query dimension %d does not match base dimension %d", len(vector), idx.dim)
	}

	scored := make([]Scored, 0, len(idx.entries))
	for _, e := range idx.entries {
		if allowedDocs != nil && !allowedDocs[e.DocID] {
			continue
		}
		scored = append(scored, Scored{Entry: e, Score: cosine(vector, e.Vector)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Ordinal != scored[j].Ordinal {
			return scored[i].Ordinal < scored[j].Ordinal
		}
		return scored[i].ChunkID < scored[j].ChunkID
	})
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// RemoveDocument drops a document's chunks from the index and compacts the
// persisted file.
func (s *Store) RemoveDocument(base, docID string) error {
	idx, err := s.open(base)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	kept := idx.entries[:0]
	removed := 0
	for _, e := range idx.entries {
		if e.DocID == docID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return nil
	}
	idx.entries = kept
	if len(kept) == 0 {
		idx.dim = 0
	}

	frames, err := encodeFrames(kept)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "encode vectors for %s", base)
	}
	if err := s.obj.WriteRaw(vectorsPath(base), frames); err != nil {
		return err
	}
	log.Debug().Str("base", base).Str("doc", docID).Int("chunks", removed).Msg("Document removed from vector index")
	return nil
}

// Drop forgets a base's in-memory index; used after the base directory is
// removed.
func (s *Store) Drop(base string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, base)
}

// SwitchToCosineIndex normalises every base's persisted layout at startup.
// It replays each vectors.bin, discarding any trailing partial frame left
// by a crash, and rewrites the file compacted. Idempotent.
func (s *Store) SwitchToCosineIndex() error {
	bases, err := s.obj.List("rag")
	if err != nil {
		return err
	}
	start := time.Now()
	for _, base := range bases {
		entries, truncated, err := s.readFrames(base)
		if err != nil {
			return err
		}
		if !truncated {
			continue
		}
		frames, err := encodeFrames(entries)
		if err != nil {
			return errs.Wrap(errs.Internal, err, "encode vectors for %s", base)
		}
		if err := s.obj.WriteRaw(vectorsPath(base), frames); err != nil {
			return err
		}
		log.Warn().Str("base", base).Int("chunks", len(entries)).Msg("Repaired truncated vector file")
	}
	log.Info().Int("bases", len(bases)).Dur("elapsed", time.Since(start)).Msg("Vector index layout check complete")
	return nil
}

func cosine(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

package vectorindex_test

import (
	"testing"

	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/internal/objstore"
	"github.com/linguo5/AingDesk/internal/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *vectorindex.Store {
	t.Helper()
	obj, err := objstore.New(t.TempDir())
	require.NoError(t, err)
	return vectorindex.NewStore(obj)
}

func entry(chunkID, docID string, ordinal int, vec ...float64) vectorindex.Entry {
	return vectorindex.Entry{
		ChunkID: chunkID,
		DocID:   docID,
		Ordinal: ordinal,
		Text:    "chunk " + chunkID,
		Vector:  vec,
	}
}

// Canonical basis vectors rank by cosine against e1 exactly by their first
// component.
func TestQueryRanksByCosine(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("kb", []vectorindex.Entry{
		entry("c0", "d1", 0, 0, 1, 0), // orthogonal to e1
		entry("c1", "d1", 1, 1, 0, 0), // identical to e1
		entry("c2", "d1", 2, 1, 1, 0), // 45 degrees
	}))

	hits, err := s.Query("kb", []float64{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.Equal(t, "c2", hits[1].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestQueryTieBreaksByOrdinal(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("kb", []vectorindex.Entry{
		entry("z-chunk", "d1", 2, 1, 0),
		entry("a-chunk", "d1", 1, 1, 0),
	}))

	hits, err := s.Query("kb", []float64{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a-chunk", hits[0].ChunkID, "equal scores must order by lower ordinal")
}

func TestQueryDeterministic(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("kb", []vectorindex.Entry{
		entry("c0", "d1", 0, 0.3, 0.7),
		entry("c1", "d1", 1, 0.9, 0.1),
		entry("c2", "d2", 2, 0.5, 0.5),
	}))

	first, err := s.Query("kb", []float64{0.6, 0.4}, 3, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Query("kb", []float64{0.6, 0.4}, 3, nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDimensionMismatchRejected(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("kb", []vectorindex.Entry{entry("c0", "d1", 0, 1, 0, 0)}))

	err := s.Append("kb", []vectorindex.Entry{entry("c1", "d1", 1, 1, 0)})
	assert.Equal(t, errs.InvalidRequest, errs.KindOf(err))

	_, err = s.Query("kb", []float64{1, 0}, 1, nil)
	assert.Equal(t, errs.InvalidRequest, errs.KindOf(err))
}

func TestRemoveDocumentCompacts(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("kb", []vectorindex.Entry{
		entry("c0", "keep", 0, 1, 0),
		entry("c1", "drop", 1, 0, 1),
		entry("c2", "keep", 2, 1, 1),
	}))

	require.NoError(t, s.RemoveDocument("kb", "drop"))

	hits, err := s.Query("kb", []float64{0, 1}, 10, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "drop", h.DocID)
	}
	n, _ := s.Count("kb")
	assert.Equal(t, 2, n)
}

func TestAllowedDocsFilter(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append("kb", []vectorindex.Entry{
		entry("c0", "parsed", 0, 1, 0),
		entry("c1", "half-written", 1, 1, 0),
	}))

	hits, err := s.Query("kb", []float64{1, 0}, 10, map[string]bool{"parsed": true})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "parsed", hits[0].DocID)
}

// A base survives a reload of the store from disk.
func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	obj, err := objstore.New(dir)
	require.NoError(t, err)

	s1 := vectorindex.NewStore(obj)
	require.NoError(t, s1.Append("kb", []vectorindex.Entry{entry("c0", "d1", 0, 0.2, 0.8)}))

	obj2, err := objstore.New(dir)
	require.NoError(t, err)
	s2 := vectorindex.NewStore(obj2)
	require.NoError(t, s2.SwitchToCosineIndex())

	hits, err := s2.Query("kb", []float64{0.2, 0.8}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c0", hits[0].ChunkID)
	assert.Equal(t, "chunk c0", hits[0].Text)
}

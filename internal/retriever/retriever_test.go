package retriever

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartdocq/internal/domain"
	"smartdocq/internal/index"
)

type fakeEmbedder struct {
	vector   []float64
	degraded bool
	err      error
}

func (f *fakeEmbedder) Embed(texts []string) (domain.EmbedResult, error) {
	if f.err != nil {
		return domain.EmbedResult{}, f.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return domain.EmbedResult{Vectors: out, Strategy: "fake", Degraded: f.degraded}, nil
}

func (f *fakeEmbedder) Reset(uint64) {}

type fakeIndex struct {
	domain.Index
	searches []domain.Filter
	byFilter func(f domain.Filter) []domain.SearchHit
	err      error
}

func (f *fakeIndex) Search(vector []float64, k int, flt domain.Filter) ([]domain.SearchHit, error) {
	f.searches = append(f.searches, flt)
	if f.err != nil {
		return nil, f.err
	}
	return f.byFilter(flt), nil
}

func hit(id string, dist float64) domain.SearchHit {
	return domain.SearchHit{Chunk: domain.Chunk{ChunkID: id, Text: "text"}, Distance: dist}
}

func TestRetrieve_BuildsFilterFromScopes(t *testing.T) {
	idx := &fakeIndex{byFilter: func(f domain.Filter) []domain.SearchHit {
		return []domain.SearchHit{hit("a:0", 0.1)}
	}}
	r := New(&fakeEmbedder{vector: []float64{1, 0}}, idx, nil)

	hits, degraded, err := r.Retrieve("question", 3, "doc-1", "alice")
	require.NoError(t, err)
	assert.False(t, degraded)
	require.Len(t, hits, 1)

	require.Len(t, idx.searches, 1)
	assert.Equal(t, domain.Filter{DocumentID: "doc-1", OwnerID: "alice"}, idx.searches[0])
}

func TestRetrieve_RetriesWithoutOwnerFilter(t *testing.T) {
	idx := &fakeIndex{byFilter: func(f domain.Filter) []domain.SearchHit {
		if f.OwnerID != "" {
			return nil
		}
		return []domain.SearchHit{hit("b:0", 0.3)}
	}}
	r := New(&fakeEmbedder{vector: []float64{1, 0}}, idx, nil)

	hits, _, err := r.Retrieve("question", 3, "doc-1", "alice")
	require.NoError(t, err)
	require.Len(t, hits, 1)

	require.Len(t, idx.searches, 2)
	assert.Equal(t, "alice", idx.searches[0].OwnerID)
	assert.Equal(t, "", idx.searches[1].OwnerID)
	assert.Equal(t, "doc-1", idx.searches[1].DocumentID, "document scope survives the owner retry")
}

// Composed with the widening store, an owner-scoped query over someone
// else's documents is satisfied by the store's own unfiltered widening step;
// the owner retry never needs to fire.
func TestRetrieve_WideningStoreSatisfiesForeignOwnerScope(t *testing.T) {
	s, err := index.Open(index.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	gen := s.Generation()
	require.NoError(t, s.Add([]domain.Entry{{
		ID:     "d1:0",
		Vector: []float64{1, 0},
		Text:   "shared passage",
		Metadata: domain.Metadata{
			DocumentID: "d1",
			Filename:   "d1.txt",
			OwnerID:    "alice",
			Generation: gen,
		},
	}}))

	r := New(&fakeEmbedder{vector: []float64{1, 0}}, s, nil)
	hits, _, err := r.Retrieve("question", 3, "", "bob")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "shared passage", hits[0].Chunk.Text)
}

func TestRetrieve_EmbeddingFailureReturnsEmptyNotError(t *testing.T) {
	r := New(&fakeEmbedder{err: errors.New("ladder exhausted")}, &fakeIndex{}, nil)

	hits, degraded, err := r.Retrieve("question", 3, "", "")
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Empty(t, hits)
}

func TestRetrieve_SearchFailureReturnsEmptyNotError(t *testing.T) {
	idx := &fakeIndex{err: errors.New("storage down")}
	r := New(&fakeEmbedder{vector: []float64{1, 0}}, idx, nil)

	hits, _, err := r.Retrieve("question", 3, "", "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRetrieve_PropagatesDegradedFlag(t *testing.T) {
	idx := &fakeIndex{byFilter: func(domain.Filter) []domain.SearchHit {
		return []domain.SearchHit{hit("a:0", 0.5)}
	}}
	r := New(&fakeEmbedder{vector: []float64{0, 0}, degraded: true}, idx, nil)

	_, degraded, err := r.Retrieve("question", 3, "", "")
	require.NoError(t, err)
	assert.True(t, degraded)
}

func TestRetrieve_DefaultsK(t *testing.T) {
	idx := &fakeIndex{byFilter: func(domain.Filter) []domain.SearchHit { return nil }}
	r := New(&fakeEmbedder{vector: []float64{1}}, idx, nil)

	_, _, err := r.Retrieve("question", 0, "", "")
	require.NoError(t, err)
	require.Len(t, idx.searches, 1)
}

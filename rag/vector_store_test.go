package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/medflow/types"
)

func chunkWithVector(id, docID, ns string, vec []float64) types.Chunk {
	return types.Chunk{
		ID:         id,
		DocumentID: docID,
		Namespace:  ns,
		Text:       "text for " + id,
		Vector:     vec,
	}
}

func TestInMemoryVectorStore_UpsertAndQuery(t *testing.T) {
	t.Parallel()

	s := NewInMemoryVectorStore(nil)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []types.Chunk{
		chunkWithVector("a:0-10", "a", types.NamespaceMedicalKB, []float64{1, 0, 0}),
		chunkWithVector("a:10-20", "a", types.NamespaceMedicalKB, []float64{0, 1, 0}),
		chunkWithVector("b:0-10", "b", "patient_p1", []float64{0.9, 0.1, 0}),
	}))

	hits, err := s.Query(ctx, []float64{1, 0, 0}, []string{"patient_p1", types.NamespaceMedicalKB}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	// exact match ranks first
	assert.Equal(t, "a:0-10", hits[0].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestInMemoryVectorStore_UpsertReplacesSameID(t *testing.T) {
	t.Parallel()

	s := NewInMemoryVectorStore(nil)
	ctx := context.Background()

	first := chunkWithVector("a:0-10", "a", types.NamespaceMedicalKB, []float64{1, 0})
	require.NoError(t, s.Upsert(ctx, []types.Chunk{first}))

	updated := first
	updated.Text = "updated"
	require.NoError(t, s.Upsert(ctx, []types.Chunk{updated}))

	n, err := s.Count(ctx, types.NamespaceMedicalKB)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := s.Query(ctx, []float64{1, 0}, []string{types.NamespaceMedicalKB}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "updated", hits[0].Chunk.Text)
}

func TestInMemoryVectorStore_UpsertRejectsMissingVector(t *testing.T) {
	t.Parallel()

	s := NewInMemoryVectorStore(nil)
	err := s.Upsert(context.Background(), []types.Chunk{{ID: "x", Namespace: "medical_kb"}})
	require.Error(t, err)
	assert.Equal(t, types.ErrIngestion, types.CodeOf(err))
}

func TestInMemoryVectorStore_NamespaceIsolation(t *testing.T) {
	t.Parallel()

	s := NewInMemoryVectorStore(nil)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []types.Chunk{
		chunkWithVector("p1:0-5", "p1doc", "patient_p1", []float64{1, 0}),
		chunkWithVector("p2:0-5", "p2doc", "patient_p2", []float64{1, 0}),
	}))

	hits, err := s.Query(ctx, []float64{1, 0}, []string{"patient_p1"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p1:0-5", hits[0].Chunk.ID)
}

func TestInMemoryVectorStore_DeleteByDocument(t *testing.T) {
	t.Parallel()

	s := NewInMemoryVectorStore(nil)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []types.Chunk{
		chunkWithVector("a:0-5", "a", "patient_p1", []float64{1}),
		chunkWithVector("a:5-10", "a", "patient_p1", []float64{1}),
		chunkWithVector("b:0-5", "b", "patient_p1", []float64{1}),
	}))

	require.NoError(t, s.DeleteByDocument(ctx, "patient_p1", "a"))

	n, err := s.Count(ctx, "patient_p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInMemoryVectorStore_QueryEmptyNamespace(t *testing.T) {
	t.Parallel()

	s := NewInMemoryVectorStore(nil)
	hits, err := s.Query(context.Background(), []float64{1}, []string{"patient_unknown"}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMergeHits_TieBreaks(t *testing.T) {
	t.Parallel()

	hits := []VectorHit{
		{Chunk: types.Chunk{ID: "kb:2", Namespace: types.NamespaceMedicalKB}, Score: 0.8},
		{Chunk: types.Chunk{ID: "p:1", Namespace: "patient_p1"}, Score: 0.8},
		{Chunk: types.Chunk{ID: "kb:1", Namespace: types.NamespaceMedicalKB}, Score: 0.8},
		{Chunk: types.Chunk{ID: "p:0", Namespace: "patient_p1"}, Score: 0.9},
	}

	merged := MergeHits(hits, 0)
	require.Len(t, merged, 4)
	// highest score first, then patient over shared, then chunk ID
	assert.Equal(t, "p:0", merged[0].Chunk.ID)
	assert.Equal(t, "p:1", merged[1].Chunk.ID)
	assert.Equal(t, "kb:1", merged[2].Chunk.ID)
	assert.Equal(t, "kb:2", merged[3].Chunk.ID)
}

func TestMergeHits_TopK(t *testing.T) {
	t.Parallel()

	hits := []VectorHit{
		{Chunk: types.Chunk{ID: "a"}, Score: 0.1},
		{Chunk: types.Chunk{ID: "b"}, Score: 0.9},
		{Chunk: types.Chunk{ID: "c"}, Score: 0.5},
	}
	merged := MergeHits(hits, 2)
	require.Len(t, merged, 2)
	assert.Equal(t, "b", merged[0].Chunk.ID)
	assert.Equal(t, "c", merged[1].Chunk.ID)
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{1}))
	assert.Equal(t, 0.0, cosineSimilarity([]float64{0, 0}, []float64{1, 1}))
	assert.Equal(t, 0.0, cosineSimilarity(nil, nil))
}

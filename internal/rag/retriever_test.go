package rag

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-copilot/decision-support/internal/domain"
)

// unitVector returns a 2D unit vector whose cosine similarity against [1, 0]
// is exactly c.
func unitVector(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

// seededRetriever builds a retriever over a memory store pre-populated with
// fresh embeddings, so only the query goes through the embedder.
func seededRetriever(t *testing.T, embedder *stubEmbedder, records []*domain.MedicalRecord, similarities []float64) *Retriever {
	t.Helper()

	backend := NewMemoryStore(16, 0)
	for i, record := range records {
		err := backend.Put(context.Background(), record.ID, &StoredEmbedding{
			Vector:     unitVector(similarities[i]),
			EmbeddedAt: record.UpdatedAt.Add(time.Minute),
		})
		require.NoError(t, err)
	}

	embeddings := NewEmbeddingStore(embedder, backend, testLogger())
	return NewRetriever(embeddings, embedder, DefaultRetrievalConfig(), testLogger())
}

func queryEmbedder() *stubEmbedder {
	return &stubEmbedder{vectors: map[string][]float32{
		"blood pressure": {1, 0},
	}}
}

func TestSearch_RanksBySimilarity(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{
		testRecord("rec-1", "Lipid panel", "cholesterol", base),
		testRecord("rec-2", "BP check", "hypertension follow-up", base),
		testRecord("rec-3", "Flu shot", "vaccination", base),
	}
	retriever := seededRetriever(t, queryEmbedder(), records, []float64{0.6, 0.9, 0.45})

	results := retriever.Search(context.Background(), records, "blood pressure", 0)

	require.Len(t, results, 3)
	assert.Equal(t, "rec-2", results[0].Record.ID)
	assert.Equal(t, "rec-1", results[1].Record.ID)
	assert.Equal(t, "rec-3", results[2].Record.ID)
	assert.InDelta(t, 0.9, results[0].Similarity, 1e-6)
}

func TestSearch_TruncatesToTopK(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{
		testRecord("rec-1", "a", "a", base),
		testRecord("rec-2", "b", "b", base),
		testRecord("rec-3", "c", "c", base),
		testRecord("rec-4", "d", "d", base),
		testRecord("rec-5", "e", "e", base),
	}
	retriever := seededRetriever(t, queryEmbedder(), records, []float64{0.5, 0.9, 0.7, 0.6, 0.8})

	results := retriever.Search(context.Background(), records, "blood pressure", 2)

	require.Len(t, results, 2)
	assert.Equal(t, "rec-2", results[0].Record.ID)
	assert.Equal(t, "rec-5", results[1].Record.ID)
}

func TestSearch_FiltersBelowMinSimilarity(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{
		testRecord("rec-1", "a", "a", base),
		testRecord("rec-2", "b", "b", base),
	}
	retriever := seededRetriever(t, queryEmbedder(), records, []float64{0.1, 0.8})

	results := retriever.Search(context.Background(), records, "blood pressure", 0)

	require.Len(t, results, 1)
	assert.Equal(t, "rec-2", results[0].Record.ID)
}

func TestSearch_TieBrokenByRecordDate(t *testing.T) {
	older := testRecord("rec-old", "a", "a", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := testRecord("rec-new", "b", "b", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	records := []*domain.MedicalRecord{older, newer}
	retriever := seededRetriever(t, queryEmbedder(), records, []float64{0.8, 0.8})

	results := retriever.Search(context.Background(), records, "blood pressure", 0)

	require.Len(t, results, 2)
	assert.Equal(t, "rec-new", results[0].Record.ID)
	assert.Equal(t, "rec-old", results[1].Record.ID)
}

func TestSearch_Deterministic(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{
		testRecord("rec-1", "a", "a", base),
		testRecord("rec-2", "b", "b", base),
		testRecord("rec-3", "c", "c", base),
	}
	retriever := seededRetriever(t, queryEmbedder(), records, []float64{0.7, 0.7, 0.7})

	first := retriever.Search(context.Background(), records, "blood pressure", 0)
	for i := 0; i < 5; i++ {
		again := retriever.Search(context.Background(), records, "blood pressure", 0)
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].Record.ID, again[j].Record.ID)
		}
	}
}

func TestSearch_QueryEmbedFailureReturnsEmpty(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{testRecord("rec-1", "a", "a", base)}

	embedder := &stubEmbedder{err: errors.New("connection refused")}
	retriever := seededRetriever(t, embedder, records, []float64{0.9})

	results := retriever.Search(context.Background(), records, "blood pressure", 0)

	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearch_SkipsRecordsThatFailToEmbed(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	seeded := testRecord("rec-1", "a", "a", base)
	unseeded := testRecord("rec-2", "b", "b", base)

	backend := NewMemoryStore(16, 0)
	require.NoError(t, backend.Put(context.Background(), seeded.ID, &StoredEmbedding{
		Vector:     unitVector(0.8),
		EmbeddedAt: base.Add(time.Minute),
	}))

	// The embedder serves the query but fails for record content, so the
	// unseeded record cannot be embedded and is excluded from results.
	embedder := &queryOnlyEmbedder{query: "blood pressure", vector: []float32{1, 0}}
	embeddings := NewEmbeddingStore(embedder, backend, testLogger())
	retriever := NewRetriever(embeddings, embedder, DefaultRetrievalConfig(), testLogger())

	results := retriever.Search(context.Background(), []*domain.MedicalRecord{seeded, unseeded}, "blood pressure", 0)

	require.Len(t, results, 1)
	assert.Equal(t, "rec-1", results[0].Record.ID)
}

type queryOnlyEmbedder struct {
	query  string
	vector []float32
}

func (e *queryOnlyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if text == e.query {
		return e.vector, nil
	}
	return nil, errors.New("embedding service unavailable")
}

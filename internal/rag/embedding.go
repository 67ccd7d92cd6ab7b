package rag

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinical-copilot/decision-support/internal/domain"
)

// Embedder is the slice of the generative service client used for embedding
// generation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingStore lazily computes and caches one embedding per medical record.
// A cached vector is reused only while it is newer than the record's last
// content modification; stale vectors are recomputed on demand, never
// automatically on every read.
type EmbeddingStore struct {
	embedder Embedder
	store    Store
	logger   *logrus.Logger
	now      func() time.Time
}

// NewEmbeddingStore creates a new record embedding store on top of a
// persistence backend.
func NewEmbeddingStore(embedder Embedder, store Store, logger *logrus.Logger) *EmbeddingStore {
	return &EmbeddingStore{
		embedder: embedder,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// EnsureEmbedded returns the embedding for a record, computing it only when
// no fresh cached vector exists. A vector is fresh when it was computed at or
// after the record's last content modification. The computed vector is also
// written back onto the record.
//
// Two requests embedding the same record concurrently may both miss the cache
// and both store the same value; embeddings are a pure function of content,
// so the overwrite is benign.
func (e *EmbeddingStore) EnsureEmbedded(ctx context.Context, record *domain.MedicalRecord) ([]float32, error) {
	if cached, ok, err := e.store.Get(ctx, record.ID); err == nil && ok {
		if !cached.EmbeddedAt.Before(record.UpdatedAt) {
			record.Embedding = cached.Vector
			return cached.Vector, nil
		}
	} else if err != nil {
		e.logger.WithError(err).WithField("record_id", record.ID).Warn("Embedding store read failed, recomputing")
	}

	// A record may arrive with an embedding populated by a previous pass in
	// another instance; seed the store instead of recomputing.
	if len(record.Embedding) > 0 {
		emb := &StoredEmbedding{Vector: record.Embedding, EmbeddedAt: record.UpdatedAt}
		if err := e.store.Put(ctx, record.ID, emb); err != nil {
			e.logger.WithError(err).WithField("record_id", record.ID).Warn("Failed to seed embedding store")
		}
		return record.Embedding, nil
	}

	vector, err := e.embedder.Embed(ctx, record.SearchText())
	if err != nil {
		return nil, err
	}

	emb := &StoredEmbedding{Vector: vector, EmbeddedAt: e.now()}
	if err := e.store.Put(ctx, record.ID, emb); err != nil {
		// The embedding is still usable for this request.
		e.logger.WithError(err).WithField("record_id", record.ID).Warn("Failed to persist embedding")
	}

	record.Embedding = vector
	return vector, nil
}

// EmbedAll ensures embeddings for a collection of records, tolerating
// individual failures: a record that cannot be embedded is skipped and simply
// excluded from retrieval until a later retry succeeds. Returns the number of
// records with a usable embedding.
func (e *EmbeddingStore) EmbedAll(ctx context.Context, records []*domain.MedicalRecord) int {
	embedded := 0
	for _, record := range records {
		if _, err := e.EnsureEmbedded(ctx, record); err != nil {
			e.logger.WithError(err).WithField("record_id", record.ID).Warn("Skipping record that failed to embed")
			continue
		}
		embedded++
	}
	return embedded
}

// cosineSimilarity computes the normalized dot product of two vectors.
// The second return value is false when either vector is empty, mismatched in
// length, or zero-norm; such records are skipped rather than scored as zero.
func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

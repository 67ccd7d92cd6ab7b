package rag

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/clinical-copilot/decision-support/internal/domain"
)

// RetrievalConfig holds the ranking constants for the semantic retriever and
// the QA synthesizer. The similarity thresholds for confidence bucketing are
// deliberate, documented choices.
type RetrievalConfig struct {
	TopK               int     `mapstructure:"top_k"`
	MinSimilarity      float64 `mapstructure:"min_similarity"`
	HighConfidence     float64 `mapstructure:"high_confidence"`
	ModerateConfidence float64 `mapstructure:"moderate_confidence"`
}

// DefaultRetrievalConfig returns the documented ranking defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:               5,
		MinSimilarity:      0.3,
		HighConfidence:     0.75,
		ModerateConfidence: 0.5,
	}
}

// Retriever ranks a patient's records against a free-text query by cosine
// similarity of their embeddings.
type Retriever struct {
	embeddings *EmbeddingStore
	embedder   Embedder
	cfg        RetrievalConfig
	logger     *logrus.Logger
}

// NewRetriever creates a new semantic retriever.
func NewRetriever(embeddings *EmbeddingStore, embedder Embedder, cfg RetrievalConfig, logger *logrus.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Retriever{
		embeddings: embeddings,
		embedder:   embedder,
		cfg:        cfg,
		logger:     logger,
	}
}

// Search embeds the query and returns the topK most similar records.
// The record slice is a fixed snapshot: records added concurrently by another
// request are not retroactively included. A query embedding failure is a
// graceful-degradation path yielding an empty result, never an error.
// Records lacking a usable embedding are excluded, not scored as zero.
func (r *Retriever) Search(ctx context.Context, records []*domain.MedicalRecord, query string, topK int) []domain.RetrievedRecord {
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.WithError(err).Warn("Query embedding failed, returning empty result set")
		return []domain.RetrievedRecord{}
	}

	scored := make([]domain.RetrievedRecord, 0, len(records))
	for _, record := range records {
		vector, err := r.embeddings.EnsureEmbedded(ctx, record)
		if err != nil {
			continue
		}
		similarity, ok := cosineSimilarity(queryVec, vector)
		if !ok || similarity < r.cfg.MinSimilarity {
			continue
		}
		scored = append(scored, domain.RetrievedRecord{
			Record:     record,
			Similarity: similarity,
		})
	}

	// Stable ranking: similarity descending, ties broken by record recency,
	// then by insertion order (preserved by the stable sort).
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Record.RecordDate.After(scored[j].Record.RecordDate)
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}

	r.logger.WithFields(logrus.Fields{
		"query_len": len(query),
		"records":   len(records),
		"matches":   len(scored),
	}).Debug("Completed semantic search")

	return scored
}

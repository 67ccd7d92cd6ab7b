package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-copilot/decision-support/internal/domain"
	"github.com/clinical-copilot/decision-support/pkg/llm"
)

type stubGenerator struct {
	available bool
	response  string
	err       error
	calls     int
}

func (g *stubGenerator) IsAvailable(_ context.Context) bool {
	return g.available
}

func (g *stubGenerator) Generate(_ context.Context, _ string, _ llm.GenerateOptions) (string, error) {
	g.calls++
	return g.response, g.err
}

// newTestSynthesizer wires a synthesizer over pre-seeded embeddings so each
// record retrieves at the given similarity.
func newTestSynthesizer(t *testing.T, model *stubGenerator, records []*domain.MedicalRecord, similarities []float64) *Synthesizer {
	t.Helper()
	retriever := seededRetriever(t, queryEmbedder(), records, similarities)
	return NewSynthesizer(retriever, model, DefaultRetrievalConfig(), testLogger())
}

func TestAnswer_HighConfidence(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{testRecord("rec-1", "BP check", "BP 150/95", base)}
	model := &stubGenerator{available: true, response: "The patient's blood pressure was 150/95."}
	synth := newTestSynthesizer(t, model, records, []float64{0.85})

	result := synth.Answer(context.Background(), records, "blood pressure")

	assert.Equal(t, domain.ConfidenceHigh, result.Confidence)
	assert.Equal(t, "The patient's blood pressure was 150/95.", result.Answer)
	require.Len(t, result.SupportingRecords, 1)
}

func TestAnswer_ModerateConfidence(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{testRecord("rec-1", "BP check", "BP 150/95", base)}
	model := &stubGenerator{available: true, response: "Likely elevated."}
	synth := newTestSynthesizer(t, model, records, []float64{0.6})

	result := synth.Answer(context.Background(), records, "blood pressure")

	assert.Equal(t, domain.ConfidenceModerate, result.Confidence)
}

func TestAnswer_LowConfidenceBelowThreshold(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{testRecord("rec-1", "BP check", "BP 150/95", base)}
	model := &stubGenerator{available: true, response: "Possibly elevated."}
	synth := newTestSynthesizer(t, model, records, []float64{0.4})

	result := synth.Answer(context.Background(), records, "blood pressure")

	assert.Equal(t, domain.ConfidenceLow, result.Confidence)
}

func TestAnswer_InsufficientContextMarkerForcesLow(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{testRecord("rec-1", "BP check", "BP 150/95", base)}
	model := &stubGenerator{available: true, response: "INSUFFICIENT CONTEXT: no renal function data in the records."}
	synth := newTestSynthesizer(t, model, records, []float64{0.9})

	result := synth.Answer(context.Background(), records, "blood pressure")

	assert.Equal(t, domain.ConfidenceLow, result.Confidence)
}

func TestAnswer_NoRelevantRecords(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{testRecord("rec-1", "Flu shot", "vaccination", base)}
	model := &stubGenerator{available: true, response: "should never be called"}
	synth := newTestSynthesizer(t, model, records, []float64{0.1})

	result := synth.Answer(context.Background(), records, "blood pressure")

	assert.Equal(t, domain.ConfidenceLow, result.Confidence)
	assert.Empty(t, result.SupportingRecords)
	assert.Contains(t, result.Answer, "No relevant information")
	assert.Equal(t, 0, model.calls)
}

func TestAnswer_ModelUnavailable(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{testRecord("rec-1", "BP check", "BP 150/95", base)}
	model := &stubGenerator{available: false}
	synth := newTestSynthesizer(t, model, records, []float64{0.9})

	result := synth.Answer(context.Background(), records, "blood pressure")

	assert.Equal(t, domain.ConfidenceLow, result.Confidence)
	assert.Contains(t, result.Answer, "unavailable")
	require.Len(t, result.SupportingRecords, 1)
}

func TestAnswer_GenerationFailure(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{testRecord("rec-1", "BP check", "BP 150/95", base)}
	model := &stubGenerator{available: true, err: errors.New("model crashed")}
	synth := newTestSynthesizer(t, model, records, []float64{0.9})

	result := synth.Answer(context.Background(), records, "blood pressure")

	assert.Equal(t, domain.ConfidenceLow, result.Confidence)
	assert.Contains(t, result.Answer, "unavailable")
}

func TestSummarize_WithModel(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{testRecord("rec-1", "BP check", "BP 150/95", base)}
	model := &stubGenerator{available: true, response: "  Blood pressure trending high since March.  "}
	synth := newTestSynthesizer(t, model, records, []float64{0.8})

	result := synth.Summarize(context.Background(), records, "blood pressure")

	assert.Equal(t, "Blood pressure trending high since March.", result.Summary)
	assert.Equal(t, 1, result.RecordsFound)
}

func TestSummarize_ModelDownReturnsRecordsOnly(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []*domain.MedicalRecord{testRecord("rec-1", "BP check", "BP 150/95", base)}
	model := &stubGenerator{available: false}
	synth := newTestSynthesizer(t, model, records, []float64{0.8})

	result := synth.Summarize(context.Background(), records, "blood pressure")

	assert.Empty(t, result.Summary)
	assert.Equal(t, 1, result.RecordsFound)
	require.Len(t, result.Records, 1)
}

func TestSummarize_NothingRetrieved(t *testing.T) {
	model := &stubGenerator{available: true, response: "should never be called"}
	synth := newTestSynthesizer(t, model, nil, nil)

	result := synth.Summarize(context.Background(), nil, "blood pressure")

	assert.Empty(t, result.Summary)
	assert.Equal(t, 0, result.RecordsFound)
	assert.Equal(t, 0, model.calls)
}

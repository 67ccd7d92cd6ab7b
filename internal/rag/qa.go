package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clinical-copilot/decision-support/internal/domain"
	"github.com/clinical-copilot/decision-support/pkg/llm"
)

// Generator is the slice of the generative service client used for grounded
// summarization and question answering.
type Generator interface {
	IsAvailable(ctx context.Context) bool
	Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error)
}

// insufficientContextMarker is the phrase the model is instructed to emit
// when the retrieved records do not contain the answer. Detecting it drives
// the confidence heuristic.
const insufficientContextMarker = "INSUFFICIENT CONTEXT"

// Synthesizer produces grounded natural-language summaries and answers over
// retrieved medical records.
type Synthesizer struct {
	retriever *Retriever
	model     Generator
	cfg       RetrievalConfig
	logger    *logrus.Logger
}

// NewSynthesizer creates a new history QA synthesizer.
func NewSynthesizer(retriever *Retriever, model Generator, cfg RetrievalConfig, logger *logrus.Logger) *Synthesizer {
	return &Synthesizer{
		retriever: retriever,
		model:     model,
		cfg:       cfg,
		logger:    logger,
	}
}

const summarySystemPrompt = `You are a medical records assistant. Summarize relevant medical history clearly and concisely.
Focus on clinically relevant information. Use professional medical language.
Use only the provided records; do not invent information.`

// Summarize retrieves the records most relevant to the query and asks the
// model for a short summary grounded only in their content. When the model is
// unavailable the retrieved records are returned with no summary; a summary
// is never fabricated without the model.
func (s *Synthesizer) Summarize(ctx context.Context, records []*domain.MedicalRecord, query string) *domain.HistorySummary {
	retrieved := s.retriever.Search(ctx, records, query, 0)

	result := &domain.HistorySummary{
		Query:        query,
		RecordsFound: len(retrieved),
		Records:      retrieved,
	}

	if len(retrieved) == 0 || !s.model.IsAvailable(ctx) {
		return result
	}

	prompt := buildSummaryPrompt(query, retrieved)
	summary, err := s.model.Generate(ctx, prompt, llm.GenerateOptions{
		SystemPrompt: summarySystemPrompt,
		Temperature:  0.5,
	})
	if err != nil {
		s.logger.WithError(err).Warn("Summary generation failed, returning records without summary")
		return result
	}

	result.Summary = strings.TrimSpace(summary)
	return result
}

const answerSystemPrompt = `You are a medical records assistant. Answer questions based only on the provided records.
If the information is not in the records, reply with the exact phrase "INSUFFICIENT CONTEXT" followed by a short explanation.
Be precise and factual.`

// Answer retrieves the records most relevant to the question and asks the
// model for an answer constrained to that context. Confidence is heuristic:
// low when the model signals insufficient context or nothing was retrieved,
// otherwise bucketed by the top similarity score. Supporting records are
// exactly the retrieved set.
func (s *Synthesizer) Answer(ctx context.Context, records []*domain.MedicalRecord, question string) *domain.QAResult {
	retrieved := s.retriever.Search(ctx, records, question, 0)

	result := &domain.QAResult{
		Question:          question,
		Confidence:        domain.ConfidenceLow,
		SupportingRecords: retrieved,
	}

	if len(retrieved) == 0 {
		result.Answer = "No relevant information was found in the patient's records to answer this question."
		return result
	}

	if !s.model.IsAvailable(ctx) {
		result.Answer = "The answering service is currently unavailable. The most relevant records are attached."
		return result
	}

	prompt := buildAnswerPrompt(question, retrieved)
	answer, err := s.model.Generate(ctx, prompt, llm.GenerateOptions{
		SystemPrompt: answerSystemPrompt,
		Temperature:  0.3,
	})
	if err != nil {
		s.logger.WithError(err).Warn("Answer generation failed, returning records without answer")
		result.Answer = "The answering service is currently unavailable. The most relevant records are attached."
		return result
	}

	result.Answer = strings.TrimSpace(answer)
	result.Confidence = s.confidence(result.Answer, retrieved)
	return result
}

// confidence derives the confidence bucket from the model's insufficiency
// signal and the top similarity score.
func (s *Synthesizer) confidence(answer string, retrieved []domain.RetrievedRecord) domain.Confidence {
	if strings.Contains(strings.ToUpper(answer), insufficientContextMarker) {
		return domain.ConfidenceLow
	}

	top := retrieved[0].Similarity
	switch {
	case top >= s.cfg.HighConfidence:
		return domain.ConfidenceHigh
	case top >= s.cfg.ModerateConfidence:
		return domain.ConfidenceModerate
	default:
		return domain.ConfidenceLow
	}
}

// buildSummaryPrompt assembles the grounded summarization prompt.
func buildSummaryPrompt(query string, retrieved []domain.RetrievedRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Based on the search query %q, summarize the relevant medical history.\n\nRelevant records:\n", query)
	for i, rr := range retrieved {
		fmt.Fprintf(&sb, "%d. [%s] %s (%s): %s\n",
			i+1, rr.Record.RecordType, rr.Record.Title,
			rr.Record.RecordDate.Format("2006-01-02"), rr.Record.Content)
	}
	sb.WriteString(`
Provide a concise summary highlighting:
1. Key findings related to the query
2. Timeline of relevant events
3. Any ongoing concerns or follow-up needs`)
	return sb.String()
}

// buildAnswerPrompt assembles the grounded question-answering prompt.
func buildAnswerPrompt(question string, retrieved []domain.RetrievedRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question about the patient: %s\n\nAvailable records:\n", question)
	for _, rr := range retrieved {
		fmt.Fprintf(&sb, "[%s] %s: %s\n",
			rr.Record.RecordDate.Format("2006-01-02"), rr.Record.Title, rr.Record.Content)
	}
	sb.WriteString("\nAnswer the question based on these records only.")
	return sb.String()
}

package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clinical-copilot/decision-support/internal/domain"
	"github.com/clinical-copilot/decision-support/pkg/llm"
)

// ModelClient is the slice of the generative service client used by the
// deterministic services.
type ModelClient interface {
	IsAvailable(ctx context.Context) bool
	Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error)
	Chat(ctx context.Context, messages []llm.Message, opts llm.GenerateOptions) (string, error)
}

// Checker combines the deterministic rule engine with an optional generative
// second opinion into one unified, severity-ranked interaction result.
type Checker struct {
	engine *RuleEngine
	model  ModelClient
	logger *logrus.Logger
}

// NewChecker creates a new drug interaction checker.
func NewChecker(engine *RuleEngine, model ModelClient, logger *logrus.Logger) *Checker {
	return &Checker{
		engine: engine,
		model:  model,
		logger: logger,
	}
}

const interactionSystemPrompt = `You are a clinical pharmacist assistant. Analyze drug interactions and provide safety information.
Be concise and factual. Focus on clinically significant interactions.
Always respond in valid JSON format.`

// Check evaluates a medication list against the patient's declared allergies.
// The rule tier always runs; it is the only deterministic safety net and is
// never skipped. The model tier runs only when requested and available, and
// any failure there degrades to a rule-only result rather than an error.
func (c *Checker) Check(ctx context.Context, medications, allergies []string, useModel bool) *domain.InteractionResult {
	result := &domain.InteractionResult{
		MedicationsChecked: medications,
		Warnings:           []domain.InteractionWarning{},
	}

	if len(medications) == 0 {
		result.Safe = true
		result.Severity = domain.SeverityNone
		return result
	}

	// Tier 1: deterministic rule scan.
	result.Warnings = append(result.Warnings, c.engine.EvaluatePairs(medications)...)
	result.Warnings = append(result.Warnings, c.engine.EvaluateAllergies(medications, allergies)...)

	// Tier 2: generative second opinion.
	if useModel && c.model.IsAvailable(ctx) {
		c.applyModelTier(ctx, medications, allergies, result)
	}

	result.Severity = maxSeverity(result.Warnings)
	result.Safe = result.Severity < domain.SeverityModerate

	c.logger.WithFields(logrus.Fields{
		"medications": len(medications),
		"warnings":    len(result.Warnings),
		"severity":    result.Severity.String(),
		"safe":        result.Safe,
	}).Info("Completed interaction check")

	return result
}

// applyModelTier asks the model for interactions not already flagged and
// merges the parseable findings into the result. Rule-tier entries are
// authoritative: a model warning for a drug pair already flagged by a rule is
// dropped.
func (c *Checker) applyModelTier(ctx context.Context, medications, allergies []string, result *domain.InteractionResult) {
	prompt := buildInteractionPrompt(medications, allergies)

	raw, err := c.model.Generate(ctx, prompt, llm.GenerateOptions{
		SystemPrompt: interactionSystemPrompt,
		Temperature:  0.3,
	})
	if err != nil {
		c.logger.WithError(err).Warn("Model tier unavailable for interaction check, using rule tier only")
		return
	}

	findings, err := parseInteractionFindings(raw)
	if err != nil {
		c.logger.WithError(err).Warn("Discarding unparseable model interaction analysis")
		return
	}

	flagged := make(map[string]bool, len(result.Warnings))
	for _, w := range result.Warnings {
		if len(w.Drugs) == 2 {
			flagged[unorderedKey(w.Drugs)] = true
		}
	}

	for _, w := range findings.warnings() {
		if len(w.Drugs) == 2 && flagged[unorderedKey(w.Drugs)] {
			continue
		}
		result.Warnings = append(result.Warnings, w)
	}

	result.Advice = findings.GeneralAdvice
}

// buildInteractionPrompt constructs the structured prompt for the model tier.
func buildInteractionPrompt(medications, allergies []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze these medications for potential interactions:\nMedications: %s\n", strings.Join(medications, ", "))
	if len(allergies) > 0 {
		fmt.Fprintf(&sb, "Patient allergies: %s\n", strings.Join(allergies, ", "))
	}
	sb.WriteString(`
Respond in this exact JSON format:
{
    "interactions_found": true,
    "interactions": [
        {
            "drugs": ["drug1", "drug2"],
            "severity": "low/moderate/high/critical",
            "warning": "brief explanation"
        }
    ],
    "allergy_concerns": ["list any allergy-related concerns"],
    "general_advice": "brief general advice"
}`)
	return sb.String()
}

// unorderedKey builds an order-independent key for a warning's drug pair.
func unorderedKey(drugs []string) string {
	pair := []string{NormalizeDrugName(drugs[0]), NormalizeDrugName(drugs[1])}
	sort.Strings(pair)
	return pair[0] + "|" + pair[1]
}

// maxSeverity returns the maximum severity among the warnings, or
// SeverityNone for an empty list.
func maxSeverity(warnings []domain.InteractionWarning) domain.Severity {
	max := domain.SeverityNone
	for _, w := range warnings {
		if w.Severity > max {
			max = w.Severity
		}
	}
	return max
}

package service

import (
	"encoding/json"
	"strings"

	"github.com/clinical-copilot/decision-support/internal/domain"
)

// modelWarning is the machine-parsable warning shape requested from the model
// tier. Entries that do not fit this shape are discarded, never surfaced as
// errors.
type modelWarning struct {
	Drugs    []string `json:"drugs"`
	Severity string   `json:"severity"`
	Warning  string   `json:"warning"`
}

// modelFindings is the structured interaction analysis requested from the
// model tier.
type modelFindings struct {
	InteractionsFound bool           `json:"interactions_found"`
	Interactions      []modelWarning `json:"interactions"`
	AllergyConcerns   []string       `json:"allergy_concerns"`
	GeneralAdvice     string         `json:"general_advice"`
}

// modelSuggestion is the structured prescription shape requested from the
// model tier.
type modelSuggestion struct {
	Medication   string   `json:"medication"`
	Dosage       string   `json:"dosage"`
	Frequency    string   `json:"frequency"`
	Duration     string   `json:"duration"`
	Instructions string   `json:"instructions"`
	Warnings     []string `json:"warnings"`
	Alternatives []string `json:"alternatives"`
	Reasoning    string   `json:"reasoning"`
}

// extractJSON pulls the outermost JSON object out of free-form model text.
// Models frequently wrap JSON in prose or code fences.
func extractJSON(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// parseInteractionFindings parses free-form model output into interaction
// findings. It never panics; malformed output yields a ParseError and callers
// uniformly fall back to the rule tier alone.
func parseInteractionFindings(raw string) (*modelFindings, error) {
	payload, ok := extractJSON(raw)
	if !ok {
		return nil, &domain.ParseError{What: "no JSON object in interaction analysis", Raw: raw}
	}

	var findings modelFindings
	if err := json.Unmarshal([]byte(payload), &findings); err != nil {
		return nil, &domain.ParseError{What: "invalid JSON in interaction analysis", Raw: raw}
	}

	return &findings, nil
}

// warnings converts the parseable model findings into interaction warnings,
// discarding entries that do not carry a drug pair. Allergy concerns are
// surfaced as moderate warnings without a drug pair.
func (f *modelFindings) warnings() []domain.InteractionWarning {
	var out []domain.InteractionWarning

	for _, mw := range f.Interactions {
		if len(mw.Drugs) != 2 || mw.Warning == "" {
			continue
		}
		out = append(out, domain.InteractionWarning{
			Drugs:    []string{NormalizeDrugName(mw.Drugs[0]), NormalizeDrugName(mw.Drugs[1])},
			Severity: domain.ParseSeverity(mw.Severity),
			Message:  mw.Warning,
			Source:   domain.SourceModel,
		})
	}

	for _, concern := range f.AllergyConcerns {
		if concern == "" {
			continue
		}
		out = append(out, domain.InteractionWarning{
			Drugs:    nil,
			Severity: domain.SeverityModerate,
			Message:  concern,
			Source:   domain.SourceModel,
		})
	}

	return out
}

// parseSuggestion parses free-form model output into a prescription
// suggestion. A suggestion without a medication name is unusable and yields a
// ParseError so the caller falls back to the guideline baseline.
func parseSuggestion(raw string) (*domain.PrescriptionSuggestion, error) {
	payload, ok := extractJSON(raw)
	if !ok {
		return nil, &domain.ParseError{What: "no JSON object in prescription suggestion", Raw: raw}
	}

	var ms modelSuggestion
	if err := json.Unmarshal([]byte(payload), &ms); err != nil {
		return nil, &domain.ParseError{What: "invalid JSON in prescription suggestion", Raw: raw}
	}

	if strings.TrimSpace(ms.Medication) == "" {
		return nil, &domain.ParseError{What: "suggestion missing medication", Raw: raw}
	}
	if ms.Dosage == "" {
		ms.Dosage = "As directed by physician"
	}

	return &domain.PrescriptionSuggestion{
		Medication:   ms.Medication,
		Dosage:       ms.Dosage,
		Frequency:    ms.Frequency,
		Duration:     ms.Duration,
		Instructions: ms.Instructions,
		Warnings:     ms.Warnings,
		Reasoning:    ms.Reasoning,
		Alternatives: ms.Alternatives,
		Source:       domain.SourceModelOpinion,
	}, nil
}

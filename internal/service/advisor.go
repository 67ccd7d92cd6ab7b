package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clinical-copilot/decision-support/internal/domain"
	"github.com/clinical-copilot/decision-support/pkg/llm"
)

// guideline is one entry in the static diagnosis-to-treatment lookup table.
type guideline struct {
	FirstLine []string
	Dosages   map[string]string
}

// treatmentGuidelines is the curated baseline used when the model tier is
// unavailable or unparseable.
var treatmentGuidelines = map[string]guideline{
	"hypertension": {
		FirstLine: []string{"lisinopril", "amlodipine", "hydrochlorothiazide"},
		Dosages: map[string]string{
			"lisinopril":          "10-40mg once daily",
			"amlodipine":          "5-10mg once daily",
			"hydrochlorothiazide": "12.5-25mg once daily",
		},
	},
	"type 2 diabetes": {
		FirstLine: []string{"metformin"},
		Dosages: map[string]string{
			"metformin": "500-1000mg twice daily with meals",
		},
	},
	"hyperlipidemia": {
		FirstLine: []string{"atorvastatin", "rosuvastatin"},
		Dosages: map[string]string{
			"atorvastatin": "10-80mg once daily",
			"rosuvastatin": "5-40mg once daily",
		},
	},
	"depression": {
		FirstLine: []string{"sertraline", "escitalopram"},
		Dosages: map[string]string{
			"sertraline":   "50-200mg once daily",
			"escitalopram": "10-20mg once daily",
		},
	},
	"anxiety": {
		FirstLine: []string{"sertraline", "escitalopram", "buspirone"},
		Dosages: map[string]string{
			"sertraline": "50-200mg once daily",
			"buspirone":  "5-10mg twice daily",
		},
	},
	"pain": {
		FirstLine: []string{"acetaminophen", "ibuprofen"},
		Dosages: map[string]string{
			"acetaminophen": "500-1000mg every 6 hours as needed",
			"ibuprofen":     "400-800mg every 6-8 hours as needed",
		},
	},
	"infection": {
		FirstLine: []string{"amoxicillin", "azithromycin"},
		Dosages: map[string]string{
			"amoxicillin":  "500mg three times daily for 7-10 days",
			"azithromycin": "500mg day 1, then 250mg days 2-5",
		},
	},
	"acid reflux": {
		FirstLine: []string{"omeprazole", "pantoprazole"},
		Dosages: map[string]string{
			"omeprazole":   "20-40mg once daily before breakfast",
			"pantoprazole": "40mg once daily",
		},
	},
	"asthma": {
		FirstLine: []string{"albuterol", "fluticasone"},
		Dosages: map[string]string{
			"albuterol":   "2 puffs every 4-6 hours as needed",
			"fluticasone": "1-2 puffs twice daily",
		},
	},
	"allergies": {
		FirstLine: []string{"cetirizine", "loratadine", "fexofenadine"},
		Dosages: map[string]string{
			"cetirizine":   "10mg once daily",
			"loratadine":   "10mg once daily",
			"fexofenadine": "180mg once daily",
		},
	},
}

// Advisor produces prescription suggestions from the guideline table and the
// generative model, re-validating every suggestion through the interaction
// checker before returning it.
type Advisor struct {
	checker *Checker
	model   ModelClient
	logger  *logrus.Logger
}

// NewAdvisor creates a new prescription advisor.
func NewAdvisor(checker *Checker, model ModelClient, logger *logrus.Logger) *Advisor {
	return &Advisor{
		checker: checker,
		model:   model,
		logger:  logger,
	}
}

const suggestionSystemPrompt = `You are a clinical decision support assistant helping doctors with prescription suggestions.
Provide evidence-based medication recommendations. Always consider patient safety.
Your suggestions are for review by a licensed physician - they will make the final decision.
Respond in valid JSON format only.`

// Suggest produces a prescription suggestion for a diagnosis. The guideline
// table provides the baseline; a parseable model suggestion supersedes it.
// When neither tier can produce a suggestion the caller receives a
// ValidationError, a user-visible "nothing to suggest" outcome. The chosen
// medication is always re-validated against the patient's current medications
// and allergies, regardless of which tier produced it.
func (a *Advisor) Suggest(ctx context.Context, req *domain.SuggestionRequest) (*domain.PrescriptionSuggestion, error) {
	if strings.TrimSpace(req.Diagnosis) == "" {
		return nil, domain.NewValidationError("diagnosis", "diagnosis is required")
	}

	baseline := a.guidelineSuggestion(req.Diagnosis)

	suggestion := baseline
	if a.model.IsAvailable(ctx) {
		if modelSuggestion := a.modelSuggestion(ctx, req); modelSuggestion != nil {
			suggestion = modelSuggestion
		}
	}

	if suggestion == nil {
		return nil, domain.NewValidationError("diagnosis",
			fmt.Sprintf("no treatment guideline for %q and the model tier is unavailable", req.Diagnosis))
	}

	// Mandatory re-validation against current medications and allergies.
	meds := append(append([]string{}, req.CurrentMedications...), suggestion.Medication)
	suggestion.Interactions = a.checker.Check(ctx, meds, req.Allergies, false)

	a.logger.WithFields(logrus.Fields{
		"diagnosis":  req.Diagnosis,
		"medication": suggestion.Medication,
		"source":     suggestion.Source,
		"safe":       suggestion.Interactions.Safe,
	}).Info("Produced prescription suggestion")

	return suggestion, nil
}

// guidelineSuggestion looks up the diagnosis in the guideline table.
// Matching is case-insensitive: exact first, then substring in either
// direction ("Essential Hypertension" matches "hypertension").
func (a *Advisor) guidelineSuggestion(diagnosis string) *domain.PrescriptionSuggestion {
	normalized := strings.ToLower(strings.TrimSpace(diagnosis))

	entry, ok := treatmentGuidelines[normalized]
	if !ok {
		for condition, g := range treatmentGuidelines {
			if strings.Contains(normalized, condition) || strings.Contains(condition, normalized) {
				entry, ok = g, true
				break
			}
		}
	}
	if !ok || len(entry.FirstLine) == 0 {
		return nil
	}

	first := entry.FirstLine[0]
	dosage := entry.Dosages[first]
	if dosage == "" {
		dosage = "As directed by physician"
	}

	return &domain.PrescriptionSuggestion{
		Medication:   first,
		Dosage:       dosage,
		Frequency:    "As directed by physician",
		Duration:     "As prescribed",
		Instructions: "Take as directed. Contact doctor if symptoms persist.",
		Warnings:     []string{"Review for drug interactions", "Monitor for side effects"},
		Reasoning:    "Based on standard treatment guidelines",
		Alternatives: entry.FirstLine[1:],
		Source:       domain.SourceGuideline,
	}
}

// modelSuggestion requests a personalized suggestion from the model tier.
// Returns nil on any generation or parse failure so the caller falls back to
// the guideline baseline.
func (a *Advisor) modelSuggestion(ctx context.Context, req *domain.SuggestionRequest) *domain.PrescriptionSuggestion {
	raw, err := a.model.Generate(ctx, buildSuggestionPrompt(req), llm.GenerateOptions{
		SystemPrompt: suggestionSystemPrompt,
		Temperature:  0.3,
	})
	if err != nil {
		a.logger.WithError(err).Warn("Model tier unavailable for prescription suggestion, using guideline baseline")
		return nil
	}

	suggestion, err := parseSuggestion(raw)
	if err != nil {
		a.logger.WithError(err).Warn("Discarding unparseable model suggestion, using guideline baseline")
		return nil
	}
	return suggestion
}

// buildSuggestionPrompt assembles the structured patient context for the
// model tier.
func buildSuggestionPrompt(req *domain.SuggestionRequest) string {
	var sb strings.Builder
	sb.WriteString("Based on the following patient information, suggest an appropriate prescription:\n\n")
	fmt.Fprintf(&sb, "Diagnosis: %s\n", req.Diagnosis)
	if req.PatientAge > 0 {
		fmt.Fprintf(&sb, "Patient age: %d\n", req.PatientAge)
	}
	if len(req.Allergies) > 0 {
		fmt.Fprintf(&sb, "Allergies: %s\n", strings.Join(req.Allergies, ", "))
	}
	if len(req.CurrentMedications) > 0 {
		fmt.Fprintf(&sb, "Current medications: %s\n", strings.Join(req.CurrentMedications, ", "))
	}
	if len(req.Conditions) > 0 {
		fmt.Fprintf(&sb, "Other conditions: %s\n", strings.Join(req.Conditions, ", "))
	}
	sb.WriteString(`
Respond in this exact JSON format:
{
    "medication": "drug name",
    "dosage": "specific dosage",
    "frequency": "how often to take",
    "duration": "length of treatment",
    "instructions": "patient instructions",
    "warnings": ["list of warnings or precautions"],
    "alternatives": ["alternative medications if first choice not suitable"],
    "reasoning": "brief clinical reasoning"
}`)
	return sb.String()
}

const instructionsSystemPrompt = `You are a helpful pharmacist assistant. Generate clear, patient-friendly medication instructions.
Use simple language. Include important safety information.`

// GenerateInstructions produces patient-friendly instructions for a
// prescription. When the model tier is unavailable it returns a deterministic
// fallback rather than an error.
func (a *Advisor) GenerateInstructions(ctx context.Context, medication, dosage, diagnosis string, patientAge int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate patient instructions for:\nMedication: %s\nDosage: %s\nCondition: %s", medication, dosage, diagnosis)
	if patientAge > 0 {
		fmt.Fprintf(&sb, " for a %d-year-old patient", patientAge)
	}
	sb.WriteString(`

Include:
1. How to take the medication
2. When to take it
3. What to avoid
4. Side effects to watch for
5. When to contact the doctor

Keep it concise and easy to understand.`)

	raw, err := a.model.Generate(ctx, sb.String(), llm.GenerateOptions{
		SystemPrompt: instructionsSystemPrompt,
		Temperature:  0.5,
	})
	if err != nil {
		a.logger.WithError(err).Warn("Model tier unavailable for instructions, using fallback text")
		return fmt.Sprintf("Take %s %s as directed by your physician. Contact your doctor if you experience any adverse effects.", medication, dosage)
	}
	return raw
}

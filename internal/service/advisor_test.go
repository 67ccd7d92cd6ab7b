package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-copilot/decision-support/internal/domain"
)

func newTestAdvisor(model ModelClient) *Advisor {
	checker := NewChecker(NewRuleEngine(), model, testLogger())
	return NewAdvisor(checker, model, testLogger())
}

func TestAdvisor_GuidelineFallbackWhenModelDown(t *testing.T) {
	advisor := newTestAdvisor(&stubModel{available: false})

	suggestion, err := advisor.Suggest(context.Background(), &domain.SuggestionRequest{
		Diagnosis: "Essential Hypertension",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.SourceGuideline, suggestion.Source)
	assert.Equal(t, "lisinopril", suggestion.Medication)
	assert.Equal(t, "10-40mg once daily", suggestion.Dosage)
	assert.Equal(t, []string{"amlodipine", "hydrochlorothiazide"}, suggestion.Alternatives)
}

func TestAdvisor_ExactGuidelineMatch(t *testing.T) {
	advisor := newTestAdvisor(&stubModel{available: false})

	suggestion, err := advisor.Suggest(context.Background(), &domain.SuggestionRequest{
		Diagnosis: "type 2 diabetes",
	})

	require.NoError(t, err)
	assert.Equal(t, "metformin", suggestion.Medication)
}

func TestAdvisor_ModelSupersedesGuideline(t *testing.T) {
	model := &stubModel{available: true, response: `{
  "medication": "amlodipine",
  "dosage": "5mg once daily",
  "frequency": "once daily",
  "duration": "ongoing",
  "instructions": "Take in the morning.",
  "warnings": ["May cause ankle swelling"],
  "alternatives": ["lisinopril"],
  "reasoning": "Preferred given patient's cough history on ACE inhibitors."
}`}
	advisor := newTestAdvisor(model)

	suggestion, err := advisor.Suggest(context.Background(), &domain.SuggestionRequest{
		Diagnosis: "hypertension",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.SourceModelOpinion, suggestion.Source)
	assert.Equal(t, "amlodipine", suggestion.Medication)
}

func TestAdvisor_ParseFailureFallsBackToGuideline(t *testing.T) {
	model := &stubModel{available: true, response: "You should probably prescribe something for blood pressure."}
	advisor := newTestAdvisor(model)

	suggestion, err := advisor.Suggest(context.Background(), &domain.SuggestionRequest{
		Diagnosis: "hypertension",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.SourceGuideline, suggestion.Source)
	assert.Equal(t, "lisinopril", suggestion.Medication)
}

func TestAdvisor_NothingToSuggest(t *testing.T) {
	advisor := newTestAdvisor(&stubModel{available: false})

	_, err := advisor.Suggest(context.Background(), &domain.SuggestionRequest{
		Diagnosis: "fibromyalgia",
	})

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "diagnosis", validationErr.Field)
}

func TestAdvisor_MissingDiagnosis(t *testing.T) {
	advisor := newTestAdvisor(&stubModel{available: false})

	_, err := advisor.Suggest(context.Background(), &domain.SuggestionRequest{})

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestAdvisor_RevalidatesAgainstCurrentMedications(t *testing.T) {
	// Guideline suggests amoxicillin for infection; the patient has a
	// documented penicillin allergy, so the attached interaction check must
	// flag it even though the suggestion itself succeeds.
	advisor := newTestAdvisor(&stubModel{available: false})

	suggestion, err := advisor.Suggest(context.Background(), &domain.SuggestionRequest{
		Diagnosis: "infection",
		Allergies: []string{"penicillin"},
	})

	require.NoError(t, err)
	assert.Equal(t, "amoxicillin", suggestion.Medication)
	require.NotNil(t, suggestion.Interactions)
	assert.False(t, suggestion.Interactions.Safe)
	assert.Equal(t, domain.SeverityCritical, suggestion.Interactions.Severity)
}

func TestAdvisor_RevalidationChecksPairInteractions(t *testing.T) {
	model := &stubModel{available: true, response: `{
  "medication": "aspirin",
  "dosage": "81mg once daily",
  "reasoning": "Cardioprotective."
}`}
	advisor := newTestAdvisor(model)

	suggestion, err := advisor.Suggest(context.Background(), &domain.SuggestionRequest{
		Diagnosis:          "pain",
		CurrentMedications: []string{"warfarin"},
	})

	require.NoError(t, err)
	require.NotNil(t, suggestion.Interactions)
	assert.False(t, suggestion.Interactions.Safe)
	assert.GreaterOrEqual(t, suggestion.Interactions.Severity, domain.SeverityHigh)
}

func TestAdvisor_GenerateInstructionsFallback(t *testing.T) {
	advisor := newTestAdvisor(&stubModel{available: false, err: &domain.GenerationError{Operation: "generate"}})

	instructions := advisor.GenerateInstructions(context.Background(), "metformin", "500mg", "type 2 diabetes", 52)

	assert.Contains(t, instructions, "metformin")
	assert.Contains(t, instructions, "500mg")
}

func TestAdvisor_GenerateInstructionsFromModel(t *testing.T) {
	model := &stubModel{available: true, response: "Take one tablet with breakfast."}
	advisor := newTestAdvisor(model)

	instructions := advisor.GenerateInstructions(context.Background(), "metformin", "500mg", "type 2 diabetes", 0)

	assert.Equal(t, "Take one tablet with breakfast.", instructions)
}

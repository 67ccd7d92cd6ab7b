package service

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-copilot/decision-support/internal/domain"
	"github.com/clinical-copilot/decision-support/pkg/llm"
)

// stubModel is a test double for the generative service client.
type stubModel struct {
	available bool
	response  string
	err       error
	calls     int
}

func (m *stubModel) IsAvailable(_ context.Context) bool {
	return m.available
}

func (m *stubModel) Generate(_ context.Context, _ string, _ llm.GenerateOptions) (string, error) {
	m.calls++
	return m.response, m.err
}

func (m *stubModel) Chat(_ context.Context, _ []llm.Message, _ llm.GenerateOptions) (string, error) {
	m.calls++
	return m.response, m.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestChecker(model ModelClient) *Checker {
	return NewChecker(NewRuleEngine(), model, testLogger())
}

func TestChecker_KnownConflictWithoutModel(t *testing.T) {
	checker := newTestChecker(&stubModel{available: false})

	result := checker.Check(context.Background(), []string{"warfarin", "aspirin"}, nil, false)

	assert.False(t, result.Safe)
	assert.GreaterOrEqual(t, result.Severity, domain.SeverityHigh)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, []string{"warfarin", "aspirin"}, result.Warnings[0].Drugs)
	assert.Equal(t, domain.SourceRule, result.Warnings[0].Source)
}

func TestChecker_NoMatchWithoutModel(t *testing.T) {
	checker := newTestChecker(&stubModel{available: false})

	result := checker.Check(context.Background(), []string{"acetaminophen", "cetirizine"}, nil, false)

	assert.True(t, result.Safe)
	assert.Equal(t, domain.SeverityNone, result.Severity)
	assert.Empty(t, result.Warnings)
}

func TestChecker_EmptyMedicationList(t *testing.T) {
	checker := newTestChecker(&stubModel{available: true})

	result := checker.Check(context.Background(), nil, nil, true)

	assert.True(t, result.Safe)
	assert.Equal(t, domain.SeverityNone, result.Severity)
	assert.Empty(t, result.Warnings)
}

func TestChecker_AllergyConflict(t *testing.T) {
	checker := newTestChecker(&stubModel{available: false})

	result := checker.Check(context.Background(), []string{"amoxicillin"}, []string{"penicillin"}, false)

	assert.False(t, result.Safe)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0].Message, "penicillin")
}

func TestChecker_RuleTierRunsEvenWithModel(t *testing.T) {
	// The model reports nothing; the rule tier must still flag the pair.
	model := &stubModel{available: true, response: `{"interactions_found": false, "interactions": []}`}
	checker := newTestChecker(model)

	result := checker.Check(context.Background(), []string{"warfarin", "aspirin"}, nil, true)

	assert.False(t, result.Safe)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, domain.SourceRule, result.Warnings[0].Source)
	assert.Equal(t, 1, model.calls)
}

func TestChecker_ModelTierMergesNewWarnings(t *testing.T) {
	model := &stubModel{available: true, response: `Here is the analysis:
{
  "interactions_found": true,
  "interactions": [
    {"drugs": ["metformin", "contrast dye"], "severity": "moderate", "warning": "Hold metformin before contrast imaging."}
  ],
  "general_advice": "Review with pharmacist."
}`}
	checker := newTestChecker(model)

	result := checker.Check(context.Background(), []string{"warfarin", "aspirin", "metformin"}, nil, true)

	require.Len(t, result.Warnings, 2)
	assert.Equal(t, domain.SourceRule, result.Warnings[0].Source)
	assert.Equal(t, domain.SourceModel, result.Warnings[1].Source)
	assert.Equal(t, "Review with pharmacist.", result.Advice)
}

func TestChecker_RuleAuthoritativeDedupe(t *testing.T) {
	// The model flags the same pair the rule tier already flagged, with a
	// different rationale; the rule entry wins.
	model := &stubModel{available: true, response: `{
  "interactions_found": true,
  "interactions": [
    {"drugs": ["aspirin", "warfarin"], "severity": "low", "warning": "Some other rationale."}
  ]
}`}
	checker := newTestChecker(model)

	result := checker.Check(context.Background(), []string{"warfarin", "aspirin"}, nil, true)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, domain.SourceRule, result.Warnings[0].Source)
	assert.Equal(t, domain.SeverityHigh, result.Warnings[0].Severity)
}

func TestChecker_UnparseableModelOutputDiscarded(t *testing.T) {
	model := &stubModel{available: true, response: "I think these drugs are probably fine together."}
	checker := newTestChecker(model)

	result := checker.Check(context.Background(), []string{"warfarin", "aspirin"}, nil, true)

	// Rule tier result only; the unparseable model output is not an error.
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, domain.SourceRule, result.Warnings[0].Source)
}

func TestChecker_ModelErrorDegradesToRuleTier(t *testing.T) {
	model := &stubModel{available: true, err: &domain.GenerationError{Operation: "generate", StatusCode: 503}}
	checker := newTestChecker(model)

	result := checker.Check(context.Background(), []string{"warfarin", "aspirin"}, nil, true)

	require.Len(t, result.Warnings, 1)
	assert.False(t, result.Safe)
}

func TestChecker_ModelWarningsMissingPairDiscarded(t *testing.T) {
	model := &stubModel{available: true, response: `{
  "interactions_found": true,
  "interactions": [
    {"drugs": ["onlyone"], "severity": "high", "warning": "bad shape"},
    {"drugs": [], "severity": "high", "warning": "worse shape"}
  ],
  "allergy_concerns": ["Patient may react to dye"]
}`}
	checker := newTestChecker(model)

	result := checker.Check(context.Background(), []string{"acetaminophen", "cetirizine"}, nil, true)

	// Only the allergy concern survives, as a moderate warning.
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, domain.SeverityModerate, result.Warnings[0].Severity)
	assert.Equal(t, domain.SourceModel, result.Warnings[0].Source)
	assert.False(t, result.Safe)
}

package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityOrdering(t *testing.T) {
	// The ordering is a total order over the enum, not a string comparison:
	// "high" must outrank "moderate" even though it sorts before it
	// lexicographically.
	assert.True(t, SeverityNone < SeverityLow)
	assert.True(t, SeverityLow < SeverityModerate)
	assert.True(t, SeverityModerate < SeverityHigh)
	assert.True(t, SeverityHigh < SeverityCritical)
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input    string
		expected Severity
	}{
		{"low", SeverityLow},
		{"Moderate", SeverityModerate},
		{"HIGH", SeverityHigh},
		{"critical", SeverityCritical},
		{"medium", SeverityModerate},
		{"  high  ", SeverityHigh},
		{"", SeverityNone},
		{"bogus", SeverityNone},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseSeverity(tt.input), "input %q", tt.input)
	}
}

func TestSeverityJSON(t *testing.T) {
	data, err := json.Marshal(SeverityHigh)
	require.NoError(t, err)
	assert.Equal(t, `"high"`, string(data))

	var s Severity
	require.NoError(t, json.Unmarshal([]byte(`"critical"`), &s))
	assert.Equal(t, SeverityCritical, s)

	// Unknown names degrade to none rather than failing the request.
	require.NoError(t, json.Unmarshal([]byte(`"unheard-of"`), &s))
	assert.Equal(t, SeverityNone, s)
}

func TestRecordTypeIsValid(t *testing.T) {
	assert.True(t, RecordDiagnosis.IsValid())
	assert.True(t, RecordLabResult.IsValid())
	assert.False(t, RecordType("xray").IsValid())
}

// Package domain contains core business entities and types for the clinical
// decision-support pipeline: drug interaction screening, prescription
// suggestion, and retrieval-augmented search over patient medical records.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity represents the clinical severity of an interaction warning.
// It is an explicitly ordered enumeration so that severity comparison is a
// total order rather than a string comparison ("high" must outrank "moderate").
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityModerate
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityNone:     "none",
	SeverityLow:      "low",
	SeverityModerate: "moderate",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "none"
}

// IsValid reports whether the severity is one of the defined levels.
func (s Severity) IsValid() bool {
	_, ok := severityNames[s]
	return ok
}

// ParseSeverity converts a severity name to its ordered value.
// Unknown names map to SeverityNone so that free-form model output can never
// inflate the overall severity of a result.
func ParseSeverity(name string) Severity {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return SeverityLow
	case "moderate", "medium":
		return SeverityModerate
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityNone
	}
}

// MarshalJSON encodes the severity as its string name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity from its string name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("severity must be a string: %w", err)
	}
	*s = ParseSeverity(name)
	return nil
}

// WarningSource identifies which tier produced an interaction warning.
type WarningSource string

const (
	SourceRule  WarningSource = "rule"
	SourceModel WarningSource = "model"
)

// SuggestionSource identifies which tier produced a prescription suggestion.
type SuggestionSource string

const (
	SourceGuideline     SuggestionSource = "guideline"
	SourceModelOpinion  SuggestionSource = "model"
	SourceNoneAvailable SuggestionSource = "none"
)

// Confidence represents the confidence bucket of a question-answering result.
type Confidence string

const (
	ConfidenceHigh     Confidence = "high"
	ConfidenceModerate Confidence = "moderate"
	ConfidenceLow      Confidence = "low"
)

// RecordType categorizes a medical record entry.
type RecordType string

const (
	RecordDiagnosis RecordType = "diagnosis"
	RecordLabResult RecordType = "lab_result"
	RecordProcedure RecordType = "procedure"
	RecordAllergy   RecordType = "allergy"
	RecordNote      RecordType = "note"
)

// IsValid reports whether the record type is one of the defined categories.
func (r RecordType) IsValid() bool {
	switch r {
	case RecordDiagnosis, RecordLabResult, RecordProcedure, RecordAllergy, RecordNote:
		return true
	default:
		return false
	}
}

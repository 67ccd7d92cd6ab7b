package domain

import (
	"time"
)

// InteractionRule describes a known drug-drug interaction. Rules are loaded
// once at process start and matched case-insensitively against normalized drug
// names and drug-class aliases. A or B may name a drug class (e.g. "nsaid").
type InteractionRule struct {
	DrugA    string   `json:"drug_a"`
	DrugB    string   `json:"drug_b"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Source   string   `json:"source,omitempty"`
}

// AllergyConflict describes a known conflict between a declared allergen and
// a drug or drug class. Same lifecycle as InteractionRule.
type AllergyConflict struct {
	Allergen string   `json:"allergen"`
	Drug     string   `json:"drug"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// InteractionWarning is a single flagged interaction, produced per check and
// never persisted. Drugs holds the ordered pair for a drug-drug interaction or
// a single entry for an allergy conflict.
type InteractionWarning struct {
	Drugs    []string      `json:"drugs"`
	Severity Severity      `json:"severity"`
	Message  string        `json:"message"`
	Source   WarningSource `json:"source"`
}

// InteractionResult is the unified outcome of one interaction check.
// Severity is always the maximum severity among the warnings; an empty warning
// list yields SeverityNone and Safe=true. Safe is true iff no warning reaches
// SeverityModerate.
type InteractionResult struct {
	Safe               bool                 `json:"safe"`
	Severity           Severity             `json:"severity"`
	Warnings           []InteractionWarning `json:"warnings"`
	Advice             string               `json:"advice,omitempty"`
	MedicationsChecked []string             `json:"medications_checked"`
}

// PrescriptionSuggestion is a suggested treatment for a diagnosis, produced by
// either the guideline table or the generative model and always re-validated
// against the patient's current medications.
type PrescriptionSuggestion struct {
	Medication   string             `json:"medication"`
	Dosage       string             `json:"dosage"`
	Frequency    string             `json:"frequency"`
	Duration     string             `json:"duration"`
	Instructions string             `json:"instructions"`
	Warnings     []string           `json:"warnings"`
	Reasoning    string             `json:"reasoning"`
	Alternatives []string           `json:"alternatives"`
	Source       SuggestionSource   `json:"source"`
	Interactions *InteractionResult `json:"interaction_check,omitempty"`
}

// MedicalRecord is one entry in a patient's history. Records themselves are
// owned by the upstream patient service; this pipeline only reads them and
// populates the embedding field. UpdatedAt tracks the last content
// modification and is used to detect stale embeddings.
type MedicalRecord struct {
	ID         string     `json:"id"`
	PatientID  string     `json:"patient_id"`
	RecordType RecordType `json:"record_type"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	RecordDate time.Time  `json:"record_date"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Embedding  []float32  `json:"embedding,omitempty"`
}

// SearchText returns the normalized textual representation used for embedding.
func (r *MedicalRecord) SearchText() string {
	return r.Title + "\n" + r.Content + "\n" + string(r.RecordType)
}

// RetrievedRecord pairs a record with its similarity to a query.
// Transient, produced per search.
type RetrievedRecord struct {
	Record     *MedicalRecord `json:"record"`
	Similarity float64        `json:"similarity"`
}

// QAResult is the outcome of a grounded question-answering request.
// SupportingRecords is exactly the retrieved set, in ranked order.
type QAResult struct {
	Question          string            `json:"question"`
	Answer            string            `json:"answer"`
	Confidence        Confidence        `json:"confidence"`
	SupportingRecords []RetrievedRecord `json:"supporting_records"`
}

// HistorySummary is the outcome of a history search with an optional grounded
// summary. Summary is empty when the generative service is unavailable; it is
// never fabricated without the model.
type HistorySummary struct {
	Query        string            `json:"query"`
	RecordsFound int               `json:"records_found"`
	Records      []RetrievedRecord `json:"records"`
	Summary      string            `json:"summary,omitempty"`
}

// SuggestionRequest carries the patient context for a prescription suggestion.
type SuggestionRequest struct {
	Diagnosis          string   `json:"diagnosis"`
	PatientAge         int      `json:"patient_age,omitempty"`
	Allergies          []string `json:"patient_allergies,omitempty"`
	CurrentMedications []string `json:"current_medications,omitempty"`
	Conditions         []string `json:"patient_conditions,omitempty"`
}

package domain

import (
	"errors"
	"fmt"
)

// Error codes surfaced to API consumers.
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeGeneration = "GENERATION_ERROR"
	ErrCodeEmbedding  = "EMBEDDING_ERROR"
	ErrCodeParse      = "PARSE_ERROR"
	ErrCodeStore      = "STORE_ERROR"
	ErrCodeInternal   = "INTERNAL_SERVER_ERROR"
)

// Sentinel errors for errors.Is checks across package boundaries.
var (
	ErrGenerationFailed   = errors.New("text generation failed")
	ErrEmbeddingFailed    = errors.New("embedding generation failed")
	ErrUnparseableOutput  = errors.New("model output did not match expected shape")
	ErrServiceUnavailable = errors.New("generative service unavailable")
	ErrNothingToSuggest   = errors.New("no guideline match and no model available")
)

// GenerationError indicates the generative endpoint was unreachable, timed
// out, or returned a non-success status. Always recoverable: callers proceed
// without the model tier.
type GenerationError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation error during %s: endpoint returned status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("generation error during %s: %v", e.Operation, e.Err)
}

func (e *GenerationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrGenerationFailed
}

// Is matches the ErrGenerationFailed sentinel.
func (e *GenerationError) Is(target error) bool {
	return target == ErrGenerationFailed
}

// EmbeddingError indicates the embedding endpoint failed or returned a vector
// of unexpected dimensionality. Always recoverable.
type EmbeddingError struct {
	Reason string
	Err    error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("embedding error: %s", e.Reason)
}

func (e *EmbeddingError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrEmbeddingFailed
}

// Is matches the ErrEmbeddingFailed sentinel.
func (e *EmbeddingError) Is(target error) bool {
	return target == ErrEmbeddingFailed
}

// ParseError indicates model output did not parse into the expected structured
// shape. Recovered by falling back to the deterministic tier.
type ParseError struct {
	What string
	Raw  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", e.What)
}

// Is matches the ErrUnparseableOutput sentinel.
func (e *ParseError) Is(target error) bool {
	return target == ErrUnparseableOutput
}

// ValidationError indicates the caller supplied unusable input, such as an
// empty medication list or an unknown diagnosis with no guideline match and no
// model available. Surfaced as a user-visible outcome, not a server fault.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

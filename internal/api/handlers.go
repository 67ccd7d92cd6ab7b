package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinical-copilot/decision-support/internal/domain"
)

// errorResponse is the uniform error body for client mistakes. Generative
// service failures never surface here; they degrade inside the pipeline.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleStatus reports generative service availability and loaded models.
func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	available := s.llmStatus.IsAvailable(ctx)

	var models []string
	if available {
		models = s.llmStatus.ListModels(ctx)
	}

	c.JSON(http.StatusOK, gin.H{
		"ai_available":  available,
		"models_loaded": models,
		"required_models": gin.H{
			"chat":      s.cfg.LLM.ChatModel,
			"embedding": s.cfg.LLM.EmbeddingModel,
		},
		"features": gin.H{
			"drug_interaction_check":  true,
			"prescription_suggestion": true,
			"patient_history_search":  available,
		},
	})
}

// checkInteractionsRequest is the body for the interaction check endpoint.
type checkInteractionsRequest struct {
	Medications []string `json:"medications"`
	Allergies   []string `json:"patient_allergies"`
	UseModel    *bool    `json:"use_llm"`
}

// handleCheckInteractions runs the two-tier drug interaction check.
func (s *Server) handleCheckInteractions(c *gin.Context) {
	var req checkInteractionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   domain.ErrCodeValidation,
			Message: "request body required",
		})
		return
	}

	if len(req.Medications) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   domain.ErrCodeValidation,
			Message: "at least one medication required",
		})
		return
	}

	useModel := true
	if req.UseModel != nil {
		useModel = *req.UseModel
	}

	result := s.checker.Check(c.Request.Context(), req.Medications, req.Allergies, useModel)
	c.JSON(http.StatusOK, result)
}

// handleSuggestPrescription produces a prescription suggestion for a
// diagnosis. A missing guideline with no model available is a user-visible
// "nothing to suggest" outcome, not a server error.
func (s *Server) handleSuggestPrescription(c *gin.Context) {
	var req domain.SuggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   domain.ErrCodeValidation,
			Message: "request body required",
		})
		return
	}

	if req.Diagnosis == "" {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   domain.ErrCodeValidation,
			Message: "diagnosis required",
		})
		return
	}

	suggestion, err := s.advisor.Suggest(c.Request.Context(), &req)
	if err != nil {
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusOK, gin.H{
				"success":    false,
				"message":    validationErr.Message,
				"suggestion": nil,
			})
			return
		}
		s.logger.WithError(err).Error("Prescription suggestion failed")
		c.JSON(http.StatusInternalServerError, errorResponse{
			Error:   domain.ErrCodeInternal,
			Message: "failed to produce suggestion",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"suggestion": suggestion,
		"source":     suggestion.Source,
	})
}

// generateInstructionsRequest is the body for the instructions endpoint.
type generateInstructionsRequest struct {
	Medication string `json:"medication"`
	Dosage     string `json:"dosage"`
	Diagnosis  string `json:"diagnosis"`
	PatientAge int    `json:"patient_age"`
}

// handleGenerateInstructions produces patient-friendly medication
// instructions.
func (s *Server) handleGenerateInstructions(c *gin.Context) {
	var req generateInstructionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   domain.ErrCodeValidation,
			Message: "request body required",
		})
		return
	}

	if req.Medication == "" || req.Dosage == "" || req.Diagnosis == "" {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   domain.ErrCodeValidation,
			Message: "medication, dosage, and diagnosis are required",
		})
		return
	}

	instructions := s.advisor.GenerateInstructions(
		c.Request.Context(), req.Medication, req.Dosage, req.Diagnosis, req.PatientAge)

	c.JSON(http.StatusOK, gin.H{
		"instructions": instructions,
	})
}

// historyRequest is the body for the search and Q&A endpoints. Records are
// supplied by the upstream patient service, which owns them; this pipeline
// only populates their embeddings.
type historyRequest struct {
	PatientID string                  `json:"patient_id"`
	Query     string                  `json:"query"`
	Question  string                  `json:"question"`
	Records   []*domain.MedicalRecord `json:"records"`
}

// handleSearchHistory searches a patient's history semantically and returns
// the matches with an optional grounded summary.
func (s *Server) handleSearchHistory(c *gin.Context) {
	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   domain.ErrCodeValidation,
			Message: "request body required",
		})
		return
	}

	if req.Query == "" {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   domain.ErrCodeValidation,
			Message: "query required",
		})
		return
	}

	result := s.synthesizer.Summarize(c.Request.Context(), req.Records, req.Query)
	c.JSON(http.StatusOK, result)
}

// handleAskAboutPatient answers a question about a patient's history,
// grounded in the retrieved records.
func (s *Server) handleAskAboutPatient(c *gin.Context) {
	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   domain.ErrCodeValidation,
			Message: "request body required",
		})
		return
	}

	if req.Question == "" {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   domain.ErrCodeValidation,
			Message: "question required",
		})
		return
	}

	result := s.synthesizer.Answer(c.Request.Context(), req.Records, req.Question)
	c.JSON(http.StatusOK, result)
}

// Package api exposes the decision-support pipeline over HTTP. The
// surrounding appointment-management application dispatches authenticated
// requests here; each request maps to exactly one pipeline operation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clinical-copilot/decision-support/internal/config"
	"github.com/clinical-copilot/decision-support/internal/rag"
	"github.com/clinical-copilot/decision-support/internal/service"
)

// StatusClient is the slice of the generative service client used by the
// status endpoint.
type StatusClient interface {
	IsAvailable(ctx context.Context) bool
	ListModels(ctx context.Context) []string
}

// Server is the HTTP server hosting the pipeline endpoints.
type Server struct {
	cfg         *config.Config
	logger      *logrus.Logger
	router      *gin.Engine
	server      *http.Server
	checker     *service.Checker
	advisor     *service.Advisor
	synthesizer *rag.Synthesizer
	llmStatus   StatusClient
}

// NewServer creates a new HTTP server instance.
func NewServer(cfg *config.Config, logger *logrus.Logger, checker *service.Checker, advisor *service.Advisor, synthesizer *rag.Synthesizer, llmStatus StatusClient) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())
	router.Use(requestTimeoutMiddleware(cfg.Server.RequestTimeout))

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		router:      router,
		checker:     checker,
		advisor:     advisor,
		synthesizer: synthesizer,
		llmStatus:   llmStatus,
	}

	s.setupRoutes()
	return s
}

// Router returns the underlying gin engine, used by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	ai := s.router.Group("/api/v1/ai")
	{
		ai.GET("/status", s.handleStatus)
		ai.POST("/check-interactions", s.handleCheckInteractions)
		ai.POST("/suggest-prescription", s.handleSuggestPrescription)
		ai.POST("/generate-instructions", s.handleGenerateInstructions)
		ai.POST("/search-history", s.handleSearchHistory)
		ai.POST("/ask-about-patient", s.handleAskAboutPatient)
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// corsMiddleware allows the collaborator-owned frontend to call the API.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestIDMiddleware attaches a request ID to every request for tracing.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// requestTimeoutMiddleware bounds each operation so in-flight generative
// calls are cancelled instead of blocking past the caller's patience; the
// pipeline then degrades to rule/guideline-only results.
func requestTimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

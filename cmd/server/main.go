package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/clinical-copilot/decision-support/internal/api"
	"github.com/clinical-copilot/decision-support/internal/config"
	"github.com/clinical-copilot/decision-support/internal/rag"
	"github.com/clinical-copilot/decision-support/internal/service"
	"github.com/clinical-copilot/decision-support/pkg/llm"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	logger.WithFields(logrus.Fields{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"backend": cfg.Store.Backend,
	}).Info("Starting decision-support service")

	// Generative service client with circuit breaker and retry.
	client := llm.NewResilientClient(llm.NewClient(cfg.LLM, logger), logger)

	// Embedding persistence and retrieval pipeline.
	store, err := rag.NewStore(cfg.Store, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize embedding store")
	}
	defer store.Close()

	embeddings := rag.NewEmbeddingStore(client, store, logger)
	retriever := rag.NewRetriever(embeddings, client, cfg.Retrieval, logger)
	synthesizer := rag.NewSynthesizer(retriever, client, cfg.Retrieval, logger)

	// Deterministic tier plus model-assisted services.
	engine := service.NewRuleEngine()
	checker := service.NewChecker(engine, client, logger)
	advisor := service.NewAdvisor(checker, client, logger)

	server := api.NewServer(cfg, logger, checker, advisor, synthesizer, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newLogger builds the service logger from configuration.
func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}

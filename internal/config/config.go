// Package config loads and validates service configuration using Viper, from
// an optional config.yaml plus DECISION_SUPPORT_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clinical-copilot/decision-support/internal/rag"
	"github.com/clinical-copilot/decision-support/pkg/llm"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig holds the logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	LLM       llm.Config          `mapstructure:"llm"`
	Store     rag.StoreConfig     `mapstructure:"store"`
	Retrieval rag.RetrievalConfig `mapstructure:"retrieval"`
	Logging   LoggingConfig       `mapstructure:"logging"`
}

// Manager loads and holds the service configuration.
type Manager struct {
	config *Config
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from file, environment, and defaults.
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/decision-support/")

	viper.SetEnvPrefix("DECISION_SUPPORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and env vars suffice.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values.
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "60s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.request_timeout", "45s")

	// Generative service defaults (Ollama-compatible local endpoint)
	viper.SetDefault("llm.base_url", "http://localhost:11434")
	viper.SetDefault("llm.chat_model", "llama3.2:latest")
	viper.SetDefault("llm.embedding_model", "nomic-embed-text")
	viper.SetDefault("llm.embedding_dims", 768)
	viper.SetDefault("llm.generate_timeout", "30s")
	viper.SetDefault("llm.embed_timeout", "30s")
	viper.SetDefault("llm.status_timeout", "5s")
	viper.SetDefault("llm.availability_ttl", "5s")
	viper.SetDefault("llm.rate_limit", 10)

	// Embedding store defaults
	viper.SetDefault("store.backend", "sqlite")
	viper.SetDefault("store.sqlite_path", "data/embeddings.db")
	viper.SetDefault("store.cache_size", 4096)
	viper.SetDefault("store.cache_ttl", "24h")

	// Retrieval defaults
	viper.SetDefault("retrieval.top_k", 5)
	viper.SetDefault("retrieval.min_similarity", 0.3)
	viper.SetDefault("retrieval.high_confidence", 0.75)
	viper.SetDefault("retrieval.moderate_confidence", 0.5)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *Config {
	return m.config
}

// Validate validates the configuration.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.LLM.BaseURL == "" {
		return fmt.Errorf("generative service base URL is required")
	}
	if config.LLM.ChatModel == "" {
		return fmt.Errorf("chat model is required")
	}
	if config.LLM.EmbeddingModel == "" {
		return fmt.Errorf("embedding model is required")
	}
	if config.LLM.EmbeddingDims <= 0 {
		return fmt.Errorf("embedding dimensionality must be positive")
	}

	switch config.Store.Backend {
	case "", "memory", "sqlite":
	case "postgres":
		if config.Store.PostgresURL == "" {
			return fmt.Errorf("postgres_url is required for the postgres store backend")
		}
	case "redis":
		if config.Store.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis store backend")
		}
	default:
		return fmt.Errorf("invalid embedding store backend: %s", config.Store.Backend)
	}

	if config.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive")
	}
	if config.Retrieval.ModerateConfidence > config.Retrieval.HighConfidence {
		return fmt.Errorf("moderate confidence threshold must not exceed high threshold")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// Package llm provides the single point of contact with the local
// generative/embedding endpoint (an Ollama-compatible HTTP service exposing
// text generation, chat completion, and embedding generation).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/clinical-copilot/decision-support/internal/domain"
)

// Config holds the generative service connection settings.
type Config struct {
	BaseURL         string        `mapstructure:"base_url"`
	ChatModel       string        `mapstructure:"chat_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	EmbeddingDims   int           `mapstructure:"embedding_dims"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`
	EmbedTimeout    time.Duration `mapstructure:"embed_timeout"`
	StatusTimeout   time.Duration `mapstructure:"status_timeout"`
	AvailabilityTTL time.Duration `mapstructure:"availability_ttl"`
	RateLimit       int           `mapstructure:"rate_limit"`
}

// GenerateOptions controls a single generation request.
type GenerateOptions struct {
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Message is one turn in a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is a thin HTTP client for the generative service. All operations are
// mutation-free and idempotent. The availability probe result is cached for a
// short window so repeated UI polling does not hammer the endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *logrus.Logger

	// Single-entry expirable cache holding the last availability probe.
	availability *expirable.LRU[string, bool]
}

const availabilityKey = "available"

// NewClient creates a new generative service client.
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.GenerateTimeout == 0 {
		cfg.GenerateTimeout = 30 * time.Second
	}
	if cfg.EmbedTimeout == 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.StatusTimeout == 0 {
		cfg.StatusTimeout = 5 * time.Second
	}
	if cfg.AvailabilityTTL == 0 {
		cfg.AvailabilityTTL = 5 * time.Second
	}

	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{},
		logger:       logger,
		availability: expirable.NewLRU[string, bool](1, nil, cfg.AvailabilityTTL),
	}
}

// generateRequest is the payload for the /api/generate endpoint.
type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// chatRequest is the payload for the /api/chat endpoint.
type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []Message              `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type chatResponse struct {
	Message Message `json:"message"`
}

// embedRequest is the payload for the /api/embeddings endpoint.
type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// IsAvailable probes the status endpoint and reports whether the generative
// service is reachable. It never returns an error; failures simply report
// false. The result is cached for a few seconds.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if cached, ok := c.availability.Get(availabilityKey); ok {
		return cached
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.StatusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.availability.Add(availabilityKey, false)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	available := resp.StatusCode == http.StatusOK
	c.availability.Add(availabilityKey, available)
	return available
}

// ListModels returns the names of models loaded on the endpoint.
// Returns an empty list on any failure.
func (c *Client) ListModels(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StatusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names
}

// Generate requests a text completion. It returns a GenerationError on
// timeout or a non-2xx response; callers treat this as a soft failure.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.cfg.ChatModel
	}

	options := map[string]interface{}{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	payload := generateRequest{
		Model:   model,
		Prompt:  prompt,
		System:  opts.SystemPrompt,
		Stream:  false,
		Options: options,
	}

	var out generateResponse
	if err := c.post(ctx, "/api/generate", "generate", payload, c.cfg.GenerateTimeout, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// Chat requests a multi-turn chat completion. Same failure semantics as
// Generate.
func (c *Client) Chat(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.cfg.ChatModel
	}

	options := map[string]interface{}{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}

	payload := chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	}

	var out chatResponse
	if err := c.post(ctx, "/api/chat", "chat", payload, c.cfg.GenerateTimeout, &out); err != nil {
		return "", err
	}
	return out.Message.Content, nil
}

// Embed generates a fixed-length embedding vector for the given text.
// The vector length is validated against the configured dimensionality before
// use; a mismatch is an EmbeddingError.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := embedRequest{
		Model:  c.cfg.EmbeddingModel,
		Prompt: text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &domain.EmbeddingError{Reason: "failed to encode request", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.EmbedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.EmbeddingError{Reason: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.EmbeddingError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.EmbeddingError{Reason: fmt.Sprintf("endpoint returned status %d", resp.StatusCode)}
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &domain.EmbeddingError{Reason: "malformed response", Err: err}
	}

	if len(out.Embedding) == 0 {
		return nil, &domain.EmbeddingError{Reason: "empty embedding vector"}
	}
	if c.cfg.EmbeddingDims > 0 && len(out.Embedding) != c.cfg.EmbeddingDims {
		return nil, &domain.EmbeddingError{
			Reason: fmt.Sprintf("unexpected vector length %d, want %d", len(out.Embedding), c.cfg.EmbeddingDims),
		}
	}

	return out.Embedding, nil
}

// post sends a JSON request to the generative endpoint and decodes the
// response into out, converting failures into GenerationError.
func (c *Client) post(ctx context.Context, path, operation string, payload interface{}, timeout time.Duration, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &domain.GenerationError{Operation: operation, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return &domain.GenerationError{Operation: operation, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.GenerationError{Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &domain.GenerationError{Operation: operation, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.GenerationError{Operation: operation, Err: err}
	}
	return nil
}

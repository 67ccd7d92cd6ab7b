package llm

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/clinical-copilot/decision-support/internal/domain"
)

// ResilientClient wraps Client with a circuit breaker, client-side rate
// limiting, and a single retry on transient transport failures. Explicit
// error responses from the service are never retried, since retrying would
// not change the outcome.
type ResilientClient struct {
	client  *Client
	logger  *logrus.Logger
	limiter *rate.Limiter

	generationBreaker *gobreaker.CircuitBreaker
	embeddingBreaker  *gobreaker.CircuitBreaker
}

const retryBackoff = 250 * time.Millisecond

// NewResilientClient creates a resilient wrapper around the generative
// service client.
func NewResilientClient(client *Client, logger *logrus.Logger) *ResilientClient {
	limit := client.cfg.RateLimit
	if limit <= 0 {
		limit = 10
	}

	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Circuit breaker state changed")
			},
		}
	}

	return &ResilientClient{
		client:            client,
		logger:            logger,
		limiter:           rate.NewLimiter(rate.Limit(limit), limit),
		generationBreaker: gobreaker.NewCircuitBreaker(settings("generation")),
		embeddingBreaker:  gobreaker.NewCircuitBreaker(settings("embedding")),
	}
}

// IsAvailable reports whether the generative service is reachable. An open
// generation breaker counts as unavailable regardless of the probe result.
func (r *ResilientClient) IsAvailable(ctx context.Context) bool {
	if r.generationBreaker.State() == gobreaker.StateOpen {
		return false
	}
	return r.client.IsAvailable(ctx)
}

// ListModels returns the names of models loaded on the endpoint.
func (r *ResilientClient) ListModels(ctx context.Context) []string {
	return r.client.ListModels(ctx)
}

// Generate requests a text completion through the circuit breaker.
func (r *ResilientClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	result, err := r.execute(ctx, r.generationBreaker, "generate", func() (interface{}, error) {
		return r.client.Generate(ctx, prompt, opts)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Chat requests a chat completion through the circuit breaker.
func (r *ResilientClient) Chat(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	result, err := r.execute(ctx, r.generationBreaker, "chat", func() (interface{}, error) {
		return r.client.Chat(ctx, messages, opts)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Embed generates an embedding vector through the circuit breaker.
func (r *ResilientClient) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := r.execute(ctx, r.embeddingBreaker, "embed", func() (interface{}, error) {
		return r.client.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

// execute runs a call through the given breaker with rate limiting and a
// single retry on transient transport failures.
func (r *ResilientClient) execute(ctx context.Context, breaker *gobreaker.CircuitBreaker, operation string, call func() (interface{}, error)) (interface{}, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &domain.GenerationError{Operation: operation, Err: err}
	}

	result, err := breaker.Execute(func() (interface{}, error) {
		out, callErr := call()
		if callErr != nil && isTransient(callErr) && ctx.Err() == nil {
			r.logger.WithError(callErr).WithField("operation", operation).
				Debug("Transient transport failure, retrying once")
			time.Sleep(retryBackoff)
			out, callErr = call()
		}
		return out, callErr
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.GenerationError{Operation: operation, Err: domain.ErrServiceUnavailable}
		}
		return nil, err
	}
	return result, nil
}

// isTransient reports whether the error is a transport-level failure worth a
// single retry (connection refused/reset). HTTP error responses and timeouts
// are not transient.
func isTransient(err error) bool {
	var genErr *domain.GenerationError
	if errors.As(err, &genErr) && genErr.StatusCode != 0 {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	return false
}

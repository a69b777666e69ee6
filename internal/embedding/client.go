// Package embedding wraps the embedding model behind a timeout and a
// circuit breaker so a wedged model server degrades fast instead of
// stalling every profile rebuild in the queue.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
)

// Backend is the raw embedding call, implemented by the ollama client.
type Backend interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Client generates embeddings through a Backend.
type Client struct {
	backend Backend
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[[]float32]
}

// NewClient creates a Client for the given model. timeout bounds each
// individual embedding call.
func NewClient(backend Backend, model string, timeout time.Duration) *Client {
	breaker := gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
		Name:    "embedding",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		backend: backend,
		model:   model,
		timeout: timeout,
		breaker: breaker,
	}
}

// Embed returns the embedding vector for a single text. An open breaker
// returns an error immediately without touching the backend.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.breaker.Execute(func() ([]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.backend.Embed(callCtx, c.model, text)
	})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the model server.

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := c.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

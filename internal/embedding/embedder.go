// Package embedding converts text into fixed-dimension vectors, either through an
// external embedding service or a local hashing model.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/shiryo/internal/config"
	"go.uber.org/zap"
)

// ErrRateLimited is returned when a batch still fails after every retry.
var ErrRateLimited = errors.New("embedding: retries exhausted")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Providers.
const (
	ProviderOpenAI  = "openai"
	ProviderHashing = "hashing"
	ProviderMock    = "mock"
)

// StatusError is a non-2xx response from an embedding service.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embedding service returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// New builds the embedder selected by cfg.Provider. Remote providers are wrapped in a
// Batcher so callers get batching, rate limiting and retries.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		key := cfg.APIKey()
		if key == "" {
			return nil, fmt.Errorf("embedding provider %q requires $%s", cfg.Provider, cfg.APIKeyEnv)
		}
		client := NewOpenAIClient(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     key,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
		return NewBatcher(client, BatcherConfig{
			BatchSize:         cfg.BatchSize,
			RequestsPerMinute: cfg.RequestsPerMinute,
			MaxRetries:        cfg.MaxRetries,
			InitialBackoff:    cfg.InitialBackoff,
			MaxBackoff:        cfg.MaxBackoff,
		}, WithLogger(logger)), nil
	case ProviderHashing:
		return NewHashingEmbedder(cfg.Dimensions), nil
	case ProviderMock:
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

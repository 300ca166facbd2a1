package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BatcherConfig configures batching, pacing and retries for a remote embedder.
type BatcherConfig struct {
	BatchSize         int
	RequestsPerMinute int
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

// Batcher splits input into batches, paces requests to a requests-per-minute ceiling,
// and retries transient failures (429, 5xx, transport errors) with exponential backoff.
// A batch that keeps failing returns ErrRateLimited; earlier batches are not retried.
type Batcher struct {
	client         Embedder
	batchSize      int
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	limiter        *rate.Limiter
	logger         *zap.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithLogger sets a logger for retry events.
func WithLogger(l *zap.Logger) Option {
	return func(b *Batcher) { b.logger = utils.OrNop(l) }
}

// NewBatcher wraps client.
func NewBatcher(client Embedder, cfg BatcherConfig, opts ...Option) *Batcher {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	b := &Batcher{
		client:         client,
		batchSize:      cfg.BatchSize,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		limiter:        rate.NewLimiter(limit, 1),
		logger:         zap.NewNop(),
		sleep:          sleepContext,
	}
	if b.batchSize <= 0 {
		b.batchSize = 64
	}
	if b.maxRetries < 0 {
		b.maxRetries = 0
	}
	if b.initialBackoff <= 0 {
		b.initialBackoff = time.Second
	}
	if b.maxBackoff < b.initialBackoff {
		b.maxBackoff = b.initialBackoff
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Embed embeds a single text.
func (b *Batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts batch by batch and returns vectors in input order.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		vecs, err := b.call(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end-1, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (b *Batcher) call(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			wait := b.backoff(attempt, lastErr)
			metrics.EmbeddingRetries.Inc()
			b.logger.Debug("retrying embedding request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(lastErr))
			if err := b.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		vecs, err := b.client.EmbedBatch(ctx, batch)
		if err == nil {
			metrics.EmbeddingRequests.WithLabelValues("ok").Inc()
			return vecs, nil
		}
		if !retryable(ctx, err) {
			metrics.EmbeddingRequests.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.EmbeddingRequests.WithLabelValues("retry").Inc()
		lastErr = err
	}
	b.logger.Warn("embedding retries exhausted", zap.Int("attempts", b.maxRetries+1), zap.Error(lastErr))
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRateLimited, b.maxRetries+1, lastErr)
}

// backoff doubles the initial delay per attempt up to maxBackoff. A Retry-After hint
// from the server wins when it asks for a longer wait.
func (b *Batcher) backoff(attempt int, lastErr error) time.Duration {
	d := b.initialBackoff << (attempt - 1)
	if d <= 0 || d > b.maxBackoff {
		d = b.maxBackoff
	}
	var se *StatusError
	if errors.As(lastErr, &se) && se.RetryAfter > d {
		d = se.RetryAfter
	}
	return d
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	// Transport failures (connection reset, client timeout) surface as *url.Error.
	var ue *url.Error
	return errors.As(err, &ue)
}

// Dimensions returns the wrapped client's dimension.
func (b *Batcher) Dimensions() int {
	return b.client.Dimensions()
}

// Close closes the wrapped client.
func (b *Batcher) Close() error {
	return b.client.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

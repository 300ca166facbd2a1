package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient fails with the queued errors before succeeding.
type scriptedClient struct {
	mu      sync.Mutex
	errs    []error
	batches [][]string
}

func (s *scriptedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (s *scriptedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, texts)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func (s *scriptedClient) Dimensions() int { return 2 }
func (s *scriptedClient) Close() error    { return nil }

func newTestBatcher(client Embedder, cfg BatcherConfig) (*Batcher, *[]time.Duration) {
	b := NewBatcher(client, cfg)
	var waits []time.Duration
	b.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return b, &waits
}

func TestBatcher_SplitsBatches(t *testing.T) {
	client := &scriptedClient{}
	b, _ := newTestBatcher(client, BatcherConfig{BatchSize: 2})
	vecs, err := b.EmbedBatch(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0], "vector %d out of order", i)
	}
	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[0], 2)
	assert.Len(t, client.batches[2], 1)
}

func TestBatcher_RetriesTransient(t *testing.T) {
	client := &scriptedClient{errs: []error{
		&StatusError{StatusCode: 429},
		&StatusError{StatusCode: 503},
	}}
	b, waits := newTestBatcher(client, BatcherConfig{BatchSize: 10, MaxRetries: 3, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second})
	vecs, err := b.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestBatcher_RetryAfterWins(t *testing.T) {
	client := &scriptedClient{errs: []error{&StatusError{StatusCode: 429, RetryAfter: 9 * time.Second}}}
	b, waits := newTestBatcher(client, BatcherConfig{MaxRetries: 1, InitialBackoff: time.Second, MaxBackoff: 4 * time.Second})
	_, err := b.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{9 * time.Second}, *waits)
}

func TestBatcher_BackoffCapped(t *testing.T) {
	b := NewBatcher(&scriptedClient{}, BatcherConfig{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second})
	assert.Equal(t, time.Second, b.backoff(1, nil))
	assert.Equal(t, 4*time.Second, b.backoff(3, nil))
	assert.Equal(t, 5*time.Second, b.backoff(4, nil))
	assert.Equal(t, 5*time.Second, b.backoff(70, nil))
}

func TestBatcher_Exhausted(t *testing.T) {
	rateLimited := &StatusError{StatusCode: 429}
	client := &scriptedClient{errs: []error{rateLimited, rateLimited, rateLimited}}
	b, waits := newTestBatcher(client, BatcherConfig{MaxRetries: 2, InitialBackoff: time.Millisecond})
	_, err := b.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	var se *StatusError
	assert.True(t, errors.As(err, &se))
	assert.Len(t, client.batches, 3)
	assert.Len(t, *waits, 2)
}

func TestBatcher_PermanentErrorNotRetried(t *testing.T) {
	client := &scriptedClient{errs: []error{&StatusError{StatusCode: 400, Body: "bad input"}}}
	b, waits := newTestBatcher(client, BatcherConfig{MaxRetries: 5})
	_, err := b.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRateLimited))
	assert.Len(t, client.batches, 1)
	assert.Empty(t, *waits)
}

func TestBatcher_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b, _ := newTestBatcher(&scriptedClient{}, BatcherConfig{})
	_, err := b.EmbedBatch(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatcher_Delegates(t *testing.T) {
	b := NewBatcher(&scriptedClient{}, BatcherConfig{})
	assert.Equal(t, 2, b.Dimensions())
	assert.NoError(t, b.Close())
}

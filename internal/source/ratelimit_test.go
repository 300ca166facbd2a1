package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Backoff(t *testing.T) {
	r := NewRateLimiter(0, 0)
	r.RecordRateLimitError(50 * time.Millisecond)
	start := time.Now()
	assert.NoError(t, r.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestRateLimiter_CanceledDuringBackoff(t *testing.T) {
	r := NewRateLimiter(100, 1)
	r.RecordRateLimitError(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)
}

func TestRateLimiter_ShorterBackoffDoesNotShrink(t *testing.T) {
	r := NewRateLimiter(0, 0)
	r.RecordRateLimitError(time.Hour)
	r.RecordRateLimitError(time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, r.Wait(ctx))
}

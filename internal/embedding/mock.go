package embedding

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"sync/atomic"

	"github.com/hyperjump/shiryo/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests. Each text seeds a random unit
// vector, so equal texts embed equally and unrelated texts are close to orthogonal.
// Unlike HashingEmbedder it carries no notion of similarity between different texts.
type MockEmbedder struct {
	dimensions int
	// FailOn makes any call containing a text it returns true for fail with a 500.
	FailOn func(text string) bool
	calls  atomic.Int64
}

// NewMockEmbedder returns a mock producing vectors of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed embeds a single text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one call.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if e.FailOn != nil && e.FailOn(text) {
			return nil, &StatusError{StatusCode: 500, Body: "mock failure"}
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *MockEmbedder) vector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(e.dimensions)))
	v := make([]float32, e.dimensions)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	utils.NormalizeL2(v)
	return v
}

// Calls returns how many Embed or EmbedBatch calls were made.
func (e *MockEmbedder) Calls() int {
	return int(e.calls.Load())
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *MockEmbedder) Close() error {
	return nil
}

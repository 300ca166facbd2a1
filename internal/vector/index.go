// Package vector provides the in-memory similarity index over chunk embeddings.
package vector

import "context"

// VectorIndex stores one vector per chunk, keyed by document and chunk index.
type VectorIndex interface {
	// Upsert replaces every vector of docID; vectors[i] belongs to chunk i.
	Upsert(ctx context.Context, docID string, vectors [][]float32) error
	// Set stores the vector of one chunk; used when loading persisted embeddings.
	Set(docID string, index int, vector []float32) error
	RemoveDocument(ctx context.Context, docID string) error
	// Search returns at least k hits when available, plus any tied with the k-th.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Size() int
	Reset()
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	DocumentID string
	ChunkIndex int
	Score      float64 // cosine similarity in [-1, 1]
}

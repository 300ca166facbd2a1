package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/shiryo/pkg/utils"
)

// MemoryIndex is a brute-force cosine index. Vectors are L2-normalized on insert so
// a search is a single inner product per chunk. It is rebuilt from storage at start-up.
type MemoryIndex struct {
	dimensions int
	docs       map[string][][]float32
	size       int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		docs:       make(map[string][][]float32),
	}, nil
}

// Dimensions returns the vector dimension the index accepts.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Upsert replaces all vectors of docID. An empty vectors slice removes the document.
func (m *MemoryIndex) Upsert(ctx context.Context, docID string, vectors [][]float32) error {
	stored := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(v), m.dimensions)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, v)
		utils.NormalizeL2(vec)
		stored[i] = vec
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size -= filled(m.docs[docID])
	if len(stored) == 0 {
		delete(m.docs, docID)
		return nil
	}
	m.docs[docID] = stored
	m.size += len(stored)
	return nil
}

// Set stores the vector of a single chunk, growing the document's slot list as needed.
// It is used while rebuilding from storage, where chunks arrive one at a time.
func (m *MemoryIndex) Set(docID string, index int, vector []float32) error {
	if len(vector) != m.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vector), m.dimensions)
	}
	if index < 0 {
		return fmt.Errorf("negative chunk index %d", index)
	}
	vec := make([]float32, m.dimensions)
	copy(vec, vector)
	utils.NormalizeL2(vec)
	m.mu.Lock()
	defer m.mu.Unlock()
	slots := m.docs[docID]
	for len(slots) <= index {
		slots = append(slots, nil)
	}
	if slots[index] == nil {
		m.size++
	}
	slots[index] = vec
	m.docs[docID] = slots
	return nil
}

// RemoveDocument drops every vector of docID.
func (m *MemoryIndex) RemoveDocument(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size -= filled(m.docs[docID])
	delete(m.docs, docID)
	return nil
}

// Search returns the top-k chunks by cosine similarity to query. Chunks tied with
// the k-th score are all returned, so callers can apply their own tie-break.
// Equal scores are ordered by document ID and chunk index so results are stable.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	q := make([]float32, len(query))
	copy(q, query)
	utils.NormalizeL2(q)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || m.size == 0 {
		return nil, nil
	}
	results := make([]*VectorResult, 0, m.size)
	for docID, vecs := range m.docs {
		for i, vec := range vecs {
			if vec == nil {
				continue
			}
			results = append(results, &VectorResult{DocumentID: docID, ChunkIndex: i, Score: innerProduct(q, vec)})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.ChunkIndex < b.ChunkIndex
	})
	if k >= len(results) {
		return results, nil
	}
	for k < len(results) && results[k].Score == results[k-1].Score {
		k++
	}
	return results[:k], nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Reset empties the index.
func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string][][]float32)
	m.size = 0
}

func innerProduct(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func filled(vecs [][]float32) int {
	n := 0
	for _, v := range vecs {
		if v != nil {
			n++
		}
	}
	return n
}

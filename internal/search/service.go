// Package search answers semantic queries over the indexed chunks and attaches
// the citation of every matched document.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/storage"
	"github.com/hyperjump/shiryo/internal/vector"
	"go.uber.org/zap"
)

// Service performs vector search and joins hits back to their documents.
type Service struct {
	storage     storage.Storage
	embedder    embedding.Embedder
	vectorIndex vector.VectorIndex
	config      config.SearchConfig
	logger      *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a search service. Zero config values fall back to defaults.
func NewService(store storage.Storage, embedder embedding.Embedder, vectorIndex vector.VectorIndex, cfg config.SearchConfig, opts ...ServiceOption) *Service {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 5
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = max(cfg.DefaultLimit, 50)
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 4
	}
	s := &Service{
		storage:     store,
		embedder:    embedder,
		vectorIndex: vectorIndex,
		config:      cfg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limit clamps a requested result count to the configured range.
func (s *Service) Limit(requested int) int {
	if requested <= 0 {
		return s.config.DefaultLimit
	}
	return min(requested, s.config.MaxLimit)
}

// Search returns up to limit chunks ordered by similarity. Queries shorter than
// the configured minimum return an empty response without touching the embedder.
func (s *Service) Search(ctx context.Context, query string, limit int) (*models.SearchResponse, error) {
	start := time.Now()
	defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	query = strings.TrimSpace(query)
	resp := &models.SearchResponse{
		Results:   []models.SearchResult{},
		Citations: []string{},
		Query:     query,
	}
	if utf8.RuneCountInString(query) < s.config.MinQueryLength {
		return resp, nil
	}
	limit = s.Limit(limit)

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	candidates, err := s.vectorIndex.Search(ctx, vec, limit*s.config.CandidateMultiplier)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(candidates) == 0 {
		resp.QueryTime = time.Since(start).Milliseconds()
		return resp, nil
	}

	refs := make([]storage.ChunkRef, len(candidates))
	scores := make(map[string]float64, len(candidates))
	for i, c := range candidates {
		refs[i] = storage.ChunkRef{DocumentID: c.DocumentID, Index: c.ChunkIndex}
		scores[models.ChunkKey(c.DocumentID, c.ChunkIndex)] = c.Score
	}
	hits, err := s.storage.GetSearchHits(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("load search hits: %w", err)
	}
	if dropped := len(candidates) - len(hits); dropped > 0 {
		s.logger.Debug("dropped vector hits without a stored chunk", zap.Int("count", dropped))
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, models.SearchResult{
			Content:      h.Chunk.Text,
			Source:       h.Document.Title,
			Folder:       h.Document.Folder,
			Similarity:   scores[h.Chunk.Key()],
			DocumentID:   h.Document.ID,
			ChunkIndex:   h.Chunk.Index,
			ModifiedTime: h.Document.ModifiedTime,
		})
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}

	resp.Results = results
	resp.Citations = models.Citations(results)
	resp.QueryTime = time.Since(start).Milliseconds()
	s.logger.Debug("search",
		zap.String("query", query),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)))
	return resp, nil
}

// sortResults orders by similarity, then by the more recently modified document.
func sortResults(results []models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.ModifiedTime.Equal(b.ModifiedTime) {
			return a.ModifiedTime.After(b.ModifiedTime)
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.ChunkIndex < b.ChunkIndex
	})
}

// IndexSize returns the number of vectors held in memory.
func (s *Service) IndexSize() int {
	return s.vectorIndex.Size()
}

// Rebuild reloads the vector index from the embeddings persisted in storage and
// returns the number of vectors loaded.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	s.vectorIndex.Reset()
	n := 0
	err := s.storage.ForEachEmbedding(ctx, func(docID string, index int, vec []float32) error {
		if err := s.vectorIndex.Set(docID, index, vec); err != nil {
			return fmt.Errorf("chunk %s: %w", models.ChunkKey(docID, index), err)
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("rebuild vector index: %w", err)
	}
	s.logger.Info("vector index rebuilt", zap.Int("vectors", n))
	return n, nil
}

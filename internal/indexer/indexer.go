package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/storage"
	"github.com/hyperjump/shiryo/internal/vector"
	"go.uber.org/zap"
)

// Indexer writes documents into storage and the vector index. Each document's chunks
// are replaced as a whole: storage swaps them in one transaction, then the index is
// updated for the same document.
type Indexer struct {
	storage     storage.Storage
	embedder    embedding.Embedder
	vectorIndex vector.VectorIndex
	chunker     *Chunker
	logger      *zap.Logger
	now         func() time.Time
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (document indexed, document deleted, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithClock overrides the time source used for last_synced and chunk timestamps.
func WithClock(now func() time.Time) IndexerOption {
	return func(idx *Indexer) { idx.now = now }
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(
	storage storage.Storage,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	chunker *Chunker,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		storage:     storage,
		embedder:    embedder,
		vectorIndex: vectorIndex,
		chunker:     chunker,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexDocument normalizes doc.Content, chunks and embeds it, and replaces the document
// and its chunks in storage and the vector index. It sets doc.TokenCount and
// doc.LastSynced and returns the number of chunks written. Text without tokens stores
// the document with no chunks. Nothing is written when embedding fails.
func (idx *Indexer) IndexDocument(ctx context.Context, doc *models.Document) (int, error) {
	doc.Content = Preprocess(doc.Content)
	pieces := idx.chunker.Chunk(doc.Content)

	texts := make([]string, len(pieces))
	tokens := 0
	for i, p := range pieces {
		texts[i] = p.Text
		tokens += p.Tokens
	}
	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(vectors) != len(texts) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
		}
	}

	now := idx.now().UTC()
	chunks := make([]*models.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &models.Chunk{
			DocumentID: doc.ID,
			Index:      p.Index,
			Text:       p.Text,
			TokenCount: p.Tokens,
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
	}
	doc.TokenCount = tokens
	doc.LastSynced = now
	doc.LastSyncError = ""

	if err := idx.storage.ReplaceDocument(ctx, doc, chunks); err != nil {
		return 0, fmt.Errorf("failed to store document: %w", err)
	}
	if err := idx.vectorIndex.Upsert(ctx, doc.ID, vectors); err != nil {
		return 0, fmt.Errorf("failed to index vectors: %w", err)
	}
	idx.logger.Debug("indexer document indexed",
		zap.String("doc_id", doc.ID),
		zap.String("title", doc.Title),
		zap.Int("chunks", len(chunks)),
		zap.Int("tokens", tokens))
	return len(chunks), nil
}

// DeleteDocument removes a document and its chunks from storage and the vector index.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if err := idx.vectorIndex.RemoveDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete from vector index: %w", err)
	}
	idx.logger.Debug("indexer document deleted", zap.String("id", id))
	return nil
}

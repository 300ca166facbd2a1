// Package storage defines the persistence interface for documents, chunks, sync runs,
// and conversations.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/shiryo/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrSyncRunning is returned by BeginSyncRun while another run is active.
	ErrSyncRunning = errors.New("storage: a sync run is already running")
	// ErrRunFinalized is returned when finishing a run that is no longer running.
	ErrRunFinalized = errors.New("storage: sync run already finalized")
)

// ChunkRef identifies a chunk by document and index.
type ChunkRef struct {
	DocumentID string
	Index      int
}

// SearchHit is a chunk joined with the document it belongs to.
type SearchHit struct {
	Chunk    models.Chunk
	Document models.Document
}

// Storage defines persistence operations.
type Storage interface {
	// Document operations
	ReplaceDocument(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error
	RecordDocumentError(ctx context.Context, doc *models.Document, syncErr string) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	ListContextDocuments(ctx context.Context) ([]*models.Document, error)
	ListDocumentIDs(ctx context.Context) ([]string, error)
	DeleteDocument(ctx context.Context, id string) error

	// Chunk operations
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	GetSearchHits(ctx context.Context, refs []ChunkRef) ([]*SearchHit, error)
	ForEachEmbedding(ctx context.Context, fn func(docID string, index int, vec []float32) error) error

	// Sync runs
	BeginSyncRun(ctx context.Context, run *models.SyncRun) error
	FinishSyncRun(ctx context.Context, run *models.SyncRun) error
	GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error)
	ActiveSyncRun(ctx context.Context) (*models.SyncRun, error)
	ListSyncRuns(ctx context.Context, limit int) ([]*models.SyncRun, error)
	FailInterruptedRuns(ctx context.Context, reason string) (int64, error)
	RecordSyncFile(ctx context.Context, res *models.SyncFileResult) error
	ListSyncFiles(ctx context.Context, runID string) ([]*models.SyncFileResult, error)

	// Conversations
	EnsureConversation(ctx context.Context, id string) (*models.Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	AppendTurn(ctx context.Context, turn *models.Turn) error
	RecentTurns(ctx context.Context, conversationID string, n int) ([]models.Turn, error)
	ListTurns(ctx context.Context, conversationID string) ([]models.Turn, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}

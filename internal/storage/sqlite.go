package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shiryo/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// Immediate transactions take the write lock up front so concurrent writers
	// wait on busy_timeout instead of failing on lock upgrade.
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		folder TEXT NOT NULL DEFAULT '',
		folder_path TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		token_count INTEGER NOT NULL DEFAULT 0,
		is_context_file INTEGER NOT NULL DEFAULT 0,
		modified_time TIMESTAMP,
		last_synced TIMESTAMP,
		last_sync_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_context ON documents(is_context_file);

	CREATE TABLE IF NOT EXISTS chunks (
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		embedding BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (document_id, chunk_index),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		trigger TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		processed INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		error_summary TEXT NOT NULL DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_runs_one_running
		ON sync_runs(status) WHERE status = 'running';
	CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);

	CREATE TABLE IF NOT EXISTS sync_run_files (
		run_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		name TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL,
		FOREIGN KEY (run_id) REFERENCES sync_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sync_run_files_run ON sync_run_files(run_id);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		responder TEXT NOT NULL DEFAULT '',
		failed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);

	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, id);

	CREATE TRIGGER IF NOT EXISTS turns_no_update BEFORE UPDATE ON turns
	BEGIN
		SELECT RAISE(ABORT, 'turns are append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS turns_no_delete BEFORE DELETE ON turns
	BEGIN
		SELECT RAISE(ABORT, 'turns are append-only');
	END;
	`
	_, err := db.Exec(schema)
	return err
}

func documentColumns(withContent bool) string {
	content := "content"
	if !withContent {
		content = "'' AS content"
	}
	return "id, title, folder, folder_path, content_type, " + content +
		", token_count, is_context_file, modified_time, last_synced, last_sync_error, created_at, updated_at"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var contentType string
	var modified, lastSynced sql.NullTime
	err := row.Scan(&doc.ID, &doc.Title, &doc.Folder, &doc.FolderPath, &contentType, &doc.Content,
		&doc.TokenCount, &doc.IsContextFile, &modified, &lastSynced, &doc.LastSyncError,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.ContentType = models.ContentType(contentType)
	if modified.Valid {
		doc.ModifiedTime = modified.Time
	}
	if lastSynced.Valid {
		doc.LastSynced = lastSynced.Time
	}
	return &doc, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// ReplaceDocument stores doc and replaces all of its chunks in one transaction.
func (s *SQLiteStorage) ReplaceDocument(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	doc.UpdatedAt = now
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, folder, folder_path, content_type, content, token_count,
			is_context_file, modified_time, last_synced, last_sync_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			folder = excluded.folder,
			folder_path = excluded.folder_path,
			content_type = excluded.content_type,
			content = excluded.content,
			token_count = excluded.token_count,
			is_context_file = excluded.is_context_file,
			modified_time = excluded.modified_time,
			last_synced = excluded.last_synced,
			last_sync_error = excluded.last_sync_error,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Title, doc.Folder, doc.FolderPath, string(doc.ContentType), doc.Content, doc.TokenCount,
		doc.IsContextFile, nullTime(doc.ModifiedTime), nullTime(doc.LastSynced), doc.LastSyncError,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	if len(chunks) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO chunks (document_id, chunk_index, text, token_count, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, chunk := range chunks {
			if chunk.DocumentID != doc.ID {
				return fmt.Errorf("chunk %d belongs to %q, not %q", chunk.Index, chunk.DocumentID, doc.ID)
			}
			chunk.CreatedAt = now
			if _, err := stmt.ExecContext(ctx, chunk.DocumentID, chunk.Index, chunk.Text, chunk.TokenCount,
				encodeEmbedding(chunk.Embedding), chunk.CreatedAt); err != nil {
				return fmt.Errorf("insert chunk %d: %w", chunk.Index, err)
			}
		}
	}
	return tx.Commit()
}

// RecordDocumentError records a failed sync attempt. Existing content, chunks, and
// last_synced are left untouched; a new document is created without content.
func (s *SQLiteStorage) RecordDocumentError(ctx context.Context, doc *models.Document, syncErr string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, folder, folder_path, content_type, is_context_file,
			modified_time, last_sync_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			folder = excluded.folder,
			folder_path = excluded.folder_path,
			is_context_file = excluded.is_context_file,
			last_sync_error = excluded.last_sync_error,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Title, doc.Folder, doc.FolderPath, string(doc.ContentType), doc.IsContextFile,
		nullTime(doc.ModifiedTime), syncErr, now, now,
	)
	return err
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns(true)+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, err
}

// ListDocuments returns documents ordered by folder and title, without their content.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns(false)+` FROM documents
		 ORDER BY folder_path, title LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return collectDocuments(rows)
}

// ListContextDocuments returns all context files with their content.
func (s *SQLiteStorage) ListContextDocuments(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns(true)+` FROM documents
		 WHERE is_context_file = 1 AND token_count > 0
		 ORDER BY folder_path, title`,
	)
	if err != nil {
		return nil, err
	}
	return collectDocuments(rows)
}

func collectDocuments(rows *sql.Rows) ([]*models.Document, error) {
	defer rows.Close()
	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListDocumentIDs returns the IDs of all stored documents.
func (s *SQLiteStorage) ListDocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteDocument removes a document and its chunks atomically.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// GetChunksByDocumentID returns all chunks for a document ordered by index.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, chunk_index, text, token_count, embedding, created_at
		 FROM chunks WHERE document_id = ? ORDER BY chunk_index`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		var blob []byte
		if err := rows.Scan(&chunk.DocumentID, &chunk.Index, &chunk.Text, &chunk.TokenCount, &blob, &chunk.CreatedAt); err != nil {
			return nil, err
		}
		chunk.Embedding = decodeEmbedding(blob)
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// GetSearchHits resolves chunk references against the current tables. References whose
// chunk or document no longer exists are omitted; the order of refs is kept.
func (s *SQLiteStorage) GetSearchHits(ctx context.Context, refs []ChunkRef) ([]*SearchHit, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	stmt, err := s.db.PrepareContext(ctx,
		`SELECT c.document_id, c.chunk_index, c.text, c.token_count, c.created_at,
			d.id, d.title, d.folder, d.folder_path, d.content_type, '' AS content, d.token_count,
			d.is_context_file, d.modified_time, d.last_synced, d.last_sync_error, d.created_at, d.updated_at
		 FROM chunks c JOIN documents d ON d.id = c.document_id
		 WHERE c.document_id = ? AND c.chunk_index = ?`,
	)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	hits := make([]*SearchHit, 0, len(refs))
	for _, ref := range refs {
		var hit SearchHit
		var contentType string
		var modified, lastSynced sql.NullTime
		err := stmt.QueryRowContext(ctx, ref.DocumentID, ref.Index).Scan(
			&hit.Chunk.DocumentID, &hit.Chunk.Index, &hit.Chunk.Text, &hit.Chunk.TokenCount, &hit.Chunk.CreatedAt,
			&hit.Document.ID, &hit.Document.Title, &hit.Document.Folder, &hit.Document.FolderPath, &contentType,
			&hit.Document.Content, &hit.Document.TokenCount, &hit.Document.IsContextFile, &modified, &lastSynced,
			&hit.Document.LastSyncError, &hit.Document.CreatedAt, &hit.Document.UpdatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		hit.Document.ContentType = models.ContentType(contentType)
		if modified.Valid {
			hit.Document.ModifiedTime = modified.Time
		}
		if lastSynced.Valid {
			hit.Document.LastSynced = lastSynced.Time
		}
		hits = append(hits, &hit)
	}
	return hits, nil
}

// ForEachEmbedding streams every stored chunk embedding to fn.
func (s *SQLiteStorage) ForEachEmbedding(ctx context.Context, fn func(docID string, index int, vec []float32) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT document_id, chunk_index, embedding FROM chunks`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var docID string
		var index int
		var blob []byte
		if err := rows.Scan(&docID, &index, &blob); err != nil {
			return err
		}
		if err := fn(docID, index, decodeEmbedding(blob)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// BeginSyncRun inserts run in the running state unless another run is running.
func (s *SQLiteStorage) BeginSyncRun(ctx context.Context, run *models.SyncRun) error {
	run.Status = models.SyncRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, mode, trigger, status, started_at)
		 SELECT ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM sync_runs WHERE status = 'running')`,
		run.ID, string(run.Mode), run.Trigger, string(run.Status), run.StartedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: sync_runs.status") {
			return ErrSyncRunning
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSyncRunning
	}
	return nil
}

// FinishSyncRun finalizes a running run with its status, counters, and error summary.
func (s *SQLiteStorage) FinishSyncRun(ctx context.Context, run *models.SyncRun) error {
	if run.FinishedAt == nil {
		now := time.Now()
		run.FinishedAt = &now
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, finished_at = ?, processed = ?, updated = ?, failed = ?,
			skipped = ?, error_summary = ?
		 WHERE id = ? AND status = 'running'`,
		string(run.Status), *run.FinishedAt, run.Counts.Processed, run.Counts.Updated, run.Counts.Failed,
		run.Counts.Skipped, run.ErrorSummary, run.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sync run %s: %w", run.ID, ErrRunFinalized)
	}
	return nil
}

const syncRunColumns = `id, mode, trigger, status, started_at, finished_at, processed, updated, failed, skipped, error_summary`

func scanSyncRun(row rowScanner) (*models.SyncRun, error) {
	var run models.SyncRun
	var mode, status string
	var finished sql.NullTime
	if err := row.Scan(&run.ID, &mode, &run.Trigger, &status, &run.StartedAt, &finished,
		&run.Counts.Processed, &run.Counts.Updated, &run.Counts.Failed, &run.Counts.Skipped, &run.ErrorSummary); err != nil {
		return nil, err
	}
	run.Mode = models.SyncMode(mode)
	run.Status = models.SyncStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// GetSyncRun returns a run by ID.
func (s *SQLiteStorage) GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error) {
	run, err := scanSyncRun(s.db.QueryRowContext(ctx, `SELECT `+syncRunColumns+` FROM sync_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sync run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ActiveSyncRun returns the running run, or nil when none is running.
func (s *SQLiteStorage) ActiveSyncRun(ctx context.Context) (*models.SyncRun, error) {
	run, err := scanSyncRun(s.db.QueryRowContext(ctx, `SELECT `+syncRunColumns+` FROM sync_runs WHERE status = 'running'`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListSyncRuns returns the most recent runs first.
func (s *SQLiteStorage) ListSyncRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// FailInterruptedRuns marks runs left in the running state (e.g. by a crash) as failed.
func (s *SQLiteStorage) FailInterruptedRuns(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = 'failed', finished_at = ?, error_summary = ? WHERE status = 'running'`,
		time.Now(), reason,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordSyncFile stores the outcome of one file in a run.
func (s *SQLiteStorage) RecordSyncFile(ctx context.Context, res *models.SyncFileResult) error {
	if res.Recorded.IsZero() {
		res.Recorded = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_run_files (run_id, file_id, name, outcome, reason, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		res.RunID, res.FileID, res.Name, string(res.Outcome), res.Reason, res.Recorded,
	)
	return err
}

// ListSyncFiles returns the per-file detail of a run in recording order.
func (s *SQLiteStorage) ListSyncFiles(ctx context.Context, runID string) ([]*models.SyncFileResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, file_id, name, outcome, reason, recorded_at
		 FROM sync_run_files WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.SyncFileResult
	for rows.Next() {
		var r models.SyncFileResult
		var outcome string
		if err := rows.Scan(&r.RunID, &r.FileID, &r.Name, &outcome, &r.Reason, &r.Recorded); err != nil {
			return nil, err
		}
		r.Outcome = models.FileOutcome(outcome)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// EnsureConversation returns the conversation with id, creating it when missing.
// The boolean reports whether it was created.
func (s *SQLiteStorage) EnsureConversation(ctx context.Context, id string) (*models.Conversation, bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`, id, now)
	if err != nil {
		return nil, false, err
	}
	created := false
	if n, _ := res.RowsAffected(); n > 0 {
		created = true
	}
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

// GetConversation returns a conversation by ID.
func (s *SQLiteStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM conversations WHERE id = ?`, id).Scan(&conv.ID, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendTurn appends turn to its conversation. The stored timestamp is moved forward
// when needed so turns stay strictly ordered.
func (s *SQLiteStorage) AppendTurn(ctx context.Context, turn *models.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := turn.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.Round(0)

	var last time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT created_at FROM turns WHERE conversation_id = ? ORDER BY id DESC LIMIT 1`,
		turn.ConversationID).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	case !ts.After(last):
		ts = last.Add(time.Microsecond)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO turns (conversation_id, role, text, responder, failed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ConversationID, string(turn.Role), turn.Text, string(turn.Responder), turn.Failed, ts,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	turn.ID = id
	turn.CreatedAt = ts
	return nil
}

const turnColumns = `id, conversation_id, role, text, responder, failed, created_at`

func collectTurns(rows *sql.Rows) ([]models.Turn, error) {
	defer rows.Close()
	var turns []models.Turn
	for rows.Next() {
		var t models.Turn
		var role, responder string
		if err := rows.Scan(&t.ID, &t.ConversationID, &role, &t.Text, &responder, &t.Failed, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Role = models.Role(role)
		t.Responder = models.ResponderID(responder)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// RecentTurns returns the last n turns of a conversation in chronological order.
func (s *SQLiteStorage) RecentTurns(ctx context.Context, conversationID string, n int) ([]models.Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`,
		conversationID, n)
	if err != nil {
		return nil, err
	}
	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ListTurns returns every turn of a conversation in chronological order.
func (s *SQLiteStorage) ListTurns(ctx context.Context, conversationID string) ([]models.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		return nil, err
	}
	return collectTurns(rows)
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// encodeEmbedding packs a vector as little-endian float32s.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

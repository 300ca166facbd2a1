package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/shiryo/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testDoc(id string) *models.Document {
	return &models.Document{
		ID:           id,
		Title:        id + ".pdf",
		Folder:       "Manuals",
		FolderPath:   "/Manuals",
		ContentType:  models.ContentPDF,
		Content:      "alpha beta gamma",
		TokenCount:   3,
		ModifiedTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		LastSynced:   time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC),
	}
}

func testChunks(docID string, n int) []*models.Chunk {
	chunks := make([]*models.Chunk, n)
	for i := range chunks {
		chunks[i] = &models.Chunk{
			DocumentID: docID,
			Index:      i,
			Text:       "chunk text",
			TokenCount: 2,
			Embedding:  []float32{float32(i), 0.5, -1},
		}
	}
	return chunks
}

func TestSQLiteStorage_ReplaceDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := testDoc("doc1")
	if err := store.ReplaceDocument(ctx, doc, testChunks("doc1", 3)); err != nil {
		t.Fatal(err)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	got, err := store.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "doc1.pdf" || got.Content != "alpha beta gamma" || got.TokenCount != 3 {
		t.Errorf("got %+v", got)
	}
	if !got.LastSynced.Equal(doc.LastSynced) {
		t.Errorf("LastSynced = %v, want %v", got.LastSynced, doc.LastSynced)
	}
	if got.ContentType != models.ContentPDF {
		t.Errorf("ContentType = %q", got.ContentType)
	}

	chunks, err := store.GetChunksByDocumentID(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if len(c.Embedding) != 3 || c.Embedding[0] != float32(i) || c.Embedding[2] != -1 {
			t.Errorf("chunk %d embedding = %v", i, c.Embedding)
		}
	}

	// Replacing with fewer chunks drops the old ones entirely.
	doc.Content = "alpha"
	doc.TokenCount = 1
	if err := store.ReplaceDocument(ctx, doc, testChunks("doc1", 1)); err != nil {
		t.Fatal(err)
	}
	chunks, _ = store.GetChunksByDocumentID(ctx, "doc1")
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk after replace, got %d", len(chunks))
	}
	n, _ := store.CountDocuments(ctx)
	if n != 1 {
		t.Errorf("expected 1 document, got %d", n)
	}
}

func TestSQLiteStorage_ReplaceDocument_rejectsForeignChunk(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.ReplaceDocument(ctx, testDoc("doc1"), testChunks("other", 1)); err == nil {
		t.Fatal("expected error for chunk of another document")
	}
	if _, err := store.GetDocument(ctx, "doc1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("failed replace must not leave a document behind, got %v", err)
	}
}

func TestSQLiteStorage_DeleteDocumentRemovesChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.ReplaceDocument(ctx, testDoc("doc1"), testChunks("doc1", 2)); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteDocument(ctx, "doc1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetDocument(ctx, "doc1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	n, _ := store.CountChunks(ctx)
	if n != 0 {
		t.Errorf("expected 0 chunks, got %d", n)
	}
}

func TestSQLiteStorage_RecordDocumentError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// New document: row created without content or last_synced.
	fresh := testDoc("new")
	if err := store.RecordDocumentError(ctx, fresh, "permission denied"); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetDocument(ctx, "new")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastSyncError != "permission denied" || got.Content != "" || !got.LastSynced.IsZero() {
		t.Errorf("got %+v", got)
	}

	// Existing document: content and chunks survive.
	doc := testDoc("doc1")
	if err := store.ReplaceDocument(ctx, doc, testChunks("doc1", 2)); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordDocumentError(ctx, doc, "corrupt"); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetDocument(ctx, "doc1")
	if got.LastSyncError != "corrupt" || got.Content != "alpha beta gamma" || got.LastSynced.IsZero() {
		t.Errorf("got %+v", got)
	}
	chunks, _ := store.GetChunksByDocumentID(ctx, "doc1")
	if len(chunks) != 2 {
		t.Errorf("chunks should survive a failed sync, got %d", len(chunks))
	}

	// A later success clears the error.
	doc.LastSyncError = ""
	if err := store.ReplaceDocument(ctx, doc, testChunks("doc1", 2)); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetDocument(ctx, "doc1")
	if got.LastSyncError != "" {
		t.Errorf("error should be cleared, got %q", got.LastSyncError)
	}
}

func TestSQLiteStorage_ListDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := testDoc("a")
	a.FolderPath = "/B"
	b := testDoc("b")
	b.FolderPath = "/A"
	b.IsContextFile = true
	for _, d := range []*models.Document{a, b} {
		if err := store.ReplaceDocument(ctx, d, nil); err != nil {
			t.Fatal(err)
		}
	}
	list, err := store.ListDocuments(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "b" {
		t.Fatalf("unexpected order: %+v", list)
	}
	if list[0].Content != "" {
		t.Error("ListDocuments should not load content")
	}

	ctxDocs, err := store.ListContextDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ctxDocs) != 1 || ctxDocs[0].ID != "b" || ctxDocs[0].Content == "" {
		t.Errorf("context docs: %+v", ctxDocs)
	}

	ids, err := store.ListDocumentIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("ids: %v", ids)
	}
}

func TestSQLiteStorage_GetSearchHits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.ReplaceDocument(ctx, testDoc("doc1"), testChunks("doc1", 2)); err != nil {
		t.Fatal(err)
	}
	hits, err := store.GetSearchHits(ctx, []ChunkRef{
		{DocumentID: "doc1", Index: 1},
		{DocumentID: "gone", Index: 0},
		{DocumentID: "doc1", Index: 7},
		{DocumentID: "doc1", Index: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Chunk.Index != 1 || hits[1].Chunk.Index != 0 {
		t.Errorf("order not preserved: %d, %d", hits[0].Chunk.Index, hits[1].Chunk.Index)
	}
	if hits[0].Document.Title != "doc1.pdf" || hits[0].Document.Folder != "Manuals" {
		t.Errorf("document not joined: %+v", hits[0].Document)
	}
}

func TestSQLiteStorage_ForEachEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_ = store.ReplaceDocument(ctx, testDoc("doc1"), testChunks("doc1", 2))
	_ = store.ReplaceDocument(ctx, testDoc("doc2"), testChunks("doc2", 1))
	count := 0
	err := store.ForEachEmbedding(ctx, func(docID string, index int, vec []float32) error {
		count++
		if len(vec) != 3 {
			t.Errorf("%s#%d: dims %d", docID, index, len(vec))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("expected 3 embeddings, got %d", count)
	}
}

func TestSQLiteStorage_SyncRunExclusivity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &models.SyncRun{ID: "run1", Mode: models.SyncFull, Trigger: "manual"}
	if err := store.BeginSyncRun(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &models.SyncRun{ID: "run2", Mode: models.SyncIncremental, Trigger: "schedule"}
	if err := store.BeginSyncRun(ctx, second); !errors.Is(err, ErrSyncRunning) {
		t.Fatalf("expected ErrSyncRunning, got %v", err)
	}

	active, err := store.ActiveSyncRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.ID != "run1" {
		t.Fatalf("active run = %+v", active)
	}

	first.Status = models.SyncPartial
	first.Counts = models.SyncCounts{Processed: 3, Updated: 1, Failed: 1, Skipped: 1}
	first.ErrorSummary = "b.pdf: corrupt"
	if err := store.FinishSyncRun(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := store.FinishSyncRun(ctx, first); !errors.Is(err, ErrRunFinalized) {
		t.Errorf("finalized runs are immutable, got %v", err)
	}

	got, err := store.GetSyncRun(ctx, "run1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SyncPartial || got.Counts != first.Counts || got.FinishedAt == nil {
		t.Errorf("got %+v", got)
	}

	if err := store.BeginSyncRun(ctx, second); err != nil {
		t.Fatalf("second run should start after the first finished: %v", err)
	}
	runs, err := store.ListSyncRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestSQLiteStorage_BeginSyncRunConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run := &models.SyncRun{ID: string(rune('a' + i)), Mode: models.SyncFull, Trigger: "manual"}
			if err := store.BeginSyncRun(ctx, run); err == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if started != 1 {
		t.Errorf("expected exactly one run to start, got %d", started)
	}
}

func TestSQLiteStorage_FailInterruptedRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_ = store.BeginSyncRun(ctx, &models.SyncRun{ID: "stale", Mode: models.SyncFull, Trigger: "manual"})
	n, err := store.FailInterruptedRuns(ctx, "interrupted by restart")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 run failed, got %d", n)
	}
	run, _ := store.GetSyncRun(ctx, "stale")
	if run.Status != models.SyncFailed || run.ErrorSummary != "interrupted by restart" {
		t.Errorf("got %+v", run)
	}
}

func TestSQLiteStorage_SyncFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_ = store.BeginSyncRun(ctx, &models.SyncRun{ID: "run1", Mode: models.SyncFull, Trigger: "manual"})
	for _, r := range []*models.SyncFileResult{
		{RunID: "run1", FileID: "a", Name: "a.pdf", Outcome: models.OutcomeUpdated},
		{RunID: "run1", FileID: "b", Name: "b.pdf", Outcome: models.OutcomeFailed, Reason: "corrupt"},
	} {
		if err := store.RecordSyncFile(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	files, err := store.ListSyncFiles(ctx, "run1")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[1].Outcome != models.OutcomeFailed || files[1].Reason != "corrupt" {
		t.Errorf("got %+v", files)
	}
}

func TestSQLiteStorage_Conversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, created, err := store.EnsureConversation(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !created || conv.ID != "s1" {
		t.Errorf("first ensure: created=%v conv=%+v", created, conv)
	}
	if _, created, _ = store.EnsureConversation(ctx, "s1"); created {
		t.Error("second ensure should not create")
	}

	same := time.Now()
	texts := []string{"What's my battery level?", "65%", "Is that good?"}
	roles := []models.Role{models.RoleUser, models.RoleAssistant, models.RoleUser}
	for i, text := range texts {
		turn := &models.Turn{ConversationID: "s1", Role: roles[i], Text: text, CreatedAt: same}
		if err := store.AppendTurn(ctx, turn); err != nil {
			t.Fatal(err)
		}
		if turn.ID == 0 {
			t.Error("turn ID should be set")
		}
	}

	all, err := store.ListTurns(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if !all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Errorf("turn %d not strictly after turn %d", i, i-1)
		}
	}

	recent, err := store.RecentTurns(ctx, "s1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Text != "65%" || recent[1].Text != "Is that good?" {
		t.Errorf("recent turns: %+v", recent)
	}
}

func TestSQLiteStorage_TurnsAreAppendOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, _, _ = store.EnsureConversation(ctx, "s1")
	turn := &models.Turn{ConversationID: "s1", Role: models.RoleUser, Text: "hi"}
	if err := store.AppendTurn(ctx, turn); err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.ExecContext(ctx, `UPDATE turns SET text = 'edited'`); err == nil {
		t.Error("update should be rejected")
	}
	if _, err := store.db.ExecContext(ctx, `DELETE FROM turns`); err == nil {
		t.Error("delete should be rejected")
	}
}

func TestSQLiteStorage_GetConversationMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetConversation(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEncodeDecodeEmbedding(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, 3e-7}
	got := decodeEmbedding(encodeEmbedding(vec))
	if len(got) != len(vec) {
		t.Fatalf("len %d", len(got))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("index %d: got %v want %v", i, got[i], vec[i])
		}
	}
}

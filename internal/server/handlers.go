package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/shiryo/internal/dispatch"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/storage"
	"github.com/hyperjump/shiryo/internal/syncer"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	defaultRunLimit = 20
)

type syncRequest struct {
	Mode models.SyncMode `json:"mode"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = models.SyncIncremental
	}
	if !req.Mode.Valid() {
		s.respondError(w, http.StatusBadRequest, `mode must be "full" or "incremental"`)
		return
	}

	stream := newNDJSONStream(w)
	run, err := s.deps.Orchestrator.Run(r.Context(), syncer.RunOptions{
		Mode:    req.Mode,
		Trigger: syncer.TriggerAPI,
		Progress: func(ev syncer.ProgressEvent) {
			stream.send(ev)
		},
	})
	if errors.Is(err, syncer.ErrAlreadyRunning) {
		s.respondError(w, http.StatusConflict, "a sync is already running")
		return
	}
	if run == nil {
		s.logger.Error("sync failed to start", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "sync could not be started")
		return
	}
	if err != nil {
		s.logger.Warn("sync failed", zap.String("run", run.ID), zap.Error(err))
	}
	stream.send(run.Summary())
}

// ndjsonStream writes one JSON value per line, flushing after each. Write errors
// are ignored so a disconnected client does not affect the run.
type ndjsonStream struct {
	w       http.ResponseWriter
	enc     *json.Encoder
	flusher http.Flusher
	started bool
}

func newNDJSONStream(w http.ResponseWriter) *ndjsonStream {
	f, _ := w.(http.Flusher)
	return &ndjsonStream{w: w, enc: json.NewEncoder(w), flusher: f}
}

func (n *ndjsonStream) send(v any) {
	if !n.started {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.Header().Set("Cache-Control", "no-cache")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	_ = n.enc.Encode(v)
	if n.flusher != nil {
		n.flusher.Flush()
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("limit", req.Limit))
	resp, err := s.deps.Search.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type askRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	answer, err := s.deps.Assistant.Ask(r.Context(), req.Message, req.SessionID)
	if errors.Is(err, dispatch.ErrEmptyMessage) {
		s.respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	if err != nil {
		s.logger.Error("ask failed", zap.String("session", req.SessionID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "the message could not be answered")
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

// documentSummary is the /documents listing shape.
type documentSummary struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Folder        string     `json:"folder"`
	IsContextFile bool       `json:"is_context_file"`
	TokenCount    int        `json:"token_count"`
	LastSynced    *time.Time `json:"last_synced"`
	LastSyncError string     `json:"last_sync_error,omitempty"`
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := min(queryInt(r, "limit", defaultPageSize), maxPageSize)
	docs, err := s.deps.Storage.ListDocuments(r.Context(), max(offset, 0), limit)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "documents could not be listed")
		return
	}
	out := make([]documentSummary, 0, len(docs))
	for _, d := range docs {
		sum := documentSummary{
			ID:            d.ID,
			Title:         d.Title,
			Folder:        d.Folder,
			IsContextFile: d.IsContextFile,
			TokenCount:    d.TokenCount,
			LastSyncError: d.LastSyncError,
		}
		if !d.LastSynced.IsZero() {
			t := d.LastSynced
			sum.LastSynced = &t
		}
		out = append(out, sum)
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.deps.Storage.GetDocument(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.logger.Error("get document failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "document could not be loaded")
		return
	}
	chunks, err := s.deps.Storage.GetChunksByDocumentID(r.Context(), id)
	if err != nil {
		s.logger.Error("get chunks failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "document could not be loaded")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"document": doc, "chunks": chunks})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"orchestrator": s.deps.Orchestrator.Status()}
	runs, err := s.deps.Storage.ListSyncRuns(r.Context(), 1)
	if err != nil {
		s.logger.Error("list sync runs failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "sync status could not be loaded")
		return
	}
	if len(runs) > 0 {
		resp["last_run"] = runs[0]
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := min(queryInt(r, "limit", defaultRunLimit), maxPageSize)
	runs, err := s.deps.Storage.ListSyncRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list sync runs failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "sync runs could not be listed")
		return
	}
	if runs == nil {
		runs = []*models.SyncRun{}
	}
	s.respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.deps.Storage.GetSyncRun(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "sync run not found")
		return
	}
	if err != nil {
		s.logger.Error("get sync run failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "sync run could not be loaded")
		return
	}
	files, err := s.deps.Storage.ListSyncFiles(r.Context(), id)
	if err != nil {
		s.logger.Error("list sync files failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "sync run could not be loaded")
		return
	}
	if files == nil {
		files = []*models.SyncFileResult{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"run": run, "files": files})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := s.deps.Storage.GetConversation(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("get conversation failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "conversation could not be loaded")
		return
	}
	turns, err := s.deps.Storage.ListTurns(r.Context(), id)
	if err != nil {
		s.logger.Error("list turns failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "conversation could not be loaded")
		return
	}
	if turns == nil {
		turns = []models.Turn{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"conversation": conv, "turns": turns})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docs, err := s.deps.Storage.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("health: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	chunks, err := s.deps.Storage.CountChunks(ctx)
	if err != nil {
		s.logger.Error("health: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	resp := map[string]any{
		"status":    "ok",
		"documents": docs,
		"chunks":    chunks,
		"vectors":   s.deps.Search.IndexSize(),
		"sync":      s.deps.Orchestrator.State(),
	}
	if s.databasePath != "" {
		if usage, err := storage.MeasureDisk(s.databasePath); err == nil {
			resp["database_bytes"] = usage.Total()
			resp["database_files"] = usage
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

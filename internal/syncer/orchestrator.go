// Package syncer runs sync passes over the document source: it walks the tree,
// extracts and indexes changed files with bounded concurrency, removes documents
// that disappeared from the source, and records every run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/shiryo/internal/extract"
	"github.com/hyperjump/shiryo/internal/indexer"
	"github.com/hyperjump/shiryo/internal/metrics"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/source"
	"github.com/hyperjump/shiryo/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRunning is returned by Run while another sync run is active.
var ErrAlreadyRunning = errors.New("sync already running")

const (
	defaultConcurrency  = 5
	defaultFetchTimeout = 60 * time.Second
	maxSummaryErrors    = 5
)

// Run triggers.
const (
	TriggerAPI      = "api"
	TriggerCLI      = "cli"
	TriggerSchedule = "schedule"
	TriggerWatch    = "watch"
)

// State is the orchestrator's position in a run.
type State string

const (
	StateIdle       State = "idle"
	StateListing    State = "listing"
	StateProcessing State = "processing"
	StateFinalizing State = "finalizing"
	StateFailed     State = "failed"
)

// Status is a snapshot of the orchestrator.
type Status struct {
	State       State  `json:"state"`
	RunID       string `json:"run_id,omitempty"`
	CurrentFile string `json:"current_file,omitempty"`
	Processed   int    `json:"processed"`
	Total       int    `json:"total"`
}

// ProgressEvent is emitted while a run advances.
type ProgressEvent struct {
	Status      State              `json:"status"`
	CurrentFile string             `json:"current_file,omitempty"`
	Outcome     models.FileOutcome `json:"outcome,omitempty"`
	Processed   int                `json:"processed"`
	Total       int                `json:"total"`
}

// ProgressFunc receives progress events. Calls are serialized.
type ProgressFunc func(ProgressEvent)

// RunOptions configures a single run.
type RunOptions struct {
	Mode     models.SyncMode
	Trigger  string
	Progress ProgressFunc
}

// Config holds orchestrator settings.
type Config struct {
	Concurrency  int
	FetchTimeout time.Duration
	ContextRule  source.ContextRule
}

// Orchestrator drives sync runs. Only one run is active at a time, enforced by storage.
type Orchestrator struct {
	storage   storage.Storage
	source    source.Source
	walker    *source.Walker
	extractor *extract.Extractor
	indexer   *indexer.Indexer
	config    Config
	logger    *zap.Logger

	mu     sync.Mutex
	status Status
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store storage.Storage, src source.Source, walker *source.Walker, extractor *extract.Extractor, idx *indexer.Indexer, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	o := &Orchestrator{
		storage:   store,
		source:    src,
		walker:    walker,
		extractor: extractor,
		indexer:   idx,
		config:    cfg,
		logger:    zap.NewNop(),
		status:    Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Status returns a snapshot of the current state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return o.Status().State
}

// Recover marks runs left running by a previous process as failed.
func (o *Orchestrator) Recover(ctx context.Context) error {
	n, err := o.storage.FailInterruptedRuns(ctx, "interrupted: process restarted")
	if err != nil {
		return fmt.Errorf("recover sync runs: %w", err)
	}
	if n > 0 {
		o.logger.Warn("marked interrupted sync runs as failed", zap.Int64("runs", n))
	}
	return nil
}

// Run performs one sync pass and returns the finalized run. Cancellation of ctx
// does not stop a run once it has started. A run that fails because the source
// cannot be listed is returned together with the error.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*models.SyncRun, error) {
	if opts.Mode == "" {
		opts.Mode = models.SyncIncremental
	}
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("invalid sync mode %q", opts.Mode)
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerAPI
	}
	ctx = context.WithoutCancel(ctx)

	run := &models.SyncRun{
		ID:      uuid.NewString(),
		Mode:    opts.Mode,
		Trigger: opts.Trigger,
	}
	if err := o.storage.BeginSyncRun(ctx, run); err != nil {
		if errors.Is(err, storage.ErrSyncRunning) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("begin sync run: %w", err)
	}

	p := &pass{
		o:        o,
		run:      run,
		progress: opts.Progress,
		seen:     make(map[string]bool),
	}
	return p.execute(ctx)
}

// pass holds the mutable state of one run.
type pass struct {
	o        *Orchestrator
	run      *models.SyncRun
	progress ProgressFunc

	mu       sync.Mutex
	total    int
	seen     map[string]bool
	failures []string
}

func (p *pass) execute(ctx context.Context) (*models.SyncRun, error) {
	o := p.o
	log := o.logger.With(zap.String("run", p.run.ID), zap.String("mode", string(p.run.Mode)))
	log.Info("sync started", zap.String("trigger", p.run.Trigger))

	p.setState(StateListing, "")
	traversal := o.walker.Walk()
	records, err := source.Collect(ctx, traversal)
	if err != nil {
		log.Error("sync failed: source unavailable", zap.Error(err))
		p.run.Status = models.SyncFailed
		p.run.ErrorSummary = err.Error()
		p.finish(ctx, log)
		return p.run, err
	}
	p.total = len(records)
	for _, rec := range records {
		p.seen[rec.ID] = true
	}

	p.setState(StateProcessing, "")
	g := new(errgroup.Group)
	g.SetLimit(o.config.Concurrency)
	for _, rec := range records {
		g.Go(func() error {
			outcome, reason := p.processFile(ctx, rec)
			p.record(ctx, rec, outcome, reason)
			return nil
		})
	}
	_ = g.Wait()

	p.setState(StateFinalizing, "")
	folders := traversal.FailedFolders()
	if len(folders) == 0 {
		p.removeMissing(ctx, log)
	} else {
		for _, f := range folders {
			p.failures = append(p.failures, fmt.Sprintf("folder %s: %v", f.Path, f.Err))
		}
		log.Warn("skipping removal pass: folders failed to list", zap.Int("folders", len(folders)))
	}

	p.run.Status = finalStatus(p.run.Counts, len(folders))
	p.run.ErrorSummary = summarize(p.failures)
	p.finish(ctx, log)
	return p.run, nil
}

// processFile runs the per-file algorithm and reports the outcome with a reason
// for anything other than an update.
func (p *pass) processFile(ctx context.Context, rec models.FileRecord) (models.FileOutcome, string) {
	o := p.o
	p.setCurrent(rec.Name)
	if !o.extractor.Supports(rec.ContentType) {
		return models.OutcomeSkipped, "unsupported content type"
	}

	existing, err := o.storage.GetDocument(ctx, rec.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return models.OutcomeFailed, fmt.Sprintf("load document: %v", err)
	}
	if p.run.Mode == models.SyncIncremental && existing != nil && existing.LastSyncError == "" &&
		!existing.LastSynced.IsZero() && !rec.ModifiedTime.After(existing.LastSynced) {
		return models.OutcomeSkipped, "unchanged"
	}

	doc := &models.Document{
		ID:            rec.ID,
		Title:         rec.Name,
		Folder:        rec.ParentFolder,
		FolderPath:    rec.FolderPath(),
		ContentType:   rec.ContentType,
		IsContextFile: o.config.ContextRule.Matches(rec),
		ModifiedTime:  rec.ModifiedTime,
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.config.FetchTimeout)
	content, err := o.source.FetchContent(fetchCtx, rec)
	cancel()
	if err != nil {
		return p.fail(ctx, doc, fmt.Errorf("fetch: %w", err))
	}

	text, err := o.extractor.Extract(ctx, rec, content)
	if errors.Is(err, extract.ErrUnsupported) {
		return models.OutcomeSkipped, "unsupported content type"
	}
	if err != nil {
		return p.fail(ctx, doc, fmt.Errorf("extract: %w", err))
	}

	doc.Content = text
	chunks, err := o.indexer.IndexDocument(ctx, doc)
	if err != nil {
		return p.fail(ctx, doc, fmt.Errorf("index: %w", err))
	}
	if chunks == 0 {
		return models.OutcomeSkipped, "empty content"
	}
	return models.OutcomeUpdated, ""
}

func (p *pass) fail(ctx context.Context, doc *models.Document, err error) (models.FileOutcome, string) {
	if rerr := p.o.storage.RecordDocumentError(ctx, doc, err.Error()); rerr != nil {
		p.o.logger.Error("record document error", zap.String("file", doc.Title), zap.Error(rerr))
	}
	return models.OutcomeFailed, err.Error()
}

// record updates the counters, persists the per-file result, and emits progress.
func (p *pass) record(ctx context.Context, rec models.FileRecord, outcome models.FileOutcome, reason string) {
	o := p.o
	metrics.SyncFiles.WithLabelValues(string(outcome)).Inc()
	if err := o.storage.RecordSyncFile(ctx, &models.SyncFileResult{
		RunID:   p.run.ID,
		FileID:  rec.ID,
		Name:    rec.Name,
		Outcome: outcome,
		Reason:  reason,
	}); err != nil {
		o.logger.Error("record sync file", zap.String("file", rec.Name), zap.Error(err))
	}

	switch outcome {
	case models.OutcomeFailed:
		o.logger.Warn("file failed", zap.String("file", rec.FullPath), zap.String("reason", reason))
	case models.OutcomeSkipped:
		o.logger.Debug("file skipped", zap.String("file", rec.FullPath), zap.String("reason", reason))
	default:
		o.logger.Debug("file updated", zap.String("file", rec.FullPath))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c := &p.run.Counts
	c.Processed++
	switch outcome {
	case models.OutcomeUpdated:
		c.Updated++
	case models.OutcomeSkipped:
		c.Skipped++
	case models.OutcomeFailed:
		c.Failed++
		p.failures = append(p.failures, fmt.Sprintf("%s: %s", rec.Name, reason))
	}

	o.mu.Lock()
	o.status.Processed = c.Processed
	o.mu.Unlock()
	if p.progress != nil {
		p.progress(ProgressEvent{
			Status:      StateProcessing,
			CurrentFile: rec.Name,
			Outcome:     outcome,
			Processed:   c.Processed,
			Total:       p.total,
		})
	}
}

// removeMissing deletes stored documents that no longer exist in the source.
func (p *pass) removeMissing(ctx context.Context, log *zap.Logger) {
	o := p.o
	ids, err := o.storage.ListDocumentIDs(ctx)
	if err != nil {
		log.Error("list documents for removal", zap.Error(err))
		return
	}
	removed := 0
	for _, id := range ids {
		if p.seen[id] {
			continue
		}
		if err := o.indexer.DeleteDocument(ctx, id); err != nil {
			log.Error("remove document", zap.String("document", id), zap.Error(err))
			continue
		}
		removed++
		metrics.SyncFiles.WithLabelValues(string(models.OutcomeRemoved)).Inc()
		if err := o.storage.RecordSyncFile(ctx, &models.SyncFileResult{
			RunID:   p.run.ID,
			FileID:  id,
			Outcome: models.OutcomeRemoved,
		}); err != nil {
			log.Error("record sync file", zap.String("document", id), zap.Error(err))
		}
	}
	if removed > 0 {
		log.Info("removed documents missing from source", zap.Int("count", removed))
	}
}

func (p *pass) finish(ctx context.Context, log *zap.Logger) {
	o := p.o
	now := time.Now()
	p.run.FinishedAt = &now
	if err := o.storage.FinishSyncRun(ctx, p.run); err != nil {
		log.Error("finish sync run", zap.Error(err))
	}
	metrics.SyncRuns.WithLabelValues(string(p.run.Status)).Inc()
	metrics.SyncRunDuration.Observe(now.Sub(p.run.StartedAt).Seconds())

	final := StateIdle
	if p.run.Status == models.SyncFailed {
		final = StateFailed
	}
	o.mu.Lock()
	o.status = Status{State: final, RunID: p.run.ID, Processed: p.run.Counts.Processed, Total: p.total}
	o.mu.Unlock()
	if p.progress != nil {
		p.progress(ProgressEvent{Status: StateFinalizing, Processed: p.run.Counts.Processed, Total: p.total})
	}

	c := p.run.Counts
	log.Info("sync finished",
		zap.String("status", string(p.run.Status)),
		zap.Int("processed", c.Processed),
		zap.Int("updated", c.Updated),
		zap.Int("failed", c.Failed),
		zap.Int("skipped", c.Skipped),
		zap.Duration("duration", now.Sub(p.run.StartedAt)))
}

func (p *pass) setState(state State, file string) {
	p.o.mu.Lock()
	p.o.status = Status{State: state, RunID: p.run.ID, CurrentFile: file, Processed: p.run.Counts.Processed, Total: p.total}
	p.o.mu.Unlock()
	if p.progress != nil && state != StateFinalizing {
		p.mu.Lock()
		p.progress(ProgressEvent{Status: state, Total: p.total})
		p.mu.Unlock()
	}
}

func (p *pass) setCurrent(file string) {
	p.o.mu.Lock()
	p.o.status.CurrentFile = file
	p.o.mu.Unlock()
}

// finalStatus maps the counters of a listed run to its terminal status.
func finalStatus(c models.SyncCounts, failedFolders int) models.SyncStatus {
	switch {
	case c.Failed == 0 && failedFolders == 0:
		return models.SyncCompleted
	case c.Failed > 0 && c.Failed == c.Processed:
		return models.SyncFailed
	default:
		return models.SyncPartial
	}
}

func summarize(failures []string) string {
	if len(failures) == 0 {
		return ""
	}
	shown := failures
	if len(shown) > maxSummaryErrors {
		shown = shown[:maxSummaryErrors]
	}
	summary := fmt.Sprintf("%d failure(s): %s", len(failures), strings.Join(shown, "; "))
	if len(failures) > len(shown) {
		summary += fmt.Sprintf("; and %d more", len(failures)-len(shown))
	}
	return summary
}

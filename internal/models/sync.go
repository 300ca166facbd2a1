package models

import "time"

// SyncMode selects full or incremental processing.
type SyncMode string

const (
	SyncFull        SyncMode = "full"
	SyncIncremental SyncMode = "incremental"
)

// Valid reports whether m is a known mode.
func (m SyncMode) Valid() bool {
	return m == SyncFull || m == SyncIncremental
}

// SyncStatus is the lifecycle status of a SyncRun.
type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncPartial   SyncStatus = "partial"
	SyncFailed    SyncStatus = "failed"
)

// SyncCounts aggregates per-file outcomes of a run.
type SyncCounts struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// SyncRun records one pass of the orchestrator over the source.
type SyncRun struct {
	ID           string     `json:"id"`
	Mode         SyncMode   `json:"mode"`
	Trigger      string     `json:"trigger"`
	Status       SyncStatus `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Counts       SyncCounts `json:"counts"`
	ErrorSummary string     `json:"error_summary,omitempty"`
}

// FileOutcome is the result of processing one file in a run.
type FileOutcome string

const (
	OutcomeUpdated FileOutcome = "updated"
	OutcomeSkipped FileOutcome = "skipped"
	OutcomeFailed  FileOutcome = "failed"
	OutcomeRemoved FileOutcome = "removed"
)

// SyncFileResult is the per-file detail kept for a run.
type SyncFileResult struct {
	RunID    string      `json:"run_id"`
	FileID   string      `json:"file_id"`
	Name     string      `json:"name"`
	Outcome  FileOutcome `json:"outcome"`
	Reason   string      `json:"reason,omitempty"`
	Recorded time.Time   `json:"recorded_at"`
}

// SyncSummary is the outcome of a run as reported to callers.
type SyncSummary struct {
	Status       SyncStatus `json:"status"`
	RunID        string     `json:"run_id"`
	Processed    int        `json:"processed"`
	Updated      int        `json:"updated"`
	Failed       int        `json:"failed"`
	Skipped      int        `json:"skipped"`
	ErrorSummary string     `json:"error_summary,omitempty"`
}

// Summary returns the caller-facing summary of r.
func (r *SyncRun) Summary() SyncSummary {
	return SyncSummary{
		Status:       r.Status,
		RunID:        r.ID,
		Processed:    r.Counts.Processed,
		Updated:      r.Counts.Updated,
		Failed:       r.Counts.Failed,
		Skipped:      r.Counts.Skipped,
		ErrorSummary: r.ErrorSummary,
	}
}

// Package cli provides output formatting and the server client for the Shiryo CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/shiryo/internal/dispatch"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/pkg/utils"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a -format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

const excerptChars = 200

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(response.Results), response.QueryTime)
	for i, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "%d. %s", i+1, r.Source)
		if r.Folder != "" {
			fmt.Fprintf(w, " (%s)", r.Folder)
		}
		fmt.Fprintf(w, " | Similarity: %.4f | Chunk %d\n", r.Similarity, r.ChunkIndex)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(strings.Join(strings.Fields(r.Content), " "), excerptChars))
	}
	if len(response.Citations) > 0 {
		fmt.Fprintf(w, "Sources: %s\n", strings.Join(response.Citations, ", "))
	}
	return nil
}

// WriteAnswer writes an assistant answer.
func WriteAnswer(w io.Writer, ans *dispatch.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, ans)
	}
	fmt.Fprintf(w, "%s\n\n", ans.Response)
	fmt.Fprintf(w, "[%s, tier %d] session %s\n", ans.ResponderUsed, ans.Tier, ans.SessionID)
	return nil
}

// WriteDocuments writes the document list.
func WriteDocuments(w io.Writer, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents synced yet.")
		return nil
	}
	for _, d := range docs {
		marker := " "
		if d.IsContextFile {
			marker = "*"
		}
		synced := "never"
		if !d.LastSynced.IsZero() {
			synced = d.LastSynced.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s %-40s %-20s %6d tokens  synced %s\n",
			marker, utils.Truncate(d.Title, 40), utils.Truncate(d.Folder, 20), d.TokenCount, synced)
		if d.LastSyncError != "" {
			fmt.Fprintf(w, "    error: %s\n", d.LastSyncError)
		}
	}
	fmt.Fprintf(w, "\n%d documents (* = context file)\n", len(docs))
	return nil
}

// WriteRuns writes recent sync runs, newest first.
func WriteRuns(w io.Writer, runs []*models.SyncRun, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No sync runs recorded.")
		return nil
	}
	for _, r := range runs {
		duration := "running"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s  %-9s %-11s %-8s %s  processed=%d updated=%d failed=%d skipped=%d\n",
			r.StartedAt.Local().Format(time.DateTime), r.Status, r.Mode, r.Trigger, duration,
			r.Counts.Processed, r.Counts.Updated, r.Counts.Failed, r.Counts.Skipped)
		if r.ErrorSummary != "" {
			fmt.Fprintf(w, "    %s\n", r.ErrorSummary)
		}
	}
	return nil
}

// WriteProgress writes one progress line for a file event. Events without a file are ignored.
func WriteProgress(w io.Writer, file string, outcome models.FileOutcome, processed, total int) {
	if file == "" {
		return
	}
	fmt.Fprintf(w, "[%d/%d] %-8s %s\n", processed, total, outcome, file)
}

// WriteSyncSummary writes the result of a sync.
func WriteSyncSummary(w io.Writer, s models.SyncSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "\nSync %s (run %s): processed %d, updated %d, failed %d, skipped %d\n",
		s.Status, s.RunID, s.Processed, s.Updated, s.Failed, s.Skipped)
	if s.ErrorSummary != "" {
		fmt.Fprintf(w, "Errors: %s\n", s.ErrorSummary)
	}
	return nil
}

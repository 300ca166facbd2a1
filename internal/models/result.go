package models

import "time"

// SearchResult is a ranked chunk with its citation.
type SearchResult struct {
	Content      string    `json:"content"`
	Source       string    `json:"source"`
	Folder       string    `json:"folder"`
	Similarity   float64   `json:"similarity"`
	DocumentID   string    `json:"document_id"`
	ChunkIndex   int       `json:"chunk_index"`
	ModifiedTime time.Time `json:"-"`
}

// SearchResponse is the response body of a search.
type SearchResponse struct {
	Results   []SearchResult `json:"results"`
	Citations []string       `json:"citations"`
	Query     string         `json:"query"`
	QueryTime int64          `json:"query_time_ms"`
}

// Citations returns distinct sources in result order.
func Citations(results []SearchResult) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(results))
	for _, r := range results {
		if seen[r.Source] {
			continue
		}
		seen[r.Source] = true
		out = append(out, r.Source)
	}
	return out
}

package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hyperjump/shiryo/internal/dispatch"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/syncer"
)

// ErrSyncRunning is returned by Client.Sync when the server reports a run in progress.
var ErrSyncRunning = errors.New("a sync is already running")

// Client talks to a running Shiryo server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request server: %w", err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}

// Search runs a search on the server.
func (c *Client) Search(ctx context.Context, query string, limit int) (*models.SearchResponse, error) {
	var out models.SearchResponse
	err := c.getJSON(ctx, http.MethodPost, "/search", map[string]any{"query": query, "limit": limit}, &out)
	return &out, err
}

// Ask sends a message to the assistant.
func (c *Client) Ask(ctx context.Context, message, sessionID string) (*dispatch.Answer, error) {
	var out dispatch.Answer
	err := c.getJSON(ctx, http.MethodPost, "/ask", map[string]string{"message": message, "session_id": sessionID}, &out)
	return &out, err
}

// Documents lists synced documents.
func (c *Client) Documents(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	var out []*models.Document
	err := c.getJSON(ctx, http.MethodGet, fmt.Sprintf("/documents?offset=%d&limit=%d", offset, limit), nil, &out)
	return out, err
}

// Runs lists recent sync runs.
func (c *Client) Runs(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	var out []*models.SyncRun
	err := c.getJSON(ctx, http.MethodGet, fmt.Sprintf("/sync/runs?limit=%d", limit), nil, &out)
	return out, err
}

// Sync starts a run and calls progress for each streamed event until the summary arrives.
func (c *Client) Sync(ctx context.Context, mode models.SyncMode, progress syncer.ProgressFunc) (models.SyncSummary, error) {
	resp, err := c.do(ctx, http.MethodPost, "/sync", map[string]string{"mode": string(mode)})
	if err != nil {
		return models.SyncSummary{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		return models.SyncSummary{}, ErrSyncRunning
	}
	if resp.StatusCode != http.StatusOK {
		return models.SyncSummary{}, statusError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Bytes()
		// Only the summary line carries a run ID.
		var summary models.SyncSummary
		if err := json.Unmarshal(line, &summary); err == nil && summary.RunID != "" {
			return summary, nil
		}
		var ev syncer.ProgressEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return models.SyncSummary{}, fmt.Errorf("decode progress: %w", err)
		}
		if progress != nil {
			progress(ev)
		}
	}
	if err := sc.Err(); err != nil {
		return models.SyncSummary{}, fmt.Errorf("read sync stream: %w", err)
	}
	return models.SyncSummary{}, errors.New("sync stream ended without a summary")
}

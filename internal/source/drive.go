package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/shiryo/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	exportMimeText = "text/plain"
	exportMimeCSV  = "text/csv"

	driveListFields = "files(id,name,mimeType,modifiedTime,size,shortcutDetails)"
	maxRateRetries  = 3
)

// DriveConfig configures a DriveSource.
type DriveConfig struct {
	RootID string
	// AccessToken, when set, is used as a static OAuth2 bearer token.
	AccessToken string
	// CredentialsFile is a service account or authorized-user JSON file.
	CredentialsFile   string
	PageSize          int
	RequestsPerSecond float64
	// Options are appended to the client options, e.g. option.WithEndpoint in tests.
	Options []option.ClientOption
}

// DriveSource lists and fetches files from a Google Drive folder tree.
type DriveSource struct {
	svc      *drive.Service
	rootID   string
	pageSize int64
	limiter  *RateLimiter
	logger   *zap.Logger
}

// DriveOption configures a DriveSource.
type DriveOption func(*DriveSource)

// WithDriveLogger sets a logger for rate-limit and paging events.
func WithDriveLogger(l *zap.Logger) DriveOption {
	return func(d *DriveSource) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDriveSource creates a Drive client for cfg.RootID.
func NewDriveSource(ctx context.Context, cfg DriveConfig, opts ...DriveOption) (*DriveSource, error) {
	if cfg.RootID == "" {
		return nil, fmt.Errorf("drive source requires a root folder ID")
	}
	var clientOpts []option.ClientOption
	switch {
	case cfg.AccessToken != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	case cfg.CredentialsFile != "":
		clientOpts = append(clientOpts,
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(drive.DriveReadonlyScope))
	}
	clientOpts = append(clientOpts, cfg.Options...)
	svc, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 100
	}
	rps := cfg.RequestsPerSecond
	if rps == 0 {
		rps = 8
	}
	d := &DriveSource{
		svc:      svc,
		rootID:   cfg.RootID,
		pageSize: int64(pageSize),
		limiter:  NewRateLimiter(rps, 10),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Root fetches the root folder's metadata.
func (d *DriveSource) Root(ctx context.Context) (Entry, error) {
	var f *drive.File
	err := d.call(ctx, func() error {
		var err error
		f, err = d.svc.Files.Get(d.rootID).
			Fields("id", "name", "mimeType", "modifiedTime").
			SupportsAllDrives(true).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return Entry{}, fmt.Errorf("%w: root folder %s: %w", ErrSourceUnavailable, d.rootID, err)
	}
	e := toEntry(f)
	if !e.IsFolder() {
		return Entry{}, fmt.Errorf("%w: root %s is not a folder", ErrSourceUnavailable, d.rootID)
	}
	return e, nil
}

// ListChildren lists one page of non-trashed children of folderID.
func (d *DriveSource) ListChildren(ctx context.Context, folderID, pageToken string) (*Page, error) {
	var list *drive.FileList
	err := d.call(ctx, func() error {
		q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))
		call := d.svc.Files.List().
			Q(q).
			Fields("nextPageToken", driveListFields).
			PageSize(d.pageSize).
			OrderBy("folder,name").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var err error
		list, err = call.Do()
		return err
	})
	if err != nil {
		return nil, wrapDriveError("list folder "+folderID, err)
	}
	page := &Page{NextPageToken: list.NextPageToken, Entries: make([]Entry, 0, len(list.Files))}
	for _, f := range list.Files {
		page.Entries = append(page.Entries, toEntry(f))
	}
	return page, nil
}

// FetchContent exports Google Workspace files to text and downloads everything else.
func (d *DriveSource) FetchContent(ctx context.Context, rec models.FileRecord) ([]byte, error) {
	if rec.Size > MaxFileSize {
		return nil, fmt.Errorf("%s: %d bytes: %w", rec.Name, rec.Size, ErrTooLarge)
	}
	var data []byte
	err := d.call(ctx, func() error {
		var (
			resp *http.Response
			err  error
		)
		switch rec.MimeType {
		case MimeGoogleDoc, MimeGoogleSlides:
			resp, err = d.svc.Files.Export(rec.ID, exportMimeText).Context(ctx).Download()
		case MimeGoogleSheet:
			resp, err = d.svc.Files.Export(rec.ID, exportMimeCSV).Context(ctx).Download()
		default:
			resp, err = d.svc.Files.Get(rec.ID).SupportsAllDrives(true).Context(ctx).Download()
		}
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err = readLimited(resp.Body)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, fmt.Errorf("%s: %w", rec.Name, err)
		}
		return nil, wrapDriveError("fetch "+rec.Name, err)
	}
	return data, nil
}

// call runs fn under the rate limiter, pausing and retrying on rate-limit responses.
func (d *DriveSource) call(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRateRetries; attempt++ {
		if err = d.limiter.Wait(ctx); err != nil {
			return err
		}
		err = fn()
		if err == nil || !IsRateLimited(err) {
			return err
		}
		retryAfter := retryAfterFrom(err)
		d.logger.Warn("drive rate limited", zap.Int("attempt", attempt+1), zap.Duration("retry_after", retryAfter))
		d.limiter.RecordRateLimitError(retryAfter)
	}
	return err
}

func retryAfterFrom(err error) time.Duration {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Header != nil {
		if secs := gerr.Header.Get("Retry-After"); secs != "" {
			if d, perr := time.ParseDuration(secs + "s"); perr == nil {
				return d
			}
		}
	}
	return 0
}

func toEntry(f *drive.File) Entry {
	e := Entry{
		ID:       f.Id,
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
	}
	if f.MimeType == MimeShortcut && f.ShortcutDetails != nil {
		e.ID = f.ShortcutDetails.TargetId
		e.MimeType = f.ShortcutDetails.TargetMimeType
		// The shortcut's size is not the target's; fetch decides by what it reads.
		e.Size = 0
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		e.ModifiedTime = t.UTC()
	}
	e.ContentType = ContentTypeFor(e.MimeType, e.Name)
	return e
}

// escapeQuery escapes a value for use inside single quotes in a Drive query.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if len(data) > MaxFileSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

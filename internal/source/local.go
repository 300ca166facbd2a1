package source

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/shiryo/internal/models"
)

// LocalRootID is the ID of the root folder of a LocalSource.
const LocalRootID = "."

// LocalSource serves a directory tree through the Source contract. IDs are
// slash-separated paths relative to the root; symlinked directories get the ID
// of their target so the walker sees link cycles as revisits.
type LocalSource struct {
	root     string
	pageSize int
}

// NewLocalSource creates a source rooted at dir. Listings are paged by pageSize entries.
func NewLocalSource(dir string, pageSize int) (*LocalSource, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &LocalSource{root: abs, pageSize: pageSize}, nil
}

// Dir returns the absolute root directory.
func (l *LocalSource) Dir() string {
	return l.root
}

// Root stats the root directory.
func (l *LocalSource) Root(ctx context.Context) (Entry, error) {
	info, err := os.Stat(l.root)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if !info.IsDir() {
		return Entry{}, fmt.Errorf("%w: %s is not a directory", ErrSourceUnavailable, l.root)
	}
	return Entry{
		ID:           LocalRootID,
		Name:         filepath.Base(l.root),
		MimeType:     MimeFolder,
		ContentType:  models.ContentFolder,
		ModifiedTime: info.ModTime().UTC(),
	}, nil
}

// ListChildren lists folderID sorted by name. The page token is the offset of the next entry.
func (l *LocalSource) ListChildren(ctx context.Context, folderID, pageToken string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := l.abs(folderID)
	if err != nil {
		return nil, err
	}
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, mapOSError("list folder "+folderID, err)
	}
	sort.Slice(des, func(i, j int) bool { return des[i].Name() < des[j].Name() })

	offset := 0
	if pageToken != "" {
		if offset, err = strconv.Atoi(pageToken); err != nil || offset < 0 {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
	}
	page := &Page{}
	end := min(offset+l.pageSize, len(des))
	for i := offset; i < end; i++ {
		e, ok := l.entry(folderID, des[i])
		if ok {
			page.Entries = append(page.Entries, e)
		}
	}
	if end < len(des) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (l *LocalSource) entry(folderID string, de os.DirEntry) (Entry, bool) {
	id := path.Join(folderID, de.Name())
	info, err := os.Stat(filepath.Join(l.root, filepath.FromSlash(id)))
	if err != nil {
		return Entry{}, false
	}
	e := Entry{ID: id, Name: de.Name(), ModifiedTime: info.ModTime().UTC()}
	if info.IsDir() {
		if de.Type()&os.ModeSymlink != 0 {
			target, ok := l.resolve(id)
			if !ok {
				return Entry{}, false
			}
			e.ID = target
		}
		e.MimeType = MimeFolder
		e.ContentType = models.ContentFolder
		return e, true
	}
	if !info.Mode().IsRegular() {
		return Entry{}, false
	}
	e.Size = info.Size()
	e.MimeType = mime.TypeByExtension(path.Ext(de.Name()))
	e.ContentType = ContentTypeFor(e.MimeType, e.Name)
	return e, true
}

// resolve maps a symlinked directory to its ID relative to the root. Links leaving
// the root are dropped.
func (l *LocalSource) resolve(id string) (string, bool) {
	target, err := filepath.EvalSymlinks(filepath.Join(l.root, filepath.FromSlash(id)))
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(l.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// FetchContent reads the file's bytes.
func (l *LocalSource) FetchContent(ctx context.Context, rec models.FileRecord) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.abs(rec.ID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, mapOSError("fetch "+rec.Name, err)
	}
	defer f.Close()
	data, err := readLimited(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rec.Name, err)
	}
	return data, nil
}

// abs resolves an ID to a path inside the root. Cleaning against "/" keeps ".."
// segments from leaving the root.
func (l *LocalSource) abs(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty id", ErrNotFound)
	}
	return filepath.Join(l.root, filepath.FromSlash(path.Clean("/"+id))), nil
}

func mapOSError(op string, err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	case os.IsPermission(err):
		return fmt.Errorf("%s: %w: %w", op, ErrPermissionDenied, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

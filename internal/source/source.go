// Package source lists and fetches documents from a document tree: a Google Drive
// folder or a local directory. Walker turns a Source into a flat sequence of file records.
package source

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/hyperjump/shiryo/internal/models"
)

// MaxFileSize caps how many bytes FetchContent reads for one file.
const MaxFileSize = 50 << 20

// Entry is one child of a folder as listed by a Source. Shortcuts are already
// resolved: ID and MimeType describe the target.
type Entry struct {
	ID           string
	Name         string
	MimeType     string
	ContentType  models.ContentType
	ModifiedTime time.Time
	Size         int64
}

// IsFolder reports whether the entry is a folder.
func (e Entry) IsFolder() bool {
	return e.ContentType == models.ContentFolder
}

// Page is one page of a folder listing.
type Page struct {
	Entries       []Entry
	NextPageToken string
}

// Source is the connector contract for a document tree.
type Source interface {
	// Root returns the root folder. Any error means the source is unreachable.
	Root(ctx context.Context) (Entry, error)
	// ListChildren returns one page of folderID's children. An empty pageToken
	// requests the first page; an empty NextPageToken marks the last one.
	ListChildren(ctx context.Context, folderID, pageToken string) (*Page, error)
	// FetchContent returns the raw bytes of a file, exported to text for Google formats.
	FetchContent(ctx context.Context, rec models.FileRecord) ([]byte, error)
}

// Google Workspace MIME types.
const (
	MimeGoogleDoc    = "application/vnd.google-apps.document"
	MimeGoogleSheet  = "application/vnd.google-apps.spreadsheet"
	MimeGoogleSlides = "application/vnd.google-apps.presentation"
	MimeFolder       = "application/vnd.google-apps.folder"
	MimeShortcut     = "application/vnd.google-apps.shortcut"
)

const (
	mimePDF  = "application/pdf"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeCSV  = "text/csv"
)

// ContentTypeFor maps a MIME type, falling back to the file extension, to a content-type tag.
func ContentTypeFor(mimeType, name string) models.ContentType {
	switch mimeType {
	case MimeFolder:
		return models.ContentFolder
	case MimeGoogleDoc:
		return models.ContentGoogleDoc
	case MimeGoogleSheet:
		return models.ContentGoogleSheet
	case MimeGoogleSlides:
		return models.ContentGoogleSlides
	case mimePDF:
		return models.ContentPDF
	case mimeXLSX:
		return models.ContentXLSX
	case mimeDOCX:
		return models.ContentDOCX
	case mimeCSV:
		return models.ContentCSV
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return models.ContentPDF
	case ".xlsx":
		return models.ContentXLSX
	case ".docx":
		return models.ContentDOCX
	case ".csv":
		return models.ContentCSV
	case ".txt", ".md", ".markdown", ".text":
		return models.ContentText
	}
	if strings.HasPrefix(mimeType, "text/") {
		return models.ContentText
	}
	return models.ContentUnsupported
}

// ContextRule decides which documents are context files: anything under a folder with
// the context folder's name (at any depth), or whose title carries one of the markers.
// Matching is case-insensitive.
type ContextRule struct {
	Folder  string
	Markers []string
}

// Matches reports whether rec is a context file.
func (r ContextRule) Matches(rec models.FileRecord) bool {
	if r.Folder != "" {
		dirs := strings.Split(strings.Trim(rec.FolderPath(), "/"), "/")
		if rec.ParentFolder != "" {
			dirs = append(dirs, rec.ParentFolder)
		}
		for _, d := range dirs {
			if strings.EqualFold(d, r.Folder) {
				return true
			}
		}
	}
	title := strings.ToLower(rec.Name)
	for _, m := range r.Markers {
		if m != "" && strings.Contains(title, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

package source

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/hyperjump/shiryo/internal/models"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		mime, name string
		want       models.ContentType
	}{
		{MimeGoogleDoc, "Doc", models.ContentGoogleDoc},
		{MimeGoogleSheet, "Sheet", models.ContentGoogleSheet},
		{MimeGoogleSlides, "Deck", models.ContentGoogleSlides},
		{MimeFolder, "Dir", models.ContentFolder},
		{"application/pdf", "a.bin", models.ContentPDF},
		{"", "report.PDF", models.ContentPDF},
		{"application/octet-stream", "Limits.xlsx", models.ContentXLSX},
		{"text/csv", "data", models.ContentCSV},
		{"", "notes.md", models.ContentText},
		{"text/html", "page", models.ContentText},
		{"", "Spec.docx", models.ContentDOCX},
		{"image/png", "photo.png", models.ContentUnsupported},
		{"application/vnd.ms-powerpoint", "old.ppt", models.ContentUnsupported},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContentTypeFor(tt.mime, tt.name), "%s %s", tt.mime, tt.name)
	}
}

func TestContextRule(t *testing.T) {
	rule := ContextRule{Folder: "Context", Markers: []string{"[context]", "(context)"}}
	tests := []struct {
		rec  models.FileRecord
		want bool
	}{
		{models.FileRecord{Name: "Company", FullPath: "/context/Company", ParentFolder: "context"}, true},
		{models.FileRecord{Name: "Deep", FullPath: "/CONTEXT/sub/Deep", ParentFolder: "sub"}, true},
		{models.FileRecord{Name: "Battery [Context].pdf", FullPath: "/Manuals/Battery [Context].pdf", ParentFolder: "Manuals"}, true},
		{models.FileRecord{Name: "Rules (context)", FullPath: "/Rules (context)", ParentFolder: "KB"}, true},
		{models.FileRecord{Name: "Contextual.pdf", FullPath: "/Manuals/Contextual.pdf", ParentFolder: "Manuals"}, false},
		{models.FileRecord{Name: "x", FullPath: "/contexts/x", ParentFolder: "contexts"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rule.Matches(tt.rec), tt.rec.FullPath)
	}
}

func TestWrapDriveError(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, ErrSourceUnavailable},
		{http.StatusForbidden, ErrPermissionDenied},
		{http.StatusNotFound, ErrNotFound},
	}
	for _, tt := range tests {
		err := wrapDriveError("op", &googleapi.Error{Code: tt.code})
		assert.ErrorIs(t, err, tt.want, "code %d", tt.code)
		var gerr *googleapi.Error
		assert.True(t, errors.As(err, &gerr))
	}
	assert.NoError(t, wrapDriveError("op", nil))
	plain := fmt.Errorf("network down")
	assert.ErrorIs(t, wrapDriveError("op", plain), plain)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(&googleapi.Error{Code: http.StatusTooManyRequests}))
	assert.True(t, IsRateLimited(&googleapi.Error{
		Code:   http.StatusForbidden,
		Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}},
	}))
	assert.False(t, IsRateLimited(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, IsRateLimited(errors.New("x")))
}

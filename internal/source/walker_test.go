package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperjump/shiryo/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mtime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// testTree builds:
//
//	/Handbook.gdoc
//	/Manuals/Battery.pdf
//	/Manuals/Specs/Limits.xlsx
//	/Archive/Old.pdf
//	/context/Company.gdoc
func testTree() *MemorySource {
	m := NewMemorySource("root", "KB")
	m.AddFile("root", "f-handbook", "Handbook", MimeGoogleDoc, mtime, []byte("handbook"))
	m.AddFolder("root", "d-manuals", "Manuals")
	m.AddFile("d-manuals", "f-battery", "Battery.pdf", "application/pdf", mtime, []byte("%PDF"))
	m.AddFolder("d-manuals", "d-specs", "Specs")
	m.AddFile("d-specs", "f-limits", "Limits.xlsx", "", mtime, []byte("xlsx"))
	m.AddFolder("root", "d-archive", "Archive")
	m.AddFile("d-archive", "f-old", "Old.pdf", "application/pdf", mtime, []byte("%PDF"))
	m.AddFolder("root", "d-context", "context")
	m.AddFile("d-context", "f-company", "Company", MimeGoogleDoc, mtime, []byte("company"))
	return m
}

func paths(recs []models.FileRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.FullPath
	}
	return out
}

func TestWalker_YieldsAllFiles(t *testing.T) {
	w, err := NewWalker(testTree(), nil)
	require.NoError(t, err)
	recs, err := Collect(context.Background(), w.Walk())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/Handbook",
		"/Manuals/Battery.pdf",
		"/Manuals/Specs/Limits.xlsx",
		"/Archive/Old.pdf",
		"/context/Company",
	}, paths(recs))

	battery := recs[1]
	assert.Equal(t, "f-battery", battery.ID)
	assert.Equal(t, "Manuals", battery.ParentFolder)
	assert.Equal(t, models.ContentPDF, battery.ContentType)
	assert.Equal(t, mtime, battery.ModifiedTime)
	assert.Equal(t, "KB", recs[0].ParentFolder)
	assert.Equal(t, models.ContentXLSX, recs[2].ContentType)
}

func TestWalker_IgnoredFolderIsNotListed(t *testing.T) {
	m := testTree()
	// Listing Archive would fail; ignoring it must skip the listing entirely.
	m.FailList("d-archive", errors.New("should not be listed"))
	w, err := NewWalker(m, []string{"Archive"})
	require.NoError(t, err)
	tr := w.Walk()
	recs, err := Collect(context.Background(), tr)
	require.NoError(t, err)
	assert.NotContains(t, paths(recs), "/Archive/Old.pdf")
	assert.Empty(t, tr.FailedFolders())
}

func TestWalker_IgnoreFullPathAndFiles(t *testing.T) {
	w, err := NewWalker(testTree(), []string{"/Manuals/Specs", "*.pdf"})
	require.NoError(t, err)
	recs, err := Collect(context.Background(), w.Walk())
	require.NoError(t, err)
	assert.Equal(t, []string{"/Handbook", "/context/Company"}, paths(recs))
}

func TestWalker_BadPattern(t *testing.T) {
	_, err := NewWalker(testTree(), []string{"[unclosed"})
	assert.Error(t, err)
}

func TestWalker_Pagination(t *testing.T) {
	m := NewMemorySource("root", "KB")
	for i := 0; i < 7; i++ {
		m.AddFile("root", string(rune('a'+i)), string(rune('a'+i))+".txt", "text/plain", mtime, nil)
	}
	m.SetPageSize(3)
	w, _ := NewWalker(m, nil)
	recs, err := Collect(context.Background(), w.Walk())
	require.NoError(t, err)
	assert.Len(t, recs, 7)
	assert.Equal(t, 3, m.ListCalls())
}

func TestWalker_BreaksCycles(t *testing.T) {
	m := testTree()
	// Specs contains a shortcut back to Manuals, its own ancestor.
	m.Link("d-specs", "d-manuals")
	// The handbook is also linked from Manuals.
	m.Link("d-manuals", "f-handbook")
	w, _ := NewWalker(m, nil)
	recs, err := Collect(context.Background(), w.Walk())
	require.NoError(t, err)
	assert.Len(t, recs, 5)
}

func TestWalker_FailedSubfolderIsEmpty(t *testing.T) {
	m := testTree()
	m.FailList("d-manuals", errors.New("permission denied"))
	w, _ := NewWalker(m, nil)
	tr := w.Walk()
	recs, err := Collect(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, []string{"/Handbook", "/Archive/Old.pdf", "/context/Company"}, paths(recs))
	failed := tr.FailedFolders()
	require.Len(t, failed, 1)
	assert.Equal(t, "d-manuals", failed[0].ID)
	assert.Equal(t, "/Manuals", failed[0].Path)
}

func TestWalker_RootUnavailable(t *testing.T) {
	m := testTree()
	m.FailRoot(errors.New("401"))
	w, _ := NewWalker(m, nil)
	_, err := Collect(context.Background(), w.Walk())
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	m.FailRoot(nil)
	m.FailList("root", errors.New("boom"))
	_, err = Collect(context.Background(), w.Walk())
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestWalker_LazyAndRestartable(t *testing.T) {
	m := testTree()
	w, _ := NewWalker(m, nil)
	tr := w.Walk()
	for rec, err := range tr.Files(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, "/Handbook", rec.FullPath)
		break
	}
	assert.Equal(t, 1, m.ListCalls(), "stopping early should not list subfolders")

	recs, err := Collect(context.Background(), tr)
	require.NoError(t, err)
	assert.Len(t, recs, 5, "a second pass starts over")
}

func TestWalker_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w, _ := NewWalker(testTree(), nil)
	_, err := Collect(ctx, w.Walk())
	assert.ErrorIs(t, err, context.Canceled)
}

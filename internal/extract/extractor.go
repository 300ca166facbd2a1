// Package extract converts fetched file content into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/shiryo/internal/models"
)

// ErrUnsupported is returned for content types the extractor does not handle.
// Callers count these files as skipped, not failed.
var ErrUnsupported = errors.New("extract: unsupported content type")

// Extractor extracts plain text from fetched document content.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supports reports whether Extract has a handler for ct.
func (e *Extractor) Supports(ct models.ContentType) bool {
	switch ct {
	case models.ContentGoogleDoc, models.ContentGoogleSlides, models.ContentText,
		models.ContentGoogleSheet, models.ContentCSV, models.ContentPDF,
		models.ContentXLSX, models.ContentDOCX:
		return true
	}
	return false
}

// Extract returns the text of content, dispatched on the record's content type.
// Google Docs and Slides arrive already exported as text/plain and Sheets as text/csv.
func (e *Extractor) Extract(ctx context.Context, rec models.FileRecord, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var (
		text string
		err  error
	)
	switch rec.ContentType {
	case models.ContentGoogleDoc, models.ContentGoogleSlides, models.ContentText:
		text, err = extractPlain(content)
	case models.ContentGoogleSheet, models.ContentCSV:
		text, err = extractCSV(content)
	case models.ContentPDF:
		text, err = extractPDF(ctx, content)
	case models.ContentXLSX:
		text, err = extractExcel(ctx, content)
	case models.ContentDOCX:
		text, err = extractDOCX(content)
	default:
		return "", fmt.Errorf("%s (%s): %w", rec.Name, rec.ContentType, ErrUnsupported)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", rec.Name, err)
	}
	return text, nil
}

// Package models defines the core data structures shared across the sync pipeline,
// the search service, and the query router.
package models

import (
	"fmt"
	"path"
	"time"
)

// ContentType tags how a file's bytes are turned into text.
type ContentType string

const (
	ContentGoogleDoc    ContentType = "google-doc"
	ContentGoogleSheet  ContentType = "google-sheet"
	ContentGoogleSlides ContentType = "google-slides"
	ContentPDF          ContentType = "pdf"
	ContentXLSX         ContentType = "xlsx"
	ContentCSV          ContentType = "csv"
	ContentDOCX         ContentType = "docx"
	ContentText         ContentType = "text"
	ContentFolder       ContentType = "folder"
	ContentUnsupported  ContentType = "unsupported"
)

// FileRecord is a file yielded by the source walker.
type FileRecord struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	FullPath     string      `json:"full_path"`
	ParentFolder string      `json:"parent_folder"`
	ContentType  ContentType `json:"content_type"`
	MimeType     string      `json:"mime_type,omitempty"`
	ModifiedTime time.Time   `json:"modified_time"`
	Size         int64       `json:"size,omitempty"`
}

// FolderPath returns the full path of the folder containing the file.
func (f FileRecord) FolderPath() string {
	return path.Dir(f.FullPath)
}

// Document is a synced source file and its extracted text.
type Document struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Folder        string      `json:"folder"`
	FolderPath    string      `json:"folder_path"`
	ContentType   ContentType `json:"content_type"`
	Content       string      `json:"content,omitempty"`
	TokenCount    int         `json:"token_count"`
	IsContextFile bool        `json:"is_context_file"`
	ModifiedTime  time.Time   `json:"modified_time"`
	// LastSynced is zero until the document has been processed successfully once.
	LastSynced    time.Time `json:"last_synced"`
	LastSyncError string    `json:"last_sync_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Chunk is a bounded slice of a document's text with its embedding.
type Chunk struct {
	DocumentID string    `json:"document_id"`
	Index      int       `json:"chunk_index"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Key returns the chunk's identity as a single string.
func (c *Chunk) Key() string {
	return ChunkKey(c.DocumentID, c.Index)
}

// ChunkKey formats a (document, index) pair.
func ChunkKey(docID string, index int) string {
	return fmt.Sprintf("%s#%d", docID, index)
}

package source

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hyperjump/shiryo/internal/models"
)

// MemorySource is an in-memory Source. Tests use it as a fake Drive.
type MemorySource struct {
	mu        sync.Mutex
	rootID    string
	rootName  string
	pageSize  int
	nodes     map[string]*memNode
	children  map[string][]string
	listErr   map[string]error
	fetchErr  map[string]error
	rootErr   error
	listCalls int
}

type memNode struct {
	entry   Entry
	content []byte
}

// NewMemorySource creates an empty tree whose root folder has the given ID and name.
func NewMemorySource(rootID, rootName string) *MemorySource {
	return &MemorySource{
		rootID:   rootID,
		rootName: rootName,
		pageSize: 100,
		nodes:    make(map[string]*memNode),
		children: make(map[string][]string),
		listErr:  make(map[string]error),
		fetchErr: make(map[string]error),
	}
}

// SetPageSize sets how many entries each ListChildren page holds.
func (m *MemorySource) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = n
}

// AddFolder adds a folder under parentID.
func (m *MemorySource) AddFolder(parentID, id, name string) {
	m.add(parentID, Entry{ID: id, Name: name, MimeType: MimeFolder, ContentType: models.ContentFolder}, nil)
}

// Link lists an existing node under another parent as well, like a Drive shortcut.
func (m *MemorySource) Link(parentID, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children[parentID] = append(m.children[parentID], id)
}

// AddFile adds a file under parentID. The content type is derived from mimeType and name.
func (m *MemorySource) AddFile(parentID, id, name, mimeType string, modified time.Time, content []byte) {
	m.add(parentID, Entry{
		ID:           id,
		Name:         name,
		MimeType:     mimeType,
		ContentType:  ContentTypeFor(mimeType, name),
		ModifiedTime: modified,
		Size:         int64(len(content)),
	}, content)
}

func (m *MemorySource) add(parentID string, e Entry, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[e.ID]; !ok {
		m.children[parentID] = append(m.children[parentID], e.ID)
	}
	m.nodes[e.ID] = &memNode{entry: e, content: content}
}

// Update replaces a file's content and modification time.
func (m *MemorySource) Update(id string, modified time.Time, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[id]; ok {
		n.entry.ModifiedTime = modified
		n.entry.Size = int64(len(content))
		n.content = content
	}
}

// Remove deletes a node from every folder that lists it.
func (m *MemorySource) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
	for parent, ids := range m.children {
		kept := ids[:0]
		for _, c := range ids {
			if c != id {
				kept = append(kept, c)
			}
		}
		m.children[parent] = kept
	}
}

// FailList makes listing folderID fail with err; a nil err clears it.
func (m *MemorySource) FailList(folderID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.listErr, folderID)
		return
	}
	m.listErr[folderID] = err
}

// FailFetch makes fetching id fail with err; a nil err clears it.
func (m *MemorySource) FailFetch(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fetchErr, id)
		return
	}
	m.fetchErr[id] = err
}

// FailRoot makes Root fail with err; a nil err clears it.
func (m *MemorySource) FailRoot(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rootErr = err
}

// ListCalls returns how many times ListChildren has been called.
func (m *MemorySource) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

// Root returns the root folder.
func (m *MemorySource) Root(ctx context.Context) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rootErr != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, m.rootErr)
	}
	return Entry{ID: m.rootID, Name: m.rootName, MimeType: MimeFolder, ContentType: models.ContentFolder}, nil
}

// ListChildren returns one page of folderID's children in insertion order.
func (m *MemorySource) ListChildren(ctx context.Context, folderID, pageToken string) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if err := m.listErr[folderID]; err != nil {
		return nil, err
	}
	if folderID != m.rootID {
		if n, ok := m.nodes[folderID]; !ok || !n.entry.IsFolder() {
			return nil, fmt.Errorf("list folder %s: %w", folderID, ErrNotFound)
		}
	}
	offset := 0
	if pageToken != "" {
		var err error
		if offset, err = strconv.Atoi(pageToken); err != nil {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
	}
	ids := m.children[folderID]
	end := min(offset+m.pageSize, len(ids))
	page := &Page{}
	for _, id := range ids[min(offset, end):end] {
		if n, ok := m.nodes[id]; ok {
			page.Entries = append(page.Entries, n.entry)
		}
	}
	if end < len(ids) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// FetchContent returns a copy of the file's content.
func (m *MemorySource) FetchContent(ctx context.Context, rec models.FileRecord) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fetchErr[rec.ID]; err != nil {
		return nil, err
	}
	n, ok := m.nodes[rec.ID]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", rec.Name, ErrNotFound)
	}
	return append([]byte(nil), n.content...), nil
}

// FileIDs returns the IDs of all files, sorted.
func (m *MemorySource) FileIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, n := range m.nodes {
		if !n.entry.IsFolder() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

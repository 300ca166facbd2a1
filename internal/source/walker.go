package source

import (
	"context"
	"fmt"
	"iter"
	"path"
	"sync"

	"github.com/hyperjump/shiryo/internal/models"
	"go.uber.org/zap"
)

// FailedFolder is a subfolder whose listing failed during a walk.
type FailedFolder struct {
	ID   string
	Path string
	Err  error
}

// Walker traverses a Source depth-first and yields every file below the root.
type Walker struct {
	src    Source
	ignore []string
	logger *zap.Logger
}

// WalkerOption configures a Walker.
type WalkerOption func(*Walker)

// WithWalkerLogger sets a logger for skipped and failed folders.
func WithWalkerLogger(l *zap.Logger) WalkerOption {
	return func(w *Walker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWalker creates a walker. Ignore patterns use path.Match syntax and are matched
// against both an entry's name and its full path ("/Archive/*").
func NewWalker(src Source, ignore []string, opts ...WalkerOption) (*Walker, error) {
	for _, p := range ignore {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", p, err)
		}
	}
	w := &Walker{src: src, ignore: ignore, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Traversal is one walk over the source. Files may be ranged over more than once;
// each pass lists the source again.
type Traversal struct {
	w      *Walker
	mu     sync.Mutex
	failed []FailedFolder
}

// Walk returns a traversal of the source tree.
func (w *Walker) Walk() *Traversal {
	return &Traversal{w: w}
}

// FailedFolders returns the subfolders that could not be listed during the last pass.
func (t *Traversal) FailedFolders() []FailedFolder {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]FailedFolder(nil), t.failed...)
}

func (t *Traversal) recordFailure(f FailedFolder) {
	t.mu.Lock()
	t.failed = append(t.failed, f)
	t.mu.Unlock()
}

type pendingFolder struct {
	id       string
	name     string
	fullPath string
}

// Files lazily yields file records. Pages are fetched only as the sequence is consumed.
// An error is yielded, ending the sequence, only when the root cannot be reached or ctx
// ends; a subfolder that fails to list is logged, recorded and contributes no files.
// Each folder is listed at most once per pass, which breaks shortcut and symlink cycles,
// and each file is yielded at most once.
func (t *Traversal) Files(ctx context.Context) iter.Seq2[models.FileRecord, error] {
	return func(yield func(models.FileRecord, error) bool) {
		t.mu.Lock()
		t.failed = nil
		t.mu.Unlock()

		root, err := t.w.src.Root(ctx)
		if err != nil {
			yield(models.FileRecord{}, err)
			return
		}
		visited := map[string]bool{root.ID: true}
		seenFiles := make(map[string]bool)
		stack := []pendingFolder{{id: root.ID, name: root.Name, fullPath: "/"}}

		for len(stack) > 0 {
			folder := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			isRoot := folder.id == root.ID

			var subfolders []pendingFolder
			pageToken := ""
			for {
				if err := ctx.Err(); err != nil {
					yield(models.FileRecord{}, err)
					return
				}
				page, err := t.w.src.ListChildren(ctx, folder.id, pageToken)
				if err != nil {
					if isRoot {
						yield(models.FileRecord{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err))
						return
					}
					t.w.logger.Warn("failed to list folder, treating as empty",
						zap.String("folder_id", folder.id),
						zap.String("path", folder.fullPath),
						zap.Error(err))
					t.recordFailure(FailedFolder{ID: folder.id, Path: folder.fullPath, Err: err})
					break
				}
				for _, e := range page.Entries {
					full := path.Join(folder.fullPath, e.Name)
					if t.w.ignored(e.Name, full) {
						t.w.logger.Debug("ignoring entry", zap.String("path", full))
						continue
					}
					if e.IsFolder() {
						if visited[e.ID] {
							t.w.logger.Debug("folder already visited, skipping", zap.String("path", full), zap.String("id", e.ID))
							continue
						}
						visited[e.ID] = true
						subfolders = append(subfolders, pendingFolder{id: e.ID, name: e.Name, fullPath: full})
						continue
					}
					if seenFiles[e.ID] {
						continue
					}
					seenFiles[e.ID] = true
					rec := models.FileRecord{
						ID:           e.ID,
						Name:         e.Name,
						FullPath:     full,
						ParentFolder: folder.name,
						ContentType:  e.ContentType,
						MimeType:     e.MimeType,
						ModifiedTime: e.ModifiedTime,
						Size:         e.Size,
					}
					if !yield(rec, nil) {
						return
					}
				}
				if page.NextPageToken == "" {
					break
				}
				pageToken = page.NextPageToken
			}
			// Push in reverse so folders are visited in listing order.
			for i := len(subfolders) - 1; i >= 0; i-- {
				stack = append(stack, subfolders[i])
			}
		}
	}
}

func (w *Walker) ignored(name, fullPath string) bool {
	for _, p := range w.ignore {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
		if ok, _ := path.Match(p, fullPath); ok {
			return true
		}
	}
	return false
}

// Collect drains a traversal into a slice, stopping at the first error.
func Collect(ctx context.Context, t *Traversal) ([]models.FileRecord, error) {
	var out []models.FileRecord
	for rec, err := range t.Files(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

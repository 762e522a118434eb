package notes

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
)

// Reader reads the file at path into a note. Any error means the path does
// not currently hold a parseable note.
type Reader interface {
	Read(ctx context.Context, path string) (*models.Note, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context, path string) (*models.Note, error)

// Read calls f.
func (f ReaderFunc) Read(ctx context.Context, path string) (*models.Note, error) {
	return f(ctx, path)
}

// readAt reads path and pins the note's identity to path.
func readAt(ctx context.Context, r Reader, path string) (*models.Note, error) {
	note, err := r.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, fmt.Errorf("notes: read %s: %w", path, apperr.ErrNotNote)
	}
	if note.Path != path {
		note = note.Clone()
		note.Path = path
	}
	return note, nil
}

// DefaultLoadConcurrency bounds parallel reads during a full load.
const DefaultLoadConcurrency = 16

// Loader builds a fresh path → note mapping from a directory and glob patterns.
type Loader struct {
	reader      Reader
	concurrency int
	logger      *slog.Logger
}

// NewLoader creates a loader. concurrency <= 0 selects DefaultLoadConcurrency.
func NewLoader(reader Reader, concurrency int, logger *slog.Logger) *Loader {
	if concurrency <= 0 {
		concurrency = DefaultLoadConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{reader: reader, concurrency: concurrency, logger: logger}
}

// Expand resolves patterns rooted at dir into a sorted, deduplicated list of
// absolute, cleaned file paths.
func Expand(dir string, patterns []string) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("notes: expand: resolve %s: %w", dir, err)
	}
	fsys := os.DirFS(root)

	seen := make(map[string]struct{})
	var out []string
	for _, p := range patterns {
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("notes: expand %q: %w", p, err)
		}
		for _, m := range matches {
			abs := filepath.Clean(filepath.Join(root, filepath.FromSlash(m)))
			if _, dup := seen[abs]; dup {
				continue
			}
			seen[abs] = struct{}{}
			out = append(out, abs)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Load expands patterns under dir and reads every candidate concurrently.
// Candidates that fail to read are left out. The result does not depend on
// the order in which reads complete.
func (l *Loader) Load(ctx context.Context, dir string, patterns []string) (map[string]*models.Note, error) {
	paths, err := Expand(dir, patterns)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make(map[string]*models.Note, len(paths))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, p := range paths {
		g.Go(func() error {
			note, err := readAt(gCtx, l.reader, p)
			if err != nil {
				if ctxErr := gCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				l.logger.Debug("loader: skipped", slog.String("path", p), slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			out[p] = note
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("notes: load %s: %w", dir, err)
	}

	l.logger.Debug("loader: loaded",
		slog.String("dir", dir),
		slog.Int("candidates", len(paths)),
		slog.Int("notes", len(out)))
	return out, nil
}

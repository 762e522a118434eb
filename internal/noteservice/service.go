// Package noteservice is the read/write surface shared by the HTTP API and
// the MCP server. Reads come from the in-memory index; writes go to disk
// and reach the index through the watcher.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/catalog"
	"github.com/starford/quill/internal/checksum"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/notes"
	"github.com/starford/quill/internal/storage"
)

// List paging bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Checksum    string         `json:"checksum"`
	Tags        []string       `json:"tags"`
	Links       []string       `json:"links"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Backlinks   []string       `json:"backlinks"`
	Size        int64          `json:"size"`
	Created     time.Time      `json:"created,omitzero"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NoteListItem is a lightweight item in a list response.
type NoteListItem struct {
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	Tags      []string  `json:"tags"`
	Created   time.Time `json:"created,omitzero"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service coordinates storage, the note index and the catalog.
type Service struct {
	notes   *notes.Notes
	catalog *catalog.DB

	mu    sync.RWMutex
	store storage.Provider
}

// NewService creates a new note service. store may be nil while no notes
// directory is configured.
func NewService(store storage.Provider, n *notes.Notes, db *catalog.DB) *Service {
	return &Service{store: store, notes: n, catalog: db}
}

// SetStore swaps the storage root after a configuration change.
func (s *Service) SetStore(store storage.Provider) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

func (s *Service) provider() (storage.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil, apperr.ErrUnavailable
	}
	return s.store, nil
}

// Rel maps an absolute note path to the client-facing relative path.
func (s *Service) Rel(path string) (string, error) {
	store, err := s.provider()
	if err != nil {
		return "", err
	}
	return store.Rel(path)
}

// ReadNote parses the file at path through the current store. It is the
// reader the note index uses, so a store swap takes effect immediately.
func (s *Service) ReadNote(ctx context.Context, path string) (*models.Note, error) {
	store, err := s.provider()
	if err != nil {
		return nil, err
	}
	return store.ReadNote(ctx, path)
}

// GetNote returns the indexed note at path. A file written but not yet
// reconciled is read from disk.
func (s *Service) GetNote(ctx context.Context, path string) (*NoteDetail, error) {
	store, err := s.provider()
	if err != nil {
		return nil, err
	}
	abs, err := store.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("noteservice: %w: %w", apperr.ErrNotFound, err)
	}
	n, ok := s.notes.Index().Get(abs)
	if !ok {
		if n, err = store.ReadNote(ctx, abs); err != nil {
			if errors.Is(err, apperr.ErrNotNote) {
				return nil, fmt.Errorf("noteservice: get %s: %w", path, apperr.ErrNotFound)
			}
			return nil, err
		}
	}
	data, err := store.Read(abs)
	if err != nil {
		return nil, fmt.Errorf("noteservice: get %s: %w", path, apperr.ErrNotFound)
	}
	return s.detail(store, n, data)
}

// CreateNote writes a new note. The path must be one the index manages.
func (s *Service) CreateNote(_ context.Context, path string, content []byte) (*NoteDetail, error) {
	store, abs, err := s.managedPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := store.Read(abs); err == nil {
		return nil, apperr.ErrAlreadyExists
	}
	if err := store.Write(abs, content); err != nil {
		return nil, err
	}
	return s.detailFromBytes(store, abs, content)
}

// UpdateNote writes updated content. A non-empty ifMatch must equal the
// checksum of the current file.
func (s *Service) UpdateNote(_ context.Context, path string, content []byte, ifMatch string) (*NoteDetail, error) {
	store, abs, err := s.managedPath(path)
	if err != nil {
		return nil, err
	}
	existing, err := store.Read(abs)
	if err != nil {
		return nil, apperr.ErrNotFound
	}
	if ifMatch != "" && ifMatch != checksum.Sum(existing) {
		return nil, apperr.ErrConflict
	}
	if err := store.Write(abs, content); err != nil {
		return nil, err
	}
	return s.detailFromBytes(store, abs, content)
}

// DeleteNote removes a note file.
func (s *Service) DeleteNote(_ context.Context, path string) error {
	store, err := s.provider()
	if err != nil {
		return err
	}
	return store.Delete(path)
}

// MoveNote renames a note file. Moving to a path the index does not manage
// is allowed; the note then leaves the index.
func (s *Service) MoveNote(_ context.Context, from, to string) error {
	store, err := s.provider()
	if err != nil {
		return err
	}
	if from == "" || to == "" {
		return fmt.Errorf("noteservice: move: %w", apperr.ErrNotFound)
	}
	return store.Move(from, to)
}

// ListNotes pages through the index, optionally filtered by tag and sorted
// by "path" (default), "title" or "updated_at" (newest first).
func (s *Service) ListNotes(_ context.Context, limit, offset int, tag, sortBy string) ([]NoteListItem, int, error) {
	store, err := s.provider()
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset = max(offset, 0)

	var items []NoteListItem
	for _, n := range s.notes.Get() {
		if tag != "" && !hasTag(n.Tags, tag) {
			continue
		}
		rel, err := store.Rel(n.Path)
		if err != nil {
			continue
		}
		items = append(items, NoteListItem{
			Path:      rel,
			Title:     n.Title,
			Checksum:  n.Checksum,
			Tags:      nonNilSlice(n.Tags),
			Created:   n.Created,
			UpdatedAt: n.ModTime,
		})
	}
	sortItems(items, sortBy)

	total := len(items)
	if offset >= total {
		return []NoteListItem{}, total, nil
	}
	end := min(offset+limit, total)
	return items[offset:end], total, nil
}

// Paths returns every indexed path relative to the notes root, sorted.
func (s *Service) Paths() []string {
	var out []string
	for p := range s.notes.Get() {
		if rel, err := s.Rel(p); err == nil {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}

// Search delegates full-text search to the catalog.
func (s *Service) Search(_ context.Context, query string, limit int) ([]catalog.SearchResult, error) {
	res, err := s.catalog.Search(query, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(res), nil
}

// Backlinks returns the paths of notes linking to target.
func (s *Service) Backlinks(_ context.Context, target string) ([]string, error) {
	bl, err := s.catalog.Backlinks(target)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(bl), nil
}

// Refresh reloads the whole index from disk.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	if err := s.notes.Refresh(ctx); err != nil {
		return 0, err
	}
	return s.notes.Index().Len(), nil
}

func (s *Service) managedPath(path string) (storage.Provider, string, error) {
	store, err := s.provider()
	if err != nil {
		return nil, "", err
	}
	abs, err := store.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("noteservice: %w: %w", apperr.ErrNotNote, err)
	}
	if !s.notes.Filter().Supported(abs) {
		return nil, "", fmt.Errorf("noteservice: %s: %w", path, apperr.ErrNotNote)
	}
	return store, abs, nil
}

func (s *Service) detailFromBytes(store storage.Provider, abs string, data []byte) (*NoteDetail, error) {
	n, err := storage.NoteFromBytes(abs, data, time.Now())
	if err != nil {
		return nil, err
	}
	return s.detail(store, n, data)
}

func (s *Service) detail(store storage.Provider, n *models.Note, data []byte) (*NoteDetail, error) {
	rel, err := store.Rel(n.Path)
	if err != nil {
		return nil, err
	}
	bl, err := s.catalog.Backlinks(rel)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		Path:        rel,
		Title:       n.Title,
		Content:     string(data),
		Checksum:    checksum.Sum(data),
		Tags:        nonNilSlice(n.Tags),
		Links:       nonNilSlice(n.Links),
		Frontmatter: n.Frontmatter,
		Backlinks:   nonNilSlice(bl),
		Size:        n.Size,
		Created:     n.Created,
		UpdatedAt:   n.ModTime,
	}, nil
}

func sortItems(items []NoteListItem, by string) {
	switch by {
	case "title":
		sort.SliceStable(items, func(i, j int) bool {
			a, b := strings.ToLower(items[i].Title), strings.ToLower(items[j].Title)
			if a != b {
				return a < b
			}
			return items[i].Path < items[j].Path
		})
	case "updated_at":
		sort.SliceStable(items, func(i, j int) bool {
			if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
				return items[i].UpdatedAt.After(items[j].UpdatedAt)
			}
			return items[i].Path < items[j].Path
		})
	case "created":
		sort.SliceStable(items, func(i, j int) bool {
			if !items[i].Created.Equal(items[j].Created) {
				return items[i].Created.After(items[j].Created)
			}
			return items[i].Path < items[j].Path
		})
	default:
		sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

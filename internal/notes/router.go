package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
)

// Store is the capability set the router needs from the index.
type Store interface {
	Get(path string) (*models.Note, bool)
	Add(note *models.Note) error
	Replace(prev, next *models.Note) error
	Delete(note *models.Note, notify bool) error
}

var _ Store = (*Index)(nil)

// Router maps raw watcher events onto index mutations. Read failures are
// not errors: the event is skipped and a later event for the same path
// retries naturally.
type Router struct {
	store  Store
	reader Reader
	filter *Filter
	logger *slog.Logger
}

// NewRouter creates a router over store.
func NewRouter(store Store, reader Reader, filter *Filter, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{store: store, reader: reader, filter: filter, logger: logger}
}

// Dispatch routes a captured event to its handler.
func (r *Router) Dispatch(ctx context.Context, ev Event) error {
	switch ev.Op {
	case OpAdd:
		return r.Add(ctx, ev.Path)
	case OpChange:
		return r.Change(ctx, ev.Path)
	case OpRename:
		return r.Rename(ctx, ev.Path, ev.NextPath)
	case OpUnlink:
		return r.Unlink(ctx, ev.Path)
	default:
		return fmt.Errorf("notes: router: unknown op %d", ev.Op)
	}
}

// Add indexes a newly reported file unless it is unsupported, already
// tracked, or unreadable.
func (r *Router) Add(ctx context.Context, path string) error {
	if !r.filter.Supported(path) {
		return nil
	}
	if _, ok := r.store.Get(path); ok {
		return nil
	}
	note, err := readAt(ctx, r.reader, path)
	if err != nil {
		r.skip("add", path, err)
		return nil
	}
	if err := r.store.Add(note); err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("notes: router: add %s: %w", path, err)
	}
	r.logger.Debug("router: added", slog.String("path", path))
	return nil
}

// Change re-reads a modified file. A content change is a rename onto the
// same path.
func (r *Router) Change(ctx context.Context, path string) error {
	if !r.filter.Supported(path) {
		return nil
	}
	return r.Rename(ctx, path, path)
}

// Rename resolves whatever note should now exist at next, given that path
// may have held one.
func (r *Router) Rename(ctx context.Context, path, next string) error {
	if !r.filter.Supported(next) {
		if r.filter.Supported(path) {
			return r.Unlink(ctx, path)
		}
		return nil
	}

	prev, ok := r.store.Get(path)
	if !ok {
		return r.Add(ctx, next)
	}

	note, err := readAt(ctx, r.reader, next)
	if err != nil {
		// Keep the existing entry: a failed re-read is usually a write in progress.
		r.skip("rename", next, err)
		return nil
	}
	if err := r.store.Replace(prev, note); err != nil {
		return fmt.Errorf("notes: router: replace %s -> %s: %w", path, next, err)
	}
	r.logger.Debug("router: replaced", slog.String("path", path), slog.String("next", next))
	return nil
}

// Unlink drops the entry for a removed file.
func (r *Router) Unlink(_ context.Context, path string) error {
	if !r.filter.Supported(path) {
		return nil
	}
	note, ok := r.store.Get(path)
	if !ok {
		return nil
	}
	if err := r.store.Delete(note, true); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("notes: router: delete %s: %w", path, err)
	}
	r.logger.Debug("router: deleted", slog.String("path", path))
	return nil
}

func (r *Router) skip(op, path string, err error) {
	r.logger.Debug("router: read skipped",
		slog.String("op", op),
		slog.String("path", path),
		slog.String("error", err.Error()))
}

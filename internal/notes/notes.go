// Package notes keeps an in-memory index of note files synchronized with a
// directory: a full load at startup, then debounced reconciliation of
// filesystem events.
package notes

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/watch"
)

// DefaultGlobs selects Markdown files anywhere under the notes directory.
var DefaultGlobs = []string{"**/*.md", "**/*.markdown"}

// Config describes which directory and files are managed.
type Config struct {
	Dir             string
	Globs           []string
	Wait            time.Duration
	MaxWait         time.Duration
	LoadConcurrency int
}

// Suspender pauses and resumes a dependent subsystem around a flush.
type Suspender interface {
	Suspend()
	Unsuspend()
}

// Option configures Notes.
type Option func(*Notes)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notes) { n.logger = l }
}

// WithWatchFunc replaces the fsnotify watcher.
func WithWatchFunc(fn WatchFunc) Option {
	return func(n *Notes) { n.watchFn = fn }
}

// WithSuspenders registers subsystems suspended during every flush, after
// the index itself. They are resumed in reverse order.
func WithSuspenders(s ...Suspender) Option {
	return func(n *Notes) { n.middlewares = append(n.middlewares, s...) }
}

// WithErrorHandler receives per-event failures from flushes.
func WithErrorHandler(fn func(error)) Option {
	return func(n *Notes) { n.onError = fn }
}

// Notes owns the index and the watch session for one notes directory.
type Notes struct {
	index       *Index
	reader      Reader
	watchFn     WatchFunc
	middlewares []Suspender
	onError     func(error)
	logger      *slog.Logger

	// writeMu makes Refresh's replace-all and batch flushes mutually exclusive.
	writeMu sync.Mutex

	mu      sync.Mutex
	cfg     Config
	filter  *Filter
	loader  *Loader
	router  *Router
	session *Session
}

// New creates the container. No I/O happens until Refresh or Listen.
func New(cfg Config, reader Reader, opts ...Option) (*Notes, error) {
	n := &Notes{
		index:  NewIndex(),
		reader: reader,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.watchFn == nil {
		n.watchFn = FSWatch(watch.Options{Logger: n.logger})
	}
	if err := n.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return n, nil
}

// Reconfigure swaps the directory, globs and timings. An active session is
// stopped first, so events it already delivered are applied under the old
// filter before the swap; call Refresh and Listen afterwards.
func (n *Notes) Reconfigure(cfg Config) error {
	if len(cfg.Globs) == 0 {
		cfg.Globs = DefaultGlobs
	}
	filter, err := NewFilter(cfg.Dir, cfg.Globs)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.stopLocked(); err != nil {
		n.logger.Warn("notes: stop session on reconfigure", slog.String("error", err.Error()))
	}
	n.cfg = cfg
	n.filter = filter
	n.loader = NewLoader(n.reader, cfg.LoadConcurrency, n.logger)
	n.router = NewRouter(n.index, n.reader, filter, n.logger)
	return nil
}

// Index exposes the underlying index for observers.
func (n *Notes) Index() *Index { return n.index }

// Filter returns the current path filter.
func (n *Notes) Filter() *Filter {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.filter
}

// Config returns the current configuration.
func (n *Notes) Config() Config {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg
}

// Get returns a snapshot of the index.
func (n *Notes) Get() map[string]*models.Note {
	return n.index.Snapshot()
}

// Set replaces the index contents.
func (n *Notes) Set(notes map[string]*models.Note) {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	n.index.Set(notes)
}

// Refresh loads every note under the configured directory and replaces the
// index contents in one step. Without a directory the index is emptied.
func (n *Notes) Refresh(ctx context.Context) error {
	n.mu.Lock()
	cfg, loader := n.cfg, n.loader
	n.mu.Unlock()

	loaded := map[string]*models.Note{}
	if cfg.Dir != "" {
		var err error
		if loaded, err = loader.Load(ctx, cfg.Dir, cfg.Globs); err != nil {
			return err
		}
	}
	n.Set(loaded)
	n.logger.Info("notes: refreshed", slog.String("dir", cfg.Dir), slog.Int("notes", len(loaded)))
	return nil
}

// Listen starts watching the configured directory, stopping any previous
// session first. ctx bounds the lifetime of the new session. Without a
// directory no session is started.
func (n *Notes) Listen(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.stopLocked(); err != nil {
		n.logger.Warn("notes: stop previous session", slog.String("error", err.Error()))
	}

	if n.cfg.Dir == "" {
		n.logger.Info("notes: no directory configured, not watching")
		return nil
	}

	s, err := startSession(ctx, n.cfg.Dir, n.watchFn, n.router.Dispatch, BatcherOptions{
		Wait:      n.cfg.Wait,
		MaxWait:   n.cfg.MaxWait,
		Preflush:  n.preflush,
		Postflush: n.postflush,
		OnError:   n.onError,
		Logger:    n.logger,
	}, n.logger)
	if err != nil {
		return err
	}
	n.session = s
	return nil
}

// Listening reports whether a session is active.
func (n *Notes) Listening() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.session != nil
}

// Close stops the active session.
func (n *Notes) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.stopLocked(); err != nil {
		return fmt.Errorf("notes: close: %w", err)
	}
	return nil
}

// stopLocked ends the active session, if any. Caller holds mu.
func (n *Notes) stopLocked() error {
	if n.session == nil {
		return nil
	}
	err := n.session.Stop()
	n.session = nil
	return err
}

func (n *Notes) preflush() {
	n.writeMu.Lock()
	n.index.Suspend()
	for _, m := range n.middlewares {
		m.Suspend()
	}
}

func (n *Notes) postflush() {
	defer n.writeMu.Unlock()
	n.index.Unsuspend()
	for i := len(n.middlewares) - 1; i >= 0; i-- {
		n.middlewares[i].Unsuspend()
	}
}

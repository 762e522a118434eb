package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/quill/internal/catalog"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/notes"
	"github.com/starford/quill/internal/noteservice"
	"github.com/starford/quill/internal/storage"
	"github.com/starford/quill/internal/watch"
)

var errConfigRequired = errors.New("config is required")

// newLogger builds the JSON logger. Logs go to a rotating file when
// app.log_file is set, otherwise to fallback.
func newLogger(cfg ApplicationConfig, fallback io.Writer) (*slog.Logger, io.Closer) {
	var w io.Writer = fallback
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		w, closer = lj, lj
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel})), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore returns the storage root for cfg, creating the directory. It
// returns a nil Provider when no notes directory is configured.
func openStore(cfg NotesConfig) (storage.Provider, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create notes dir: %w", err)
	}
	fs, err := storage.NewFS(cfg.Path, cfg.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return fs, nil
}

// core is the note index with its catalog mirror and service, shared by
// every command.
type core struct {
	db     *catalog.DB
	notes  *notes.Notes
	svc    *noteservice.Service
	logger *slog.Logger
	detach func()
}

func newCore(cfg *Config, logger *slog.Logger) (*core, error) {
	store, err := openStore(cfg.Notes)
	if err != nil {
		return nil, err
	}

	engine := cfg.Notes.Engine()
	if store != nil {
		// The index is keyed by absolute paths under the resolved root.
		engine.Dir = store.Root()
	}

	db, err := catalog.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	c := &core{db: db, logger: logger}
	reader := notes.ReaderFunc(func(ctx context.Context, path string) (*models.Note, error) {
		return c.svc.ReadNote(ctx, path)
	})
	mirror := catalog.NewMirror(db, func(path string) (string, error) {
		return c.svc.Rel(path)
	}, logger)

	n, err := notes.New(engine, reader,
		notes.WithLogger(logger),
		notes.WithSuspenders(mirror),
		notes.WithWatchFunc(notes.FSWatch(watch.Options{
			RenameWindow: cfg.Notes.RenameWindow,
			Logger:       logger,
		})),
		notes.WithErrorHandler(func(err error) {
			logger.Warn("notes: reconcile failed", slog.String("error", err.Error()))
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init notes: %w", err)
	}

	c.notes = n
	c.svc = noteservice.NewService(store, n, db)
	c.detach = mirror.Attach(n.Index())
	return c, nil
}

// load runs the initial full load. Failures are logged; the index stays
// empty and later events or a refresh repopulate it.
func (c *core) load(ctx context.Context) {
	if err := c.notes.Refresh(ctx); err != nil {
		c.logger.Warn("notes: initial load failed", slog.String("error", err.Error()))
	}
}

// listen starts watching. A watcher that fails to start is logged and the
// app keeps serving the loaded index.
func (c *core) listen(ctx context.Context) {
	if err := c.notes.Listen(ctx); err != nil {
		c.logger.Warn("notes: watch failed", slog.String("error", err.Error()))
	}
}

func (c *core) close() {
	if err := c.notes.Close(); err != nil {
		c.logger.Warn("notes: close failed", slog.String("error", err.Error()))
	}
	c.detach()
	if err := c.db.Close(); err != nil {
		c.logger.Warn("catalog: close failed", slog.String("error", err.Error()))
	}
}

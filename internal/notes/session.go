package notes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/starford/quill/internal/watch"
)

// WatchFunc opens a watcher subscription on dir that reports through h
// until the returned handle is closed.
type WatchFunc func(ctx context.Context, dir string, h watch.Handlers) (io.Closer, error)

// FSWatch returns a WatchFunc backed by the fsnotify watcher.
func FSWatch(opts watch.Options) WatchFunc {
	return func(ctx context.Context, dir string, h watch.Handlers) (io.Closer, error) {
		return watch.Start(ctx, dir, h, opts)
	}
}

// Session is one watcher subscription on one directory together with the
// batcher that turns its callbacks into flushes.
type Session struct {
	dir     string
	watcher io.Closer
	batcher *Batcher[Event]
	cancel  context.CancelFunc
	runDone chan struct{}
	logger  *slog.Logger

	stopOnce sync.Once
	stopErr  error
}

func startSession(ctx context.Context, dir string, watchFn WatchFunc, handler func(context.Context, Event) error, opts BatcherOptions, logger *slog.Logger) (*Session, error) {
	sctx, cancel := context.WithCancel(ctx)
	b := NewBatcher(handler, opts)

	s := &Session{
		dir:     dir,
		batcher: b,
		cancel:  cancel,
		runDone: make(chan struct{}),
		logger:  logger,
	}
	go func() {
		defer close(s.runDone)
		_ = b.Run(sctx)
	}()

	w, err := watchFn(sctx, dir, watch.Handlers{
		OnAdd:    func(p string) { b.Add(Event{Op: OpAdd, Path: p}) },
		OnChange: func(p string) { b.Add(Event{Op: OpChange, Path: p}) },
		OnRename: func(p, next string) { b.Add(Event{Op: OpRename, Path: p, NextPath: next}) },
		OnUnlink: func(p string) { b.Add(Event{Op: OpUnlink, Path: p}) },
	})
	if err != nil {
		b.Close()
		cancel()
		<-s.runDone
		return nil, fmt.Errorf("notes: watch %s: %w", dir, err)
	}
	s.watcher = w

	logger.Info("session: started", slog.String("dir", dir))
	return s, nil
}

// Dir returns the watched directory.
func (s *Session) Dir() string { return s.dir }

// Stop closes the watcher handle, flushes what it already delivered, and
// ends the batcher. Nothing the handle reports afterwards is processed.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		if err := s.watcher.Close(); err != nil {
			s.stopErr = fmt.Errorf("notes: close watcher %s: %w", s.dir, err)
		}
		s.batcher.Close()
		s.cancel()
		<-s.runDone
		s.logger.Info("session: stopped", slog.String("dir", s.dir))
	})
	return s.stopErr
}

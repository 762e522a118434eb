package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is how long Watch waits after the last write before
// calling back.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watch calls fn whenever filename is written, created or replaced, until
// ctx is done. The parent directory is watched so editors that save by
// renaming a temp file over the original are seen. Bursts of events are
// coalesced into one call. Watcher errors are logged and watching goes on;
// a nil logger means slog.Default.
func Watch(ctx context.Context, filename string, debounce time.Duration, logger *slog.Logger, fn func()) error {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", filename, err)
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	return watchLoop(ctx, abs, debounce, w.Events, w.Errors, logger, fn)
}

func watchLoop(ctx context.Context, abs string, debounce time.Duration, events <-chan fsnotify.Event, errs <-chan error, logger *slog.Logger, fn func()) error {
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			logger.Error("config: watch error", slog.String("file", abs), slog.String("error", err.Error()))
		case <-timer.C:
			fn()
		}
	}
}

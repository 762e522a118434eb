// Package watch turns fsnotify events for a directory tree into the four
// note callbacks: add, change, rename and unlink.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultRenameWindow is how long a Rename on the old path waits for the
// Create on the new path before it is reported as an unlink.
const DefaultRenameWindow = 50 * time.Millisecond

// Handlers receive file events. Paths are absolute and cleaned. Nil
// handlers are skipped. Handlers run on the watcher goroutine and must not
// block.
type Handlers struct {
	OnAdd    func(path string)
	OnChange func(path string)
	OnRename func(path, next string)
	OnUnlink func(path string)
}

// Options configures a Watcher.
type Options struct {
	RenameWindow time.Duration
	// IgnoreDirs lists directory names that are never watched.
	IgnoreDirs []string
	Logger     *slog.Logger
}

// Watcher is one live fsnotify subscription on a directory tree.
type Watcher struct {
	root     string
	handlers Handlers
	window   time.Duration
	ignore   map[string]struct{}
	logger   *slog.Logger

	fsw *fsnotify.Watcher

	// Owned by the run goroutine after Start returns.
	known   map[string]struct{}
	dirs    map[string]struct{}
	pending *pendingRename

	closed    atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type pendingRename struct {
	path  string
	isDir bool
}

// Start watches root recursively until ctx is cancelled or Close is called.
func Start(ctx context.Context, root string, h Handlers, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch: stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", abs)
	}

	if opts.RenameWindow <= 0 {
		opts.RenameWindow = DefaultRenameWindow
	}
	if opts.IgnoreDirs == nil {
		opts.IgnoreDirs = []string{".git"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}

	w := &Watcher{
		root:     abs,
		handlers: h,
		window:   opts.RenameWindow,
		ignore:   make(map[string]struct{}, len(opts.IgnoreDirs)),
		logger:   logger,
		fsw:      fsw,
		known:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	for _, d := range opts.IgnoreDirs {
		w.ignore[d] = struct{}{}
	}

	if _, err := w.addTree(abs); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch: add %s: %w", abs, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(runCtx)

	logger.Info("watcher: started", slog.String("root", abs), slog.Int("files", len(w.known)))
	return w, nil
}

// Root returns the watched directory.
func (w *Watcher) Root() string { return w.root }

// Close stops the watcher. No handler runs after Close returns.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.cancel()
		<-w.done
		w.closeErr = w.fsw.Close()
	})
	return w.closeErr
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.window)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped", slog.String("root", w.root))
			return

		case <-timer.C:
			w.expirePending()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			hadPending := w.pending != nil
			w.handle(ev)
			if w.pending != nil && (!hadPending || ev.Has(fsnotify.Rename)) {
				timer.Reset(w.window)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if w.ignored(path) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		w.created(path)
	case ev.Has(fsnotify.Write):
		w.written(path)
	case ev.Has(fsnotify.Remove):
		w.removed(path)
	case ev.Has(fsnotify.Rename):
		w.renamedFrom(path)
	}
}

func (w *Watcher) created(path string) {
	info, err := os.Lstat(path)
	if err != nil {
		// Gone again before we looked; the Remove event follows.
		return
	}

	if info.IsDir() {
		files, err := w.addTree(path)
		if err != nil {
			w.logger.Warn("watcher: add new dir failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		if p := w.pending; p != nil && p.isDir {
			w.pending = nil
			w.moveTree(p.path, path, files)
			return
		}
		w.expirePending()
		for _, f := range files {
			w.emitAdd(f)
		}
		return
	}

	if p := w.pending; p != nil && !p.isDir {
		w.pending = nil
		delete(w.known, p.path)
		if _, exists := w.known[path]; exists {
			// Renamed over an existing file: the source is gone and the
			// target has new content.
			w.emitUnlink(p.path)
			w.emitChange(path)
			return
		}
		w.known[path] = struct{}{}
		w.emitRename(p.path, path)
		return
	}
	w.expirePending()

	if _, exists := w.known[path]; exists {
		w.emitChange(path)
		return
	}
	w.known[path] = struct{}{}
	w.emitAdd(path)
}

func (w *Watcher) written(path string) {
	if _, exists := w.known[path]; !exists {
		if info, err := os.Lstat(path); err != nil || info.IsDir() {
			return
		}
		w.known[path] = struct{}{}
		w.emitAdd(path)
		return
	}
	w.emitChange(path)
}

func (w *Watcher) removed(path string) {
	if _, isDir := w.dirs[path]; isDir {
		for _, f := range w.forgetTree(path) {
			w.emitUnlink(f)
		}
		return
	}
	delete(w.known, path)
	w.emitUnlink(path)
}

func (w *Watcher) renamedFrom(path string) {
	if p := w.pending; p != nil {
		if p.path == path {
			// inotify reports both MOVED_FROM and MOVE_SELF for watched dirs.
			return
		}
		w.expirePending()
	}
	_, isDir := w.dirs[path]
	_, isFile := w.known[path]
	if !isDir && !isFile {
		return
	}
	w.pending = &pendingRename{path: path, isDir: isDir}
}

// expirePending reports an unpaired rename as the removal of its source.
func (w *Watcher) expirePending() {
	p := w.pending
	if p == nil {
		return
	}
	w.pending = nil
	if p.isDir {
		for _, f := range w.forgetTree(p.path) {
			w.emitUnlink(f)
		}
		return
	}
	delete(w.known, p.path)
	w.emitUnlink(p.path)
}

// moveTree pairs the known files under oldDir with the files discovered
// under newDir.
func (w *Watcher) moveTree(oldDir, newDir string, found []string) {
	present := make(map[string]struct{}, len(found))
	for _, f := range found {
		present[f] = struct{}{}
	}
	for _, old := range w.forgetTree(oldDir) {
		next := newDir + strings.TrimPrefix(old, oldDir)
		if _, ok := present[next]; ok {
			delete(present, next)
			w.emitRename(old, next)
			continue
		}
		w.emitUnlink(old)
	}
	rest := make([]string, 0, len(present))
	for f := range present {
		rest = append(rest, f)
	}
	sort.Strings(rest)
	for _, f := range rest {
		w.emitAdd(f)
	}
}

// addTree watches dir and its subdirectories and returns the files found
// that were not known before.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != w.root && w.ignoredName(d.Name()) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				return err
			}
			w.dirs[path] = struct{}{}
			return nil
		}
		if _, ok := w.known[path]; !ok {
			w.known[path] = struct{}{}
			found = append(found, path)
		}
		return nil
	})
	return found, err
}

// forgetTree drops dir and everything under it from the known sets and
// returns the files that were known there, sorted.
func (w *Watcher) forgetTree(dir string) []string {
	prefix := dir + string(os.PathSeparator)
	var files []string
	for f := range w.known {
		if strings.HasPrefix(f, prefix) {
			files = append(files, f)
			delete(w.known, f)
		}
	}
	// The kernel drops watches of removed directories on its own, and a
	// moved directory keeps its watch under the new name.
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			delete(w.dirs, d)
		}
	}
	sort.Strings(files)
	return files
}

func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return false
	}
	for _, part := range strings.Split(dir, string(os.PathSeparator)) {
		if w.ignoredName(part) {
			return true
		}
	}
	return false
}

func (w *Watcher) ignoredName(name string) bool {
	_, ok := w.ignore[name]
	return ok
}

func (w *Watcher) emitAdd(path string) {
	if w.closed.Load() || w.handlers.OnAdd == nil {
		return
	}
	w.handlers.OnAdd(path)
}

func (w *Watcher) emitChange(path string) {
	if w.closed.Load() || w.handlers.OnChange == nil {
		return
	}
	w.handlers.OnChange(path)
}

func (w *Watcher) emitRename(path, next string) {
	if w.closed.Load() || w.handlers.OnRename == nil {
		return
	}
	w.handlers.OnRename(path, next)
}

func (w *Watcher) emitUnlink(path string) {
	if w.closed.Load() || w.handlers.OnUnlink == nil {
		return
	}
	w.handlers.OnUnlink(path)
}

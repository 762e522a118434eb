package notes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/watch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

// recorder collects an ordered trace shared between fakes.
type recorder struct {
	mu    sync.Mutex
	trace []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.trace = append(r.trace, s)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.trace...)
}

// memReader serves note bodies from memory.
type memReader struct {
	mu    sync.Mutex
	files map[string]string
	fail  map[string]error
	reads int
	rec   *recorder
}

func newMemReader() *memReader {
	return &memReader{files: map[string]string{}, fail: map[string]error{}}
}

func (m *memReader) put(path, body string) {
	m.mu.Lock()
	m.files[path] = body
	delete(m.fail, path)
	m.mu.Unlock()
}

func (m *memReader) remove(path string) {
	m.mu.Lock()
	delete(m.files, path)
	m.mu.Unlock()
}

func (m *memReader) failWith(path string, err error) {
	m.mu.Lock()
	m.fail[path] = err
	m.mu.Unlock()
}

func (m *memReader) Read(_ context.Context, path string) (*models.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.rec != nil {
		m.rec.add("read " + path)
	}
	if err := m.fail[path]; err != nil {
		return nil, err
	}
	body, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, apperr.ErrNotFound)
	}
	return &models.Note{Path: path, Body: body}, nil
}

func (m *memReader) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

var errIO = errors.New("simulated I/O error")

// fakeHandle is a watch handle whose callbacks are driven by the test.
type fakeHandle struct {
	dir string
	h   watch.Handlers
	rec *recorder
}

func (f *fakeHandle) Close() error {
	f.rec.add("close " + f.dir)
	return nil
}

// fakeWatcher is a WatchFunc that records every subscription it opens.
type fakeWatcher struct {
	rec *recorder

	mu      sync.Mutex
	handles []*fakeHandle
	err     error
}

func (w *fakeWatcher) watch(_ context.Context, dir string, h watch.Handlers) (io.Closer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	w.rec.add("open " + dir)
	fh := &fakeHandle{dir: dir, h: h, rec: w.rec}
	w.handles = append(w.handles, fh)
	return fh, nil
}

func (w *fakeWatcher) last() *fakeHandle {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.handles) == 0 {
		return nil
	}
	return w.handles[len(w.handles)-1]
}

// traceSuspender records suspend calls into a recorder.
type traceSuspender struct {
	name string
	rec  *recorder
}

func (s traceSuspender) Suspend()   { s.rec.add("suspend " + s.name) }
func (s traceSuspender) Unsuspend() { s.rec.add("unsuspend " + s.name) }

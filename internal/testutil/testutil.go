// Package testutil provides shared test helpers for setting up vaults, the
// note index and the catalog.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/quill/internal/catalog"
	"github.com/starford/quill/internal/notes"
	"github.com/starford/quill/internal/storage"
	"github.com/starford/quill/internal/watch"
)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestDB creates a temporary catalog database that is automatically cleaned up.
func TestDB(t *testing.T) *catalog.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "quill-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := catalog.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage provider.
func TestVault(t *testing.T) (string, *storage.FS) {
	t.Helper()
	vaultDir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewFS(vaultDir, 0)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// WriteFile creates a file under dir, making parent directories.
func WriteFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NoWatch is a notes.WatchFunc that never reports anything.
func NoWatch(context.Context, string, watch.Handlers) (io.Closer, error) {
	return nopCloser{}, nil
}

// Env is a vault with a loaded index mirrored into a catalog.
type Env struct {
	Dir     string
	Store   *storage.FS
	Notes   *notes.Notes
	Catalog *catalog.DB
}

// NewEnv builds an Env without a live watcher. Call Refresh after writing
// files to bring the index and catalog up to date.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	dir, store := TestVault(t)
	db := TestDB(t)

	n, err := notes.New(notes.Config{Dir: dir}, notes.ReaderFunc(store.ReadNote),
		notes.WithLogger(Logger()),
		notes.WithWatchFunc(NoWatch))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = n.Close() })

	mirror := catalog.NewMirror(db, store.Rel, Logger())
	t.Cleanup(mirror.Attach(n.Index()))

	return &Env{Dir: dir, Store: store, Notes: n, Catalog: db}
}

// Refresh reloads the index from disk.
func (e *Env) Refresh(t *testing.T) {
	t.Helper()
	if err := e.Notes.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
}

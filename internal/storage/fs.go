package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/checksum"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/parser"
)

// DefaultMaxFileSize bounds how much of a single file ReadNote will load.
const DefaultMaxFileSize int64 = 8 << 20

// FS implements Provider backed by the local file system.
type FS struct {
	root    string // absolute path to vault directory
	maxSize int64
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist. maxSize <= 0 selects DefaultMaxFileSize.
func NewFS(root string, maxSize int64) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &FS{root: abs, maxSize: maxSize}, nil
}

// Root returns the absolute vault directory.
func (f *FS) Root() string { return f.root }

// Abs resolves a path against the vault root and rejects any result that
// escapes it (directory traversal).
func (f *FS) Abs(path string) (string, error) {
	if path == "" {
		return f.root, nil
	}
	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(f.root, filepath.Clean(filepath.FromSlash(path)))
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes vault root: %s", path)
	}
	return abs, nil
}

// Rel returns the slash-separated path of path relative to the vault root.
func (f *FS) Rel(path string) (string, error) {
	abs, err := f.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return "", fmt.Errorf("storage: rel %s: %w", path, err)
	}
	return filepath.ToSlash(rel), nil
}

// Read returns the raw bytes of a vault file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// ReadNote reads, size-checks and parses a vault file. Anything that cannot
// become a note is reported as an error wrapping apperr.ErrNotNote or the
// underlying I/O error.
func (f *FS) ReadNote(ctx context.Context, path string) (*models.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := f.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrNotNote, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: read note %s: %w", path, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("storage: %s is a directory: %w", path, apperr.ErrNotNote)
	}
	if info.Size() > f.maxSize {
		return nil, fmt.Errorf("storage: %s exceeds %d bytes: %w", path, f.maxSize, apperr.ErrNotNote)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	note, err := NoteFromBytes(abs, data, info.ModTime())
	if err != nil {
		return nil, fmt.Errorf("storage: parse %s: %w", path, err)
	}
	return note, nil
}

// NoteFromBytes parses data as the content of the note at path.
func NoteFromBytes(path string, data []byte, modTime time.Time) (*models.Note, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	return &models.Note{
		Path:        path,
		Body:        res.Body,
		Frontmatter: res.Frontmatter,
		Title:       res.Title,
		Links:       res.Links,
		Tags:        res.Tags,
		Checksum:    checksum.Sum(data),
		Size:        int64(len(data)),
		ModTime:     modTime,
		Created:     res.Created,
	}, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".quill-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes a file from the vault.
func (f *FS) Delete(path string) error {
	abs, err := f.Abs(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: delete %s: %w", path, apperr.ErrNotFound)
		}
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}

// Move renames a file within the vault. The destination must not exist.
func (f *FS) Move(oldPath, newPath string) error {
	absOld, err := f.Abs(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.Abs(newPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(absOld); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: move %s: %w", oldPath, apperr.ErrNotFound)
	}
	if _, err := os.Stat(absNew); err == nil {
		return fmt.Errorf("storage: move to %s: %w", newPath, apperr.ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for move: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return fmt.Errorf("storage: move: %w", err)
	}
	return nil
}

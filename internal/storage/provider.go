// Package storage provides vault file access and the note reader used by the index.
package storage

import (
	"context"

	"github.com/starford/quill/internal/models"
)

// Provider is the interface for vault file operations. Paths may be absolute
// (they must resolve under the vault root) or relative to the root.
type Provider interface {
	// Root returns the absolute vault directory.
	Root() string
	// Abs resolves path against the root and rejects escapes.
	Abs(path string) (string, error)
	// Rel returns path relative to the root using forward slashes.
	Rel(path string) (string, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// ReadNote reads and parses the file at path into a note.
	ReadNote(ctx context.Context, path string) (*models.Note, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}

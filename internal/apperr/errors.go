// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotNote marks a file that exists but cannot be read as a note
	// (binary content, oversized, outside the vault).
	ErrNotNote = errors.New("not a note")
	// ErrUnavailable is returned while no notes directory is configured.
	ErrUnavailable = errors.New("notes directory not configured")
)

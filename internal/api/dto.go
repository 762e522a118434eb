package api

import (
	"github.com/starford/quill/internal/noteservice"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Path    string `json:"path" example:"notes/hello.md" validate:"required"`
	Content string `json:"content" example:"# Hello\nWorld" validate:"required"`
}

// UpdateNoteRequest is the request body for updating a note.
type UpdateNoteRequest struct {
	Content string `json:"content" example:"# Updated\nContent" validate:"required"`
}

// MoveNoteRequest is the request body for renaming a note.
type MoveNoteRequest struct {
	From string `json:"from" example:"inbox/idea.md" validate:"required"`
	To   string `json:"to" example:"projects/idea.md" validate:"required"`
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteListItem is a lightweight item in a list response (aliased from the domain layer).
type NoteListItem = noteservice.NoteListItem

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Path    string `json:"path" example:"notes/hello.md" validate:"required"`
	Title   string `json:"title" example:"Hello" validate:"required"`
	Snippet string `json:"snippet" example:"...matched text..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// BacklinksResponse lists the notes linking to a path.
type BacklinksResponse struct {
	Path      string   `json:"path" example:"notes/hello.md" validate:"required"`
	Backlinks []string `json:"backlinks" validate:"required"`
}

// RefreshResponse reports the index size after a full reload.
type RefreshResponse struct {
	Notes int `json:"notes" example:"42" validate:"required"`
}

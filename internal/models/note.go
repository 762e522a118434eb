// Package models defines the domain types for quill.
package models

import "time"

// Note is a parsed Markdown file. Path is the absolute, cleaned file path
// at the time of the last successful read and is the note's identity.
type Note struct {
	Path        string                 `json:"path"`
	Body        string                 `json:"body"`
	Frontmatter map[string]interface{} `json:"frontmatter,omitempty"`
	Title       string                 `json:"title,omitempty"`
	Links       []string               `json:"links,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Checksum    string                 `json:"checksum"`
	Size        int64                  `json:"size"`
	ModTime     time.Time              `json:"mod_time"`
	Created     time.Time              `json:"created,omitzero"`
}

// Clone returns a copy of n with its slices duplicated. The frontmatter map
// is shared; callers treat it as read-only.
func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	c := *n
	c.Links = append([]string(nil), n.Links...)
	c.Tags = append([]string(nil), n.Tags...)
	return &c
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

// DefaultSearchLimit caps search results when no limit is given.
const DefaultSearchLimit = 20

// Row is one catalogued note. Path is relative to the notes root with
// forward slashes.
type Row struct {
	Path      string
	Title     string
	Checksum  string
	Tags      []string
	Body      string
	Links     []string
	UpdatedAt time.Time
}

// SearchResult is one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Tx groups catalog writes into one SQLite transaction.
type Tx struct {
	tx *sql.Tx
}

// Update runs fn inside a transaction and commits when fn returns nil.
func (db *DB) Update(fn func(tx *Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}
	return nil
}

// Upsert inserts or replaces a note, its FTS entry and its outgoing links.
func (t *Tx) Upsert(r Row) error {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)

	_, err := t.tx.Exec(`
		INSERT INTO notes (path, title, checksum, tags, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title      = excluded.title,
			checksum   = excluded.checksum,
			tags       = excluded.tags,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, r.Path, r.Title, r.Checksum, string(tagsJSON), r.Body, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("catalog: upsert %s: %w", r.Path, err)
	}

	if err := ftsUpsert(t.tx, r.Path, r.Title, r.Body, tags); err != nil {
		return err
	}

	if _, err := t.tx.Exec(`DELETE FROM links WHERE source = ?`, r.Path); err != nil {
		return fmt.Errorf("catalog: clear links %s: %w", r.Path, err)
	}
	if len(r.Links) > 0 {
		stmt, err := t.tx.Prepare(`INSERT OR IGNORE INTO links (source, target) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("catalog: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, target := range r.Links {
			if _, err := stmt.Exec(r.Path, normalizeTarget(target)); err != nil {
				return fmt.Errorf("catalog: insert link: %w", err)
			}
		}
	}
	return nil
}

// Delete removes a note, its FTS entry and its outgoing links.
func (t *Tx) Delete(p string) error {
	if err := ftsDelete(t.tx, p); err != nil {
		return err
	}
	if _, err := t.tx.Exec(`DELETE FROM links WHERE source = ?`, p); err != nil {
		return fmt.Errorf("catalog: delete links %s: %w", p, err)
	}
	if _, err := t.tx.Exec(`DELETE FROM notes WHERE path = ?`, p); err != nil {
		return fmt.Errorf("catalog: delete %s: %w", p, err)
	}
	return nil
}

// Checksums returns path -> checksum for every catalogued note.
func (t *Tx) Checksums() (map[string]string, error) {
	rows, err := t.tx.Query(`SELECT path, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("catalog: checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// UpsertNote writes a single note in its own transaction.
func (db *DB) UpsertNote(r Row) error {
	return db.Update(func(tx *Tx) error { return tx.Upsert(r) })
}

// DeleteNote removes a single note in its own transaction.
func (db *DB) DeleteNote(p string) error {
	return db.Update(func(tx *Tx) error { return tx.Delete(p) })
}

// GetChecksum returns the stored checksum for a note, or "" if it is not
// catalogued.
func (db *DB) GetChecksum(p string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM notes WHERE path = ?`, p).Scan(&cs)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("catalog: checksum %s: %w", p, err)
	}
	return cs, nil
}

// Count returns the number of catalogued notes.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("catalog: count: %w", err)
	}
	return n, nil
}

// Backlinks returns the sorted paths of notes linking to target. Links are
// matched with or without the .md extension.
func (db *DB) Backlinks(target string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT DISTINCT source FROM links WHERE target = ? ORDER BY source`, normalizeTarget(target))
	if err != nil {
		return nil, fmt.Errorf("catalog: backlinks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanResults(rows *sql.Rows) ([]SearchResult, error) {
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// normalizeTarget turns a wikilink target or a note path into the form
// links are stored under: no alias, no heading, no .md extension.
func normalizeTarget(target string) string {
	if i := strings.IndexAny(target, "|#"); i >= 0 {
		target = target[:i]
	}
	target = strings.TrimSpace(strings.TrimPrefix(target, "/"))
	if path.Ext(target) == ".md" {
		target = strings.TrimSuffix(target, ".md")
	}
	return target
}

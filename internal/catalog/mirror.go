package catalog

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/notes"
)

// RelFunc maps an absolute note path to the catalog key.
type RelFunc func(path string) (string, error)

// Mirror keeps the catalog in step with a notes.Index. It is a
// notes.Suspender: while suspended it buffers changes and writes the whole
// batch in one transaction when resumed.
type Mirror struct {
	db     *DB
	rel    RelFunc
	logger *slog.Logger

	mu        sync.Mutex
	suspended int
	pending   []notes.Change
}

var _ notes.Suspender = (*Mirror)(nil)

// NewMirror creates a mirror writing into db.
func NewMirror(db *DB, rel RelFunc, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{db: db, rel: rel, logger: logger}
}

// Attach subscribes the mirror to x and returns the unsubscribe function.
func (m *Mirror) Attach(x *notes.Index) func() {
	return x.Subscribe(m.Observe)
}

// Observe applies changes now, or buffers them while suspended.
func (m *Mirror) Observe(changes []notes.Change) {
	m.mu.Lock()
	if m.suspended > 0 {
		m.pending = append(m.pending, changes...)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.apply(changes)
}

// Suspend starts buffering. Calls nest.
func (m *Mirror) Suspend() {
	m.mu.Lock()
	m.suspended++
	m.mu.Unlock()
}

// Unsuspend ends one Suspend; the outermost call writes the buffer.
func (m *Mirror) Unsuspend() {
	m.mu.Lock()
	if m.suspended == 0 {
		m.mu.Unlock()
		return
	}
	m.suspended--
	if m.suspended > 0 || len(m.pending) == 0 {
		m.mu.Unlock()
		return
	}
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	m.apply(batch)
}

func (m *Mirror) apply(changes []notes.Change) {
	if len(changes) == 0 {
		return
	}
	err := m.db.Update(func(tx *Tx) error {
		for _, c := range changes {
			if err := m.applyOne(tx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("catalog: apply failed", slog.Int("changes", len(changes)), slog.String("error", err.Error()))
		return
	}
	m.logger.Debug("catalog: applied", slog.Int("changes", len(changes)))
}

func (m *Mirror) applyOne(tx *Tx, c notes.Change) error {
	switch c.Kind {
	case notes.ChangeCreated, notes.ChangeUpdated:
		return m.upsert(tx, c.Note)
	case notes.ChangeRenamed:
		if old, ok := m.key(c.OldPath); ok {
			if err := tx.Delete(old); err != nil {
				return err
			}
		}
		return m.upsert(tx, c.Note)
	case notes.ChangeDeleted:
		if k, ok := m.key(c.Path); ok {
			return tx.Delete(k)
		}
		return nil
	case notes.ChangeReset:
		return m.reset(tx, c.Notes)
	default:
		return fmt.Errorf("catalog: unknown change %q", c.Kind)
	}
}

// reset makes the catalog hold exactly list: notes whose checksum is
// unchanged are left alone, stale rows are removed.
func (m *Mirror) reset(tx *Tx, list []*models.Note) error {
	stored, err := tx.Checksums()
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(list))
	written := 0
	for _, n := range list {
		k, ok := m.key(n.Path)
		if !ok {
			continue
		}
		seen[k] = struct{}{}
		if cs, ok := stored[k]; ok && cs != "" && cs == n.Checksum {
			continue
		}
		if err := tx.Upsert(rowFor(k, n)); err != nil {
			return err
		}
		written++
	}

	removed := 0
	for k := range stored {
		if _, ok := seen[k]; ok {
			continue
		}
		if err := tx.Delete(k); err != nil {
			return err
		}
		removed++
	}

	m.logger.Info("catalog: reset",
		slog.Int("notes", len(seen)),
		slog.Int("written", written),
		slog.Int("removed", removed))
	return nil
}

func (m *Mirror) upsert(tx *Tx, n *models.Note) error {
	if n == nil {
		return nil
	}
	k, ok := m.key(n.Path)
	if !ok {
		return nil
	}
	return tx.Upsert(rowFor(k, n))
}

func (m *Mirror) key(p string) (string, bool) {
	k, err := m.rel(p)
	if err != nil {
		m.logger.Warn("catalog: path outside root", slog.String("path", p), slog.String("error", err.Error()))
		return "", false
	}
	return k, true
}

func rowFor(key string, n *models.Note) Row {
	return Row{
		Path:      key,
		Title:     n.Title,
		Checksum:  n.Checksum,
		Tags:      n.Tags,
		Body:      n.Body,
		Links:     n.Links,
		UpdatedAt: n.ModTime,
	}
}

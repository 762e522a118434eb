package notes

import (
	"fmt"
	"sort"
	"sync"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
)

// ChangeKind classifies an index mutation delivered to observers.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeRenamed ChangeKind = "renamed"
	ChangeDeleted ChangeKind = "deleted"
	ChangeReset   ChangeKind = "reset"
)

// Change describes one index mutation. For ChangeRenamed, OldPath is the
// path that was removed. For ChangeReset, Notes holds the full new contents
// sorted by path and Path is empty.
type Change struct {
	Kind    ChangeKind
	Path    string
	OldPath string
	Note    *models.Note
	Notes   []*models.Note
}

// Observer receives batches of changes. While the index is suspended the
// batch holds every change since the outermost Suspend.
type Observer func(changes []Change)

// Index is the authoritative in-memory mapping from note path to note.
//
// Notes stored in the index are never mutated after insertion; readers may
// keep the pointers they get from Get and Snapshot.
type Index struct {
	mu      sync.RWMutex
	notes   map[string]*models.Note
	version uint64

	notifyMu  sync.Mutex
	observers map[int]Observer
	nextObs   int
	suspended int
	pending   []Change
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		notes:     make(map[string]*models.Note),
		observers: make(map[int]Observer),
	}
}

// Get returns the note stored at path.
func (x *Index) Get(path string) (*models.Note, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n, ok := x.notes[path]
	return n, ok
}

// Len returns the number of indexed notes.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.notes)
}

// Version increases on every mutation; a changed version means the index is dirty
// relative to whoever recorded the previous value.
func (x *Index) Version() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.version
}

// Snapshot returns a copy of the path → note mapping.
func (x *Index) Snapshot() map[string]*models.Note {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]*models.Note, len(x.notes))
	for p, n := range x.notes {
		out[p] = n
	}
	return out
}

// Add inserts note. If a note already exists at its path the index is left
// untouched and apperr.ErrAlreadyExists is returned.
func (x *Index) Add(note *models.Note) error {
	if note == nil || note.Path == "" {
		return fmt.Errorf("notes: index: add: empty note")
	}
	x.mu.Lock()
	if _, ok := x.notes[note.Path]; ok {
		x.mu.Unlock()
		return fmt.Errorf("notes: index: add %s: %w", note.Path, apperr.ErrAlreadyExists)
	}
	x.notes[note.Path] = note
	x.version++
	x.mu.Unlock()

	x.emit(Change{Kind: ChangeCreated, Path: note.Path, Note: note})
	return nil
}

// Replace swaps prev for next in one step: the entry at prev.Path is removed
// when the paths differ and next is stored at next.Path. Readers never see a
// state holding both or neither.
func (x *Index) Replace(prev, next *models.Note) error {
	if prev == nil || next == nil || next.Path == "" {
		return fmt.Errorf("notes: index: replace: empty note")
	}
	x.mu.Lock()
	if prev.Path != next.Path {
		delete(x.notes, prev.Path)
	}
	x.notes[next.Path] = next
	x.version++
	x.mu.Unlock()

	if prev.Path == next.Path {
		x.emit(Change{Kind: ChangeUpdated, Path: next.Path, Note: next})
	} else {
		x.emit(Change{Kind: ChangeRenamed, Path: next.Path, OldPath: prev.Path, Note: next})
	}
	return nil
}

// Delete removes the entry for note.Path. notify=false removes the entry
// without informing observers.
func (x *Index) Delete(note *models.Note, notify bool) error {
	if note == nil {
		return fmt.Errorf("notes: index: delete: empty note")
	}
	x.mu.Lock()
	if _, ok := x.notes[note.Path]; !ok {
		x.mu.Unlock()
		return fmt.Errorf("notes: index: delete %s: %w", note.Path, apperr.ErrNotFound)
	}
	delete(x.notes, note.Path)
	x.version++
	x.mu.Unlock()

	if notify {
		x.emit(Change{Kind: ChangeDeleted, Path: note.Path, Note: note})
	}
	return nil
}

// Set replaces the entire contents with notes.
func (x *Index) Set(notes map[string]*models.Note) {
	next := make(map[string]*models.Note, len(notes))
	for p, n := range notes {
		next[p] = n
	}
	x.mu.Lock()
	x.notes = next
	x.version++
	x.mu.Unlock()

	x.emit(Change{Kind: ChangeReset, Notes: sortedNotes(next)})
}

// Subscribe registers fn and returns a function that removes it.
func (x *Index) Subscribe(fn Observer) (unsubscribe func()) {
	x.notifyMu.Lock()
	id := x.nextObs
	x.nextObs++
	x.observers[id] = fn
	x.notifyMu.Unlock()

	return func() {
		x.notifyMu.Lock()
		delete(x.observers, id)
		x.notifyMu.Unlock()
	}
}

// Suspend defers observer notification until the matching Unsuspend.
// Calls nest.
func (x *Index) Suspend() {
	x.notifyMu.Lock()
	x.suspended++
	x.notifyMu.Unlock()
}

// Unsuspend ends one Suspend. The outermost call delivers every change
// accumulated while suspended as a single batch.
func (x *Index) Unsuspend() {
	x.notifyMu.Lock()
	if x.suspended == 0 {
		x.notifyMu.Unlock()
		return
	}
	x.suspended--
	if x.suspended > 0 || len(x.pending) == 0 {
		x.notifyMu.Unlock()
		return
	}
	batch := x.pending
	x.pending = nil
	observers := x.observerList()
	x.notifyMu.Unlock()

	deliver(observers, batch)
}

// Suspended reports whether notifications are currently deferred.
func (x *Index) Suspended() bool {
	x.notifyMu.Lock()
	defer x.notifyMu.Unlock()
	return x.suspended > 0
}

func (x *Index) emit(c Change) {
	x.notifyMu.Lock()
	if x.suspended > 0 {
		x.pending = append(x.pending, c)
		x.notifyMu.Unlock()
		return
	}
	observers := x.observerList()
	x.notifyMu.Unlock()

	deliver(observers, []Change{c})
}

// observerList returns observers in subscription order. Caller holds notifyMu.
func (x *Index) observerList() []Observer {
	ids := make([]int, 0, len(x.observers))
	for id := range x.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Observer, len(ids))
	for i, id := range ids {
		out[i] = x.observers[id]
	}
	return out
}

func deliver(observers []Observer, batch []Change) {
	for _, fn := range observers {
		fn(batch)
	}
}

func sortedNotes(m map[string]*models.Note) []*models.Note {
	out := make([]*models.Note, 0, len(m))
	for _, n := range m {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

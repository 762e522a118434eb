package catalog

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/notes"
)

const root = "/vault/"

func testRel(p string) (string, error) {
	if !strings.HasPrefix(p, root) {
		return "", fmt.Errorf("%s outside %s", p, root)
	}
	return strings.TrimPrefix(p, root), nil
}

func newTestMirror(t *testing.T) (*Mirror, *notes.Index, *DB) {
	t.Helper()
	db := testDB(t)
	m := NewMirror(db, testRel, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	x := notes.NewIndex()
	t.Cleanup(m.Attach(x))
	return m, x, db
}

func note(name, body string) *models.Note {
	return &models.Note{Path: root + name, Body: body, Checksum: "cs-" + body, Links: []string{"target"}}
}

func count(t *testing.T, db *DB) int {
	t.Helper()
	n, err := db.Count()
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestMirror_AppliesImmediatelyWhenNotSuspended(t *testing.T) {
	_, x, db := newTestMirror(t)

	a := note("a.md", "one")
	_ = x.Add(a)
	if cs, _ := db.GetChecksum("a.md"); cs != "cs-one" {
		t.Errorf("checksum = %q", cs)
	}

	b := note("sub/b.md", "one")
	_ = x.Replace(a, b)
	if cs, _ := db.GetChecksum("a.md"); cs != "" {
		t.Error("renamed source still catalogued")
	}
	if cs, _ := db.GetChecksum("sub/b.md"); cs != "cs-one" {
		t.Error("renamed target not catalogued")
	}

	_ = x.Delete(b, true)
	if count(t, db) != 0 {
		t.Error("delete not mirrored")
	}
}

func TestMirror_BuffersWhileSuspended(t *testing.T) {
	m, x, db := newTestMirror(t)

	m.Suspend()
	x.Suspend()
	_ = x.Add(note("a.md", "a"))
	_ = x.Add(note("b.md", "b"))
	x.Unsuspend()

	if count(t, db) != 0 {
		t.Fatal("catalog written while suspended")
	}
	m.Unsuspend()

	if count(t, db) != 2 {
		t.Errorf("count = %d, want 2", count(t, db))
	}
	bl, _ := db.Backlinks("target")
	if len(bl) != 2 {
		t.Errorf("backlinks = %v", bl)
	}
}

func TestMirror_ResetRewritesCatalog(t *testing.T) {
	_, x, db := newTestMirror(t)
	_ = x.Add(note("stale.md", "s"))
	_ = x.Add(note("keep.md", "k"))

	x.Set(map[string]*models.Note{
		root + "keep.md":  note("keep.md", "k"),
		root + "fresh.md": note("fresh.md", "f"),
	})

	if cs, _ := db.GetChecksum("stale.md"); cs != "" {
		t.Error("stale note survived reset")
	}
	if cs, _ := db.GetChecksum("fresh.md"); cs != "cs-f" {
		t.Error("fresh note missing after reset")
	}
	if count(t, db) != 2 {
		t.Errorf("count = %d, want 2", count(t, db))
	}
}

func TestMirror_SkipsPathsOutsideRoot(t *testing.T) {
	_, x, db := newTestMirror(t)
	_ = x.Add(&models.Note{Path: "/elsewhere/x.md", Checksum: "x"})
	_ = x.Add(note("in.md", "in"))
	if count(t, db) != 1 {
		t.Errorf("count = %d, want 1", count(t, db))
	}
}

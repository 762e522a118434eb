package notes

import (
	"errors"
	"testing"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
)

func TestIndex_AddGetDelete(t *testing.T) {
	x := NewIndex()
	n := &models.Note{Path: "/v/a.md", Body: "a"}

	if err := x.Add(n); err != nil {
		t.Fatal(err)
	}
	if err := x.Add(&models.Note{Path: "/v/a.md"}); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("second add: got %v, want ErrAlreadyExists", err)
	}
	got, ok := x.Get("/v/a.md")
	if !ok || got.Body != "a" {
		t.Fatalf("get = %+v, %v", got, ok)
	}

	if err := x.Delete(n, true); err != nil {
		t.Fatal(err)
	}
	if err := x.Delete(n, true); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
	if x.Len() != 0 {
		t.Errorf("len = %d, want 0", x.Len())
	}
}

func TestIndex_ReplaceRename(t *testing.T) {
	x := NewIndex()
	old := &models.Note{Path: "/v/old.md", Body: "x"}
	_ = x.Add(old)

	var got []Change
	x.Subscribe(func(cs []Change) { got = append(got, cs...) })

	next := &models.Note{Path: "/v/new.md", Body: "x"}
	if err := x.Replace(old, next); err != nil {
		t.Fatal(err)
	}
	if _, ok := x.Get("/v/old.md"); ok {
		t.Error("old path still indexed")
	}
	if _, ok := x.Get("/v/new.md"); !ok {
		t.Error("new path not indexed")
	}
	if len(got) != 1 || got[0].Kind != ChangeRenamed || got[0].OldPath != "/v/old.md" {
		t.Errorf("changes = %+v", got)
	}
}

func TestIndex_DeleteWithoutNotify(t *testing.T) {
	x := NewIndex()
	n := &models.Note{Path: "/v/a.md"}
	_ = x.Add(n)

	calls := 0
	x.Subscribe(func([]Change) { calls++ })
	if err := x.Delete(n, false); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("observer called %d times, want 0", calls)
	}
}

func TestIndex_SuspendBatchesNotifications(t *testing.T) {
	x := NewIndex()
	var batches [][]Change
	x.Subscribe(func(cs []Change) { batches = append(batches, cs) })

	x.Suspend()
	x.Suspend()
	_ = x.Add(&models.Note{Path: "/v/a.md"})
	_ = x.Add(&models.Note{Path: "/v/b.md"})
	x.Unsuspend()
	if len(batches) != 0 {
		t.Fatalf("delivered while still suspended: %v", batches)
	}
	x.Unsuspend()

	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches = %v, want one batch of 2", batches)
	}
	if batches[0][0].Path != "/v/a.md" || batches[0][1].Path != "/v/b.md" {
		t.Errorf("batch out of order: %+v", batches[0])
	}
	if x.Suspended() {
		t.Error("still suspended")
	}
}

func TestIndex_SetEmitsReset(t *testing.T) {
	x := NewIndex()
	_ = x.Add(&models.Note{Path: "/v/stale.md"})
	v := x.Version()

	var got []Change
	unsubscribe := x.Subscribe(func(cs []Change) { got = append(got, cs...) })

	x.Set(map[string]*models.Note{
		"/v/b.md": {Path: "/v/b.md"},
		"/v/a.md": {Path: "/v/a.md"},
	})
	if x.Version() == v {
		t.Error("version not bumped")
	}
	if _, ok := x.Get("/v/stale.md"); ok {
		t.Error("stale entry survived Set")
	}
	if len(got) != 1 || got[0].Kind != ChangeReset || len(got[0].Notes) != 2 || got[0].Notes[0].Path != "/v/a.md" {
		t.Errorf("changes = %+v", got)
	}

	unsubscribe()
	x.Set(nil)
	if len(got) != 1 {
		t.Error("observer called after unsubscribe")
	}
}

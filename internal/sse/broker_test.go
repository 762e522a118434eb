package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/notes"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "note.created", Data: map[string]string{"path": "a.md"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: note.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"a.md"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishChanges_IndexThrottle(t *testing.T) {
	b := NewBroker(500*time.Millisecond, func(p string) (string, error) {
		return strings.TrimPrefix(p, "/vault/"), nil
	})
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// The first batch triggers index.updated, the second falls inside the throttle window.
	b.PublishChanges([]notes.Change{
		{Kind: notes.ChangeCreated, Path: "/vault/a.md"},
		{Kind: notes.ChangeRenamed, Path: "/vault/c.md", OldPath: "/vault/b.md"},
	})
	b.PublishChanges([]notes.Change{{Kind: notes.ChangeDeleted, Path: "/vault/c.md"}})

	time.Sleep(50 * time.Millisecond)
	var msgs []string
loop:
	for {
		select {
		case msg := <-ch:
			msgs = append(msgs, string(msg))
		default:
			break loop
		}
	}

	indexCount, noteCount := 0, 0
	for _, s := range msgs {
		if strings.Contains(s, "index.updated") {
			indexCount++
		} else {
			noteCount++
		}
	}
	if noteCount != 3 {
		t.Errorf("note events = %d, want 3: %v", noteCount, msgs)
	}
	if indexCount != 1 {
		t.Errorf("index events = %d, want 1 (throttled)", indexCount)
	}
	if len(msgs) < 2 || !strings.Contains(msgs[1], "event: note.renamed") || !strings.Contains(msgs[1], `"old_path":"b.md"`) {
		t.Errorf("rename event malformed: %v", msgs)
	}
}

func TestPublishChanges_Reset(t *testing.T) {
	b := NewBroker(time.Hour, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishChanges([]notes.Change{{Kind: notes.ChangeReset, Notes: make([]*models.Note, 3)}})

	select {
	case msg := <-ch:
		if s := string(msg); !strings.Contains(s, "event: index.reset") || !strings.Contains(s, `"notes":3`) {
			t.Errorf("unexpected message %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for reset event")
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "note.updated", Data: map[string]string{"path": "x.md"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: note.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second, nil)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100*time.Millisecond, nil)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "note.updated", Data: map[string]string{"path": "x.md"}})
	b.PublishChanges([]notes.Change{{Kind: notes.ChangeUpdated, Path: "x.md"}})
}

// Package sse streams note index changes to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/quill/internal/notes"
)

// Event is one SSE message.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// RelFunc maps an absolute note path to the path shown to clients.
type RelFunc func(path string) (string, error)

// Broker manages SSE client connections and broadcasts events.
//
// A single internal loop owns the client set and the index.updated throttle;
// public methods talk to it over channels.
type Broker struct {
	indexMin time.Duration
	rel      RelFunc

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	batchCh       chan []Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits index.updated at most once per
// indexThrottle. rel may be nil, in which case paths are sent as is.
func NewBroker(indexThrottle time.Duration, rel RelFunc) *Broker {
	if indexThrottle <= 0 {
		indexThrottle = 2 * time.Second
	}
	if rel == nil {
		rel = func(p string) (string, error) { return p, nil }
	}

	b := &Broker{
		indexMin:      indexThrottle,
		rel:           rel,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		batchCh:       make(chan []Event, 64),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastIndex time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case events := <-b.batchCh:
			for _, e := range events {
				broadcast(e)
			}
			now := time.Now()
			if now.Sub(lastIndex) >= b.indexMin {
				lastIndex = now
				broadcast(Event{Type: "index.updated", Data: map[string]int{"changes": len(events)}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// Attach subscribes the broker to x and returns the unsubscribe function.
func (b *Broker) Attach(x *notes.Index) func() {
	return x.Subscribe(b.PublishChanges)
}

// PublishChanges turns one delivered batch of index changes into note.*
// events followed by a throttled index.updated.
func (b *Broker) PublishChanges(changes []notes.Change) {
	if b.closed.Load() || len(changes) == 0 {
		return
	}
	events := make([]Event, 0, len(changes))
	for _, c := range changes {
		if e, ok := b.eventFor(c); ok {
			events = append(events, e)
		}
	}
	select {
	case b.batchCh <- events:
	case <-b.stopped:
	}
}

func (b *Broker) eventFor(c notes.Change) (Event, bool) {
	if c.Kind == notes.ChangeReset {
		return Event{Type: "index.reset", Data: map[string]int{"notes": len(c.Notes)}}, true
	}
	p, err := b.rel(c.Path)
	if err != nil {
		return Event{}, false
	}
	data := map[string]string{"path": p}
	if c.Kind == notes.ChangeRenamed {
		if old, err := b.rel(c.OldPath); err == nil {
			data["old_path"] = old
		}
	}
	return Event{Type: "note." + string(c.Kind), Data: data}, true
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}

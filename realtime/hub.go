package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"localloop/core"
)

type subscriber struct {
	ch   chan core.Event
	user core.UserID
}

// Hub fans impact events out to live subscribers such as WebSocket clients.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

// Subscribe registers a buffered receiver. A non-empty user restricts it to
// that user's events.
func (h *Hub) Subscribe(buffer int, user core.UserID) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan core.Event, buffer)
	h.subs[id] = subscriber{ch: ch, user: user}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Subscribers reports how many receivers are connected.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.user != "" && s.user != ev.UserID {
			continue
		}
		select {
		case s.ch <- ev:
		default: /* drop if full */
		}
	}
}

// Frame is what clients receive: the event plus a display hint for the
// badge celebration screen.
type Frame struct {
	core.Event
	Celebrate bool   `json:"celebrate"`
	Message   string `json:"message,omitempty"`
}

func NewFrame(ev core.Event) Frame {
	f := Frame{Event: ev}
	switch ev.Type {
	case core.EventBadgeUnlocked:
		f.Celebrate = true
		f.Message = fmt.Sprintf("You unlocked the %s badge!", ev.Badge)
	case core.EventImpactRecorded:
		f.Message = fmt.Sprintf("+%d impact points", ev.Delta)
	}
	return f
}

// MarshalJSON is a helper to convert events to frame JSON for WebSocket/SSE.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(NewFrame(ev))
	return b
}

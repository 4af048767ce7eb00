package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBacklog = 256
	liveBuffer     = 128
)

// Hub fans published events out to subscribers and keeps the most recent ones
// for clients that reconnect. A nil *Hub discards everything.
type Hub struct {
	mu      sync.Mutex
	seq     int64
	backlog []Event
	keep    int
	subs    map[*Subscription]struct{}
}

// NewHub returns a Hub that retains the last keep events.
func NewHub(keep int) *Hub {
	if keep <= 0 {
		keep = defaultBacklog
	}
	return &Hub{
		backlog: make([]Event, 0, keep),
		keep:    keep,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Subscription receives events published after it was created.
type Subscription struct {
	// C delivers live events. It is closed by Close.
	C <-chan Event
	// Replay holds retained events newer than the id passed to Follow.
	Replay []Event

	hub     *Hub
	ch      chan Event
	dropped atomic.Int64
	once    sync.Once
}

// Dropped counts live events discarded because C was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close detaches the subscription and closes C. It may be called repeatedly.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

// Publish records an event of the given type. data is JSON-encoded; nil or
// unencodable data becomes an empty object.
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	ev := Event{ID: h.seq, Type: eventType, At: time.Now().UTC(), Data: payload}

	if len(h.backlog) == h.keep {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:h.keep-1]
	}
	h.backlog = append(h.backlog, ev)

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe follows live events only.
func (h *Hub) Subscribe() *Subscription {
	return h.attach(-1)
}

// Follow replays retained events with an ID above after and then follows live
// ones. No event is both replayed and delivered on C, and none falls between.
func (h *Hub) Follow(after int64) *Subscription {
	return h.attach(after)
}

func (h *Hub) attach(after int64) *Subscription {
	ch := make(chan Event, liveBuffer)
	sub := &Subscription{C: ch, hub: h, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if after >= 0 {
		sub.Replay = h.sinceLocked(after)
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Backlog returns retained events with an ID above after, oldest first.
func (h *Hub) Backlog(after int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sinceLocked(after)
}

func (h *Hub) sinceLocked(after int64) []Event {
	// IDs in the backlog are consecutive, so the first wanted index is direct.
	skip := 0
	if n := len(h.backlog); n > 0 {
		skip = int(after - h.backlog[0].ID + 1)
		skip = max(0, min(skip, n))
	}
	return append([]Event(nil), h.backlog[skip:]...)
}

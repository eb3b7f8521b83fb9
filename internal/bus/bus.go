// Package bus delivers realtime batch events to attached owners and mirrors
// them to optional external sinks.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event is one realtime notification addressed to a single owner.
type Event struct {
	Owner     string    `json:"owner"`
	Name      string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode renders the event as JSON.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher emits owner-scoped events. Delivery is best-effort and never
// blocks the caller.
type Publisher interface {
	Publish(owner, event string, payload any)
}

// Sink receives a copy of every published event.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt Event) error
	Close() error
}

// Subscription is one attached listener.
type Subscription struct {
	C     <-chan Event
	owner string
	id    uint64
	ch    chan Event
}

// Hub fans events out to the subscribers of each owner. A subscriber whose
// buffer is full misses the event.
type Hub struct {
	buffer int
	sinkCh chan Event

	mu     sync.RWMutex
	subs   map[string]map[uint64]chan Event
	nextID uint64
	sinks  []Sink
}

// NewHub creates a hub with the given per-subscriber buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		buffer: buffer,
		sinkCh: make(chan Event, 256),
		subs:   make(map[string]map[uint64]chan Event),
	}
}

// AddSink registers an external sink. Sinks only receive events while
// DispatchSinks runs.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
	slog.Info("Event sink registered", "sink", s.Name())
}

// Subscribe attaches a listener for owner.
func (h *Hub) Subscribe(owner string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan Event, h.buffer)
	if h.subs[owner] == nil {
		h.subs[owner] = make(map[uint64]chan Event)
	}
	h.subs[owner][h.nextID] = ch
	return &Subscription{C: ch, owner: owner, id: h.nextID, ch: ch}
}

// Unsubscribe detaches a listener and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	owned := h.subs[sub.owner]
	if _, ok := owned[sub.id]; !ok {
		return
	}
	delete(owned, sub.id)
	if len(owned) == 0 {
		delete(h.subs, sub.owner)
	}
	close(sub.ch)
}

// Subscribers returns the number of listeners attached for owner.
func (h *Hub) Subscribers(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[owner])
}

// Publish implements Publisher.
func (h *Hub) Publish(owner, event string, payload any) {
	evt := Event{Owner: owner, Name: event, Payload: payload, Timestamp: time.Now()}

	h.mu.RLock()
	for _, ch := range h.subs[owner] {
		select {
		case ch <- evt:
		default:
			slog.Debug("Event dropped for slow subscriber", "owner", owner, "event", event)
		}
	}
	hasSinks := len(h.sinks) > 0
	h.mu.RUnlock()

	if !hasSinks {
		return
	}
	select {
	case h.sinkCh <- evt:
	default:
		slog.Warn("Event sink queue full, dropping event", "owner", owner, "event", event)
	}
}

// DispatchSinks forwards published events to every sink until ctx is
// cancelled, then closes the sinks. Run it as a goroutine.
func (h *Hub) DispatchSinks(ctx context.Context) error {
	defer func() {
		h.mu.RLock()
		sinks := h.sinks
		h.mu.RUnlock()
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				slog.Warn("Event sink close failed", "sink", s.Name(), "error", err)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-h.sinkCh:
			h.mu.RLock()
			sinks := h.sinks
			h.mu.RUnlock()

			for _, s := range sinks {
				dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				if err := s.Deliver(dctx, evt); err != nil {
					slog.Warn("Event sink delivery failed", "sink", s.Name(), "event", evt.Name, "error", err)
				}
				cancel()
			}
		}
	}
}

// PendingSinkEvents returns the number of events waiting for sinks.
func (h *Hub) PendingSinkEvents() int {
	return len(h.sinkCh)
}

// Package timeline is the append-only debug event log of the capture engine.
// Events are fire-and-forget: the engine never blocks on a sink and never
// reads events back; they exist for offline post-mortem diagnosis only.
package timeline

import (
	"sync"
	"time"
)

// Event is one debug timeline entry
type Event struct {
	Type      string         `json:"type"`
	Origin    string         `json:"origin"`
	At        time.Time      `json:"at"`
	Monotonic time.Duration  `json:"monotonic_ms"`
	Seq       uint64         `json:"seq"`
	SessionID string         `json:"session_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Sink receives timeline events. Implementations must not block; a slow
// consumer drops events rather than stalling the engine.
type Sink interface {
	Emit(Event)
}

// NopSink discards every event
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MemorySink keeps the most recent events in a ring buffer and fans out live
// events to subscribers, dropping when a subscriber falls behind.
type MemorySink struct {
	mu        sync.RWMutex
	buf       []Event
	max       int
	listeners map[chan Event]struct{}
}

// NewMemorySink creates a sink retaining at most max events
func NewMemorySink(max int) *MemorySink {
	if max <= 0 {
		max = 1024
	}
	return &MemorySink{
		max:       max,
		listeners: make(map[chan Event]struct{}),
	}
}

// Emit appends the event and notifies subscribers without blocking
func (s *MemorySink) Emit(ev Event) {
	s.mu.Lock()
	s.buf = append(s.buf, ev)
	if len(s.buf) > s.max {
		s.buf = s.buf[len(s.buf)-s.max:]
	}
	for ch := range s.listeners {
		select {
		case ch <- ev:
		default:
			// Subscriber is slow, skip this event
		}
	}
	s.mu.Unlock()
}

// Events returns a snapshot of the retained events
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.buf))
	copy(out, s.buf)
	return out
}

// Subscribe registers a listener for live events
func (s *MemorySink) Subscribe() chan Event {
	ch := make(chan Event, 32)
	s.mu.Lock()
	s.listeners[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a listener
func (s *MemorySink) Unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[ch]; ok {
		delete(s.listeners, ch)
		close(ch)
	}
}

package timeline

import (
	"fmt"
	"testing"
)

func TestMemorySinkRetainsMostRecent(t *testing.T) {
	s := NewMemorySink(3)
	for i := 0; i < 5; i++ {
		s.Emit(Event{Type: fmt.Sprintf("ev-%d", i), Seq: uint64(i)})
	}
	got := s.Events()
	if len(got) != 3 {
		t.Fatalf("retained %d events, want 3", len(got))
	}
	if got[0].Seq != 2 || got[2].Seq != 4 {
		t.Errorf("retained wrong window: first seq %d, last seq %d", got[0].Seq, got[2].Seq)
	}
}

func TestSubscribeReceivesLiveEvents(t *testing.T) {
	s := NewMemorySink(16)
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	s.Emit(Event{Type: "start"})
	select {
	case ev := <-ch:
		if ev.Type != "start" {
			t.Errorf("got event %q, want start", ev.Type)
		}
	default:
		t.Fatal("subscriber did not receive the event")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	s := NewMemorySink(16)
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	// Overflow the subscriber buffer; Emit must never block.
	for i := 0; i < 100; i++ {
		s.Emit(Event{Seq: uint64(i)})
	}
	if len(ch) != cap(ch) {
		t.Errorf("subscriber channel holds %d events, want full buffer %d", len(ch), cap(ch))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := NewMemorySink(4)
	ch := s.Subscribe()
	s.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
	// Double unsubscribe must not panic.
	s.Unsubscribe(ch)
}

package realtime

import (
	"testing"
	"time"
)

func TestBroadcastFanOut(t *testing.T) {
	hub := NewFirehoseHub(4)

	id1, ch1 := hub.Register()
	defer hub.Unregister(id1)
	id2, ch2 := hub.Register()
	defer hub.Unregister(id2)

	hub.Broadcast(SearchEvent{Query: "velo", Section: "answers", Hits: 3, At: time.Now()})

	for i, ch := range []<-chan InternalEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != "search" || ev.Search.Query != "velo" {
				t.Errorf("listener %d got %+v", i, ev)
			}
		default:
			t.Errorf("listener %d received nothing", i)
		}
	}
}

func TestBroadcastDropsForSlowListener(t *testing.T) {
	hub := NewFirehoseHub(1)

	id, ch := hub.Register()
	defer hub.Unregister(id)

	// Second event overflows the buffer and must be dropped, not block.
	hub.Broadcast(SearchEvent{Query: "first"})
	hub.Broadcast(SearchEvent{Query: "second"})

	ev := <-ch
	if ev.Search.Query != "first" {
		t.Errorf("got %q, want first", ev.Search.Query)
	}
	select {
	case ev := <-ch:
		t.Errorf("unexpected second event %+v", ev)
	default:
	}
}

func TestUnregisterClosesChannel(t *testing.T) {
	hub := NewFirehoseHub(1)

	id, ch := hub.Register()
	if hub.Size() != 1 {
		t.Fatalf("Size = %d, want 1", hub.Size())
	}

	hub.Unregister(id)
	if hub.Size() != 0 {
		t.Errorf("Size = %d, want 0", hub.Size())
	}

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unregister")
	}

	// Double unregister is a no-op.
	hub.Unregister(id)
}

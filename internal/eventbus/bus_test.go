package eventbus

import (
	"testing"
	"time"
)

func TestPublishFiltersByPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	state, unsubState := b.Subscribe(4, "dispatch.state")
	defer unsubState()

	b.Publish(Event{Type: "dispatch.progress", RunID: "r1"})
	b.Publish(Event{Type: "dispatch.state", RunID: "r1"})

	if got := len(all); got != 2 {
		t.Fatalf("all subscriber got %d events, want 2", got)
	}
	if got := len(state); got != 1 {
		t.Fatalf("state subscriber got %d events, want 1", got)
	}
	e := <-state
	if e.Type != "dispatch.state" || e.Time.IsZero() {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: "x"})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
	if len(ch) != 1 {
		t.Fatalf("buffer len = %d, want 1", len(ch))
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "x"})
}

package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: CycleStarted})
	b.Publish(Event{Type: CycleSucceeded})

	if got := (<-a).Type; got != CycleStarted {
		t.Fatalf("a got %q, want %q", got, CycleStarted)
	}
	if len(c) != 2 {
		t.Fatalf("c buffered %d events, want 2", len(c))
	}
	if b.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", b.Dropped())
	}
	ev := <-c
	if ev.Time.IsZero() {
		t.Fatal("Publish should stamp zero times")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	b.Publish(Event{Type: CycleFailed})
}

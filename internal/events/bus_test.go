package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	// Must not panic.
	b.Publish(New("user-1", KindAgentTyping, nil))
}

func TestNilBusSubscriberCount(t *testing.T) {
	var b *Bus
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestPublishSingleSubscriber(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(8)
	defer b.Unsubscribe(ch)

	want := New("user-1", KindAgentStream, map[string]any{"chunk": "Creating the page."})
	b.Publish(want)

	select {
	case got := <-ch:
		if got.User != want.User || got.Kind != want.Kind {
			t.Errorf("got event %v, want %v", got, want)
		}
		chunk, ok := got.Data["chunk"].(string)
		if !ok || chunk != "Creating the page." {
			t.Errorf("got chunk %v, want %q", got.Data["chunk"], "Creating the page.")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishStampsTimestamp(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{User: "user-1", Kind: KindPreviewRebuilt})
	got := <-ch
	if got.Timestamp.IsZero() {
		t.Error("expected timestamp to be stamped on publish")
	}
}

func TestPublishMultipleSubscribers(t *testing.T) {
	b := NewBus()
	const n = 5
	channels := make([]<-chan Event, n)
	for i := range n {
		channels[i] = b.Subscribe(8)
	}
	defer func() {
		for _, ch := range channels {
			b.Unsubscribe(ch)
		}
	}()

	evt := New("user-1", KindDeployStatus, map[string]any{"status": "deploying"})
	b.Publish(evt)

	for i, ch := range channels {
		select {
		case got := <-ch:
			if got.User != evt.User || got.Kind != evt.Kind {
				t.Errorf("subscriber %d: got %v, want %v", i, got, evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestDropOnFull(t *testing.T) {
	b := NewBus()
	// Buffer size 1 — second publish should be dropped.
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(New("user-1", "first", nil))
	b.Publish(New("user-1", "second", nil))

	got := <-ch
	if got.Kind != "first" {
		t.Errorf("got kind %q, want %q", got.Kind, "first")
	}

	select {
	case evt := <-ch:
		t.Errorf("expected empty channel, got event %v", evt)
	default:
		// Correct — channel is empty.
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(8)

	b.Unsubscribe(ch)

	_, ok := <-ch
	if ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}
}

func TestDoubleUnsubscribe(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(8)

	b.Unsubscribe(ch)
	// Must not panic.
	b.Unsubscribe(ch)
}

func TestSubscriberCount(t *testing.T) {
	b := NewBus()

	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("initial count = %d, want 0", got)
	}

	ch1 := b.Subscribe(4)
	ch2 := b.Subscribe(4)

	if got := b.SubscriberCount(); got != 2 {
		t.Errorf("after 2 subscribes = %d, want 2", got)
	}

	b.Unsubscribe(ch1)
	if got := b.SubscriberCount(); got != 1 {
		t.Errorf("after 1 unsubscribe = %d, want 1", got)
	}

	b.Unsubscribe(ch2)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("after all unsubscribed = %d, want 0", got)
	}
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := NewBus()
	const publishers = 10
	const eventsPerPublisher = 100

	var wg sync.WaitGroup

	ch := b.Subscribe(64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range ch {
			// Drops are expected; no exact count assertion.
		}
	}()

	var pubWg sync.WaitGroup
	for i := range publishers {
		pubWg.Add(1)
		go func() {
			defer pubWg.Done()
			for j := range eventsPerPublisher {
				b.Publish(New("user-1", KindAgentStream, map[string]any{"publisher": i, "seq": j}))
			}
		}()
	}

	pubWg.Wait()
	b.Unsubscribe(ch)
	wg.Wait()
}

func TestPublishNoSubscribers(t *testing.T) {
	b := NewBus()
	// Must not panic when publishing with no subscribers.
	b.Publish(New("user-1", KindProjectCreated, nil))
}

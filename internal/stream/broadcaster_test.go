package stream

import "testing"

func TestBroadcastFanOut(t *testing.T) {
	b := NewBroadcaster[string]()

	recv1 := b.Subscribe(8)
	recv2 := b.Subscribe(8)

	b.Publish("hello")

	if got := <-recv1.C; got != "hello" {
		t.Fatalf("recv1: unexpected %q", got)
	}
	if got := <-recv2.C; got != "hello" {
		t.Fatalf("recv2: unexpected %q", got)
	}
}

func TestClosedReceiverRemovedFromBroadcaster(t *testing.T) {
	b := NewBroadcaster[int]()

	recv1 := b.Subscribe(8)
	recv2 := b.Subscribe(8)

	// Close recv2 before publishing.
	recv2.Close()

	b.Publish(42)

	if got := <-recv1.C; got != 42 {
		t.Fatalf("unexpected %d", got)
	}

	b.mu.Lock()
	count := len(b.subscribers)
	b.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected 1 subscriber after cleanup, got %d", count)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroadcaster[int]()
	recv := b.Subscribe(1)

	// Nobody is reading; every publish past the first is dropped.
	for i := 0; i < 10; i++ {
		b.Publish(i)
	}

	if got := <-recv.C; got != 0 {
		t.Fatalf("expected first value retained, got %d", got)
	}
	if recv.Dropped() != 9 {
		t.Fatalf("expected 9 drops, got %d", recv.Dropped())
	}
}

func TestReceiverCloseClosesChannel(t *testing.T) {
	b := NewBroadcaster[int]()
	recv := b.Subscribe(8)
	recv.Close()
	if _, ok := <-recv.C; ok {
		t.Fatal("expected channel to be closed after receiver.Close()")
	}
}

func TestBroadcasterCloseClosesAllSubscribers(t *testing.T) {
	b := NewBroadcaster[int]()
	recv1 := b.Subscribe(8)
	recv2 := b.Subscribe(8)

	b.Close()

	if _, ok := <-recv1.C; ok {
		t.Fatal("recv1 channel should be closed")
	}
	if _, ok := <-recv2.C; ok {
		t.Fatal("recv2 channel should be closed")
	}
}

func TestSubscribeAfterCloseImmediatelyCloses(t *testing.T) {
	b := NewBroadcaster[int]()
	b.Close()

	recv := b.Subscribe(8)

	if _, ok := <-recv.C; ok {
		t.Fatal("channel should be closed")
	}
}

func TestDoubleCloseIsSafe(t *testing.T) {
	b := NewBroadcaster[int]()
	recv := b.Subscribe(1)
	recv.Close()
	recv.Close() // should not panic
	b.Close()
	b.Close()
}

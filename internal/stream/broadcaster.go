// Package stream provides a small fan-out primitive used for the connection
// state stream and the session event stream.  Publishing never blocks: each
// subscriber has a bounded buffer and updates are dropped (and counted) when
// a consumer falls behind.  The hot path must never wait on a slow UI.
package stream

import "sync"

// Broadcaster fans values out to any number of subscribers.
type Broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers []*subscriber[T]
	closed      bool
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{}
}

// Subscribe creates a new subscription and returns the receiving end.
// bufSize controls the channel buffer; values below 1 are clamped to 1 so
// a publish can never block.
func (b *Broadcaster[T]) Subscribe(bufSize int) *Receiver[T] {
	if bufSize < 1 {
		bufSize = 1
	}
	sub, recv := newSubscription[T](bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return recv
	}
	b.subscribers = append(b.subscribers, sub)
	return recv
}

// Publish delivers v to every live subscriber without blocking.  Closed
// subscribers are pruned as a side effect.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	alive := b.subscribers[:0]
	for _, sub := range b.subscribers {
		if sub.send(v) {
			alive = append(alive, sub)
		}
	}
	// Zero the tail so pruned subscribers can be collected.
	for i := len(alive); i < len(b.subscribers); i++ {
		b.subscribers[i] = nil
	}
	b.subscribers = alive
}

// Close shuts down the broadcaster and every subscription.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		sub.close()
	}
	b.subscribers = nil
}

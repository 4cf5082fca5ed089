package stream

import (
	"sync"
	"sync/atomic"
)

// subscriber is the sending side of a subscription held by the Broadcaster.
// mu serialises send against close so a receiver-side Close cannot race a
// concurrent publish into a closed channel.
type subscriber[T any] struct {
	mu      sync.Mutex
	c       chan T
	closed  bool
	dropped atomic.Uint64
}

// Receiver is the receiving end of a subscription held by the consumer.
type Receiver[T any] struct {
	C   <-chan T
	sub *subscriber[T]
}

func newSubscription[T any](bufSize int) (*subscriber[T], *Receiver[T]) {
	sub := &subscriber[T]{c: make(chan T, bufSize)}
	recv := &Receiver[T]{C: sub.c, sub: sub}
	return sub, recv
}

// send attempts a non-blocking delivery.  Returns false if the subscriber is
// closed; a full buffer counts as a drop, not a failure.
func (s *subscriber[T]) send(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.c <- v:
	default:
		s.dropped.Add(1)
	}
	return true
}

// close shuts down the subscription from the sending side.
func (s *subscriber[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.c)
	}
}

// Close shuts down the subscription from the receiving side.  The channel is
// closed; pending buffered values remain readable.
func (r *Receiver[T]) Close() {
	r.sub.close()
}

// Dropped reports how many values were discarded because the consumer fell
// behind.
func (r *Receiver[T]) Dropped() uint64 {
	return r.sub.dropped.Load()
}

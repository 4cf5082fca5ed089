// Package circuit guards the WebSocket dialer against hammering an
// unreachable inference server.  After a threshold of consecutive connect
// failures the breaker enters a cooldown during which explicit connect
// attempts are refused.
package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCooldown = errors.New("connect refused: breaker in cooldown")

type Breaker struct {
	mu        sync.RWMutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and stays open for cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a connect attempt may proceed.
func (b *Breaker) Allow() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if time.Now().Before(b.openUntil) {
		return fmt.Errorf("%w (%s remaining)", ErrCooldown, time.Until(b.openUntil).Round(time.Millisecond))
	}
	return nil
}

// RecordFailure counts one failed connect.  Returns true when the failure
// tripped the breaker into cooldown.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
		b.failures = 0
		return true
	}
	return false
}

// RecordSuccess clears the consecutive-failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Remaining returns the time left in cooldown, or zero when closed.
func (b *Breaker) Remaining() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if time.Now().Before(b.openUntil) {
		return time.Until(b.openUntil)
	}
	return 0
}

// Reset clears failures and any active cooldown.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

package conn

import (
	"math/rand/v2"
	"time"
)

// backoffDelay computes min(base * 2^attempt, cap) with equal jitter: half
// the computed delay is kept, the other half is drawn uniformly.  Jitter
// keeps a fleet of bridges from reconnecting in lockstep after a server
// restart.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap || d <= 0 { // <= 0 catches overflow
			d = cap
			break
		}
	}
	if d > cap {
		d = cap
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half)
}

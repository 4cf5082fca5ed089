package conn

import (
	"testing"
	"time"
)

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	cap := 800 * time.Millisecond

	for attempt := 0; attempt < 10; attempt++ {
		full := base * (1 << attempt)
		if full > cap {
			full = cap
		}
		for i := 0; i < 50; i++ {
			d := backoffDelay(base, cap, attempt)
			if d < full/2 || d > full {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, full/2, full)
			}
		}
	}
}

func TestBackoffDelayHugeAttemptStaysCapped(t *testing.T) {
	cap := 30 * time.Second
	d := backoffDelay(time.Second, cap, 500)
	if d > cap {
		t.Fatalf("delay %v exceeds cap %v", d, cap)
	}
	if d < cap/2 {
		t.Fatalf("delay %v below jitter floor %v", d, cap/2)
	}
}

func TestBackoffDelayZeroBase(t *testing.T) {
	if d := backoffDelay(0, time.Minute, 3); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

package metrics

import (
	"fmt"
	"testing"
	"time"
)

// waitFor polls cond until it returns nil or the deadline passes.  Samples
// flow through an aggregation goroutine, so tests must allow for the hand-off.
func waitFor(t *testing.T, cond func() error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = cond(); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %v", err)
}

func TestCountersAccumulate(t *testing.T) {
	c := NewCollector(true)
	defer c.Close()

	c.RequestSubmitted()
	c.RequestSubmitted()
	c.RequestCompleted()
	c.RequestErrored()
	c.RequestCancelled()
	c.ToolCallSeen()
	c.ApprovalGranted()
	c.ApprovalRejected()

	waitFor(t, func() error {
		snap := c.Snapshot()
		if snap.Requests != 2 || snap.Completions != 1 || snap.Errors != 1 ||
			snap.Cancellations != 1 || snap.ToolCalls != 1 ||
			snap.Approvals != 1 || snap.Rejections != 1 {
			return fmt.Errorf("unexpected snapshot %+v", snap)
		}
		return nil
	})
}

func TestStreamingMean(t *testing.T) {
	c := NewCollector(true)
	defer c.Close()

	c.FirstTokenLatency(100 * time.Millisecond)
	c.FirstTokenLatency(300 * time.Millisecond)

	waitFor(t, func() error {
		snap := c.Snapshot()
		if snap.LatencySamples != 2 {
			return fmt.Errorf("samples = %d", snap.LatencySamples)
		}
		if snap.AvgFirstTokenLatency != 200*time.Millisecond {
			return fmt.Errorf("avg = %v", snap.AvgFirstTokenLatency)
		}
		return nil
	})
}

func TestConnectionEventRingWraps(t *testing.T) {
	c := NewCollector(true)
	defer c.Close()

	for i := 0; i < connectionEventRing+5; i++ {
		c.ConnectionStateChanged("connected", fmt.Sprintf("reason-%d", i))
		// Pace the sends so none are dropped by the bounded channel.
		waitFor(t, func() error {
			evs := c.Snapshot().ConnectionEvents
			if len(evs) == 0 || evs[len(evs)-1].Reason != fmt.Sprintf("reason-%d", i) {
				return fmt.Errorf("event %d not yet applied", i)
			}
			return nil
		})
	}

	snap := c.Snapshot()
	if len(snap.ConnectionEvents) != connectionEventRing {
		t.Fatalf("expected ring capped at %d, got %d", connectionEventRing, len(snap.ConnectionEvents))
	}
	// Oldest surviving entry is the sixth one recorded.
	if snap.ConnectionEvents[0].Reason != "reason-5" {
		t.Fatalf("expected oldest reason-5, got %s", snap.ConnectionEvents[0].Reason)
	}
	last := snap.ConnectionEvents[len(snap.ConnectionEvents)-1]
	if last.Reason != fmt.Sprintf("reason-%d", connectionEventRing+4) {
		t.Fatalf("unexpected newest %s", last.Reason)
	}
}

func TestResetClearsEverything(t *testing.T) {
	c := NewCollector(true)
	defer c.Close()

	c.RequestSubmitted()
	c.FirstTokenLatency(time.Second)
	c.ConnectionStateChanged("connected", "")

	waitFor(t, func() error {
		snap := c.Snapshot()
		if snap.Requests != 1 || snap.LatencySamples != 1 || len(snap.ConnectionEvents) != 1 {
			return fmt.Errorf("not yet applied: %+v", snap)
		}
		return nil
	})

	c.Reset()

	waitFor(t, func() error {
		snap := c.Snapshot()
		if snap.Requests != 0 || snap.LatencySamples != 0 ||
			snap.AvgFirstTokenLatency != 0 || len(snap.ConnectionEvents) != 0 {
			return fmt.Errorf("reset incomplete: %+v", snap)
		}
		return nil
	})
}

func TestDisabledCollectorDiscards(t *testing.T) {
	c := NewCollector(false)
	defer c.Close()

	c.RequestSubmitted()
	c.FirstTokenLatency(time.Second)

	time.Sleep(20 * time.Millisecond)
	snap := c.Snapshot()
	if snap.Requests != 0 || snap.LatencySamples != 0 {
		t.Fatalf("disabled collector recorded %+v", snap)
	}
}

func TestEmitNeverBlocksWhenSaturated(t *testing.T) {
	c := NewCollector(true)
	c.Close() // aggregation stopped; channel fills up

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			c.RequestSubmitted()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on saturated collector")
	}

	if c.Snapshot().Dropped == 0 {
		t.Fatal("expected drops once the channel saturated")
	}
}

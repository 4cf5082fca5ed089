// Package metrics accumulates protocol counters without participating in
// control flow.  Emission is a non-blocking channel send into a single
// aggregation goroutine; if the channel is full the sample is dropped and a
// drop counter incremented instead.  Observability never slows the protocol.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// connectionEventRing is the capacity of the connection event history.
const connectionEventRing = 64

// ConnectionEvent is one recorded connection state transition.
type ConnectionEvent struct {
	Timestamp time.Time
	State     string
	Reason    string
}

// Snapshot is a point-in-time copy of all accumulated metrics.
type Snapshot struct {
	Requests      uint64
	Completions   uint64
	Errors        uint64
	Cancellations uint64
	ToolCalls     uint64
	Approvals     uint64
	Rejections    uint64
	Dropped       uint64

	// AvgFirstTokenLatency is a streaming mean over first-token observations.
	AvgFirstTokenLatency time.Duration
	LatencySamples       uint64

	ConnectionEvents []ConnectionEvent
}

type sampleKind int

const (
	sampleRequest sampleKind = iota
	sampleCompletion
	sampleError
	sampleCancellation
	sampleToolCall
	sampleApproval
	sampleRejection
	sampleLatency
	sampleConnection
	sampleReset
)

type sample struct {
	kind    sampleKind
	latency time.Duration
	event   ConnectionEvent
}

type counters struct {
	requests      uint64
	completions   uint64
	errors        uint64
	cancellations uint64
	toolCalls     uint64
	approvals     uint64
	rejections    uint64
}

// Collector aggregates samples emitted by the protocol components.
type Collector struct {
	enabled bool
	samples chan sample
	dropped atomic.Uint64

	mu        sync.Mutex
	counts    counters
	avg       float64 // nanoseconds
	n         uint64
	events    [connectionEventRing]ConnectionEvent
	eventPos  int
	eventFull bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewCollector starts the aggregation goroutine.  A disabled collector
// accepts and discards every sample.
func NewCollector(enabled bool) *Collector {
	c := &Collector{
		enabled: enabled,
		samples: make(chan sample, 256),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Collector) run() {
	for {
		select {
		case <-c.done:
			return
		case s := <-c.samples:
			c.apply(s)
		}
	}
}

func (c *Collector) apply(s sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch s.kind {
	case sampleRequest:
		c.counts.requests++
	case sampleCompletion:
		c.counts.completions++
	case sampleError:
		c.counts.errors++
	case sampleCancellation:
		c.counts.cancellations++
	case sampleToolCall:
		c.counts.toolCalls++
	case sampleApproval:
		c.counts.approvals++
	case sampleRejection:
		c.counts.rejections++
	case sampleLatency:
		c.n++
		x := float64(s.latency)
		c.avg += (x - c.avg) / float64(c.n)
	case sampleConnection:
		c.events[c.eventPos] = s.event
		c.eventPos = (c.eventPos + 1) % connectionEventRing
		if c.eventPos == 0 {
			c.eventFull = true
		}
	case sampleReset:
		c.counts = counters{}
		c.avg = 0
		c.n = 0
		c.eventPos = 0
		c.eventFull = false
		c.dropped.Store(0)
	}
}

// emit is the non-blocking hot-path entry.
func (c *Collector) emit(s sample) {
	if !c.enabled {
		return
	}
	select {
	case c.samples <- s:
	default:
		c.dropped.Add(1)
	}
}

func (c *Collector) RequestSubmitted() { c.emit(sample{kind: sampleRequest}) }
func (c *Collector) RequestCompleted() { c.emit(sample{kind: sampleCompletion}) }
func (c *Collector) RequestErrored()   { c.emit(sample{kind: sampleError}) }
func (c *Collector) RequestCancelled() { c.emit(sample{kind: sampleCancellation}) }
func (c *Collector) ToolCallSeen()     { c.emit(sample{kind: sampleToolCall}) }
func (c *Collector) ApprovalGranted()  { c.emit(sample{kind: sampleApproval}) }
func (c *Collector) ApprovalRejected() { c.emit(sample{kind: sampleRejection}) }

// FirstTokenLatency records the submit-to-first-token interval for one
// request.
func (c *Collector) FirstTokenLatency(d time.Duration) {
	c.emit(sample{kind: sampleLatency, latency: d})
}

// ConnectionStateChanged appends a ConnectionEvent to the bounded history.
func (c *Collector) ConnectionStateChanged(state, reason string) {
	c.emit(sample{kind: sampleConnection, event: ConnectionEvent{
		Timestamp: time.Now(),
		State:     state,
		Reason:    reason,
	}})
}

// Reset clears all metrics.  Only explicit caller action resets; the
// collector never resets implicitly.
func (c *Collector) Reset() {
	if !c.enabled {
		return
	}
	// A reset must not be lost to backpressure; block until accepted.
	select {
	case c.samples <- sample{kind: sampleReset}:
	case <-c.done:
	}
}

// Snapshot returns a copy of the current metrics.  Samples still queued are
// not included.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Requests:             c.counts.requests,
		Completions:          c.counts.completions,
		Errors:               c.counts.errors,
		Cancellations:        c.counts.cancellations,
		ToolCalls:            c.counts.toolCalls,
		Approvals:            c.counts.approvals,
		Rejections:           c.counts.rejections,
		Dropped:              c.dropped.Load(),
		AvgFirstTokenLatency: time.Duration(c.avg),
		LatencySamples:       c.n,
	}

	if c.eventFull {
		snap.ConnectionEvents = make([]ConnectionEvent, 0, connectionEventRing)
		snap.ConnectionEvents = append(snap.ConnectionEvents, c.events[c.eventPos:]...)
		snap.ConnectionEvents = append(snap.ConnectionEvents, c.events[:c.eventPos]...)
	} else {
		snap.ConnectionEvents = append([]ConnectionEvent(nil), c.events[:c.eventPos]...)
	}
	return snap
}

// Close stops the aggregation goroutine.  Pending samples are discarded.
func (c *Collector) Close() {
	c.stopOnce.Do(func() { close(c.done) })
}

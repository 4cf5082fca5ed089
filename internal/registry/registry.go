// Package registry tracks every in-flight chat request by request id and
// routes inbound envelopes to the right handler.  The registry is the sole
// mutator of request state: the stream assembler and the approval
// coordinator reach it only through this API, never through a raw handle.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/inferbridge/inferbridge/internal/domain"
	"github.com/inferbridge/inferbridge/internal/metrics"
	"github.com/inferbridge/inferbridge/internal/protocol"
)

var (
	ErrUnknownRequest  = errors.New("unknown request id")
	ErrRequestTerminal = errors.New("request already terminal")
	ErrUnknownToolCall = errors.New("unknown tool call id")
)

// Sender is the outbound half of the connection manager.
type Sender interface {
	Send(protocol.Envelope) error
}

// ToolHandler is the approval coordinator seam.  HandleResult returns a
// non-nil error on a server-trust violation (result for a tool call that was
// never approved); the registry then terminates the request.
type ToolHandler interface {
	Announce(tc protocol.ToolCall)
	HandleResult(tr protocol.ToolResult) error
	Abandon(requestID string)
}

// ChatRequest is one chat turn to submit.
type ChatRequest struct {
	Messages     []protocol.ChatMessage
	Model        string
	System       string
	Stream       bool
	MaxTokens    int
	ToolsEnabled bool
}

// request is the live record for one request id.  All fields are guarded by
// Registry.mu.
type request struct {
	id          string
	submittedAt time.Time
	status      domain.RequestStatus
	stream      bool

	// local marks requests completed outside the WebSocket transport (the
	// HTTP fallback path).  Connection loss cannot invalidate them.
	local bool

	content    strings.Builder
	role       string
	thinking   []domain.ThinkingBlock
	deltaCount int

	toolCalls map[string]*domain.ToolCallState
	toolOrder []string

	usage             *domain.Usage
	errorCode         string
	errorMsg          string
	firstTokenLatency time.Duration
	terminalAt        time.Time
}

type Registry struct {
	log       zerolog.Logger
	sender    Sender
	collector *metrics.Collector
	emit      func(domain.Event)
	retention time.Duration

	mu       sync.Mutex
	requests map[string]*request
	tools    ToolHandler

	done     chan struct{}
	stopOnce sync.Once
}

// New creates the registry and starts its retention janitor.  emit must be
// non-blocking; the registry calls it while processing inbound frames.
func New(sender Sender, collector *metrics.Collector, emit func(domain.Event), retention time.Duration, log zerolog.Logger) *Registry {
	r := &Registry{
		log:       log.With().Str("component", "registry").Logger(),
		sender:    sender,
		collector: collector,
		emit:      emit,
		retention: retention,
		requests:  make(map[string]*request),
		done:      make(chan struct{}),
	}
	go r.janitor()
	return r
}

// SetToolHandler wires the approval coordinator.  Called once during session
// assembly, before any traffic flows.
func (r *Registry) SetToolHandler(h ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = h
}

// Close stops the retention janitor.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.done) })
}

// Submit creates a fresh request id, records the request, and sends the Chat
// envelope.  It returns as soon as the send is initiated; completion is
// observed through events and Get.
func (r *Registry) Submit(req ChatRequest) (string, error) {
	id := uuid.NewString()
	rec := &request{
		id:          id,
		submittedAt: time.Now(),
		status:      domain.StatusPending,
		stream:      req.Stream,
		toolCalls:   make(map[string]*domain.ToolCallState),
	}

	r.mu.Lock()
	r.requests[id] = rec
	r.transitionLocked(rec, domain.StatusSending, "", "")
	r.mu.Unlock()

	if r.collector != nil {
		r.collector.RequestSubmitted()
	}

	frame := protocol.NewChat(id, req.Model, req.System, req.Messages, req.Stream, req.MaxTokens, req.ToolsEnabled)
	if err := r.sender.Send(frame); err != nil {
		r.mu.Lock()
		r.transitionLocked(rec, domain.StatusError, "send_failed", err.Error())
		r.mu.Unlock()
		return id, fmt.Errorf("submit %s: %w", id, err)
	}

	r.mu.Lock()
	if !rec.status.Terminal() {
		if req.Stream {
			r.transitionLocked(rec, domain.StatusStreaming, "", "")
		}
		// Non-streaming requests stay in Sending until the single Done.
	}
	r.mu.Unlock()

	r.log.Debug().Str("request_id", id).Bool("stream", req.Stream).Msg("chat submitted")
	return id, nil
}

// SubmitLocal tracks a completion produced outside the WebSocket transport,
// such as the HTTP fallback path.  run executes on its own goroutine; its
// result completes the request through the same state machine as wire
// frames.  Cancelling the request discards the result but does not abort
// run.
func (r *Registry) SubmitLocal(ctx context.Context, run func(context.Context) (string, *domain.Usage, error)) (string, error) {
	id := uuid.NewString()
	rec := &request{
		id:          id,
		submittedAt: time.Now(),
		status:      domain.StatusPending,
		local:       true,
		toolCalls:   make(map[string]*domain.ToolCallState),
	}

	r.mu.Lock()
	r.requests[id] = rec
	r.transitionLocked(rec, domain.StatusSending, "", "")
	r.mu.Unlock()

	if r.collector != nil {
		r.collector.RequestSubmitted()
	}

	go func() {
		content, usage, err := run(ctx)

		r.mu.Lock()
		defer r.mu.Unlock()
		if rec.status.Terminal() {
			return
		}
		if err != nil {
			r.transitionLocked(rec, domain.StatusError, "fallback_failed", err.Error())
			return
		}
		rec.content.WriteString(content)
		rec.role = "assistant"
		rec.usage = usage
		rec.firstTokenLatency = time.Since(rec.submittedAt)
		if r.collector != nil {
			r.collector.FirstTokenLatency(rec.firstTokenLatency)
		}
		r.transitionLocked(rec, domain.StatusComplete, "", "")
	}()

	return id, nil
}

// Cancel marks the request cancelled locally and notifies the server.  The
// local state is authoritative: frames that race the cancellation are
// dropped regardless of what the server still sends.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	rec, ok := r.requests[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("cancel: %w: %s", ErrUnknownRequest, id)
	}
	if rec.status.Terminal() {
		r.mu.Unlock()
		return nil
	}
	r.transitionLocked(rec, domain.StatusCancelled, "", "cancelled by caller")
	tools := r.tools
	r.mu.Unlock()

	if tools != nil {
		tools.Abandon(id)
	}

	// Fire-and-forget toward the server; losing the frame only means the
	// server generates output we will drop.
	if err := r.sender.Send(protocol.NewCancel(id)); err != nil {
		r.log.Debug().Err(err).Str("request_id", id).Msg("cancel frame not delivered")
	}
	return nil
}

// Dispatch routes one inbound request-scoped envelope.  Unknown ids and
// frames for terminal requests are dropped: duplicates and stragglers are
// expected after cancellation or cleanup, and must stay harmless.
func (r *Registry) Dispatch(env protocol.Envelope) {
	id := env.RequestID()
	if id == "" {
		r.log.Warn().Str("type", env.EnvelopeType()).Msg("request-scoped dispatch without request id")
		return
	}

	r.mu.Lock()
	rec, ok := r.requests[id]
	if !ok {
		r.mu.Unlock()
		r.log.Warn().Str("request_id", id).Str("type", env.EnvelopeType()).
			Msg("frame for unknown request dropped")
		return
	}
	if rec.status.Terminal() {
		r.mu.Unlock()
		r.log.Debug().Str("request_id", id).Str("type", env.EnvelopeType()).
			Msg("frame for terminal request dropped")
		return
	}

	switch e := env.(type) {
	case protocol.Delta:
		r.applyDeltaLocked(rec, e)
		r.mu.Unlock()
	case protocol.Thinking:
		r.applyThinkingLocked(rec, e)
		r.mu.Unlock()
	case protocol.Done:
		r.applyDoneLocked(rec, e)
		r.mu.Unlock()
	case protocol.Error:
		r.applyErrorLocked(rec, e)
		tools := r.tools
		r.mu.Unlock()
		if tools != nil {
			tools.Abandon(id)
		}
	case protocol.Cancelled:
		// Server acknowledgment; the local Cancel already settled the state,
		// so reaching here means the server cancelled on its own.
		r.transitionLocked(rec, domain.StatusCancelled, "", "cancelled by server")
		tools := r.tools
		r.mu.Unlock()
		if tools != nil {
			tools.Abandon(id)
		}
	case protocol.ToolCall:
		tc := domain.ToolCallState{
			ID:               e.ToolCallID,
			Name:             e.Name,
			Arguments:        append([]byte(nil), e.Arguments...),
			RiskLevel:        e.RiskLevel,
			RequiresApproval: e.RequiresApproval,
		}
		rec.toolCalls[e.ToolCallID] = &tc
		rec.toolOrder = append(rec.toolOrder, e.ToolCallID)
		tools := r.tools
		r.mu.Unlock()

		if r.collector != nil {
			r.collector.ToolCallSeen()
		}
		r.emit(domain.NewToolCallEvent(id, tc))
		if tools != nil {
			tools.Announce(e)
		}
	case protocol.ToolResult:
		tools := r.tools
		r.mu.Unlock()
		if tools == nil {
			return
		}
		if err := tools.HandleResult(e); err != nil {
			r.FailRequest(id, "protocol_violation", err.Error())
		}
	default:
		r.mu.Unlock()
		r.log.Warn().Str("request_id", id).Str("type", env.EnvelopeType()).
			Msg("unexpected envelope dropped")
	}
}

// FailStreaming terminates every wire request that was mid-stream.  Invoked
// on the resynchronization signal after a reconnect and when reconnection is
// exhausted: the server is assumed stateless across connections, so partial
// output can never silently resume.  Local (HTTP fallback) requests do not
// depend on the socket and ride out the resync untouched.
func (r *Registry) FailStreaming(reason string) {
	r.mu.Lock()
	var failed []string
	for id, rec := range r.requests {
		if rec.local {
			continue
		}
		if rec.status == domain.StatusStreaming || rec.status == domain.StatusSending {
			r.transitionLocked(rec, domain.StatusError, "connection_lost", reason)
			failed = append(failed, id)
		}
	}
	tools := r.tools
	r.mu.Unlock()

	for _, id := range failed {
		if tools != nil {
			tools.Abandon(id)
		}
		r.log.Warn().Str("request_id", id).Str("reason", reason).Msg("in-flight request failed")
	}
}

// FailRequest terminates one request with an error.  No-op when the request
// is unknown or already terminal.
func (r *Registry) FailRequest(id, code, message string) {
	r.mu.Lock()
	rec, ok := r.requests[id]
	if !ok || rec.status.Terminal() {
		r.mu.Unlock()
		return
	}
	r.transitionLocked(rec, domain.StatusError, code, message)
	tools := r.tools
	r.mu.Unlock()

	if tools != nil {
		tools.Abandon(id)
	}
}

// Live reports whether a request exists and has not reached a terminal
// state.  The approval coordinator consults it before committing a decision
// so a cancel racing a tool call announcement never produces a ToolApproval
// frame for a dead request.
func (r *Registry) Live(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.requests[requestID]
	return ok && !rec.status.Terminal()
}

// RecordOutcome stores the approval decision on the owning request's tool
// call record.
func (r *Registry) RecordOutcome(requestID, toolCallID string, outcome domain.ApprovalOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.requests[requestID]
	if !ok {
		return
	}
	if tc, ok := rec.toolCalls[toolCallID]; ok {
		tc.Outcome = outcome
	}
}

// Outcome reports the approval decision recorded for a tool call, and
// whether the tool call is known at all.
func (r *Registry) Outcome(requestID, toolCallID string) (domain.ApprovalOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.requests[requestID]
	if !ok {
		return domain.ApprovalUnset, false
	}
	tc, ok := rec.toolCalls[toolCallID]
	if !ok {
		return domain.ApprovalUnset, false
	}
	return tc.Outcome, true
}

// RecordResult stores a tool execution result and publishes it.
func (r *Registry) RecordResult(requestID, toolCallID, content string, isError bool) error {
	r.mu.Lock()
	rec, ok := r.requests[requestID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	tc, ok := rec.toolCalls[toolCallID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownToolCall, toolCallID)
	}
	tc.Result = content
	tc.ResultIsError = isError
	tc.ResultReceived = true
	r.mu.Unlock()

	r.emit(domain.NewToolResultEvent(requestID, toolCallID, content, isError))
	return nil
}

// Get returns a defensive copy of a request's state.
func (r *Registry) Get(id string) (domain.RequestSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.requests[id]
	if !ok {
		return domain.RequestSnapshot{}, false
	}
	return snapshotLocked(rec), true
}

// List returns snapshots of every tracked request, newest first.
func (r *Registry) List() []domain.RequestSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RequestSnapshot, 0, len(r.requests))
	for _, rec := range r.requests {
		out = append(out, snapshotLocked(rec))
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].SubmittedAt.After(out[i].SubmittedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func snapshotLocked(rec *request) domain.RequestSnapshot {
	snap := domain.RequestSnapshot{
		ID:                rec.id,
		SubmittedAt:       rec.submittedAt,
		Status:            rec.status,
		StatusName:        rec.status.String(),
		Content:           rec.content.String(),
		Role:              rec.role,
		Thinking:          append([]domain.ThinkingBlock(nil), rec.thinking...),
		ErrorCode:         rec.errorCode,
		ErrorMsg:          rec.errorMsg,
		FirstTokenLatency: rec.firstTokenLatency,
	}
	if rec.usage != nil {
		u := *rec.usage
		snap.Usage = &u
	}
	for _, id := range rec.toolOrder {
		if tc, ok := rec.toolCalls[id]; ok {
			cp := *tc
			cp.Arguments = append([]byte(nil), tc.Arguments...)
			snap.ToolCalls = append(snap.ToolCalls, cp)
		}
	}
	return snap
}

// transitionLocked is the single place request status changes.  It records
// terminal timestamps, publishes the status event, and feeds metrics.
// Callers hold r.mu; emit and the collector are both non-blocking.
func (r *Registry) transitionLocked(rec *request, status domain.RequestStatus, code, message string) {
	if rec.status == status {
		return
	}
	rec.status = status
	if status == domain.StatusError {
		rec.errorCode = code
		rec.errorMsg = message
	}
	if status.Terminal() {
		rec.terminalAt = time.Now()
	}

	if r.collector != nil {
		switch status {
		case domain.StatusComplete:
			r.collector.RequestCompleted()
		case domain.StatusError:
			r.collector.RequestErrored()
		case domain.StatusCancelled:
			r.collector.RequestCancelled()
		}
	}
	r.emit(domain.NewStatusChangeEvent(rec.id, status, code, message))
}

// janitor purges terminal requests once their retention window passed.  The
// window exists so late duplicate frames still match a known id and get
// dropped quietly instead of logged as unknown.
func (r *Registry) janitor() {
	interval := r.retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-r.retention)
			r.mu.Lock()
			for id, rec := range r.requests {
				if rec.status.Terminal() && rec.terminalAt.Before(cutoff) {
					delete(r.requests, id)
				}
			}
			r.mu.Unlock()
		}
	}
}

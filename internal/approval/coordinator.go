// Package approval gates server-initiated tool calls behind the configured
// approval policy.  The coordinator decides automatically where the policy
// permits, prompts the caller otherwise, and enforces that the server never
// reports a result for a tool call the client did not approve.
package approval

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/inferbridge/inferbridge/internal/config"
	"github.com/inferbridge/inferbridge/internal/domain"
	"github.com/inferbridge/inferbridge/internal/metrics"
	"github.com/inferbridge/inferbridge/internal/protocol"
)

var (
	ErrNoPendingApproval = errors.New("no pending approval for tool call")
)

// Sender delivers ToolApproval frames to the server.
type Sender interface {
	Send(protocol.Envelope) error
}

// Requests is the registry surface the coordinator mutates through.  The
// coordinator never holds request state of its own beyond pending prompts.
type Requests interface {
	RecordOutcome(requestID, toolCallID string, outcome domain.ApprovalOutcome)
	RecordResult(requestID, toolCallID, content string, isError bool) error
	Outcome(requestID, toolCallID string) (domain.ApprovalOutcome, bool)
	Live(requestID string) bool
}

// Options is the policy slice of the bridge configuration.
type Options struct {
	Mode          config.ApprovalMode
	Timeout       time.Duration
	ApprovedTools []string
}

type pendingPrompt struct {
	requestID string
	name      string
	riskLevel string
	timer     *time.Timer
}

// Coordinator runs the tool approval state machine.
type Coordinator struct {
	log       zerolog.Logger
	sender    Sender
	requests  Requests
	collector *metrics.Collector
	emit      func(domain.Event)
	opts      Options

	mu      sync.Mutex
	pending map[string]*pendingPrompt // keyed by tool call id
	closed  bool
}

func New(sender Sender, requests Requests, collector *metrics.Collector, emit func(domain.Event), opts Options, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		log:       log.With().Str("component", "approval").Logger(),
		sender:    sender,
		requests:  requests,
		collector: collector,
		emit:      emit,
		opts:      opts,
		pending:   make(map[string]*pendingPrompt),
	}
}

// Close withdraws every pending prompt and stops the timers.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*pendingPrompt)
	c.mu.Unlock()

	for id, p := range pending {
		p.timer.Stop()
		c.emit(domain.NewApprovalPromptEvent(p.requestID, id, p.name, p.riskLevel, true))
	}
}

// Announce applies the policy to a freshly received tool call: either decide
// on the spot or open a prompt with a deadline.  Called by the registry from
// its dispatch path.
func (c *Coordinator) Announce(tc protocol.ToolCall) {
	requestID := tc.RequestID()

	switch {
	case !tc.RequiresApproval:
		c.decide(requestID, tc.ToolCallID, domain.ApprovalApproved, "pre-approved by server")
	case c.opts.Mode == config.ApprovalNone:
		c.decide(requestID, tc.ToolCallID, domain.ApprovalApproved, "approval disabled")
	case c.opts.Mode == config.ApprovalHighRiskOnly && !domain.HighRisk(tc.RiskLevel):
		c.decide(requestID, tc.ToolCallID, domain.ApprovalApproved, "below risk threshold")
	case c.opts.Mode == config.ApprovalPerTool && c.toolAllowed(tc.Name):
		c.decide(requestID, tc.ToolCallID, domain.ApprovalApproved, "tool on allow list")
	default:
		c.prompt(requestID, tc)
	}
}

// Resolve records the caller's decision for a pending prompt.
func (c *Coordinator) Resolve(toolCallID string, approved bool, reason string) error {
	c.mu.Lock()
	p, ok := c.pending[toolCallID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoPendingApproval, toolCallID)
	}
	delete(c.pending, toolCallID)
	c.mu.Unlock()
	p.timer.Stop()

	outcome := domain.ApprovalRejected
	if approved {
		outcome = domain.ApprovalApproved
	}
	if reason == "" {
		reason = "decided by caller"
	}
	c.decide(p.requestID, toolCallID, outcome, reason)
	return nil
}

// HandleResult verifies the server-trust invariant before recording a tool
// result: a result is only legal for a tool call the client approved.  A
// non-nil return tells the registry to terminate the request.
func (c *Coordinator) HandleResult(tr protocol.ToolResult) error {
	outcome, known := c.requests.Outcome(tr.RequestID(), tr.ToolCallID)
	if !known {
		return fmt.Errorf("tool result for unknown tool call %s", tr.ToolCallID)
	}
	if outcome != domain.ApprovalApproved {
		return fmt.Errorf("tool result for tool call %s with outcome %s", tr.ToolCallID, outcome)
	}
	return c.requests.RecordResult(tr.RequestID(), tr.ToolCallID, tr.Content, tr.IsError)
}

// Abandon withdraws every pending prompt belonging to a request that reached
// a terminal state.  No ToolApproval frame is sent; the request is dead on
// both sides.
func (c *Coordinator) Abandon(requestID string) {
	c.mu.Lock()
	var withdrawn []string
	for id, p := range c.pending {
		if p.requestID == requestID {
			p.timer.Stop()
			delete(c.pending, id)
			withdrawn = append(withdrawn, id)
			c.emitWithdrawnLocked(p, id)
		}
	}
	c.mu.Unlock()

	for _, id := range withdrawn {
		c.requests.RecordOutcome(requestID, id, domain.ApprovalRejected)
		c.log.Debug().Str("request_id", requestID).Str("tool_call_id", id).
			Msg("approval prompt withdrawn")
	}
}

// Pending lists the prompts still waiting for a decision.
func (c *Coordinator) Pending() []domain.ApprovalPromptData {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ApprovalPromptData, 0, len(c.pending))
	for id, p := range c.pending {
		out = append(out, domain.ApprovalPromptData{
			ToolCallID: id,
			Name:       p.name,
			RiskLevel:  p.riskLevel,
		})
	}
	return out
}

func (c *Coordinator) toolAllowed(name string) bool {
	for _, t := range c.opts.ApprovedTools {
		if t == name {
			return true
		}
	}
	return false
}

func (c *Coordinator) prompt(requestID string, tc protocol.ToolCall) {
	p := &pendingPrompt{
		requestID: requestID,
		name:      tc.Name,
		riskLevel: tc.RiskLevel,
	}

	c.mu.Lock()
	if c.closed || !c.requests.Live(requestID) {
		c.mu.Unlock()
		return
	}
	c.pending[tc.ToolCallID] = p
	p.timer = time.AfterFunc(c.opts.Timeout, func() { c.expire(tc.ToolCallID) })
	c.mu.Unlock()

	c.emit(domain.NewApprovalPromptEvent(requestID, tc.ToolCallID, tc.Name, tc.RiskLevel, false))
	c.log.Info().Str("request_id", requestID).Str("tool_call_id", tc.ToolCallID).
		Str("tool", tc.Name).Str("risk", tc.RiskLevel).Msg("approval required")
}

// expire fires when a prompt's deadline passes with no decision.  Timing out
// counts as a rejection: the server must not run the tool.
func (c *Coordinator) expire(toolCallID string) {
	c.mu.Lock()
	p, ok := c.pending[toolCallID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, toolCallID)
	c.mu.Unlock()

	c.log.Warn().Str("tool_call_id", toolCallID).Str("tool", p.name).
		Dur("timeout", c.opts.Timeout).Msg("approval timed out")
	c.decide(p.requestID, toolCallID, domain.ApprovalTimedOut, "approval timed out")
}

// decide is the single place outcomes are committed: record on the registry,
// answer the server, publish the resolution, count it.  A request that went
// terminal while the decision was in flight gets nothing: sending a
// ToolApproval for it would violate the no-late-frame contract.
func (c *Coordinator) decide(requestID, toolCallID string, outcome domain.ApprovalOutcome, reason string) {
	if !c.requests.Live(requestID) {
		c.log.Debug().Str("request_id", requestID).Str("tool_call_id", toolCallID).
			Msg("approval decision dropped for terminal request")
		return
	}
	c.requests.RecordOutcome(requestID, toolCallID, outcome)

	approved := outcome == domain.ApprovalApproved
	frame := protocol.NewToolApproval(requestID, toolCallID, approved, reason)
	if err := c.sender.Send(frame); err != nil {
		c.log.Warn().Err(err).Str("tool_call_id", toolCallID).
			Msg("approval decision not delivered")
	}

	if c.collector != nil {
		if approved {
			c.collector.ApprovalGranted()
		} else {
			c.collector.ApprovalRejected()
		}
	}
	c.emit(domain.NewApprovalResolvedEvent(requestID, toolCallID, outcome, reason))
}

func (c *Coordinator) emitWithdrawnLocked(p *pendingPrompt, toolCallID string) {
	c.emit(domain.NewApprovalPromptEvent(p.requestID, toolCallID, p.name, p.riskLevel, true))
}

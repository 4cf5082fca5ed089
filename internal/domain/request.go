// Package domain holds the bridge's shared vocabulary: request lifecycle
// states, tool call state, and the session event stream types.
package domain

import (
	"encoding/json"
	"time"
)

// RequestStatus is the lifecycle of one chat completion request.
type RequestStatus int

const (
	StatusPending RequestStatus = iota
	StatusSending
	StatusStreaming
	StatusComplete
	StatusError
	StatusCancelled
)

func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSending:
		return "sending"
	case StatusStreaming:
		return "streaming"
	case StatusComplete:
		return "complete"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further frames may mutate the request.
func (s RequestStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// ApprovalOutcome is the decision recorded for a tool call.
type ApprovalOutcome int

const (
	ApprovalUnset ApprovalOutcome = iota
	ApprovalApproved
	ApprovalRejected
	ApprovalTimedOut
)

func (o ApprovalOutcome) String() string {
	switch o {
	case ApprovalUnset:
		return "unset"
	case ApprovalApproved:
		return "approved"
	case ApprovalRejected:
		return "rejected"
	case ApprovalTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Risk levels announced by the server on tool calls.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// HighRisk reports whether level warrants a prompt under high_risk_only mode.
func HighRisk(level string) bool {
	return level == RiskHigh || level == RiskCritical
}

// Usage is the token accounting reported when a request completes.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// ThinkingBlock is one discrete reasoning block.  Blocks are a separate
// rendering channel and are never concatenated with content.
type ThinkingBlock struct {
	Content    string    `json:"content"`
	ReceivedAt time.Time `json:"received_at"`
}

// ToolCallState is the per-tool-call record inside a request.  Arguments stay
// raw JSON; the bridge routes them but never parses them.
type ToolCallState struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Arguments        json.RawMessage `json:"arguments"`
	RiskLevel        string          `json:"risk_level"`
	RequiresApproval bool            `json:"requires_approval"`
	Outcome          ApprovalOutcome `json:"outcome"`
	Result           string          `json:"result,omitempty"`
	ResultIsError    bool            `json:"result_is_error,omitempty"`
	ResultReceived   bool            `json:"result_received"`
}

// RequestSnapshot is a defensive copy of a request's state handed to
// callers.  The registry owns the live record; nothing outside it ever holds
// a mutable reference.
type RequestSnapshot struct {
	ID          string          `json:"id"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Status      RequestStatus   `json:"-"`
	StatusName  string          `json:"status"`
	Content     string          `json:"content"`
	Role        string          `json:"role,omitempty"`
	Thinking    []ThinkingBlock `json:"thinking,omitempty"`
	ToolCalls   []ToolCallState `json:"tool_calls,omitempty"`
	Usage       *Usage          `json:"usage,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	ErrorMsg    string          `json:"error_message,omitempty"`

	// FirstTokenLatency is zero until the first delta (or Done) arrives.
	FirstTokenLatency time.Duration `json:"first_token_latency_ns,omitempty"`
}

// Package api defines the JSON types of the bridge's local HTTP surface.
// Front-ends depend on this package alone; the wire protocol toward the
// inference server never leaks through it.
package api

import "time"

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest submits a chat turn to the bridge.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// ChatResponse acknowledges a submitted chat with its correlation id.
type ChatResponse struct {
	RequestID string `json:"request_id"`
}

// ApprovalRequest resolves a pending tool approval prompt.
type ApprovalRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// ThinkingBlock is one discrete reasoning block of a response.
type ThinkingBlock struct {
	Content    string    `json:"content"`
	ReceivedAt time.Time `json:"received_at"`
}

// ToolCall is the externally visible state of one tool invocation.
type ToolCall struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Arguments        any    `json:"arguments,omitempty"`
	RiskLevel        string `json:"risk_level,omitempty"`
	RequiresApproval bool   `json:"requires_approval"`
	Outcome          string `json:"outcome"`
	Result           string `json:"result,omitempty"`
	ResultIsError    bool   `json:"result_is_error,omitempty"`
	ResultReceived   bool   `json:"result_received"`
}

// Usage is the token accounting of a completed request.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// RequestResponse is a snapshot of one tracked request.
type RequestResponse struct {
	ID                  string          `json:"id"`
	SubmittedAt         time.Time       `json:"submitted_at"`
	Status              string          `json:"status"`
	Content             string          `json:"content"`
	Role                string          `json:"role,omitempty"`
	Thinking            []ThinkingBlock `json:"thinking,omitempty"`
	ToolCalls           []ToolCall      `json:"tool_calls,omitempty"`
	Usage               *Usage          `json:"usage,omitempty"`
	ErrorCode           string          `json:"error_code,omitempty"`
	ErrorMessage        string          `json:"error_message,omitempty"`
	FirstTokenLatencyMS int64           `json:"first_token_latency_ms,omitempty"`
}

// RequestListResponse lists tracked requests, newest first.
type RequestListResponse struct {
	Requests []RequestResponse `json:"requests"`
}

// PendingApproval is one prompt waiting for a decision.
type PendingApproval struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	RiskLevel  string `json:"risk_level,omitempty"`
}

// ApprovalListResponse lists prompts waiting for a decision.
type ApprovalListResponse struct {
	Approvals []PendingApproval `json:"approvals"`
}

// ConnectionResponse is the current transport state.
type ConnectionResponse struct {
	State        string `json:"state"`
	Attempt      int    `json:"attempt,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Event is one server-sent event on /api/events.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Event payloads, keyed by Event.Type.
type DeltaData struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
	Role    string `json:"role,omitempty"`
}

type ThinkingData struct {
	Content string `json:"content"`
}

type StatusChangeData struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type ApprovalPromptData struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	RiskLevel  string `json:"risk_level,omitempty"`
	Withdrawn  bool   `json:"withdrawn,omitempty"`
}

type ApprovalResolvedData struct {
	ToolCallID string `json:"tool_call_id"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
}

type ToolResultData struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

type ConnectionData struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

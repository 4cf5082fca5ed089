package protocol

import "encoding/json"

// ─────────────────────────────────────────────────────────────────────────────
// Wire types for the bridge WebSocket protocol.  One complete envelope per
// frame, UTF-8 JSON, discriminated by the "type" field.
// ─────────────────────────────────────────────────────────────────────────────

// Frame type tags recognised on the wire.
const (
	// Client → server.
	TypeChat         = "chat"
	TypeCancel       = "cancel"
	TypePing         = "ping"
	TypeToolApproval = "tool_approval"

	// Server → client.
	TypeConnected  = "connected"
	TypeDelta      = "delta"
	TypeThinking   = "thinking"
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
	TypeDone       = "done"
	TypeError      = "error"
	TypePong       = "pong"
	TypeCancelled  = "cancelled"
)

// Envelope is implemented by every wire message variant.  RequestID returns
// the correlation id, or "" for connection-scoped frames (Connected, Ping,
// Pong).
type Envelope interface {
	EnvelopeType() string
	RequestID() string
}

// RawEnvelope is an incoming frame with its type pre-parsed so the decoder
// can dispatch without double-decoding.
type RawEnvelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"` // original bytes
}

// ── Client → server ──────────────────────────────────────────────────────────

// ChatMessage is one turn of conversation history carried by a Chat frame.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat submits a completion request.
type Chat struct {
	Type         string        `json:"type"` // "chat"
	ID           string        `json:"request_id"`
	Model        string        `json:"model,omitempty"`
	Messages     []ChatMessage `json:"messages"`
	System       string        `json:"system,omitempty"`
	Stream       bool          `json:"stream"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
	ToolsEnabled bool          `json:"tools_enabled,omitempty"`
}

func (m Chat) EnvelopeType() string { return TypeChat }
func (m Chat) RequestID() string    { return m.ID }

// Cancel asks the server to stop generating for a request.  It is
// fire-and-forget; the client treats the request as cancelled immediately.
type Cancel struct {
	Type string `json:"type"` // "cancel"
	ID   string `json:"request_id"`
}

func (m Cancel) EnvelopeType() string { return TypeCancel }
func (m Cancel) RequestID() string    { return m.ID }

// Ping is the application-level heartbeat.
type Ping struct {
	Type string `json:"type"` // "ping"
	TS   int64  `json:"ts,omitempty"`
}

func (m Ping) EnvelopeType() string { return TypePing }
func (m Ping) RequestID() string    { return "" }

// ToolApproval carries the client's decision for a pending tool call.
type ToolApproval struct {
	Type       string `json:"type"` // "tool_approval"
	ID         string `json:"request_id"`
	ToolCallID string `json:"tool_call_id"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
}

func (m ToolApproval) EnvelopeType() string { return TypeToolApproval }
func (m ToolApproval) RequestID() string    { return m.ID }

// ── Server → client ──────────────────────────────────────────────────────────

// Connected is the first frame after a successful handshake.  ConnectionID
// changes when the server has lost all session state.
type Connected struct {
	Type         string `json:"type"` // "connected"
	ConnectionID string `json:"connection_id"`
	Model        string `json:"model,omitempty"`
	Version      string `json:"server_version,omitempty"`
}

func (m Connected) EnvelopeType() string { return TypeConnected }
func (m Connected) RequestID() string    { return "" }

// Delta is one incremental content fragment of a streaming response.
// Content may be null with only Role set to establish the message role
// without appending text.
type Delta struct {
	Type    string  `json:"type"` // "delta"
	ID      string  `json:"request_id"`
	Index   int     `json:"index"`
	Content *string `json:"content"`
	Role    string  `json:"role,omitempty"`
}

func (m Delta) EnvelopeType() string { return TypeDelta }
func (m Delta) RequestID() string    { return m.ID }

// Thinking is a discrete reasoning block, rendered separately from content.
type Thinking struct {
	Type    string `json:"type"` // "thinking"
	ID      string `json:"request_id"`
	Content string `json:"content"`
}

func (m Thinking) EnvelopeType() string { return TypeThinking }
func (m Thinking) RequestID() string    { return m.ID }

// ToolCall announces a server-initiated tool invocation.  Arguments are kept
// as raw JSON; the bridge routes but never interprets them.
type ToolCall struct {
	Type             string          `json:"type"` // "tool_call"
	ID               string          `json:"request_id"`
	ToolCallID       string          `json:"tool_call_id"`
	Name             string          `json:"name"`
	Arguments        json.RawMessage `json:"arguments"`
	RiskLevel        string          `json:"risk_level,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
}

func (m ToolCall) EnvelopeType() string { return TypeToolCall }
func (m ToolCall) RequestID() string    { return m.ID }

// ToolResult carries the outcome of an executed tool call.
type ToolResult struct {
	Type       string `json:"type"` // "tool_result"
	ID         string `json:"request_id"`
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

func (m ToolResult) EnvelopeType() string { return TypeToolResult }
func (m ToolResult) RequestID() string    { return m.ID }

// Usage is the token accounting reported on Done.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Done terminates a request successfully.
type Done struct {
	Type       string `json:"type"` // "done"
	ID         string `json:"request_id"`
	StopReason string `json:"stop_reason,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
}

func (m Done) EnvelopeType() string { return TypeDone }
func (m Done) RequestID() string    { return m.ID }

// Error terminates a request with a server-reported failure.
type Error struct {
	Type    string `json:"type"` // "error"
	ID      string `json:"request_id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (m Error) EnvelopeType() string { return TypeError }
func (m Error) RequestID() string    { return m.ID }

// Pong answers a Ping.
type Pong struct {
	Type string `json:"type"` // "pong"
	TS   int64  `json:"ts,omitempty"`
}

func (m Pong) EnvelopeType() string { return TypePong }
func (m Pong) RequestID() string    { return "" }

// Cancelled acknowledges a Cancel.  It may race with deltas already in
// flight; the registry treats the request as cancelled either way.
type Cancelled struct {
	Type string `json:"type"` // "cancelled"
	ID   string `json:"request_id"`
}

func (m Cancelled) EnvelopeType() string { return TypeCancelled }
func (m Cancelled) RequestID() string    { return m.ID }

// ── Constructors ─────────────────────────────────────────────────────────────

func NewChat(id, model, system string, messages []ChatMessage, stream bool, maxTokens int, tools bool) Chat {
	return Chat{
		Type:         TypeChat,
		ID:           id,
		Model:        model,
		System:       system,
		Messages:     messages,
		Stream:       stream,
		MaxTokens:    maxTokens,
		ToolsEnabled: tools,
	}
}

func NewCancel(id string) Cancel {
	return Cancel{Type: TypeCancel, ID: id}
}

func NewPing(ts int64) Ping {
	return Ping{Type: TypePing, TS: ts}
}

func NewToolApproval(requestID, toolCallID string, approved bool, reason string) ToolApproval {
	return ToolApproval{
		Type:       TypeToolApproval,
		ID:         requestID,
		ToolCallID: toolCallID,
		Approved:   approved,
		Reason:     reason,
	}
}

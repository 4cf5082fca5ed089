package domain

import "time"

type EventType int

const (
	EventTypeDelta EventType = iota
	EventTypeThinking
	EventTypeStatusChange
	EventTypeToolCall
	EventTypeApprovalPrompt
	EventTypeApprovalResolved
	EventTypeToolResult
	EventTypeConnection
)

func (t EventType) String() string {
	switch t {
	case EventTypeDelta:
		return "delta"
	case EventTypeThinking:
		return "thinking"
	case EventTypeStatusChange:
		return "status_change"
	case EventTypeToolCall:
		return "tool_call"
	case EventTypeApprovalPrompt:
		return "approval_prompt"
	case EventTypeApprovalResolved:
		return "approval_resolved"
	case EventTypeToolResult:
		return "tool_result"
	case EventTypeConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// Event is one session-level occurrence delivered to subscribers (UI,
// metrics).  Delivery is asynchronous; producers never block on consumers.
type Event struct {
	Type      EventType
	Timestamp time.Time
	RequestID string
	Data      any
}

type DeltaData struct {
	Index   int
	Content string
	Role    string
}

type ThinkingData struct {
	Content string
}

type StatusChangeData struct {
	Status  RequestStatus
	Code    string
	Message string
}

type ToolCallData struct {
	ToolCall ToolCallState
}

// ApprovalPromptData asks the caller for a decision.  Withdrawn is published
// with the same ids when the prompt becomes moot (request cancelled or
// errored) before a decision was made.
type ApprovalPromptData struct {
	ToolCallID string
	Name       string
	RiskLevel  string
	Withdrawn  bool
}

type ApprovalResolvedData struct {
	ToolCallID string
	Outcome    ApprovalOutcome
	Reason     string
}

type ToolResultData struct {
	ToolCallID string
	Content    string
	IsError    bool
}

type ConnectionData struct {
	State  string
	Reason string
}

func NewDeltaEvent(requestID string, index int, content, role string) Event {
	return Event{
		Type:      EventTypeDelta,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data:      DeltaData{Index: index, Content: content, Role: role},
	}
}

func NewThinkingEvent(requestID, content string) Event {
	return Event{
		Type:      EventTypeThinking,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data:      ThinkingData{Content: content},
	}
}

func NewStatusChangeEvent(requestID string, status RequestStatus, code, message string) Event {
	return Event{
		Type:      EventTypeStatusChange,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data:      StatusChangeData{Status: status, Code: code, Message: message},
	}
}

func NewToolCallEvent(requestID string, tc ToolCallState) Event {
	return Event{
		Type:      EventTypeToolCall,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data:      ToolCallData{ToolCall: tc},
	}
}

func NewApprovalPromptEvent(requestID, toolCallID, name, riskLevel string, withdrawn bool) Event {
	return Event{
		Type:      EventTypeApprovalPrompt,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: ApprovalPromptData{
			ToolCallID: toolCallID,
			Name:       name,
			RiskLevel:  riskLevel,
			Withdrawn:  withdrawn,
		},
	}
}

func NewApprovalResolvedEvent(requestID, toolCallID string, outcome ApprovalOutcome, reason string) Event {
	return Event{
		Type:      EventTypeApprovalResolved,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data:      ApprovalResolvedData{ToolCallID: toolCallID, Outcome: outcome, Reason: reason},
	}
}

func NewToolResultEvent(requestID, toolCallID, content string, isError bool) Event {
	return Event{
		Type:      EventTypeToolResult,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data:      ToolResultData{ToolCallID: toolCallID, Content: content, IsError: isError},
	}
}

func NewConnectionEvent(state, reason string) Event {
	return Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now(),
		Data:      ConnectionData{State: state, Reason: reason},
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/inferbridge/inferbridge/internal/domain"
	apiTypes "github.com/inferbridge/inferbridge/pkg/api"
)

// sseEvents streams session events as Server-Sent Events.  The subscription
// is registered before headers are flushed so no events are lost between the
// client seeing the 200 and the first broadcast.
func (h *Handler) sseEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	sub := h.session.Events(256)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent serialises a single event in the SSE wire format:
//
//	event: <type>\n
//	data: <json>\n
//	\n
func writeSSEEvent(w http.ResponseWriter, event domain.Event) error {
	apiEvent := domainEventToAPIEvent(event)
	data, err := json.Marshal(apiEvent)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", apiEvent.Type, data)
	return err
}

func domainEventToAPIEvent(e domain.Event) apiTypes.Event {
	return apiTypes.Event{
		Type:      e.Type.String(),
		Timestamp: e.Timestamp,
		RequestID: e.RequestID,
		Data:      convertEventData(e),
	}
}

func convertEventData(e domain.Event) any {
	switch d := e.Data.(type) {
	case domain.DeltaData:
		return apiTypes.DeltaData{Index: d.Index, Content: d.Content, Role: d.Role}
	case domain.ThinkingData:
		return apiTypes.ThinkingData{Content: d.Content}
	case domain.StatusChangeData:
		return apiTypes.StatusChangeData{Status: d.Status.String(), Code: d.Code, Message: d.Message}
	case domain.ToolCallData:
		return apiTypes.ToolCall{
			ID:               d.ToolCall.ID,
			Name:             d.ToolCall.Name,
			Arguments:        rawArguments(d.ToolCall.Arguments),
			RiskLevel:        d.ToolCall.RiskLevel,
			RequiresApproval: d.ToolCall.RequiresApproval,
			Outcome:          d.ToolCall.Outcome.String(),
		}
	case domain.ApprovalPromptData:
		return apiTypes.ApprovalPromptData{
			ToolCallID: d.ToolCallID,
			Name:       d.Name,
			RiskLevel:  d.RiskLevel,
			Withdrawn:  d.Withdrawn,
		}
	case domain.ApprovalResolvedData:
		return apiTypes.ApprovalResolvedData{
			ToolCallID: d.ToolCallID,
			Outcome:    d.Outcome.String(),
			Reason:     d.Reason,
		}
	case domain.ToolResultData:
		return apiTypes.ToolResultData{ToolCallID: d.ToolCallID, Content: d.Content, IsError: d.IsError}
	case domain.ConnectionData:
		return apiTypes.ConnectionData{State: d.State, Reason: d.Reason}
	default:
		return d
	}
}

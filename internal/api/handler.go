// Package api is the bridge's local HTTP surface: chat submission,
// cancellation, approvals, request inspection, an SSE event feed, and
// Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/inferbridge/inferbridge/internal/approval"
	"github.com/inferbridge/inferbridge/internal/bridge"
	"github.com/inferbridge/inferbridge/internal/domain"
	"github.com/inferbridge/inferbridge/internal/metrics"
	"github.com/inferbridge/inferbridge/internal/protocol"
	"github.com/inferbridge/inferbridge/internal/registry"
	apiTypes "github.com/inferbridge/inferbridge/pkg/api"
)

// Handler routes REST requests to the bridge session.
type Handler struct {
	session *bridge.Session
	log     zerolog.Logger
	promReg *prometheus.Registry
}

// NewHandler creates a Handler backed by the given session.
func NewHandler(session *bridge.Session, log zerolog.Logger) *Handler {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewExporter(session.Collector()))
	return &Handler{
		session: session,
		log:     log.With().Str("component", "api").Logger(),
		promReg: promReg,
	}
}

// Mount registers all routes on the provided router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/api/chat", h.createChat)
	r.Get("/api/requests", h.listRequests)
	r.Get("/api/requests/{id}", h.getRequest)
	r.Post("/api/requests/{id}/cancel", h.cancelRequest)
	r.Get("/api/approvals", h.listApprovals)
	r.Post("/api/approvals/{id}", h.resolveApproval)
	r.Get("/api/connection", h.getConnection)
	r.Get("/api/events", h.sseEvents)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(h.promReg, promhttp.HandlerOpts{}))
}

func (h *Handler) createChat(w http.ResponseWriter, r *http.Request) {
	var req apiTypes.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty", "")
		return
	}

	messages := make([]protocol.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = protocol.ChatMessage{Role: m.Role, Content: m.Content}
	}

	id, err := h.session.SendChat(r.Context(), messages)
	if err != nil {
		h.log.Warn().Err(err).Msg("chat submission failed")
		writeError(w, http.StatusBadGateway, "inference server unavailable", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, apiTypes.ChatResponse{RequestID: id})
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	snaps := h.session.Requests()
	resp := apiTypes.RequestListResponse{Requests: make([]apiTypes.RequestResponse, 0, len(snaps))}
	for _, s := range snaps {
		resp.Requests = append(resp.Requests, requestToResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := h.session.Request(id)
	if !ok {
		writeError(w, http.StatusNotFound, "request not found", "")
		return
	}
	writeJSON(w, http.StatusOK, requestToResponse(snap))
}

func (h *Handler) cancelRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.session.Cancel(id); err != nil {
		if errors.Is(err, registry.ErrUnknownRequest) {
			writeError(w, http.StatusNotFound, "request not found", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "cancel failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listApprovals(w http.ResponseWriter, r *http.Request) {
	pending := h.session.PendingApprovals()
	resp := apiTypes.ApprovalListResponse{Approvals: make([]apiTypes.PendingApproval, 0, len(pending))}
	for _, p := range pending {
		resp.Approvals = append(resp.Approvals, apiTypes.PendingApproval{
			ToolCallID: p.ToolCallID,
			Name:       p.Name,
			RiskLevel:  p.RiskLevel,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) resolveApproval(w http.ResponseWriter, r *http.Request) {
	toolCallID := chi.URLParam(r, "id")

	var req apiTypes.ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := h.session.Approve(toolCallID, req.Approved, req.Reason); err != nil {
		if errors.Is(err, approval.ErrNoPendingApproval) {
			writeError(w, http.StatusNotFound, "no pending approval for tool call", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "approval failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getConnection(w http.ResponseWriter, r *http.Request) {
	st := h.session.ConnectionStatus()
	writeJSON(w, http.StatusOK, apiTypes.ConnectionResponse{
		State:        st.State.String(),
		Attempt:      st.Attempt,
		ConnectionID: st.ConnectionID,
		Reason:       st.Reason,
	})
}

func requestToResponse(s domain.RequestSnapshot) apiTypes.RequestResponse {
	resp := apiTypes.RequestResponse{
		ID:                  s.ID,
		SubmittedAt:         s.SubmittedAt,
		Status:              s.Status.String(),
		Content:             s.Content,
		Role:                s.Role,
		ErrorCode:           s.ErrorCode,
		ErrorMessage:        s.ErrorMsg,
		FirstTokenLatencyMS: s.FirstTokenLatency.Milliseconds(),
	}
	for _, b := range s.Thinking {
		resp.Thinking = append(resp.Thinking, apiTypes.ThinkingBlock{
			Content:    b.Content,
			ReceivedAt: b.ReceivedAt,
		})
	}
	for _, tc := range s.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, apiTypes.ToolCall{
			ID:               tc.ID,
			Name:             tc.Name,
			Arguments:        rawArguments(tc.Arguments),
			RiskLevel:        tc.RiskLevel,
			RequiresApproval: tc.RequiresApproval,
			Outcome:          tc.Outcome.String(),
			Result:           tc.Result,
			ResultIsError:    tc.ResultIsError,
			ResultReceived:   tc.ResultReceived,
		})
	}
	if s.Usage != nil {
		resp.Usage = &apiTypes.Usage{
			InputTokens:  s.Usage.InputTokens,
			OutputTokens: s.Usage.OutputTokens,
		}
	}
	return resp
}

// rawArguments passes tool arguments through untouched.  Empty slices become
// nil so omitempty works and the encoder never sees zero-length raw JSON.
func rawArguments(args []byte) any {
	if len(args) == 0 {
		return nil
	}
	return json.RawMessage(args)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := apiTypes.ErrorResponse{Error: message}
	if details != "" {
		resp.Details = details
	}
	_ = json.NewEncoder(w).Encode(resp)
}

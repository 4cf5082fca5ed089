package registry

import (
	"fmt"
	"time"

	"github.com/inferbridge/inferbridge/internal/domain"
	"github.com/inferbridge/inferbridge/internal/protocol"
)

// ─────────────────────────────────────────────────────────────────────────────
// Stream assembly.  Deltas, thinking blocks, and terminal frames mutate the
// request record in place.  Every method here runs with Registry.mu held;
// Dispatch is the only caller.
// ─────────────────────────────────────────────────────────────────────────────

// applyDeltaLocked appends one content fragment.  Indexes must arrive dense
// from zero; any gap or repeat means the transport reordered or dropped a
// frame and the accumulated content can no longer be trusted.
func (r *Registry) applyDeltaLocked(rec *request, e protocol.Delta) {
	if e.Index != rec.deltaCount {
		r.transitionLocked(rec, domain.StatusError, "protocol_violation",
			fmt.Sprintf("out-of-order delta: got index %d, want %d", e.Index, rec.deltaCount))
		return
	}
	rec.deltaCount++

	if rec.deltaCount == 1 {
		rec.firstTokenLatency = time.Since(rec.submittedAt)
		if r.collector != nil {
			r.collector.FirstTokenLatency(rec.firstTokenLatency)
		}
	}

	if e.Role != "" {
		rec.role = e.Role
	}
	var content string
	if e.Content != nil {
		content = *e.Content
		rec.content.WriteString(content)
	}

	r.emit(domain.NewDeltaEvent(rec.id, e.Index, content, e.Role))
}

// applyThinkingLocked records one reasoning block.  Thinking frames carry no
// index and never interleave with the content accumulator.
func (r *Registry) applyThinkingLocked(rec *request, e protocol.Thinking) {
	rec.thinking = append(rec.thinking, domain.ThinkingBlock{
		Content:    e.Content,
		ReceivedAt: time.Now(),
	})
	r.emit(domain.NewThinkingEvent(rec.id, e.Content))
}

// applyDoneLocked completes the request.  A Done with no preceding deltas is
// legal for non-streaming requests; first-token latency then measures the
// whole round trip.
func (r *Registry) applyDoneLocked(rec *request, e protocol.Done) {
	if e.Usage != nil {
		rec.usage = &domain.Usage{
			InputTokens:  e.Usage.InputTokens,
			OutputTokens: e.Usage.OutputTokens,
		}
	}
	if rec.deltaCount == 0 {
		rec.firstTokenLatency = time.Since(rec.submittedAt)
		if r.collector != nil {
			r.collector.FirstTokenLatency(rec.firstTokenLatency)
		}
	}
	r.transitionLocked(rec, domain.StatusComplete, "", e.StopReason)
}

// applyErrorLocked terminates the request with the server's failure.  Content
// accumulated so far stays on the record so callers can show partial output.
func (r *Registry) applyErrorLocked(rec *request, e protocol.Error) {
	code := e.Code
	if code == "" {
		code = "server_error"
	}
	r.transitionLocked(rec, domain.StatusError, code, e.Message)
}

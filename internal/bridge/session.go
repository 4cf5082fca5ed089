// Package bridge assembles the transport, the request registry, and the
// approval coordinator into one session facade.  Everything the HTTP API and
// the CLI do goes through a Session.
package bridge

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/inferbridge/inferbridge/internal/approval"
	"github.com/inferbridge/inferbridge/internal/config"
	"github.com/inferbridge/inferbridge/internal/conn"
	"github.com/inferbridge/inferbridge/internal/domain"
	"github.com/inferbridge/inferbridge/internal/metrics"
	"github.com/inferbridge/inferbridge/internal/protocol"
	"github.com/inferbridge/inferbridge/internal/registry"
	"github.com/inferbridge/inferbridge/internal/stream"
)

// Session is one bridge instance: a persistent WebSocket to the inference
// server plus the request bookkeeping around it.
type Session struct {
	cfg config.Config
	log zerolog.Logger

	collector *metrics.Collector
	events    *stream.Broadcaster[domain.Event]
	manager   *conn.Manager
	registry  *registry.Registry
	approvals *approval.Coordinator
	fallback  *fallbackClient

	stateSub *stream.Receiver[conn.Status]
}

// New wires a session from configuration.  Nothing dials until Connect.
func New(cfg config.Config, log zerolog.Logger) *Session {
	s := &Session{
		cfg:       cfg,
		log:       log.With().Str("component", "bridge").Logger(),
		collector: metrics.NewCollector(cfg.MetricsEnabled),
		events:    stream.NewBroadcaster[domain.Event](),
	}

	s.manager = conn.NewManager(conn.Options{
		Endpoint:             cfg.Endpoint,
		AutoReconnect:        cfg.AutoReconnect,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		BaseDelay:            cfg.ReconnectBaseDelay,
		MaxDelay:             cfg.ReconnectMaxDelay,
		StabilityWindow:      cfg.StabilityWindow,
		PingInterval:         cfg.PingInterval,
	}, log, s.collector)

	s.registry = registry.New(s.manager, s.collector, s.events.Publish, cfg.RetentionWindow, log)
	s.approvals = approval.New(s.manager, s.registry, s.collector, s.events.Publish, approval.Options{
		Mode:          cfg.ApprovalMode,
		Timeout:       cfg.ApprovalTimeout,
		ApprovedTools: cfg.ApprovedTools,
	}, log)
	s.registry.SetToolHandler(s.approvals)

	s.manager.OnFrame(s.registry.Dispatch)
	s.manager.OnResync(s.registry.FailStreaming)

	if cfg.FallbackEndpoint != "" {
		s.fallback = newFallbackClient(cfg.FallbackEndpoint, cfg.Model)
	}

	// Mirror connection transitions onto the session event stream so API
	// subscribers see them next to request traffic.
	s.stateSub = s.manager.States(16)
	go s.forwardStates()

	return s
}

func (s *Session) forwardStates() {
	for st := range s.stateSub.C {
		s.events.Publish(domain.NewConnectionEvent(st.State.String(), st.Reason))
	}
}

// Connect dials the inference server.
func (s *Session) Connect(ctx context.Context) error {
	return s.manager.Connect(ctx)
}

// Close tears the session down.  In-flight requests fail with a connection
// loss; pending approvals are withdrawn.
func (s *Session) Close() {
	s.manager.Close()
	s.approvals.Close()
	s.registry.Close()
	s.stateSub.Close()
	s.events.Close()
	s.collector.Close()
}

// SendChat submits one chat turn.  History is trimmed to the configured
// context budget before it goes out.  When the WebSocket is down and an HTTP
// fallback endpoint is configured, the request runs there instead of failing
// outright.
func (s *Session) SendChat(ctx context.Context, messages []protocol.ChatMessage) (string, error) {
	msgs := trimHistory(messages, s.cfg.MaxContextSize)

	if s.manager.Status().State != conn.StateConnected && s.fallback != nil {
		s.log.Info().Msg("websocket unavailable, completing over http fallback")
		return s.registry.SubmitLocal(ctx, func(ctx context.Context) (string, *domain.Usage, error) {
			return s.fallback.Complete(ctx, s.cfg.SystemPrompt, msgs, 0)
		})
	}

	return s.registry.Submit(registry.ChatRequest{
		Messages:     msgs,
		Model:        s.cfg.Model,
		System:       s.cfg.SystemPrompt,
		Stream:       s.cfg.Streaming,
		ToolsEnabled: s.cfg.ToolsEnabled,
	})
}

// Cancel stops a request.  Local state settles immediately.
func (s *Session) Cancel(requestID string) error {
	return s.registry.Cancel(requestID)
}

// Approve resolves a pending tool approval prompt.
func (s *Session) Approve(toolCallID string, approved bool, reason string) error {
	return s.approvals.Resolve(toolCallID, approved, reason)
}

// PendingApprovals lists prompts still waiting on a decision.
func (s *Session) PendingApprovals() []domain.ApprovalPromptData {
	return s.approvals.Pending()
}

// Request returns a snapshot of one tracked request.
func (s *Session) Request(id string) (domain.RequestSnapshot, bool) {
	return s.registry.Get(id)
}

// Requests lists all tracked requests, newest first.
func (s *Session) Requests() []domain.RequestSnapshot {
	return s.registry.List()
}

// Events subscribes to the session event stream.
func (s *Session) Events(bufSize int) *stream.Receiver[domain.Event] {
	return s.events.Subscribe(bufSize)
}

// ConnectionStatus returns the current transport state.
func (s *Session) ConnectionStatus() conn.Status {
	return s.manager.Status()
}

// Metrics returns the current metrics snapshot.
func (s *Session) Metrics() metrics.Snapshot {
	return s.collector.Snapshot()
}

// Collector exposes the collector for the Prometheus exporter.
func (s *Session) Collector() *metrics.Collector {
	return s.collector
}

// trimHistory drops the oldest turns until the total content length fits the
// budget.  The newest message always survives, over budget or not; sending
// nothing helps nobody.
func trimHistory(messages []protocol.ChatMessage, maxChars int) []protocol.ChatMessage {
	if maxChars <= 0 || len(messages) == 0 {
		return messages
	}

	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	start := 0
	for start < len(messages)-1 && total > maxChars {
		total -= len(messages[start].Content)
		start++
	}
	return messages[start:]
}

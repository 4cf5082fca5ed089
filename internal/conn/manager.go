// Package conn owns the physical WebSocket connection to the inference
// server: dial, clean disconnect, reconnect with capped exponential backoff,
// and an envelope-level Ping/Pong heartbeat that detects half-open sockets.
//
// The Manager serialises outbound writes and runs a single receive loop per
// connection.  Inbound envelopes are handed to the registered frame handler;
// Connected and Pong frames are consumed internally.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/inferbridge/inferbridge/internal/circuit"
	"github.com/inferbridge/inferbridge/internal/metrics"
	"github.com/inferbridge/inferbridge/internal/protocol"
	"github.com/inferbridge/inferbridge/internal/stream"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("connection already active")
	ErrClosed           = errors.New("connection manager closed")
)

// connectFailureThreshold and connectCooldown gate explicit Connect calls
// (not the automatic reconnect loop, which has its own attempt cap).
const (
	connectFailureThreshold = 3
	connectCooldown         = 30 * time.Second
	handshakeTimeout        = 10 * time.Second
)

// Options are the transport knobs, a subset of the bridge configuration.
type Options struct {
	Endpoint             string
	AutoReconnect        bool
	MaxReconnectAttempts int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	StabilityWindow      time.Duration
	PingInterval         time.Duration
}

// FrameHandler receives every request-scoped inbound envelope.  It must not
// block: the receive loop is shared by all in-flight requests.
type FrameHandler func(protocol.Envelope)

// ResyncHandler is invoked when in-flight streams cannot continue: after a
// successful reconnect (the server is assumed stateless across connections)
// and when reconnection is exhausted.
type ResyncHandler func(reason string)

type Manager struct {
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Collector
	breaker *circuit.Breaker
	states  *stream.Broadcaster[Status]

	onFrame  FrameHandler
	onResync ResyncHandler

	mu          sync.Mutex
	ws          *websocket.Conn
	status      Status
	attempt     int
	gen         int // bumped by Connect/Disconnect to invalidate stale goroutines
	connectedAt time.Time
	lastPong    time.Time
	wasDown     bool // a reconnect or fresh connect follows a lost session
	closed      bool

	writeMu sync.Mutex
}

func NewManager(opts Options, log zerolog.Logger, collector *metrics.Collector) *Manager {
	return &Manager{
		opts:    opts,
		log:     log.With().Str("component", "conn").Logger(),
		metrics: collector,
		breaker: circuit.NewBreaker(connectFailureThreshold, connectCooldown),
		states:  stream.NewBroadcaster[Status](),
		status:  Status{State: StateDisconnected},
	}
}

// OnFrame registers the inbound dispatch callback.  Must be set before
// Connect.
func (m *Manager) OnFrame(fn FrameHandler) { m.onFrame = fn }

// OnResync registers the stream-invalidation callback.  Must be set before
// Connect.
func (m *Manager) OnResync(fn ResyncHandler) { m.onResync = fn }

// States returns a subscription to connection status transitions.
func (m *Manager) States(bufSize int) *stream.Receiver[Status] {
	return m.states.Subscribe(bufSize)
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect dials the endpoint.  It blocks for the first dial only; when the
// dial fails and auto-reconnect is enabled the backoff loop takes over and
// Connect returns nil.  From StateExhausted only an explicit Connect
// retries.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	switch m.status.State {
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	if err := m.breaker.Allow(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.gen++
	gen := m.gen
	m.attempt = 0
	m.setStatusLocked(Status{State: StateConnecting})
	m.mu.Unlock()

	if err := m.dial(ctx, gen); err != nil {
		if m.breaker.RecordFailure() {
			m.log.Warn().Dur("cooldown", m.breaker.Remaining()).
				Msg("connect failures tripped cooldown")
		}
		if m.opts.AutoReconnect && m.opts.MaxReconnectAttempts > 0 {
			m.log.Warn().Err(err).Msg("initial dial failed, entering reconnect loop")
			go m.reconnectLoop(gen)
			return nil
		}
		m.mu.Lock()
		if m.gen == gen {
			m.setStatusLocked(Status{State: StateDisconnected, Reason: err.Error()})
		}
		m.mu.Unlock()
		return fmt.Errorf("dial %s: %w", m.opts.Endpoint, err)
	}

	m.breaker.RecordSuccess()
	return nil
}

// Disconnect closes the connection cleanly and stops any reconnection.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	ws := m.ws
	m.ws = nil
	m.setStatusLocked(Status{State: StateDisconnected, Reason: "client disconnect"})
	m.mu.Unlock()

	if ws != nil {
		m.writeMu.Lock()
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		_ = ws.Close()
	}
}

// Close disconnects and shuts down the state stream.  The manager cannot be
// reused afterwards.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.states.Close()
}

// Send encodes env and writes it as one text frame.  Fails with
// ErrNotConnected unless the state is Connected.
func (m *Manager) Send(env protocol.Envelope) error {
	m.mu.Lock()
	ws := m.ws
	connected := m.status.State == StateConnected
	m.mu.Unlock()

	if !connected || ws == nil {
		return ErrNotConnected
	}

	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("ws write: %w", err)
	}
	return nil
}

// ── Internal lifecycle ───────────────────────────────────────────────────────

// dial performs one WebSocket handshake and, on success, installs the
// connection and starts its receive and heartbeat loops.
func (m *Manager) dial(ctx context.Context, gen int) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	ws, _, err := dialer.DialContext(dialCtx, m.opts.Endpoint, nil)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.gen != gen || m.closed {
		m.mu.Unlock()
		_ = ws.Close()
		return ErrClosed
	}
	m.ws = ws
	m.connectedAt = time.Now()
	m.lastPong = m.connectedAt
	resync := m.wasDown
	m.wasDown = false
	m.setStatusLocked(Status{State: StateConnected})
	m.mu.Unlock()

	m.log.Info().Str("endpoint", m.opts.Endpoint).Msg("connected")

	if resync && m.onResync != nil {
		m.onResync("connection lost")
	}

	go m.readLoop(gen, ws)
	go m.pingLoop(gen, ws)
	return nil
}

func (m *Manager) readLoop(gen int, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			m.connLost(gen, err)
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			// Connection-level protocol error: log and drop, never crash
			// the session over one bad frame.
			m.log.Warn().Err(err).Msg("undecodable frame dropped")
			continue
		}

		switch e := env.(type) {
		case protocol.Pong:
			m.notePong()
		case protocol.Connected:
			m.handleConnected(e)
		default:
			if m.onFrame != nil {
				m.onFrame(env)
			}
		}
	}
}

// pingLoop sends an envelope-level Ping every interval and force-closes the
// socket when no Pong arrived within twice the interval.  Half-open sockets
// otherwise look healthy forever.
func (m *Manager) pingLoop(gen int, ws *websocket.Conn) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		stale := m.gen != gen || m.closed
		silent := time.Since(m.lastPong) > 2*m.opts.PingInterval
		m.mu.Unlock()

		if stale {
			return
		}
		if silent {
			m.log.Warn().Msg("heartbeat timed out, forcing reconnect")
			_ = ws.Close() // readLoop observes the error and handles recovery
			return
		}
		if err := m.Send(protocol.NewPing(time.Now().UnixMilli())); err != nil {
			return
		}
	}
}

func (m *Manager) notePong() {
	m.mu.Lock()
	m.lastPong = time.Now()
	m.mu.Unlock()
}

// handleConnected records the server-assigned connection id.  A changed id
// across a reconnect confirms the server lost session state; in-flight
// streams were already invalidated by the resync signal.
func (m *Manager) handleConnected(e protocol.Connected) {
	m.mu.Lock()
	prev := m.status.ConnectionID
	st := m.status
	st.ConnectionID = e.ConnectionID
	m.setStatusLocked(st)
	m.mu.Unlock()

	if prev != "" && prev != e.ConnectionID {
		m.log.Info().Str("old", prev).Str("new", e.ConnectionID).
			Msg("server connection id changed")
	}
}

// connLost runs when the receive loop exits.  A clean Disconnect bumps gen
// first, so stale loops return without side effects.
func (m *Manager) connLost(gen int, cause error) {
	m.mu.Lock()
	if m.gen != gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.ws = nil
	m.wasDown = true
	if time.Since(m.connectedAt) >= m.opts.StabilityWindow {
		// The connection was stable; start the backoff schedule over.
		m.attempt = 0
	}
	reason := "connection lost"
	if cause != nil {
		reason = cause.Error()
	}

	if !m.opts.AutoReconnect || m.opts.MaxReconnectAttempts <= 0 {
		m.setStatusLocked(Status{State: StateDisconnected, Reason: reason})
		m.mu.Unlock()
		if m.onResync != nil {
			m.onResync("connection lost")
		}
		return
	}
	m.mu.Unlock()

	m.log.Warn().Str("cause", reason).Msg("connection lost")
	go m.reconnectLoop(gen)
}

// reconnectLoop retries with capped exponential backoff until it succeeds,
// is superseded, or runs out of attempts.
func (m *Manager) reconnectLoop(gen int) {
	for {
		m.mu.Lock()
		if m.gen != gen || m.closed {
			m.mu.Unlock()
			return
		}
		if m.attempt >= m.opts.MaxReconnectAttempts {
			m.setStatusLocked(Status{State: StateExhausted, Reason: "reconnect attempts exhausted"})
			m.mu.Unlock()
			m.log.Error().Int("attempts", m.opts.MaxReconnectAttempts).
				Msg("reconnection exhausted; explicit connect required")
			if m.onResync != nil {
				m.onResync("reconnect attempts exhausted")
			}
			return
		}
		attempt := m.attempt
		m.attempt++
		delay := backoffDelay(m.opts.BaseDelay, m.opts.MaxDelay, attempt)
		m.setStatusLocked(Status{State: StateReconnecting, Attempt: attempt + 1, Delay: delay})
		m.mu.Unlock()

		m.log.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("reconnecting")
		time.Sleep(delay)

		m.mu.Lock()
		stale := m.gen != gen || m.closed
		m.mu.Unlock()
		if stale {
			return
		}

		if err := m.dial(context.Background(), gen); err != nil {
			m.log.Warn().Err(err).Int("attempt", attempt+1).Msg("reconnect dial failed")
			continue
		}
		return
	}
}

// setStatusLocked updates the owned state, notifies subscribers, and records
// the transition.  Callers hold m.mu.
func (m *Manager) setStatusLocked(st Status) {
	if st.ConnectionID == "" {
		st.ConnectionID = m.status.ConnectionID
	}
	m.status = st
	m.states.Publish(st)
	if m.metrics != nil {
		m.metrics.ConnectionStateChanged(st.State.String(), st.Reason)
	}
}

package conn

import "time"

// State is the connection lifecycle.  Exactly one value at a time, owned by
// the Manager; observers subscribe and never mutate.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting

	// StateExhausted is terminal: automatic reconnection gave up and only an
	// explicit Connect call leaves it.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Status is one observed connection state, with reconnect bookkeeping when
// State is StateReconnecting.
type Status struct {
	State   State
	Attempt int
	Delay   time.Duration

	// ConnectionID is the server-assigned id from the Connected envelope,
	// empty until the handshake frame arrives.
	ConnectionID string

	Reason string
}

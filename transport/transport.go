// Package transport implements the L3 transport layer: a capability
// interface both the TCP and WebSocket variants satisfy (spec §9's
// redesign away from the teacher's duck-typed net.Conn handling,
// which made every call site assume raw socket semantics even where a
// WebSocket frame boundary is what's actually in play), a heartbeat
// loop shared by both variants, and a smart-switch wrapper that picks
// whichever variant the network currently supports.
package transport

import (
	"context"
	"sync"

	"imcore/frame"
	"imcore/imerr"
)

// State is the connection lifecycle state (spec §4.2's five states).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// PacketHandler receives every decoded inbound packet off the wire.
type PacketHandler func(frame.Packet)

// StateHandler is notified on every transport state transition.
type StateHandler func(from, to State)

// FaultHandler is notified when the connection must be torn down due
// to a framing/protocol fault (the reassembler's fail-fast path) or an
// underlying I/O error.
type FaultHandler func(error)

// Transport is the capability every variant (TCP, WebSocket) exposes
// to the rest of the engine. Callers never see net.Conn or a
// WebSocket library type directly.
type Transport interface {
	// Connect dials the peer and blocks until the socket is up or ctx
	// is cancelled. On success the transport enters StateAuthenticating
	// and begins delivering packets to the registered PacketHandler;
	// it advances to StateConnected only once the caller calls
	// ConfirmAuthenticated.
	Connect(ctx context.Context) error

	// Send writes one packet to the peer. Safe for concurrent use.
	Send(ctx context.Context, command frame.Command, sequence uint32, body []byte) error

	// Disconnect closes the connection, entering StateDisconnecting
	// then StateDisconnected.
	Disconnect() error

	// State returns the current lifecycle state.
	State() State

	// OnPacket registers the handler invoked for every decoded inbound
	// packet. Must be called before Connect.
	OnPacket(PacketHandler)

	// OnStateChange registers the handler invoked on every lifecycle
	// transition.
	OnStateChange(StateHandler)

	// OnFault registers the handler invoked when the connection is
	// torn down by a protocol fault or I/O error.
	OnFault(FaultHandler)

	// ConfirmAuthenticated advances the transport from
	// StateAuthenticating to StateConnected. The transport itself
	// cannot tell a successful CmdAuthRsp from a rejected one — only
	// the caller that unmarshals the response body knows that — so it
	// waits in StateAuthenticating until this is called. Returns an
	// error if the transport isn't currently awaiting authentication.
	ConfirmAuthenticated() error
}

// stateMachine is embedded by both variants to centralize the state
// field, its mutex, and transition notification.
type stateMachine struct {
	mu    sync.Mutex
	state State

	onPacket PacketHandler
	onState  StateHandler
	onFault  FaultHandler
}

func (m *stateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *stateMachine) setState(s State) {
	m.mu.Lock()
	from := m.state
	m.state = s
	handler := m.onState
	m.mu.Unlock()
	if handler != nil && from != s {
		handler(from, s)
	}
}

func (m *stateMachine) OnPacket(h PacketHandler)     { m.onPacket = h }
func (m *stateMachine) OnStateChange(h StateHandler) { m.onState = h }
func (m *stateMachine) OnFault(h FaultHandler)       { m.onFault = h }

func (m *stateMachine) ConfirmAuthenticated() error {
	m.mu.Lock()
	if m.state != StateAuthenticating {
		s := m.state
		m.mu.Unlock()
		return imerr.New(imerr.Custom, "ConfirmAuthenticated called outside authenticating state: "+s.String())
	}
	m.mu.Unlock()
	m.setState(StateConnected)
	return nil
}

func (m *stateMachine) fault(err error) {
	if m.onFault != nil {
		m.onFault(err)
	}
}

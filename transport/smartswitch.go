package transport

import (
	"context"
	"sync"

	"imcore/frame"
	"imcore/imerr"
)

// SmartSwitch wraps a primary and fallback Transport, trying the
// primary first and falling back to the secondary if the primary
// fails to connect — spec §4.2's requirement that a client behind a
// proxy that blocks raw TCP but allows WebSocket (or vice versa) can
// still reach the server without the caller choosing a variant
// upfront. Once a variant succeeds, SmartSwitch delegates every call
// to it for the rest of the connection's lifetime; a fresh Connect
// call re-probes from the primary again.
type SmartSwitch struct {
	primary   Transport
	secondary Transport

	mu     sync.Mutex
	active Transport

	onPacket PacketHandler
	onState  StateHandler
	onFault  FaultHandler
}

// NewSmartSwitch creates a SmartSwitch that tries primary before
// falling back to secondary on every Connect call.
func NewSmartSwitch(primary, secondary Transport) *SmartSwitch {
	return &SmartSwitch{primary: primary, secondary: secondary}
}

func (s *SmartSwitch) Connect(ctx context.Context) error {
	s.primary.OnPacket(s.dispatchPacket)
	s.primary.OnStateChange(s.dispatchState)
	s.primary.OnFault(s.dispatchFault)

	if err := s.primary.Connect(ctx); err == nil {
		s.mu.Lock()
		s.active = s.primary
		s.mu.Unlock()
		return nil
	} else if s.secondary == nil {
		return err
	}

	s.secondary.OnPacket(s.dispatchPacket)
	s.secondary.OnStateChange(s.dispatchState)
	s.secondary.OnFault(s.dispatchFault)

	if err := s.secondary.Connect(ctx); err != nil {
		return imerr.Wrap(imerr.ConnectionFailed, err)
	}
	s.mu.Lock()
	s.active = s.secondary
	s.mu.Unlock()
	return nil
}

func (s *SmartSwitch) dispatchPacket(p frame.Packet) {
	if s.onPacket != nil {
		s.onPacket(p)
	}
}

func (s *SmartSwitch) dispatchState(from, to State) {
	if s.onState != nil {
		s.onState(from, to)
	}
}

func (s *SmartSwitch) dispatchFault(err error) {
	if s.onFault != nil {
		s.onFault(err)
	}
}

func (s *SmartSwitch) current() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *SmartSwitch) Send(ctx context.Context, command frame.Command, sequence uint32, body []byte) error {
	t := s.current()
	if t == nil {
		return imerr.New(imerr.ConnectionFailed, "not connected")
	}
	return t.Send(ctx, command, sequence, body)
}

func (s *SmartSwitch) Disconnect() error {
	t := s.current()
	if t == nil {
		return nil
	}
	return t.Disconnect()
}

func (s *SmartSwitch) State() State {
	t := s.current()
	if t == nil {
		return StateDisconnected
	}
	return t.State()
}

func (s *SmartSwitch) OnPacket(h PacketHandler)     { s.onPacket = h }
func (s *SmartSwitch) OnStateChange(h StateHandler) { s.onState = h }
func (s *SmartSwitch) OnFault(h FaultHandler)       { s.onFault = h }

func (s *SmartSwitch) ConfirmAuthenticated() error {
	t := s.current()
	if t == nil {
		return imerr.New(imerr.ConnectionFailed, "not connected")
	}
	return t.ConfirmAuthenticated()
}

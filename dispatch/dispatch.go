// Package dispatch implements the L6 inbound dispatcher: it routes a
// decoded frame.Packet (or wsenvelope.Envelope, normalized to the same
// Inbound shape before reaching this package) to registered listeners
// by command, and issues exactly one delivery ACK per inbound chat
// message — spec §9's ordering requirement is persist, update cache,
// apply unread increment, notify listeners, and only then ack, so a
// crash between "ack sent" and "message persisted" can never happen.
// Dispatch enforces this by running a command's registered listeners
// (on the worker pool, so a slow or blocking listener never stalls the
// I/O read loop) and only emitting the ack once every listener for
// that dispatch has returned, recovering any listener panic so one bad
// handler can't swallow the ack for the rest.
//
// Listener registration uses explicit handles (spec §9's redesign
// away from the teacher's implicit weak-reference style), so a caller
// can deterministically unsubscribe instead of relying on garbage
// collection to drop a dead listener.
package dispatch

import (
	"imcore/frame"
	"imcore/logging"
	"imcore/workerpool"

	"github.com/rs/zerolog"
)

// Inbound is one decoded inbound message, independent of which
// transport variant (TCP frame or WebSocket envelope) produced it.
type Inbound struct {
	Command  frame.Command
	Sequence uint32
	Body     []byte
}

// Handler receives one routed Inbound message.
type Handler func(Inbound)

// Handle identifies a registered listener so it can later be removed.
type Handle struct {
	command frame.Command
	id      uint64
}

// Acker sends a CmdMsgAck back to the peer for a given sequence.
// Implemented by the outbox/transport layer.
type Acker interface {
	Ack(sequence uint32) error
}

// Dispatcher routes inbound messages by command to registered
// listeners, running each listener call on the shared workerpool.Pool
// so a slow or blocking listener never stalls the I/O read loop.
type Dispatcher struct {
	pool   *workerpool.Pool
	acker  Acker
	logger zerolog.Logger

	nextID    uint64
	listeners map[frame.Command]map[uint64]Handler
}

// New creates a Dispatcher. pool must already be started.
func New(pool *workerpool.Pool, acker Acker, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		pool:      pool,
		acker:     acker,
		logger:    logging.Component(logger, "dispatch"),
		listeners: make(map[frame.Command]map[uint64]Handler),
	}
}

// On registers h to receive every Inbound message with the given
// command, returning a Handle that Off can later use to remove it.
func (d *Dispatcher) On(command frame.Command, h Handler) Handle {
	d.nextID++
	id := d.nextID
	if d.listeners[command] == nil {
		d.listeners[command] = make(map[uint64]Handler)
	}
	d.listeners[command][id] = h
	return Handle{command: command, id: id}
}

// Off removes a previously registered listener. A no-op if the handle
// was already removed.
func (d *Dispatcher) Off(h Handle) {
	if m, ok := d.listeners[h.command]; ok {
		delete(m, h.id)
	}
}

// chatCommands is the set of commands that must receive exactly one
// delivery ACK, per spec §6/§9.
var chatCommands = map[frame.Command]bool{
	frame.CmdPushMsg:   true,
	frame.CmdBatchMsg:  true,
}

// Dispatch routes one inbound message: every listener registered for
// its command runs (on the worker pool, so the caller's read loop
// never blocks), and only once they have all returned does the
// delivery ack go out — never before, so the ack can't outrun the
// listener that actually persists the message.
func (d *Dispatcher) Dispatch(in Inbound) {
	registered := d.listeners[in.Command]
	handlers := make([]Handler, 0, len(registered))
	for _, h := range registered {
		handlers = append(handlers, h)
	}
	ackRequired := chatCommands[in.Command] && d.acker != nil

	if len(handlers) == 0 {
		if ackRequired {
			d.ack(in)
		}
		return
	}

	d.pool.Submit(func() {
		for _, h := range handlers {
			d.runHandler(h, in)
		}
		if ackRequired {
			d.ack(in)
		}
	})
}

func (d *Dispatcher) runHandler(h Handler, in Inbound) {
	defer func() {
		if r := recover(); r != nil {
			logging.RecoverPanic(d.logger, r, "listener panic", map[string]interface{}{
				"command": in.Command.String(),
			})
		}
	}()
	h(in)
}

func (d *Dispatcher) ack(in Inbound) {
	if err := d.acker.Ack(in.Sequence); err != nil {
		logging.Error(d.logger, err, "delivery ack failed", map[string]interface{}{
			"command":  in.Command.String(),
			"sequence": in.Sequence,
		})
	}
}

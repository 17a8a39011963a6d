// Package outbox implements the L5 outbound message queue: messages
// handed to session.SendMessage sit here as `queued` until the
// transport accepts them, then as `awaiting_ack` until the peer's
// CmdMsgAck arrives. An entry whose ACK never arrives within AckTimeout
// is resent, up to AckMaxAttempts sends in total, before it is marked
// `failed` and surfaced to the caller — directly addressing spec §9's
// missing-delivery-ACK bug note, which requires every outbound chat
// message to reach a terminal, observable state rather than silently
// vanishing on a dropped ACK.
package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"imcore/clock"
	"imcore/imerr"
)

// State is an entry's position in the delivery lifecycle.
type State int

const (
	StateQueued State = iota
	StateAwaitingAck
	StateSent
	StateFailed
)

// Entry is one pending outbound message.
type Entry struct {
	ID         string
	Command    uint16
	Sequence   uint32
	Body       []byte
	State      State
	Attempts   int
	EnqueuedAt time.Time

	// enqueueSeq is a monotonic counter, distinct from EnqueuedAt,
	// that FlushOnReconnect sorts by to guarantee original enqueue
	// order even when two entries land in the same clock tick.
	enqueueSeq uint64
}

// Sender is the narrow transport capability the queue needs: write
// one already-framed message and report whether it was accepted.
type Sender interface {
	Send(ctx context.Context, command uint16, sequence uint32, body []byte) error
}

// Config controls ACK-timeout retry behavior.
type Config struct {
	AckTimeout     time.Duration
	AckMaxAttempts int

	// ResendBurstPerSecond bounds how fast FlushOnReconnect replays a
	// large pending backlog after a reconnect, so a client that was
	// offline for a while doesn't slam the freshly reopened connection
	// with every queued message in one instant. Zero disables the
	// limit (every entry resent as fast as Send accepts it).
	ResendBurstPerSecond float64
}

// Queue is the outbound message queue. Safe for concurrent use; each
// armed ACK timeout runs in its own short-lived goroutine while callers
// enqueue and acknowledge from other goroutines.
type Queue struct {
	cfg    Config
	clk    clock.Clock
	sender Sender

	mu      sync.Mutex
	entries map[string]*Entry // all non-terminal entries, by ID
	timers  map[string]clock.Timer
	nextSeq uint64

	resendLimiter *rate.Limiter // nil when ResendBurstPerSecond is unset

	onTerminal func(Entry) // called once an entry reaches Sent or Failed
}

// New creates a Queue bound to sender for delivery and clk for ACK
// timeout scheduling. onTerminal, if non-nil, is invoked exactly once
// per entry when it reaches StateSent or StateFailed.
func New(cfg Config, clk clock.Clock, sender Sender, onTerminal func(Entry)) *Queue {
	q := &Queue{
		cfg:        cfg,
		clk:        clk,
		sender:     sender,
		entries:    make(map[string]*Entry),
		timers:     make(map[string]clock.Timer),
		onTerminal: onTerminal,
	}
	if cfg.ResendBurstPerSecond > 0 {
		q.resendLimiter = rate.NewLimiter(rate.Limit(cfg.ResendBurstPerSecond), 1)
	}
	return q
}

// Enqueue admits a new message for delivery. id must be unique
// (caller-generated, e.g. a uuid) — a duplicate id is rejected with
// imerr.Duplicate so the caller never double-sends the same logical
// message across a retry of its own.
func (q *Queue) Enqueue(ctx context.Context, id string, command uint16, sequence uint32, body []byte) error {
	q.mu.Lock()
	if _, exists := q.entries[id]; exists {
		q.mu.Unlock()
		return imerr.New(imerr.Duplicate, "message id already enqueued")
	}
	q.nextSeq++
	e := &Entry{ID: id, Command: command, Sequence: sequence, Body: body, State: StateQueued, EnqueuedAt: q.clk.Now(), enqueueSeq: q.nextSeq}
	q.entries[id] = e
	q.mu.Unlock()

	return q.attempt(ctx, id)
}

// attempt sends (or resends) entry id and arms its ACK-timeout timer.
func (q *Queue) attempt(ctx context.Context, id string) error {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return nil // acked/removed concurrently
	}
	e.Attempts++
	e.State = StateAwaitingAck
	cmd, seq, body := e.Command, e.Sequence, e.Body
	q.mu.Unlock()

	if err := q.sender.Send(ctx, cmd, seq, body); err != nil {
		return err
	}
	q.armTimeout(ctx, id)
	return nil
}

func (q *Queue) armTimeout(ctx context.Context, id string) {
	q.mu.Lock()
	if old, ok := q.timers[id]; ok {
		old.Stop()
	}
	timer := q.clk.NewTimer(q.cfg.AckTimeout)
	q.timers[id] = timer
	q.mu.Unlock()

	go func() {
		select {
		case <-timer.C():
			q.onTimeout(ctx, id)
		case <-ctx.Done():
		}
	}()
}

func (q *Queue) onTimeout(ctx context.Context, id string) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	if e.Attempts >= q.cfg.AckMaxAttempts {
		e.State = StateFailed
		delete(q.entries, id)
		delete(q.timers, id)
		final := *e
		q.mu.Unlock()
		if q.onTerminal != nil {
			q.onTerminal(final)
		}
		return
	}
	q.mu.Unlock()

	// retrying doesn't need the lock held across the network send
	_ = q.attempt(ctx, id)
}

// Ack marks id delivered, removing it from the queue and cancelling
// its pending ACK timer. An Ack for an unknown or already-acked id is
// a silent no-op (a duplicate/late ACK is not an error condition).
func (q *Queue) Ack(id string) {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	if timer, ok := q.timers[id]; ok {
		timer.Stop()
		delete(q.timers, id)
	}
	e.State = StateSent
	delete(q.entries, id)
	final := *e
	q.mu.Unlock()

	if q.onTerminal != nil {
		q.onTerminal(final)
	}
}

// FlushOnReconnect resends every still-pending entry immediately
// without incrementing its attempt count, since the prior send never
// reached the peer at all — a fresh connection, not a failed attempt
// on the old one. Per spec §4.5 this must not count against
// AckMaxAttempts. Entries are resent in original enqueue order (spec
// §5(b)/P6) — ranging over q.entries directly would resend in Go's
// randomized map iteration order, so the ids are sorted by enqueueSeq
// first.
func (q *Queue) FlushOnReconnect(ctx context.Context) {
	q.mu.Lock()
	type ordered struct {
		id  string
		seq uint64
	}
	pending := make([]ordered, 0, len(q.entries))
	for id, e := range q.entries {
		e.State = StateQueued
		pending = append(pending, ordered{id: id, seq: e.enqueueSeq})
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.id
	}
	q.mu.Unlock()

	for _, id := range ids {
		if q.resendLimiter != nil {
			if err := q.resendLimiter.Wait(ctx); err != nil {
				return
			}
		}

		q.mu.Lock()
		e, ok := q.entries[id]
		if !ok {
			q.mu.Unlock()
			continue
		}
		cmd, seq, body := e.Command, e.Sequence, e.Body
		e.State = StateAwaitingAck
		q.mu.Unlock()

		if err := q.sender.Send(ctx, cmd, seq, body); err != nil {
			continue
		}
		q.armTimeout(ctx, id)
	}
}

// Pending returns a snapshot of every entry not yet in a terminal
// state, used by the session layer for diagnostics and by the store
// to persist an outbox snapshot across process restarts.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	return out
}

// Depth reports how many entries are currently queued or awaiting ACK.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

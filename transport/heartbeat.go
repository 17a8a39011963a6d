package transport

import (
	"context"
	"sync"
	"time"

	"imcore/clock"
	"imcore/frame"
	"imcore/imerr"
)

// HeartbeatConfig controls the keep-alive ping/pong cadence.
type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Heartbeat drives periodic CmdHeartbeatReq sends and expects a
// CmdHeartbeatRsp within Timeout of each one; missing Timeout fires
// onTimeout, which the owning session treats as a connection fault
// triggering reconnect.
type Heartbeat struct {
	cfg     HeartbeatConfig
	clk     clock.Clock
	send    func(ctx context.Context, command frame.Command, sequence uint32, body []byte) error
	onTimeout func(error)

	mu        sync.Mutex
	stopCh    chan struct{}
	awaitingPong bool
	timer     clock.Timer
}

// NewHeartbeat creates a Heartbeat. send is usually Transport.Send;
// onTimeout is called (once) if a pong is not observed within Timeout
// of the most recent ping.
func NewHeartbeat(cfg HeartbeatConfig, clk clock.Clock, send func(context.Context, frame.Command, uint32, []byte) error, onTimeout func(error)) *Heartbeat {
	return &Heartbeat{cfg: cfg, clk: clk, send: send, onTimeout: onTimeout}
}

// Start begins the ping loop. Call once per connection lifetime; Stop
// before reconnecting.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	h.stopCh = make(chan struct{})
	stopCh := h.stopCh
	h.mu.Unlock()

	go func() {
		ticker := h.clk.NewTimer(h.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				h.ping(ctx)
				ticker.Reset(h.cfg.Interval)
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (h *Heartbeat) ping(ctx context.Context) {
	h.mu.Lock()
	h.awaitingPong = true
	if h.timer != nil {
		h.timer.Stop()
	}
	timer := h.clk.NewTimer(h.cfg.Timeout)
	h.timer = timer
	h.mu.Unlock()

	go func() {
		select {
		case <-timer.C():
			h.mu.Lock()
			timedOut := h.awaitingPong
			h.mu.Unlock()
			if timedOut && h.onTimeout != nil {
				h.onTimeout(imerr.New(imerr.Timeout, "heartbeat pong not received"))
			}
		case <-h.stopCh:
		}
	}()

	_ = h.send(ctx, frame.CmdHeartbeatReq, 0, nil)
}

// OnPong must be called whenever a CmdHeartbeatRsp packet is observed,
// clearing the pending-timeout flag.
func (h *Heartbeat) OnPong() {
	h.mu.Lock()
	h.awaitingPong = false
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()
}

// Stop ends the ping loop.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopCh != nil {
		select {
		case <-h.stopCh:
		default:
			close(h.stopCh)
		}
	}
	if h.timer != nil {
		h.timer.Stop()
	}
}

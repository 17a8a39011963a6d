// Package session implements the L9 orchestrator: it wires every
// other layer into the SDK's public surface (spec §9's redesign away
// from a global singleton into one explicit object a host app
// constructs, so a process can run more than one logged-in session —
// e.g. a notification-service extension and the main app — without
// them trampling each other's state).
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"imcore/clock"
	"imcore/config"
	"imcore/dispatch"
	"imcore/frame"
	"imcore/imerr"
	"imcore/ledger"
	"imcore/logging"
	"imcore/metrics"
	"imcore/outbox"
	"imcore/reconnect"
	"imcore/resource"
	"imcore/resync"
	"imcore/seqtrack"
	"imcore/store"
	"imcore/transport"
	"imcore/workerpool"
)

// MessageHandler receives a decoded inbound chat message.
type MessageHandler func(store.Message)

// RevokeHandler receives the message id of a revoked message.
type RevokeHandler func(messageID string)

// TypingHandler receives a typing-status update for a conversation.
type TypingHandler func(conversationID, userID string, typing bool)

// ConnectionHandler receives every transport state transition.
type ConnectionHandler func(from, to transport.State)

// dispatchInbound is a thin alias for the dispatcher's inbound shape.
type dispatchInbound = dispatch.Inbound

// Session is the SDK's public entry point. One Session corresponds to
// one logged-in user on one device.
type Session struct {
	cfg    *config.Config
	logger zerolog.Logger
	clk    clock.Clock

	metrics *metrics.Metrics
	budget  resource.Budget

	st       *store.Store
	ledger   *ledger.Ledger
	pool     *workerpool.Pool
	transp   transport.Transport
	backoff  *reconnect.Controller
	dispatch *Dispatcher
	queue    *outbox.Queue
	sync     *resync.Coordinator
	seq      sequencer

	seqTracker *seqtrack.Tracker
	heartbeat  *transport.Heartbeat

	mu          sync.Mutex
	initialized bool
	loggedIn    bool
	userID      string
	drafts      map[string]string

	onMessage    []MessageHandler
	onRevoke     []RevokeHandler
	onConnection []ConnectionHandler
	onTyping     []TypingHandler

	pendingResponses map[frame.Command]chan []byte
}

// Dispatcher is a thin alias so this file doesn't need to repeat the
// dispatch package's name at every call site.
type Dispatcher = dispatch.Dispatcher

// sequencer assigns client-local sequence numbers to outbound packets;
// kept as a narrow interface so session's own tests can substitute a
// deterministic counter.
type sequencer interface {
	Next() uint32
}

type atomicSeq struct {
	mu  sync.Mutex
	cur uint32
}

func (a *atomicSeq) Next() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cur++
	return a.cur
}

// New constructs a Session from cfg without yet opening any network
// connection or the on-disk store; call Initialize to do that.
func New(cfg *config.Config) (*Session, error) {
	logger := logging.New(logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})

	s := &Session{
		cfg:    cfg,
		logger: logging.Component(logger, "session"),
		clk:    clock.Real{},
		seq:    &atomicSeq{},
		drafts: make(map[string]string),
	}
	return s, nil
}

// Initialize opens the local store, probes device resources, builds
// the transport/outbox/dispatch/sync stack, and connects. It must be
// called exactly once before Login.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return imerr.New(imerr.Custom, "already initialized")
	}
	s.initialized = true
	s.mu.Unlock()

	budget, err := resource.Probe()
	if err != nil {
		logging.Error(s.logger, err, "resource probe failed, using conservative defaults", nil)
	}
	s.budget = budget
	s.metrics = metrics.New()

	st, err := store.Open(s.cfg.DBPath)
	if err != nil {
		return err
	}
	s.st = st

	led, err := ledger.New(st)
	if err != nil {
		return err
	}
	s.ledger = led

	s.pool = workerpool.New(resource.GOMAXPROCSHint(), budget.OutboxCapacityHint)
	s.pool.Start(ctx)

	s.transp = s.buildTransport()
	s.backoff = reconnect.New(reconnect.Config{
		BaseInterval: s.cfg.ReconnectBaseInterval,
		CapInterval:  s.cfg.ReconnectCapInterval,
		MaxAttempts:  s.cfg.MaxReconnectAttempts,
		JitterRatio:  s.cfg.ReconnectJitterRatio,
	}, s.clk)

	s.dispatch = dispatch.New(s.pool, &ackAdapter{s}, s.logger)
	s.wireDispatchHandlers()

	s.queue = outbox.New(outbox.Config{
		AckTimeout:           s.cfg.AckTimeout,
		AckMaxAttempts:       s.cfg.AckMaxAttempts,
		ResendBurstPerSecond: s.cfg.OutboxResendBurstPerSecond,
	}, s.clk, &senderAdapter{s}, s.onOutboxTerminal)

	s.sync = resync.New(&fetcherAdapter{s}, s.st, s.clk)

	s.heartbeat = transport.NewHeartbeat(transport.HeartbeatConfig{
		Interval: s.cfg.HeartbeatInterval,
		Timeout:  s.cfg.HeartbeatTimeout,
	}, s.clk, s.transp.Send, func(err error) { s.handleFault(err) })

	s.transp.OnPacket(s.handlePacket)
	s.transp.OnStateChange(s.handleStateChange)
	s.transp.OnFault(s.handleFault)

	s.resumePendingOutbox()

	if err := s.transp.Connect(ctx); err != nil {
		return err
	}
	s.heartbeat.Start(ctx)
	return nil
}

func (s *Session) buildTransport() transport.Transport {
	tcp := transport.NewTCP(transport.TCPConfig{
		Address:        s.cfg.IMURL,
		ConnectTimeout: s.cfg.ConnectionTimeout,
		MaxPacketSize:  s.cfg.MaxPacketSize,
		MaxBufferSize:  s.cfg.MaxBufferSize,
	})

	if !s.cfg.EnableSmartSwitch {
		if s.cfg.TransportType == config.TransportWebSocket {
			return transport.NewWS(transport.WSConfig{
				URL:            s.cfg.IMURL,
				ConnectTimeout: s.cfg.ConnectionTimeout,
				MaxPacketSize:  s.cfg.MaxPacketSize,
			})
		}
		return tcp
	}

	ws := transport.NewWS(transport.WSConfig{
		URL:            s.cfg.IMURL,
		ConnectTimeout: s.cfg.ConnectionTimeout,
		MaxPacketSize:  s.cfg.MaxPacketSize,
	})
	if s.cfg.TransportType == config.TransportWebSocket {
		return transport.NewSmartSwitch(ws, tcp)
	}
	return transport.NewSmartSwitch(tcp, ws)
}

func (s *Session) handleStateChange(from, to transport.State) {
	s.metrics.SetConnectionState(to.String(), []string{"disconnected", "connecting", "authenticating", "connected", "disconnecting"})
	if to == transport.StateConnected {
		s.backoff.Reset()
		s.queue.FlushOnReconnect(context.Background())
	}
	s.mu.Lock()
	handlers := append([]ConnectionHandler(nil), s.onConnection...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(from, to)
	}
}

func (s *Session) handleFault(err error) {
	logging.Error(s.logger, err, "transport fault, scheduling reconnect", nil)
	if cause := imerrCause(err); cause != "" {
		s.metrics.FramingFaults.WithLabelValues(string(cause)).Inc()
	}

	if !s.cfg.AutoReconnect {
		return
	}
	delay, schedErr := s.backoff.Schedule(func() {
		ctx := context.Background()
		if connErr := s.transp.Connect(ctx); connErr != nil {
			s.handleFault(connErr)
		}
	})
	if schedErr != nil {
		logging.Error(s.logger, schedErr, "reconnect attempts exhausted", nil)
		return
	}
	logging.Component(s.logger, "reconnect").Info().Dur("delay", delay).Msg("reconnect scheduled")
}

func imerrCause(err error) imerr.ProtocolCause {
	if e, ok := err.(*imerr.Error); ok {
		return e.Cause
	}
	return ""
}

// Close tears down the transport, worker pool, and local store. Safe
// to call once, after which the Session must not be reused.
func (s *Session) Close() error {
	if s.transp != nil {
		s.transp.Disconnect()
	}
	if s.pool != nil {
		s.pool.Stop()
	}
	if s.st != nil {
		s.st.Checkpoint()
		return s.st.Close()
	}
	return nil
}

// newMessageID generates a client-side message id for a not-yet-sent
// message, per spec §6's requirement that the sender assigns an id
// before the server has acknowledged anything.
func newMessageID() string {
	return uuid.NewString()
}

// conversationID derives a stable direct-conversation id from the two
// participant ids, ordering them so both sides compute the same id.
func conversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%s:%s", a, b)
}

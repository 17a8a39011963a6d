package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

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
	"imcore/resync"
	"imcore/store"
	"imcore/transport"
	"imcore/workerpool"
)

// fakeTransport satisfies transport.Transport without any real socket,
// letting session tests drive Send/handlePacket deterministically.
type fakeTransport struct {
	mu      sync.Mutex
	state   transport.State
	sent    []sentPacket
	onPkt   transport.PacketHandler
	onState transport.StateHandler
	onFault transport.FaultHandler
}

type sentPacket struct {
	Command  frame.Command
	Sequence uint32
	Body     []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: transport.StateDisconnected}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.state = transport.StateConnected
	handler := f.onState
	f.mu.Unlock()
	if handler != nil {
		handler(transport.StateDisconnected, transport.StateConnected)
	}
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, command frame.Command, sequence uint32, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPacket{Command: command, Sequence: sequence, Body: body})
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	f.state = transport.StateDisconnected
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) OnPacket(h transport.PacketHandler)     { f.onPkt = h }
func (f *fakeTransport) OnStateChange(h transport.StateHandler) { f.onState = h }
func (f *fakeTransport) OnFault(h transport.FaultHandler)       { f.onFault = h }

func (f *fakeTransport) ConfirmAuthenticated() error {
	f.mu.Lock()
	f.state = transport.StateConnected
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) deliver(p frame.Packet) {
	if f.onPkt != nil {
		f.onPkt(p)
	}
}

func (f *fakeTransport) lastSent() (sentPacket, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentPacket{}, false
	}
	return f.sent[len(f.sent)-1], true
}

// newTestSession wires a Session the way Initialize does, but against a
// fakeTransport and an in-memory store instead of a real socket and
// on-disk file, so request/response correlation, outbox persistence,
// and inbound dispatch can all be exercised without a toolchain-run
// network stack.
func newTestSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	cfg := &config.Config{
		IMURL:                 "ws://test.invalid",
		UserID:                "u1",
		TransportType:         config.TransportWebSocket,
		AckTimeout:            5 * time.Second,
		AckMaxAttempts:        3,
		ReconnectBaseInterval: 100 * time.Millisecond,
		ReconnectCapInterval:  time.Second,
		MaxReconnectAttempts:  5,
		RevokeWindow:          2 * time.Minute,
		MaxPacketSize:         1 << 20,
		MaxBufferSize:         2 << 20,
		LogLevel:              "error",
		LogFormat:             "json",
	}

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	led, err := ledger.New(st)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}

	pool := workerpool.New(2, 16)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	ft := newFakeTransport()
	fakeClk := clock.NewFake(time.Unix(1_700_000_000, 0))

	s := &Session{
		cfg:     cfg,
		logger:  logging.New(logging.Config{Level: logging.LevelError, Format: logging.FormatJSON}),
		clk:     fakeClk,
		metrics: metrics.New(),
		st:      st,
		ledger:  led,
		pool:    pool,
		transp:  ft,
		seq:     &atomicSeq{},
		drafts:  make(map[string]string),
	}
	s.initialized = true
	s.loggedIn = true
	s.userID = "u1"

	s.backoff = reconnect.New(reconnect.Config{
		BaseInterval: cfg.ReconnectBaseInterval,
		CapInterval:  cfg.ReconnectCapInterval,
		MaxAttempts:  cfg.MaxReconnectAttempts,
	}, fakeClk)
	s.dispatch = dispatch.New(pool, &ackAdapter{s}, s.logger)
	s.wireDispatchHandlers()
	s.queue = outbox.New(outbox.Config{
		AckTimeout:     cfg.AckTimeout,
		AckMaxAttempts: cfg.AckMaxAttempts,
	}, fakeClk, &senderAdapter{s}, s.onOutboxTerminal)
	s.sync = resync.New(&fetcherAdapter{s}, st, fakeClk)

	ft.OnPacket(s.handlePacket)
	ft.OnStateChange(s.handleStateChange)
	ft.OnFault(s.handleFault)

	return s, ft
}

func TestSendMessagePersistsOutboxAndMessageStore(t *testing.T) {
	s, ft := newTestSession(t)

	msgID, err := s.SendMessage(context.Background(), "c1", "text", []byte("hello"))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msgID == "" {
		t.Fatal("expected a non-empty message id")
	}

	entries, err := s.st.ListOutboxEntries()
	if err != nil {
		t.Fatalf("ListOutboxEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].MessageID != msgID {
		t.Fatalf("entries = %+v, want one entry for %s", entries, msgID)
	}

	msg, err := s.st.GetMessage(msgID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.Status != "queued" || msg.ConversationID != "c1" {
		t.Fatalf("msg = %+v, want queued message in c1", msg)
	}

	if _, ok := ft.lastSent(); !ok {
		t.Fatal("expected SendMessage to push a packet onto the transport")
	}
}

func TestSendMessageRequiresLogin(t *testing.T) {
	s, _ := newTestSession(t)
	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()

	_, err := s.SendMessage(context.Background(), "c1", "text", []byte("hi"))
	if !imerr.Is(err, imerr.NotLoggedIn) {
		t.Fatalf("err = %v, want NotLoggedIn", err)
	}
}

func TestHandleMsgAckRemovesOutboxEntry(t *testing.T) {
	s, _ := newTestSession(t)
	msgID, err := s.SendMessage(context.Background(), "c1", "text", []byte("hi"))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	ackBody, _ := json.Marshal(map[string]string{"message_id": msgID})
	s.handleMsgAck(ackBody)

	entries, _ := s.st.ListOutboxEntries()
	if len(entries) != 0 {
		t.Fatalf("entries = %+v, want none after ACK", entries)
	}
}

func TestRevokeMessageRejectsAfterWindow(t *testing.T) {
	s, _ := newTestSession(t)
	msgID, err := s.SendMessage(context.Background(), "c1", "text", []byte("hi"))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	fake := s.clk.(*clock.Fake)
	fake.Advance(3 * time.Minute) // past the 2-minute RevokeWindow

	err = s.RevokeMessage(context.Background(), msgID)
	if !imerr.Is(err, imerr.RevokeTimeExpired) {
		t.Fatalf("err = %v, want RevokeTimeExpired", err)
	}
}

func TestRevokeMessageRejectsOtherUsersMessage(t *testing.T) {
	s, _ := newTestSession(t)
	if _, err := s.st.UpsertMessage(store.Message{
		MessageID: "m1", ConversationID: "c1", SenderID: "someone-else",
		Sequence: 1, Type: "text", SentAt: s.clk.Now().UnixMilli(), UpdatedAt: s.clk.Now().UnixMilli(),
	}); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}

	err := s.RevokeMessage(context.Background(), "m1")
	if !imerr.Is(err, imerr.PermissionDenied) {
		t.Fatalf("err = %v, want PermissionDenied", err)
	}
}

func TestMarkReadZeroesLedgerAndSendsReceipt(t *testing.T) {
	s, ft := newTestSession(t)
	s.ledger.OnMessageReceived("c1")
	s.ledger.OnMessageReceived("c1")

	if err := s.MarkRead(context.Background(), "c1", 5); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := s.ledger.UnreadCount("c1"); got != 0 {
		t.Fatalf("UnreadCount = %d, want 0", got)
	}
	sent, ok := ft.lastSent()
	if !ok || sent.Command != frame.CmdReadReceiptReq {
		t.Fatalf("sent = %+v, want a CmdReadReceiptReq", sent)
	}
}

func TestHandlePacketDeliversInboundMessage(t *testing.T) {
	s, ft := newTestSession(t)

	var got store.Message
	received := make(chan struct{}, 1)
	s.OnMessage(func(m store.Message) {
		got = m
		received <- struct{}{}
	})

	body, _ := json.Marshal(pushMsgBody{
		MessageID: "m1", ConversationID: "c1", SenderID: "peer", Type: "text",
		Body: []byte("hi"), SentAt: s.clk.Now().UnixMilli(),
	})
	ft.deliver(frame.Packet{Command: frame.CmdPushMsg, Sequence: 1, Body: body})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("OnMessage listener never fired")
	}
	if got.MessageID != "m1" || got.ConversationID != "c1" {
		t.Fatalf("got = %+v, want message m1 in c1", got)
	}

	stored, err := s.st.GetMessage("m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if stored.Status != "delivered" {
		t.Fatalf("status = %q, want delivered", stored.Status)
	}

	// push_msg/batch_msg must receive exactly one ack, issued only
	// after every listener for the packet has returned.
	deadline := time.After(time.Second)
	for {
		acks := 0
		ft.mu.Lock()
		for _, p := range ft.sent {
			if p.Command == frame.CmdMsgAck {
				acks++
			}
		}
		ft.mu.Unlock()
		if acks == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("acks = %d, expected handlePacket to ack the inbound chat message exactly once", acks)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRequestCorrelatesResponseBySameCommand(t *testing.T) {
	s, ft := newTestSession(t)

	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := s.request(context.Background(), frame.CmdAuthReq, frame.CmdAuthRsp, []byte("req"))
		done <- result{body, err}
	}()

	// Wait for the request to register its waiter and send the packet.
	deadline := time.After(time.Second)
	for {
		if _, ok := ft.lastSent(); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("request never sent its packet")
		case <-time.After(time.Millisecond):
		}
	}

	ft.deliver(frame.Packet{Command: frame.CmdAuthRsp, Sequence: 1, Body: []byte("rsp")})

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("request: %v", r.err)
		}
		if string(r.body) != "rsp" {
			t.Fatalf("body = %q, want rsp", r.body)
		}
	case <-time.After(time.Second):
		t.Fatal("request never returned")
	}
}

func TestRequestTimesOutWhenContextDone(t *testing.T) {
	s, _ := newTestSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.request(ctx, frame.CmdAuthReq, frame.CmdAuthRsp, []byte("req"))
	if !imerr.Is(err, imerr.Timeout) {
		t.Fatalf("err = %v, want Timeout", err)
	}
}

func TestDraftRoundTrip(t *testing.T) {
	s, _ := newTestSession(t)

	if got := s.GetDraft("c1"); got != "" {
		t.Fatalf("GetDraft = %q, want empty", got)
	}
	s.SetDraft("c1", "hello")
	if got := s.GetDraft("c1"); got != "hello" {
		t.Fatalf("GetDraft = %q, want hello", got)
	}
	s.SetDraft("c1", "")
	if got := s.GetDraft("c1"); got != "" {
		t.Fatalf("GetDraft = %q, want cleared", got)
	}
}

func TestConversationIDIsOrderIndependent(t *testing.T) {
	if conversationID("a", "b") != conversationID("b", "a") {
		t.Fatal("conversationID must be symmetric in its two participants")
	}
}

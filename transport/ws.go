package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"imcore/frame"
	"imcore/imerr"
	"imcore/wsenvelope"
)

// WSConfig configures the WebSocket transport variant.
type WSConfig struct {
	URL            string
	ConnectTimeout time.Duration
	MaxPacketSize  int
}

// WS is the WebSocket transport variant: wsenvelope.Envelope over a
// single gobwas/ws connection, one envelope per WebSocket message (no
// reassembly needed — the WebSocket layer already delimits messages).
type WS struct {
	stateMachine

	cfg  WSConfig
	conn net.Conn

	writeMu sync.Mutex
}

// NewWS creates a WS transport in StateDisconnected.
func NewWS(cfg WSConfig) *WS {
	return &WS{cfg: cfg}
}

func (t *WS) Connect(ctx context.Context) error {
	t.setState(StateConnecting)

	dialCtx := ctx
	var cancel context.CancelFunc
	if t.cfg.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, t.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, _, _, err := ws.Dial(dialCtx, t.cfg.URL)
	if err != nil {
		t.setState(StateDisconnected)
		return imerr.Wrap(imerr.ConnectionFailed, err)
	}
	t.conn = conn
	t.setState(StateAuthenticating)

	go t.readLoop(conn)
	return nil
}

func (t *WS) readLoop(conn net.Conn) {
	for {
		data, opCode, err := wsutil.ReadServerData(conn)
		if err != nil {
			t.teardown(imerr.Wrap(imerr.ConnectionFailed, err))
			return
		}
		if opCode == ws.OpClose {
			t.teardown(imerr.New(imerr.ConnectionFailed, "peer closed connection"))
			return
		}
		if opCode != ws.OpBinary {
			continue
		}

		env, decodeErr := wsenvelope.Decode(data, t.cfg.MaxPacketSize)
		if decodeErr != nil {
			t.teardown(decodeErr)
			return
		}
		if t.onPacket != nil {
			t.onPacket(frame.Packet{Command: env.Command, Sequence: env.Sequence, Body: env.Body})
		}
	}
}

func (t *WS) teardown(err error) {
	t.setState(StateDisconnected)
	if t.conn != nil {
		t.conn.Close()
	}
	t.fault(err)
}

func (t *WS) Send(ctx context.Context, command frame.Command, sequence uint32, body []byte) error {
	if t.conn == nil {
		return imerr.New(imerr.ConnectionFailed, "not connected")
	}
	env := wsenvelope.Envelope{Command: command, Sequence: sequence, Timestamp: nowMillis(), Body: body}
	payload, err := wsenvelope.Encode(env, t.cfg.MaxPacketSize)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	}
	if err := wsutil.WriteClientBinary(t.conn, payload); err != nil {
		return imerr.Wrap(imerr.SendFailed, err)
	}
	return nil
}

func (t *WS) Disconnect() error {
	t.setState(StateDisconnecting)
	var err error
	if t.conn != nil {
		wsutil.WriteClientMessage(t.conn, ws.OpClose, nil)
		err = t.conn.Close()
	}
	t.setState(StateDisconnected)
	if err != nil {
		return imerr.Wrap(imerr.ConnectionFailed, err)
	}
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

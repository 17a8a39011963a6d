package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"imcore/frame"
	"imcore/imerr"
	"imcore/reassemble"
)

// TCPConfig configures the TCP transport variant.
type TCPConfig struct {
	Address         string
	ConnectTimeout  time.Duration
	MaxPacketSize   int
	MaxBufferSize   int
}

// TCP is the raw-socket transport variant: frame.Packet over a plain
// net.Conn, reassembled by reassemble.Buffer as bytes arrive.
type TCP struct {
	stateMachine

	cfg  TCPConfig
	conn net.Conn

	writeMu sync.Mutex
}

// NewTCP creates a TCP transport in StateDisconnected.
func NewTCP(cfg TCPConfig) *TCP {
	return &TCP{cfg: cfg}
}

func (t *TCP) Connect(ctx context.Context) error {
	t.setState(StateConnecting)

	dialer := net.Dialer{Timeout: t.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.cfg.Address)
	if err != nil {
		t.setState(StateDisconnected)
		return imerr.Wrap(imerr.ConnectionFailed, err)
	}
	t.conn = conn
	t.setState(StateAuthenticating)

	go t.readLoop(conn)
	return nil
}

func (t *TCP) readLoop(conn net.Conn) {
	buf := reassemble.New(t.cfg.MaxPacketSize, t.cfg.MaxBufferSize)
	chunk := make([]byte, 32*1024)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			packets, decodeErr := buf.Feed(chunk[:n])
			for _, p := range packets {
				if t.onPacket != nil {
					t.onPacket(p)
				}
			}
			if decodeErr != nil {
				t.teardown(decodeErr)
				return
			}
		}
		if err != nil {
			t.teardown(imerr.Wrap(imerr.ConnectionFailed, err))
			return
		}
	}
}

func (t *TCP) teardown(err error) {
	t.setState(StateDisconnected)
	if t.conn != nil {
		t.conn.Close()
	}
	t.fault(err)
}

func (t *TCP) Send(ctx context.Context, command frame.Command, sequence uint32, body []byte) error {
	if t.conn == nil {
		return imerr.New(imerr.ConnectionFailed, "not connected")
	}
	pkt, err := frame.Encode(frame.Packet{Command: command, Sequence: sequence, Body: body}, t.cfg.MaxPacketSize)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	}
	_, err = t.conn.Write(pkt)
	if err != nil {
		return imerr.Wrap(imerr.SendFailed, err)
	}
	return nil
}

func (t *TCP) Disconnect() error {
	t.setState(StateDisconnecting)
	var err error
	if t.conn != nil {
		err = t.conn.Close()
	}
	t.setState(StateDisconnected)
	if err != nil {
		return imerr.Wrap(imerr.ConnectionFailed, err)
	}
	return nil
}

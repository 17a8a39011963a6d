package reassemble

import (
	"testing"

	"imcore/frame"
)

func encodePacket(t *testing.T, p frame.Packet) []byte {
	t.Helper()
	buf, err := frame.Encode(p, 1<<20)
	if err != nil {
		t.Fatalf("frame.Encode: %v", err)
	}
	return buf
}

func TestFeedSinglePacket(t *testing.T) {
	b := New(1<<20, 1<<20)
	pkt := frame.Packet{Command: frame.CmdHeartbeatReq, Sequence: 1, Body: []byte("x")}

	packets, err := b.Feed(encodePacket(t, pkt))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(packets) != 1 || packets[0].Sequence != 1 {
		t.Fatalf("packets = %+v, want one packet with sequence 1", packets)
	}
	if b.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", b.Pending())
	}
}

func TestFeedSplitAcrossChunks(t *testing.T) {
	b := New(1<<20, 1<<20)
	buf := encodePacket(t, frame.Packet{Command: frame.CmdSendMsg, Sequence: 5, Body: []byte("hello world")})

	split := frame.HeaderSize + 3
	packets, err := b.Feed(buf[:split])
	if err != nil {
		t.Fatalf("Feed (partial): %v", err)
	}
	if len(packets) != 0 {
		t.Fatalf("expected no packets from a partial header+body, got %d", len(packets))
	}
	if b.Pending() != split {
		t.Fatalf("Pending() = %d, want %d", b.Pending(), split)
	}

	packets, err = b.Feed(buf[split:])
	if err != nil {
		t.Fatalf("Feed (remainder): %v", err)
	}
	if len(packets) != 1 || packets[0].Sequence != 5 {
		t.Fatalf("packets = %+v, want one packet with sequence 5", packets)
	}
}

func TestFeedMultiplePacketsOneChunk(t *testing.T) {
	b := New(1<<20, 1<<20)
	a := encodePacket(t, frame.Packet{Command: frame.CmdHeartbeatReq, Sequence: 1})
	c := encodePacket(t, frame.Packet{Command: frame.CmdHeartbeatReq, Sequence: 2})

	packets, err := b.Feed(append(a, c...))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(packets) != 2 || packets[0].Sequence != 1 || packets[1].Sequence != 2 {
		t.Fatalf("packets = %+v, want sequences [1 2]", packets)
	}
}

// TestFeedFailFastClearsBuffer guards the reassembler's documented
// fail-fast policy: a decode fault must discard everything buffered,
// including bytes belonging to an otherwise-valid packet queued behind
// the corrupt one, rather than attempt to resynchronize.
func TestFeedFailFastClearsBuffer(t *testing.T) {
	b := New(1<<20, 1<<20)
	corrupt := encodePacket(t, frame.Packet{Command: frame.CmdHeartbeatReq, Sequence: 1})
	corrupt[0] ^= 0xFF // break the magic
	good := encodePacket(t, frame.Packet{Command: frame.CmdHeartbeatReq, Sequence: 2})

	_, err := b.Feed(append(corrupt, good...))
	if err == nil {
		t.Fatal("expected a decode fault")
	}
	if b.Pending() != 0 {
		t.Fatalf("Pending() = %d after fault, want 0 (fail-fast clears everything)", b.Pending())
	}
}

func TestFeedOversizeBufferFault(t *testing.T) {
	b := New(1<<20, 8) // max_buffer_size smaller than a single header
	pkt := frame.Packet{Command: frame.CmdSendMsg, Body: make([]byte, 64)}

	_, err := b.Feed(encodePacket(t, pkt)[:frame.HeaderSize]) // only the header fits, body never arrives
	if err == nil {
		t.Fatal("expected max_buffer_size fault")
	}
	if b.Pending() != 0 {
		t.Fatalf("Pending() = %d after fault, want 0", b.Pending())
	}
}

func TestReset(t *testing.T) {
	b := New(1<<20, 1<<20)
	buf := encodePacket(t, frame.Packet{Command: frame.CmdSendMsg, Body: []byte("partial")})
	if _, err := b.Feed(buf[:frame.HeaderSize+2]); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if b.Pending() == 0 {
		t.Fatal("expected pending bytes before Reset")
	}
	b.Reset()
	if b.Pending() != 0 {
		t.Fatalf("Pending() = %d after Reset, want 0", b.Pending())
	}
}

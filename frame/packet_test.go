package frame

import (
	"testing"

	"imcore/imerr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := Packet{Flags: 0x01, Command: CmdSendMsg, Sequence: 42, Body: []byte(`{"hello":"world"}`)}

	buf, err := Encode(p, 1<<20)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(buf) != HeaderSize+len(p.Body) {
		t.Fatalf("encoded length = %d, want %d", len(buf), HeaderSize+len(p.Body))
	}

	got, err := Decode(buf, 1<<20)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Flags != p.Flags || got.Command != p.Command || got.Sequence != p.Sequence {
		t.Fatalf("decoded packet = %+v, want %+v", got, p)
	}
	if string(got.Body) != string(p.Body) {
		t.Fatalf("decoded body = %q, want %q", got.Body, p.Body)
	}
}

func TestEncodeBodyTooLarge(t *testing.T) {
	p := Packet{Command: CmdSendMsg, Body: make([]byte, 100)}
	_, err := Encode(p, 10)
	assertProtocolCause(t, err, imerr.CauseTooLarge)
}

func TestDecodeHeaderMagicMismatch(t *testing.T) {
	buf := validHeader(t)
	buf[0] ^= 0xFF // corrupt magic, leave everything else (incl. CRC) alone

	_, err := DecodeHeader(buf, 1<<20)
	assertProtocolCause(t, err, imerr.CauseMagic)
}

func TestDecodeHeaderVersionMismatch(t *testing.T) {
	buf := validHeader(t)
	buf[2] = 0x02

	_, err := DecodeHeader(buf, 1<<20)
	assertProtocolCause(t, err, imerr.CauseVersion)
}

func TestDecodeHeaderTooLarge(t *testing.T) {
	p := Packet{Command: CmdSendMsg, Body: make([]byte, 32)}
	buf, err := Encode(p, 0) // 0 = no limit at encode time
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, err = DecodeHeader(buf, 16) // decoder enforces a stricter limit than the sender used
	assertProtocolCause(t, err, imerr.CauseTooLarge)
}

func TestDecodeHeaderCRCMismatch(t *testing.T) {
	buf := validHeader(t)
	buf[15] ^= 0xFF // flip a CRC byte without touching magic/version/length

	_, err := DecodeHeader(buf, 1<<20)
	assertProtocolCause(t, err, imerr.CauseCRC)
}

// TestDecodeHeaderSingleCausePerFault guards spec §9's CRC-misattribution
// bug note: corrupting the magic bytes must surface CauseMagic, never
// CauseCRC, even though the corruption also invalidates the CRC.
func TestDecodeHeaderSingleCausePerFault(t *testing.T) {
	buf := validHeader(t)
	buf[0] ^= 0xFF
	buf[1] ^= 0xFF

	_, err := DecodeHeader(buf, 1<<20)
	assertProtocolCause(t, err, imerr.CauseMagic)
}

func validHeader(t *testing.T) []byte {
	t.Helper()
	buf, err := Encode(Packet{Command: CmdHeartbeatReq, Sequence: 1}, 1<<20)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf
}

func assertProtocolCause(t *testing.T, err error, want imerr.ProtocolCause) {
	t.Helper()
	e, ok := err.(*imerr.Error)
	if !ok {
		t.Fatalf("error = %v, want *imerr.Error", err)
	}
	if e.Kind != imerr.ProtocolError {
		t.Fatalf("kind = %v, want %v", e.Kind, imerr.ProtocolError)
	}
	if e.Cause != want {
		t.Fatalf("cause = %v, want %v", e.Cause, want)
	}
}

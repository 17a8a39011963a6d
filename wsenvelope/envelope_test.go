package wsenvelope

import (
	"testing"

	"imcore/frame"
	"imcore/imerr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := Envelope{Command: frame.CmdSendMsg, Sequence: 7, Timestamp: 1700000000000, Body: []byte("payload")}

	buf, err := Encode(env, 1<<20)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(buf) != HeaderSize+len(env.Body) {
		t.Fatalf("encoded length = %d, want %d", len(buf), HeaderSize+len(env.Body))
	}

	got, err := Decode(buf, 1<<20)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Command != env.Command || got.Sequence != env.Sequence || got.Timestamp != env.Timestamp {
		t.Fatalf("decoded envelope = %+v, want %+v", got, env)
	}
	if string(got.Body) != string(env.Body) {
		t.Fatalf("decoded body = %q, want %q", got.Body, env.Body)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1), 1<<20)
	if err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	buf, err := Encode(Envelope{Command: frame.CmdHeartbeatReq, Body: []byte("abc")}, 1<<20)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Truncate the body by one byte: body_length in the header now lies
	// about how long the buffer actually is.
	_, err = Decode(buf[:len(buf)-1], 1<<20)
	if err == nil {
		t.Fatal("expected error for length mismatch")
	}
}

func TestEncodeBodyTooLarge(t *testing.T) {
	_, err := Encode(Envelope{Command: frame.CmdSendMsg, Body: make([]byte, 100)}, 10)
	e, ok := err.(*imerr.Error)
	if !ok || e.Kind != imerr.ProtocolError || e.Cause != imerr.CauseTooLarge {
		t.Fatalf("err = %v, want protocol_error/too_large", err)
	}
}

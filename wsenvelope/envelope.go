// Package wsenvelope implements the WebSocket transport variant's
// message envelope from spec §4.1/§6: command|sequence|timestamp|
// body_length|body. Unlike frame.Packet, it carries no magic or CRC —
// the WebSocket layer already guarantees message framing and integrity,
// so the envelope only needs to carry the fields the application layer
// requires above what the browser/OS WebSocket stack already gives it.
package wsenvelope

import (
	"encoding/binary"

	"imcore/frame"
	"imcore/imerr"
)

// HeaderSize is the fixed envelope header length in bytes:
// command(2) + sequence(4) + timestamp(8) + body_length(4).
const HeaderSize = 18

// Envelope is a single WebSocket application message.
type Envelope struct {
	Command   frame.Command
	Sequence  uint32
	Timestamp int64 // unix millis
	Body      []byte
}

// Encode serializes env into a single []byte suitable for one
// WebSocket text/binary message (one envelope per WS message; the
// browser/OS layer handles message boundaries so there is no
// reassembly concern here, unlike the TCP variant).
func Encode(env Envelope, maxPacketSize int) ([]byte, error) {
	bodyLen := len(env.Body)
	if maxPacketSize > 0 && bodyLen > maxPacketSize {
		return nil, imerr.Protocol(imerr.CauseTooLarge, "body exceeds max_packet_size")
	}

	buf := make([]byte, HeaderSize+bodyLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(env.Command))
	binary.BigEndian.PutUint32(buf[2:6], env.Sequence)
	binary.BigEndian.PutUint64(buf[6:14], uint64(env.Timestamp))
	binary.BigEndian.PutUint32(buf[14:18], uint32(bodyLen))
	copy(buf[HeaderSize:], env.Body)
	return buf, nil
}

// Decode parses one complete WebSocket message payload into an
// Envelope. Since a WebSocket message arrives as a single already
// delimited unit, Decode either succeeds on the whole buffer or
// rejects it outright — there is no partial-message case to signal,
// unlike frame.Decode over a byte stream.
func Decode(buf []byte, maxPacketSize int) (Envelope, error) {
	if len(buf) < HeaderSize {
		return Envelope{}, imerr.New(imerr.ProtocolError, "short envelope")
	}
	bodyLen := binary.BigEndian.Uint32(buf[14:18])
	if maxPacketSize > 0 && bodyLen > uint32(maxPacketSize) {
		return Envelope{}, imerr.Protocol(imerr.CauseTooLarge, "body_length exceeds max_packet_size")
	}
	total := HeaderSize + int(bodyLen)
	if len(buf) != total {
		return Envelope{}, imerr.New(imerr.ProtocolError, "envelope length does not match body_length")
	}
	body := make([]byte, bodyLen)
	copy(body, buf[HeaderSize:total])
	return Envelope{
		Command:   frame.Command(binary.BigEndian.Uint16(buf[0:2])),
		Sequence:  binary.BigEndian.Uint32(buf[2:6]),
		Timestamp: int64(binary.BigEndian.Uint64(buf[6:14])),
		Body:      body,
	}, nil
}

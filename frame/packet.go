// Package frame implements the TCP wire framing of spec §3/§6: a
// 16-byte big-endian header (magic, version, flags, command,
// sequence, body_length, crc16) followed by a body of exactly
// body_length bytes. It reports the four decode-failure causes
// distinctly, per spec §4.1, in the priority order {magic, version,
// crc} (body_too_large is checked before CRC since an oversized
// length makes the stated body unreadable regardless of CRC).
package frame

import (
	"encoding/binary"

	"imcore/imerr"
)

const (
	// Magic is the fixed 16-bit sentinel identifying a valid header.
	Magic uint16 = 0xEF89

	// Version is the only wire version this codec accepts.
	Version uint8 = 0x01

	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 16

	// crcOffset is where the CRC begins within the header.
	crcOffset = 14
)

// Packet is a single decoded (or to-be-encoded) wire unit.
type Packet struct {
	Flags     uint8
	Command   Command
	Sequence  uint32
	Body      []byte
}

// Encode writes the header (with a freshly computed CRC16) followed by
// Body into a new byte slice. Returns an error only if Body exceeds
// maxPacketSize.
func Encode(p Packet, maxPacketSize int) ([]byte, error) {
	bodyLen := len(p.Body)
	if maxPacketSize > 0 && bodyLen > maxPacketSize {
		return nil, imerr.Protocol(imerr.CauseTooLarge, "body exceeds max_packet_size")
	}

	buf := make([]byte, HeaderSize+bodyLen)
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = p.Flags
	binary.BigEndian.PutUint16(buf[4:6], uint16(p.Command))
	binary.BigEndian.PutUint32(buf[6:10], p.Sequence)
	binary.BigEndian.PutUint32(buf[10:14], uint32(bodyLen))

	crc := CRC16CCITT(buf[0:crcOffset])
	binary.BigEndian.PutUint16(buf[14:16], crc)

	copy(buf[HeaderSize:], p.Body)
	return buf, nil
}

// Header is the parsed fixed portion of a packet, returned by
// DecodeHeader before the body is necessarily fully buffered.
type Header struct {
	Magic      uint16
	Version    uint8
	Flags      uint8
	Command    Command
	Sequence   uint32
	BodyLength uint32
	CRC16      uint16
}

// DecodeHeader parses and validates the first 16 bytes of buf. It
// attributes a single failure cause in the fixed order {magic,
// version, body_too_large, crc}, never more than one per call, so a
// caller never double-counts a single bad header (spec §9 bug note).
func DecodeHeader(buf []byte, maxPacketSize int) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, imerr.New(imerr.ProtocolError, "short header")
	}

	h := Header{
		Magic:      binary.BigEndian.Uint16(buf[0:2]),
		Version:    buf[2],
		Flags:      buf[3],
		Command:    Command(binary.BigEndian.Uint16(buf[4:6])),
		Sequence:   binary.BigEndian.Uint32(buf[6:10]),
		BodyLength: binary.BigEndian.Uint32(buf[10:14]),
		CRC16:      binary.BigEndian.Uint16(buf[14:16]),
	}

	if h.Magic != Magic {
		return h, imerr.Protocol(imerr.CauseMagic, "magic mismatch")
	}
	if h.Version != Version {
		return h, imerr.Protocol(imerr.CauseVersion, "unsupported version")
	}
	if maxPacketSize > 0 && h.BodyLength > uint32(maxPacketSize) {
		return h, imerr.Protocol(imerr.CauseTooLarge, "body_length exceeds max_packet_size")
	}
	computed := CRC16CCITT(buf[0:crcOffset])
	if computed != h.CRC16 {
		return h, imerr.Protocol(imerr.CauseCRC, "crc16 mismatch")
	}
	return h, nil
}

// Decode parses a full packet (header + body) out of buf. buf must
// contain at least HeaderSize+BodyLength bytes; callers (the
// reassembler) are responsible for waiting until enough bytes have
// arrived — Decode does not itself handle partial input.
func Decode(buf []byte, maxPacketSize int) (Packet, error) {
	h, err := DecodeHeader(buf, maxPacketSize)
	if err != nil {
		return Packet{}, err
	}
	total := HeaderSize + int(h.BodyLength)
	if len(buf) < total {
		return Packet{}, imerr.New(imerr.ProtocolError, "buffer shorter than declared body_length")
	}
	body := make([]byte, h.BodyLength)
	copy(body, buf[HeaderSize:total])
	return Packet{
		Flags:    h.Flags,
		Command:  h.Command,
		Sequence: h.Sequence,
		Body:     body,
	}, nil
}

package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	preamble0 = 0x55
	preamble1 = 0xAA

	// MaxPayload is the largest payload the 8-bit length field can carry
	// once the operation and attribute bytes are accounted for.
	MaxPayload = 253

	// minimum wire size: preamble + length + direction + op + attribute + checksum
	minPacketLen = 8
)

var (
	// ErrPayloadTooLarge means the caller handed Encode a payload that does
	// not fit the frame's length field. Caller misuse, never retried.
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds 253 bytes")
	// ErrBadPreamble means the buffer does not start with the 55 AA marker.
	ErrBadPreamble = errors.New("protocol: bad preamble")
	// ErrTruncated means fewer bytes are present than the declared length requires.
	ErrTruncated = errors.New("protocol: truncated packet")
	// ErrChecksumMismatch means the trailing checksum disagrees with the
	// computed value. A decode failure, not a protocol failure.
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
)

// Checksum computes the wire checksum over the frame body: the byte sum
// XORed with 0xFFFF, truncated to 16 bits. The preamble and the checksum
// bytes themselves are never included.
func Checksum(body []byte) uint16 {
	var sum uint32
	for _, b := range body {
		sum += uint32(b)
	}
	return uint16((sum ^ 0xFFFF) & 0xFFFF)
}

// Encode serializes a command into a complete wire packet:
//
//	55 AA [len] [dir] [op] [attr] [payload...] [cs_lo] [cs_hi]
func Encode(c Command) ([]byte, error) {
	if len(c.Payload) > MaxPayload {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(c.Payload))
	}
	return frame(c.body()), nil
}

// Build wraps a raw frame body into a wire packet. A body that already
// starts with the 55 AA marker is treated as a complete pre-built packet and
// returned as-is, so callers can inject raw vendor packets without double
// framing.
func Build(body []byte) []byte {
	if len(body) >= 2 && body[0] == preamble0 && body[1] == preamble1 {
		return body
	}
	return frame(body)
}

func frame(body []byte) []byte {
	pkt := make([]byte, 0, len(body)+4)
	pkt = append(pkt, preamble0, preamble1)
	pkt = append(pkt, body...)
	cs := Checksum(body)
	return append(pkt, byte(cs&0xFF), byte(cs>>8))
}

// Packet is a decoded wire packet.
type Packet struct {
	Direction Direction
	ReadWrite ReadWrite
	Attribute Attribute
	Payload   []byte
}

// Decode parses and validates a wire packet. The checksum is recomputed over
// the declared body; it is never trusted from the input.
func Decode(raw []byte) (*Packet, error) {
	if len(raw) < 2 {
		return nil, errors.Wrapf(ErrTruncated, "%d bytes", len(raw))
	}
	if raw[0] != preamble0 || raw[1] != preamble1 {
		return nil, errors.Wrapf(ErrBadPreamble, "% X", raw[:2])
	}
	if len(raw) < minPacketLen {
		return nil, errors.Wrapf(ErrTruncated, "%d bytes", len(raw))
	}
	length := int(raw[2])
	if length < 2 {
		return nil, errors.Wrapf(ErrTruncated, "declared length %d", length)
	}
	// body spans the length byte through the payload; 2 bytes of checksum follow
	if len(raw) < length+6 {
		return nil, errors.Wrapf(ErrTruncated, "declared length %d, have %d bytes", length, len(raw))
	}
	body := raw[2 : length+4]
	want := Checksum(body)
	got := binary.LittleEndian.Uint16(raw[length+4 : length+6])
	if got != want {
		return nil, errors.Wrapf(ErrChecksumMismatch, "computed %04X, packet carries %04X", want, got)
	}
	payload := make([]byte, length-2)
	copy(payload, raw[6:length+4])
	return &Packet{
		Direction: Direction(raw[3]),
		ReadWrite: ReadWrite(raw[4]),
		Attribute: Attribute(raw[5]),
		Payload:   payload,
	}, nil
}

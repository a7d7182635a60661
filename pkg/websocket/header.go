package websocket

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Frame header bit layout, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.2.
const (
	bit0     = 0x80 // FIN (first byte) / MASK (second byte).
	bit1     = 0x40 // RSV1.
	bit2     = 0x20 // RSV2.
	bit3     = 0x10 // RSV3.
	bits1to7 = 0x7f
	bits4to7 = 0x0f

	len7bits  = 125 // Payload length of up to 125 bytes, encoded literally.
	len16bits = 126 // Marker: the next 2 bytes hold the real length.
	len64bits = 127 // Marker: the next 8 bytes hold the real length.

	// maxControlPayload is the maximum length of a control frame
	// payload, per https://datatracker.ietf.org/doc/html/rfc6455#section-5.5.
	maxControlPayload = 125
)

// header is the decoded form of a frame's leading bytes, excluding the
// masking key and the payload itself. Based on
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.2.
type header struct {
	fin           bool
	rsv           [3]bool
	opcode        Opcode
	mask          bool
	payloadLength uint64
}

// decodeHeader reads a frame header (everything but the masking key and
// payload) from r, blocking until the bytes are available.
func decodeHeader(r io.Reader, scratch []byte) (header, error) {
	var h header

	b := scratch[:1]
	if _, err := io.ReadFull(r, b); err != nil {
		return h, fmt.Errorf("failed to read first header byte: %w", err)
	}
	h.fin = (b[0] & bit0) != 0
	h.rsv[0] = (b[0] & bit1) != 0
	h.rsv[1] = (b[0] & bit2) != 0
	h.rsv[2] = (b[0] & bit3) != 0
	h.opcode = Opcode(b[0] & bits4to7)

	if _, err := io.ReadFull(r, b); err != nil {
		return h, fmt.Errorf("failed to read second header byte: %w", err)
	}
	h.mask = (b[0] & bit0) != 0
	n := b[0] & bits1to7

	switch {
	case n <= len7bits:
		h.payloadLength = uint64(n)
	case n == len16bits:
		if _, err := io.ReadFull(r, scratch[:2]); err != nil {
			return h, fmt.Errorf("failed to read extended payload length: %w", err)
		}
		h.payloadLength = uint64(binary.BigEndian.Uint16(scratch[:2]))
	default: // len64bits
		if _, err := io.ReadFull(r, scratch[:8]); err != nil {
			return h, fmt.Errorf("failed to read extended payload length: %w", err)
		}
		h.payloadLength = binary.BigEndian.Uint64(scratch[:8])
		if h.payloadLength&(1<<63) != 0 {
			return h, fmt.Errorf("64-bit payload length has its high bit set")
		}
	}

	return h, nil
}

// encodeHeader appends a frame header (FIN, RSV, opcode, MASK bit and
// payload length, but not the masking key) for a payload of the given
// length to dst, and returns the extended slice. masked must always be
// true for client-originated frames, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.1.
func encodeHeader(dst []byte, fin bool, opcode Opcode, masked bool, payloadLength int) []byte {
	var b0 byte
	if fin {
		b0 |= bit0
	}
	b0 |= byte(opcode)
	dst = append(dst, b0)

	var b1 byte
	if masked {
		b1 |= bit0
	}
	switch {
	case payloadLength <= len7bits:
		b1 |= byte(payloadLength)
		dst = append(dst, b1)
	case payloadLength <= math.MaxUint16:
		b1 |= len16bits
		dst = append(dst, b1)
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], uint16(payloadLength))
		dst = append(dst, buf[:]...)
	default:
		b1 |= len64bits
		dst = append(dst, b1)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(payloadLength))
		dst = append(dst, buf[:]...)
	}
	return dst
}

// maskKey XORs payload in place with key, repeating key every 4 bytes.
// This operation is its own inverse: applying it twice with the same
// key restores the original payload. Based on
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.3.
func maskKey(payload, key []byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}

package websocket

import (
	"crypto/rand"
	"fmt"
	"io"
)

// frame is a single decoded WebSocket frame: one FIN-delimited unit on
// the wire, which may be a whole message, one fragment of a larger
// message, or a control frame.
type frame struct {
	fin     bool
	opcode  Opcode
	payload []byte
}

// readFrame reads and decodes exactly one frame from r. scratch is
// reused across calls to avoid allocating a new header buffer per
// frame; it must be at least 8 bytes. maxPayload bounds the payload
// this call will allocate for, independent of any running
// defragmentation limit the caller applies across frames.
//
// Per https://datatracker.ietf.org/doc/html/rfc6455#section-5.1, a
// compliant server never masks the frames it sends; this function
// fails the frame if the MASK bit is set, and fails it if any RSV bit
// is set, since this client never negotiates an extension that would
// give RSV bits meaning.
func readFrame(r io.Reader, scratch []byte, maxPayload int) (frame, error) {
	h, err := decodeHeader(r, scratch)
	if err != nil {
		return frame{}, fmt.Errorf("failed to read frame header: %w", err)
	}
	if h.rsv[0] || h.rsv[1] || h.rsv[2] {
		return frame{}, newProtocolError("reserved bit set without a negotiated extension")
	}
	if h.mask {
		return frame{}, newProtocolError("received a masked frame from the server")
	}
	if isReservedOpcode(h.opcode) {
		return frame{}, newProtocolError(fmt.Sprintf("reserved opcode %d", h.opcode))
	}
	if h.opcode.isControl() {
		if !h.fin {
			return frame{}, newProtocolError("control frame is fragmented")
		}
		if h.payloadLength > maxControlPayload {
			return frame{}, newProtocolError("control frame payload exceeds 125 bytes")
		}
	}
	if maxPayload > 0 && h.payloadLength > uint64(maxPayload) {
		return frame{}, &ProtocolError{
			Reason: "frame payload exceeds the configured maximum message size",
			Status: StatusMessageTooBig,
		}
	}

	payload := make([]byte, h.payloadLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame{}, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return frame{fin: h.fin, opcode: h.opcode, payload: payload}, nil
}

// writeFrame masks and writes a single client-to-server frame to w.
// Every frame this client sends is masked, per RFC 6455 section 5.3.
func writeFrame(w io.Writer, fin bool, opcode Opcode, payload []byte) error {
	var key [4]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return fmt.Errorf("failed to generate a masking key: %w", err)
	}

	buf := encodeHeader(make([]byte, 0, 14+len(payload)), fin, opcode, true, len(payload))
	buf = append(buf, key[:]...)

	masked := append([]byte(nil), payload...)
	maskKey(masked, key[:])
	buf = append(buf, masked...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

package websocket

import (
	"encoding/binary"
	"fmt"
)

// parseClosePayload decodes a Close frame's payload into a status code
// and UTF-8 reason, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.5.1. An
// empty payload means no status code was given at all, which is legal
// on the wire (unlike sending StatusNotReceived explicitly, which
// isn't).
func parseClosePayload(payload []byte) (StatusCode, string, error) {
	if len(payload) == 0 {
		return StatusNotReceived, "", nil
	}
	if len(payload) == 1 {
		return 0, "", newProtocolError("close frame payload has exactly 1 byte")
	}

	status := StatusCode(binary.BigEndian.Uint16(payload[:2]))
	if !validInboundStatus(status) {
		return 0, "", newProtocolError(fmt.Sprintf("close frame carries invalid status code %d", status))
	}

	reason := payload[2:]
	var v utf8Validator
	if !v.feed(reason) || !v.valid() {
		return 0, "", &ProtocolError{Reason: "close reason is not valid UTF-8", Status: StatusInvalidData}
	}
	return status, string(reason), nil
}

// validInboundStatus reports whether s is legal for a peer to place on
// the wire in a Close frame. It differs from validOutboundStatus only
// in that it additionally accepts the IANA-unassigned 1000-2999 range
// registered by future RFC extensions this client doesn't otherwise
// recognize, per the "MAY be defined in the future" language of
// https://datatracker.ietf.org/doc/html/rfc6455#section-7.4.2.
func validInboundStatus(s StatusCode) bool {
	switch {
	case s == StatusNotReceived || s == StatusAbnormalClosure || s == 1015:
		return false
	case s < 1000:
		return false
	case s <= 2999:
		return true
	case s >= 3000 && s <= 4999:
		return true
	default:
		return false
	}
}

// encodeClosePayload builds the payload of an outbound Close frame.
// reason is truncated if necessary so the whole frame, including the
// 2-byte status code, stays within the 125-byte control frame limit.
func encodeClosePayload(status StatusCode, reason string) []byte {
	const maxReasonBytes = maxControlPayload - 2

	r := []byte(reason)
	if len(r) > maxReasonBytes {
		r = truncateValidUTF8(r, maxReasonBytes)
	}

	payload := make([]byte, 2, 2+len(r))
	binary.BigEndian.PutUint16(payload, uint16(status))
	return append(payload, r...)
}

// truncateValidUTF8 shortens b to at most n bytes without splitting a
// multi-byte rune in two: while the first byte that would be cut off
// is a continuation byte, it cuts one byte earlier, so the rune that
// byte belongs to is dropped whole.
func truncateValidUTF8(b []byte, n int) []byte {
	if n >= len(b) {
		return b
	}
	for n > 0 && b[n]&0xc0 == 0x80 {
		n--
	}
	return b[:n]
}

// closeTracker records which side has sent and received a Close
// frame, so the close handshake's send step runs exactly once. It is
// only ever touched from a connection's single serving goroutine, so
// unlike the equivalent guard in a callback-driven client it needs no
// mutex of its own.
//
// It also remembers the status and reason of whichever side initiated
// the close first (a local Close call, or an unprompted Close frame
// from the peer): that's the effective status reported to the caller
// once both sides have closed, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-7.4.2's
// "peer's status" semantics for a close the peer originated, and the
// locally-requested status/reason when this side originated it.
type closeTracker struct {
	sent, received  bool
	effectiveStatus StatusCode
	effectiveReason string
}

func (c *closeTracker) shouldSend() bool {
	return !c.sent
}

// recordIfFirst captures status/reason as the effective close outcome
// the first time either side closes; later calls (the echo of
// whichever side went first) leave it untouched.
func (c *closeTracker) recordIfFirst(status StatusCode, reason string) {
	if !c.sent && !c.received {
		c.effectiveStatus = status
		c.effectiveReason = reason
	}
}

func (c *closeTracker) markSent(status StatusCode, reason string) {
	c.recordIfFirst(status, reason)
	c.sent = true
}

func (c *closeTracker) markReceived(status StatusCode, reason string) {
	c.recordIfFirst(status, reason)
	c.received = true
}

// done reports whether both sides have exchanged a Close frame and
// the underlying connection can now be torn down.
func (c *closeTracker) done() bool {
	return c.sent && c.received
}

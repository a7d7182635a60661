package websocket

import "strconv"

// StatusCode indicates the reason for the closure of a WebSocket
// connection, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-7.4 and
// https://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number.
type StatusCode uint16

const (
	// StatusNormalClosure means the purpose for which the connection
	// was established has been fulfilled.
	StatusNormalClosure StatusCode = 1000 + iota
	// StatusGoingAway means an endpoint is "going away", such as a
	// server going down or a browser having navigated away from a page.
	StatusGoingAway
	// StatusProtocolError means an endpoint is terminating the
	// connection due to a protocol error.
	StatusProtocolError
	// StatusUnsupportedData means an endpoint received a type of data
	// it cannot accept.
	StatusUnsupportedData
	_ // 1004: reserved.
	// StatusNotReceived is reserved; it MUST NOT appear on the wire.
	// It denotes "no status code was present" in a Close frame.
	StatusNotReceived
	// StatusAbnormalClosure is reserved; it MUST NOT appear on the wire.
	// It denotes a connection that closed without a Close frame.
	StatusAbnormalClosure
	// StatusInvalidData means an endpoint received data within a
	// message that wasn't consistent with the message's type (e.g.
	// non-UTF-8 data within a text message).
	StatusInvalidData
	// StatusPolicyViolation is a generic status used when no more
	// specific code (e.g. 1003 or 1009) applies.
	StatusPolicyViolation
	// StatusMessageTooBig means an endpoint received a message too
	// large for it to process.
	StatusMessageTooBig
	// StatusMandatoryExtension means the client expected the server to
	// negotiate one or more extensions that it didn't return.
	StatusMandatoryExtension
	// StatusInternalError means an endpoint encountered an unexpected
	// condition that prevented it from fulfilling the request.
	StatusInternalError
)

// String returns the status code's name, or its number if unrecognized.
func (s StatusCode) String() string {
	switch s {
	case StatusNormalClosure:
		return "normal closure"
	case StatusGoingAway:
		return "going away"
	case StatusProtocolError:
		return "protocol error"
	case StatusUnsupportedData:
		return "unsupported data"
	case StatusNotReceived:
		return "status not received"
	case StatusAbnormalClosure:
		return "closed abnormally"
	case StatusInvalidData:
		return "invalid data"
	case StatusPolicyViolation:
		return "policy violation"
	case StatusMessageTooBig:
		return "message too big"
	case StatusMandatoryExtension:
		return "expected extension negotiation"
	case StatusInternalError:
		return "internal error"
	default:
		return strconv.Itoa(int(s))
	}
}

// validOutboundStatus reports whether s is a status code this client is
// allowed to place in an outbound Close frame: the RFC 6455 defined
// range 1000-1011, or the application-reserved ranges 3000-4999.
// 1005, 1006 and 1015 are reserved for local use and MUST NOT appear
// on the wire (RFC 6455 section 7.4.1).
func validOutboundStatus(s StatusCode) bool {
	switch {
	case s == StatusNotReceived || s == StatusAbnormalClosure:
		return false
	case s == 1015:
		return false
	case s >= StatusNormalClosure && s <= StatusInternalError:
		return true
	case s >= 3000 && s <= 4999:
		return true
	default:
		return false
	}
}

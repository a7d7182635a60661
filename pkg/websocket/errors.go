package websocket

import (
	"errors"
	"fmt"
	"net"
)

// HandshakeError reports a failure of the opening HTTP upgrade
// handshake: a malformed or rejected response from the peer, before
// any WebSocket frame has been exchanged.
type HandshakeError struct {
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket: handshake failed: %s", e.Reason)
}

// ProtocolError reports a violation of RFC 6455's framing rules:
// an invalid opcode, a fragmented control frame, a masked frame from
// the server... and so on. A ProtocolError always fails the connection
// with its Status: StatusProtocolError, StatusInvalidData for bad
// UTF-8, or StatusMessageTooBig for an inbound message over the
// configured maximum size.
type ProtocolError struct {
	Reason string
	Status StatusCode
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("websocket: protocol error: %s", e.Reason)
}

// newProtocolError builds a ProtocolError closing with
// StatusProtocolError, the default for framing violations.
func newProtocolError(reason string) *ProtocolError {
	return &ProtocolError{Reason: reason, Status: StatusProtocolError}
}

// TimeoutError reports that a deadline passed on an open connection: a
// read/write deadline, or a pong that never arrived. A dial or
// handshake timeout in Dial is reported as the underlying error.
type TimeoutError struct {
	Reason string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("websocket: timeout: %s", e.Reason)
}

func (e *TimeoutError) Timeout() bool { return true }

// isNetTimeout reports whether err is a net.Error reporting a deadline
// exceeded (what SetReadDeadline/SetWriteDeadline produce), so it can
// be translated into a TimeoutError carrying a WebSocket-level reason.
func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// CloseError reports that the connection closed after a Close frame
// exchange, and carries the effective status code and reason of
// whichever side sent the first Close frame. A connection that drops
// without a Close frame reports the underlying read error instead.
type CloseError struct {
	Status StatusCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket: closed: %s (%d)", e.Status, e.Status)
	}
	return fmt.Sprintf("websocket: closed: %s (%d): %s", e.Status, e.Status, e.Reason)
}

// statusForError maps an error encountered while serving a connection
// to the status code that should be sent to the peer in the Close
// frame this side initiates.
func statusForError(err error) StatusCode {
	switch e := err.(type) {
	case *ProtocolError:
		return e.Status
	case *TimeoutError:
		return StatusGoingAway
	case *CloseError:
		return e.Status
	default:
		return StatusInternalError
	}
}

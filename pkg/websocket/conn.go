package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/harborws/wsengine/internal/ratelimit"
)

// ConnState describes where a connection is in its lifecycle.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// inboundEvent is what the reader goroutine hands to serve: either a
// successfully decoded frame, or the error that ended the read loop.
type inboundEvent struct {
	frame frame
	err   error
}

// command is a unit of work queued onto a Conn's cmd channel so that
// it executes on the connection's own serving goroutine, the only
// goroutine that ever writes to the network connection or mutates
// serve-local state. reply, if non-nil, receives fn's error after fn
// runs.
type command struct {
	fn    func(*Conn, *closeTracker) error
	reply chan error
}

// Conn is a single client-side WebSocket connection. Create one with
// Dial. All exported methods are safe to call from any goroutine.
type Conn struct {
	id  uuid.UUID
	cfg *Config

	nc  net.Conn
	rw  *bufio.ReadWriter

	subprotocol string
	limiter     *ratelimit.Limiter

	assembler *assembler // nil in ModeStream.

	messages chan message // ModeMessage deliveries.
	frames   chan frame   // ModeStream deliveries.

	cmd   chan command
	inbox chan inboundEvent
	done  chan struct{}

	state      atomic.Int32
	closeErr   error
	closeErrMu sync.Mutex
}

// Dial establishes a client connection to a ws:// or wss:// URL:
// it opens the TCP (and, for wss://, TLS) connection, performs the
// RFC 6455 opening handshake, and starts serving the connection in
// the background.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Conn, error) {
	cfg := newConfig(opts)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("websocket: invalid URL %q: %w", rawURL, err)
	}

	var useTLS bool
	switch u.Scheme {
	case "ws":
		useTLS = false
	case "wss":
		useTLS = true
	default:
		return nil, fmt.Errorf("websocket: unsupported URL scheme %q, want ws or wss", u.Scheme)
	}
	if useTLS {
		tlsCfg := cfg.TLS
		if tlsCfg == nil {
			tlsCfg = &tls.Config{}
		}
		if tlsCfg.ServerName == "" {
			tlsCfg = tlsCfg.Clone()
			tlsCfg.ServerName = u.Hostname()
		}
		cfg.TLS = tlsCfg
	}

	host := u.Host
	if !hasPort(host) {
		if useTLS {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	var d net.Dialer
	nc, err := d.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("websocket: failed to dial %s: %w", host, err)
	}
	if useTLS {
		tlsConn := tls.Client(nc, cfg.TLS)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			nc.Close()
			return nil, fmt.Errorf("websocket: TLS handshake failed: %w", err)
		}
		nc = tlsConn
	}

	rw := bufio.NewReadWriter(bufio.NewReader(nc), bufio.NewWriter(nc))
	path := u.RequestURI()
	if path == "" {
		path = "/"
	}
	if deadline, ok := dialCtx.Deadline(); ok {
		nc.SetDeadline(deadline)
	}
	result, err := performHandshake(rw, u.Host, path, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	nc.SetDeadline(time.Time{})

	c := &Conn{
		id:          uuid.New(),
		cfg:         cfg,
		nc:          nc,
		rw:          rw,
		subprotocol: result.subprotocol,
		limiter:     ratelimit.New(cfg.ReadBytesPerSec, cfg.ReadBurst, cfg.WriteBytesPerSec, cfg.WriteBurst),
		cmd:         make(chan command, 8),
		inbox:       make(chan inboundEvent, 8),
		done:        make(chan struct{}),
	}
	if cfg.Mode == ModeMessage {
		c.assembler = newAssembler(cfg.MaxMessageSize)
		c.messages = make(chan message, 8)
	} else {
		c.frames = make(chan frame, 8)
	}
	c.state.Store(int32(StateOpen))

	go c.readLoop()
	go c.serve()

	cfg.Logger.Debug().Str("conn", c.id.String()).Str("subprotocol", result.subprotocol).Msg("websocket connection established")
	return c, nil
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}

// ID returns the connection's unique identifier, assigned at Dial time.
func (c *Conn) ID() uuid.UUID { return c.id }

// Subprotocol returns the subprotocol negotiated during the handshake,
// or "" if none was offered or none was selected.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// State returns the connection's current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// readLoop continuously decodes frames off the wire and hands them to
// serve. It exits, closing inbox, the first time a read fails for any
// reason (a real I/O error, a protocol violation, or the connection
// having been torn down).
func (c *Conn) readLoop() {
	defer close(c.inbox)
	scratch := make([]byte, 8)
	maxPayload := c.cfg.MaxMessageSize
	for {
		if c.cfg.RecvTimeout > 0 {
			c.nc.SetReadDeadline(time.Now().Add(c.cfg.RecvTimeout))
		}
		f, err := readFrame(c.rw, scratch, maxPayload)
		if err != nil {
			if isNetTimeout(err) {
				err = &TimeoutError{Reason: "no data received within the configured recv timeout"}
			}
			c.inbox <- inboundEvent{err: err}
			return
		}
		if c.limiter != nil {
			if err := c.limiter.WaitRead(context.Background(), len(f.payload)); err != nil {
				c.inbox <- inboundEvent{err: err}
				return
			}
		}
		c.inbox <- inboundEvent{frame: f}
	}
}

// serve is the connection's single serving goroutine: it owns the
// network writer, the close handshake state, and the fragment
// assembler, and is the only goroutine that touches any of them.
// Every other goroutine communicates with it by enqueueing a command.
func (c *Conn) serve() {
	var closeTrk closeTracker
	var pingTicker *time.Ticker
	var pingTickerC <-chan time.Time
	if c.cfg.PingInterval > 0 {
		pingTicker = time.NewTicker(c.cfg.PingInterval)
		pingTickerC = pingTicker.C
		defer pingTicker.Stop()
	}
	var pongDeadlineC <-chan time.Time

	finish := func(err error) {
		c.state.Store(int32(StateClosed))
		c.closeErrMu.Lock()
		if c.closeErr == nil {
			c.closeErr = err
		}
		c.closeErrMu.Unlock()
		c.nc.Close()
		close(c.done)
	}

	for {
		select {
		case ev, ok := <-c.inbox:
			if !ok {
				finish(io.ErrClosedPipe)
				return
			}
			if ev.err != nil {
				status := statusForError(ev.err)
				if closeTrk.shouldSend() {
					c.writeCloseLocked(status, ev.err.Error())
				}
				finish(ev.err)
				return
			}
			if err := c.handleFrame(ev.frame, &closeTrk); err != nil {
				status := statusForError(err)
				if closeTrk.shouldSend() {
					c.writeCloseLocked(status, err.Error())
					closeTrk.markSent(status, err.Error())
				}
				finish(err)
				return
			}
			if closeTrk.done() {
				finish(&CloseError{Status: closeTrk.effectiveStatus, Reason: closeTrk.effectiveReason})
				return
			}
			if ev.frame.opcode == opcodePong {
				pongDeadlineC = nil
			}

		case cmd, ok := <-c.cmd:
			if !ok {
				continue
			}
			err := cmd.fn(c, &closeTrk)
			if cmd.reply != nil {
				cmd.reply <- err
			}
			if _, ok := err.(*TimeoutError); ok {
				if closeTrk.shouldSend() {
					c.writeCloseLocked(StatusGoingAway, "send timeout")
					closeTrk.markSent(StatusGoingAway, "send timeout")
				}
				finish(err)
				return
			}
			if closeTrk.done() {
				finish(&CloseError{Status: closeTrk.effectiveStatus, Reason: closeTrk.effectiveReason})
				return
			}

		case <-pingTickerC:
			payload := []byte(time.Now().Format(time.RFC3339Nano))
			if err := c.writeControlFrameLocked(opcodePing, payload); err == nil && c.cfg.PongTimeout > 0 {
				pongDeadlineC = time.NewTimer(c.cfg.PongTimeout).C
			}

		case <-pongDeadlineC:
			if closeTrk.shouldSend() {
				c.writeCloseLocked(StatusGoingAway, "pong timeout")
				closeTrk.markSent(StatusGoingAway, "pong timeout")
			}
			finish(&TimeoutError{Reason: "no pong received within the configured timeout"})
			return

		case <-c.done:
			return
		}
	}
}

// handleFrame dispatches one inbound frame: control frames are acted
// on immediately, data frames are fed to the assembler (ModeMessage)
// or delivered as-is (ModeStream).
func (c *Conn) handleFrame(f frame, closeTrk *closeTracker) error {
	if f.opcode.isControl() {
		switch f.opcode {
		case opcodePing:
			return c.writeControlFrameLocked(opcodePong, f.payload)
		case opcodePong:
			return nil
		case opcodeClose:
			status, reason, err := parseClosePayload(f.payload)
			if err != nil {
				return err
			}
			closeTrk.markReceived(status, reason)
			c.state.Store(int32(StateClosing))
			if closeTrk.shouldSend() {
				if werr := c.writeCloseLocked(status, ""); werr != nil {
					return werr
				}
				closeTrk.markSent(status, "")
			}
			return nil
		}
		return newProtocolError(fmt.Sprintf("unhandled control opcode %s", f.opcode))
	}

	if c.cfg.Mode == ModeStream {
		select {
		case c.frames <- f:
		default:
			// A caller not keeping up with ReadFrame must not stall the
			// connection's single serving goroutine; block with a short
			// grace period instead of dropping silently.
			select {
			case c.frames <- f:
			case <-time.After(5 * time.Second):
				return newProtocolError("ReadFrame consumer is not keeping up")
			}
		}
		return nil
	}

	msg, complete, err := c.assembler.addFrame(f)
	if err != nil {
		return err
	}
	if !complete {
		return nil
	}
	select {
	case c.messages <- msg:
	case <-time.After(5 * time.Second):
		return newProtocolError("ReadMessage consumer is not keeping up")
	}
	return nil
}

// applyWriteDeadline sets the underlying connection's write deadline
// from SendTimeout, if configured, ahead of a single write so a peer
// that stops reading can't block the serving goroutine forever.
func (c *Conn) applyWriteDeadline() {
	if c.cfg.SendTimeout > 0 {
		c.nc.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout))
	}
}

// asSendTimeout translates a deadline-exceeded write error into a
// TimeoutError carrying a WebSocket-level reason; other errors pass
// through unchanged.
func asSendTimeout(err error) error {
	if isNetTimeout(err) {
		return &TimeoutError{Reason: "write did not complete within the configured send timeout"}
	}
	return err
}

func (c *Conn) writeControlFrameLocked(opcode Opcode, payload []byte) error {
	c.applyWriteDeadline()
	return asSendTimeout(flushErr(writeFrame(c.rw, true, opcode, payload), c.rw))
}

func (c *Conn) writeCloseLocked(status StatusCode, reason string) error {
	if !validOutboundStatus(status) {
		status = StatusInternalError
	}
	c.applyWriteDeadline()
	err := writeFrame(c.rw, true, opcodeClose, encodeClosePayload(status, reason))
	if flushErr := c.rw.Flush(); err == nil {
		err = flushErr
	}
	return asSendTimeout(err)
}

// runCommand enqueues fn to run on the serving goroutine and waits for
// it to finish or for ctx to end.
func (c *Conn) runCommand(ctx context.Context, fn func(*Conn, *closeTracker) error) error {
	reply := make(chan error, 1)
	select {
	case c.cmd <- command{fn: fn, reply: reply}:
	case <-c.done:
		return fmt.Errorf("websocket: connection already closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return fmt.Errorf("websocket: connection already closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadMessage returns the next complete, defragmented message. It is
// only valid to call when the connection was dialed with ModeMessage.
func (c *Conn) ReadMessage(ctx context.Context) (Opcode, []byte, error) {
	if c.messages == nil {
		return 0, nil, fmt.Errorf("websocket: ReadMessage called on a ModeStream connection")
	}
	select {
	case msg, ok := <-c.messages:
		if !ok {
			return 0, nil, c.finalError()
		}
		return msg.opcode, msg.data, nil
	case <-c.done:
		return 0, nil, c.finalError()
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// ReadFrame returns the next raw data frame. It is only valid to call
// when the connection was dialed with ModeStream.
func (c *Conn) ReadFrame(ctx context.Context) (fin bool, opcode Opcode, payload []byte, err error) {
	if c.frames == nil {
		return false, 0, nil, fmt.Errorf("websocket: ReadFrame called on a ModeMessage connection")
	}
	select {
	case f, ok := <-c.frames:
		if !ok {
			return false, 0, nil, c.finalError()
		}
		return f.fin, f.opcode, f.payload, nil
	case <-c.done:
		return false, 0, nil, c.finalError()
	case <-ctx.Done():
		return false, 0, nil, ctx.Err()
	}
}

func (c *Conn) finalError() error {
	c.closeErrMu.Lock()
	defer c.closeErrMu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return io.EOF
}

// WriteMessage sends data as a single logical message, split into
// FragmentSize-sized continuation frames if it's larger than that.
func (c *Conn) WriteMessage(ctx context.Context, opcode Opcode, data []byte) error {
	return c.runCommand(ctx, func(c *Conn, _ *closeTracker) error {
		return c.writeMessageLocked(ctx, opcode, data)
	})
}

func (c *Conn) writeMessageLocked(ctx context.Context, opcode Opcode, data []byte) error {
	fragmentSize := c.cfg.FragmentSize
	if fragmentSize <= 0 || len(data) <= fragmentSize {
		if c.limiter != nil {
			if err := c.limiter.WaitWrite(ctx, len(data)); err != nil {
				return err
			}
		}
		c.applyWriteDeadline()
		return asSendTimeout(flushErr(writeFrame(c.rw, true, opcode, data), c.rw))
	}

	for offset := 0; offset < len(data); offset += fragmentSize {
		end := offset + fragmentSize
		if end > len(data) {
			end = len(data)
		}
		frameOpcode := opcodeContinuation
		if offset == 0 {
			frameOpcode = opcode
		}
		fin := end == len(data)
		chunk := data[offset:end]
		if c.limiter != nil {
			if err := c.limiter.WaitWrite(ctx, len(chunk)); err != nil {
				return err
			}
		}
		c.applyWriteDeadline()
		if err := writeFrame(c.rw, fin, frameOpcode, chunk); err != nil {
			return asSendTimeout(err)
		}
	}
	return asSendTimeout(c.rw.Flush())
}

func flushErr(err error, rw *bufio.ReadWriter) error {
	if err != nil {
		return err
	}
	return rw.Flush()
}

// BeginMessage, WriteFrameData and EndMessage let a caller stream an
// outbound message frame by frame instead of buffering it whole; they
// must be called in that order, from a single goroutine at a time.
// Calling EndMessage before the message's final frame was written is
// an error: there's no way to retroactively mark an already-sent frame
// as FIN.
type messageWriter struct {
	c      *Conn
	opcode Opcode
	begun  bool
	ended  bool
}

// BeginMessage starts a streamed outbound message of the given opcode
// (OpcodeText or OpcodeBinary).
func (c *Conn) BeginMessage(opcode Opcode) (*messageWriter, error) {
	if opcode != OpcodeText && opcode != OpcodeBinary {
		return nil, fmt.Errorf("websocket: BeginMessage requires OpcodeText or OpcodeBinary")
	}
	return &messageWriter{c: c, opcode: opcode}, nil
}

// WriteFrameData sends data as the next frame of the message. final
// must be true exactly once, on the last frame.
func (w *messageWriter) WriteFrameData(ctx context.Context, data []byte, final bool) error {
	if w.ended {
		return fmt.Errorf("websocket: WriteFrameData called after EndMessage")
	}
	opcode := w.opcode
	if w.begun {
		opcode = opcodeContinuation
	}
	w.begun = true
	if final {
		w.ended = true
	}
	return w.c.runCommand(ctx, func(c *Conn, _ *closeTracker) error {
		if c.limiter != nil {
			if err := c.limiter.WaitWrite(ctx, len(data)); err != nil {
				return err
			}
		}
		c.applyWriteDeadline()
		return asSendTimeout(flushErr(writeFrame(c.rw, final, opcode, data), c.rw))
	})
}

// EndMessage finalizes the message. It is an error to call it before a
// final frame has been written via WriteFrameData.
func (w *messageWriter) EndMessage() error {
	if !w.ended {
		return fmt.Errorf("websocket: EndMessage called before the message's final frame was sent")
	}
	return nil
}

// Ping sends an unsolicited ping with the given payload (at most 125
// bytes).
func (c *Conn) Ping(ctx context.Context, payload []byte) error {
	if len(payload) > maxControlPayload {
		return fmt.Errorf("websocket: ping payload exceeds %d bytes", maxControlPayload)
	}
	return c.runCommand(ctx, func(c *Conn, _ *closeTracker) error {
		return flushErr(c.writeControlFrameLocked(opcodePing, payload), c.rw)
	})
}

// Close starts the closing handshake, sending a Close frame with the
// given status and reason, and waits for ctx or for the connection to
// finish tearing down. Calling Close more than once is safe: a later
// call sends no second Close frame, and once the connection has
// finished closing it returns an error reporting that the connection
// is already closed.
func (c *Conn) Close(ctx context.Context, status StatusCode, reason string) error {
	err := c.runCommand(ctx, func(c *Conn, closeTrk *closeTracker) error {
		if c.state.Load() == int32(StateClosed) || !closeTrk.shouldSend() {
			return nil
		}
		c.state.Store(int32(StateClosing))
		err := flushErr(c.writeCloseLocked(status, reason), c.rw)
		closeTrk.markSent(status, reason)
		return err
	})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseThreadsafe requests the connection close, without waiting for
// the close handshake to finish. Unlike Close, it never blocks on
// network I/O and is safe to call from a signal handler or a
// finalizer goroutine.
func (c *Conn) CloseThreadsafe(status StatusCode, reason string) {
	cmd := command{fn: func(c *Conn, closeTrk *closeTracker) error {
		if c.state.Load() == int32(StateClosed) || !closeTrk.shouldSend() {
			return nil
		}
		c.state.Store(int32(StateClosing))
		err := flushErr(c.writeCloseLocked(status, reason), c.rw)
		closeTrk.markSent(status, reason)
		return err
	}}
	select {
	case c.cmd <- cmd:
	case <-c.done:
	default:
		// Command queue is full: fall back to a blocking send bounded by
		// the connection's own lifetime, so this never blocks forever.
		select {
		case c.cmd <- cmd:
		case <-c.done:
		}
	}
}

// SendMessageThreadsafe enqueues a message for sending without waiting
// for the write to complete, so it can be called from any goroutine
// without risking a deadlock against the connection's serving loop.
func (c *Conn) SendMessageThreadsafe(opcode Opcode, data []byte) {
	cmd := command{fn: func(c *Conn, _ *closeTracker) error {
		return c.writeMessageLocked(context.Background(), opcode, data)
	}}
	select {
	case c.cmd <- cmd:
	case <-c.done:
	default:
		select {
		case c.cmd <- cmd:
		case <-c.done:
		}
	}
}

package websocket

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Mode selects how a Conn surfaces inbound data to the caller. It is
// fixed for the lifetime of a connection, chosen at Dial time.
type Mode int

const (
	// ModeMessage delivers whole, defragmented messages (the default):
	// a single text or binary message, however many wire frames it was
	// split across, arrives from one ReadMessage call.
	ModeMessage Mode = iota
	// ModeStream delivers individual frames as they arrive, via
	// ReadFrame, for callers that want to process a message incrementally instead
	// of buffering it whole.
	ModeStream
)

const (
	defaultDialTimeout      = 10 * time.Second
	defaultFragmentSize     = 32 * 1024
	defaultMaxMessageSize   = 32 * 1024 * 1024
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultReadBytesPerSec  = 16 * 1024 * 1024
	defaultWriteBytesPerSec = 16 * 1024 * 1024
	defaultReadBurst        = 32 * 1024
	defaultWriteBurst       = 32 * 1024
)

// Config holds the settings used by Dial to establish and run a
// connection. Build one with Option values rather than constructing it
// directly; the zero Config is not ready to use.
type Config struct {
	Mode Mode

	// TLS configures the TLS handshake Dial performs for a wss:// URL.
	// The URL's scheme, not this field, decides whether TLS is used, so
	// it has no effect on a ws:// URL. It is passed to crypto/tls (a
	// copy with ServerName filled in from the URL when it is empty), so
	// ServerName, RootCAs and InsecureSkipVerify are all configured
	// through it.
	TLS *tls.Config

	Origin       string
	Subprotocols []string
	ExtraHeaders http.Header
	DialTimeout  time.Duration

	// RecvTimeout, if nonzero, is the longest a single inbound frame
	// read may take; exceeding it fails the connection with
	// StatusGoingAway, the same as a pong timeout. It is a per-read
	// deadline, reset before every frame, not a cap on the connection's
	// total lifetime.
	RecvTimeout time.Duration
	// SendTimeout, if nonzero, is the longest a single outbound write
	// (a message, fragment, or control frame) may take before it fails
	// the connection the same way.
	SendTimeout time.Duration

	// FragmentSize is the largest payload, in bytes, that WriteMessage
	// will place in a single frame; larger messages are split into
	// continuation frames no bigger than this. Zero or a negative value
	// disables fragmentation.
	FragmentSize int
	// MaxMessageSize bounds the total size of an inbound message
	// (after defragmentation). Exceeding it fails the connection with
	// StatusMessageTooBig. In ModeStream only each frame's payload is
	// checked against it. Zero or a negative value means no limit.
	MaxMessageSize int

	// PingInterval is how often the connection sends an unsolicited
	// ping while idle. Zero disables automatic pings.
	PingInterval time.Duration
	// PongTimeout is how long the connection waits for a pong after a
	// ping before treating the peer as unresponsive and failing the
	// connection with StatusGoingAway. Ignored if PingInterval is 0.
	PongTimeout time.Duration

	// ReadBytesPerSec and WriteBytesPerSec throttle, respectively, the
	// rate at which inbound frame payloads are accepted and outbound
	// frame payloads are sent. Zero or a negative value disables the
	// corresponding limiter.
	ReadBytesPerSec  int
	WriteBytesPerSec int
	// ReadBurst and WriteBurst bound the largest burst each direction's
	// limiter allows above its steady-state rate, independently of one
	// another. Zero falls back to the default burst for Dial's own
	// defaults, or to the configured rate if set via WithRateLimit.
	ReadBurst  int
	WriteBurst int

	Logger zerolog.Logger
}

// Option configures a Config. See Dial.
type Option func(*Config)

// WithMode sets whether inbound data is delivered as whole messages or
// as a stream of frames. The default is ModeMessage.
func WithMode(m Mode) Option {
	return func(c *Config) { c.Mode = m }
}

// WithTLS sets the configuration Dial uses for the TLS handshake of a
// wss:// URL; it does not turn TLS on for a ws:// URL. A nil cfg is
// equivalent to &tls.Config{}.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Config) {
		if cfg == nil {
			cfg = &tls.Config{}
		}
		c.TLS = cfg
	}
}

// WithOrigin sets the Origin request header.
func WithOrigin(origin string) Option {
	return func(c *Config) { c.Origin = origin }
}

// WithSubprotocols sets the subprotocols offered in the
// Sec-WebSocket-Protocol request header, in preference order.
func WithSubprotocols(protocols ...string) Option {
	return func(c *Config) { c.Subprotocols = protocols }
}

// WithHeader adds an extra header to the upgrade request. It may be
// called more than once to add more than one header.
func WithHeader(key, value string) Option {
	return func(c *Config) {
		if c.ExtraHeaders == nil {
			c.ExtraHeaders = make(http.Header)
		}
		c.ExtraHeaders.Add(key, value)
	}
}

// WithDialTimeout bounds how long the TCP dial and HTTP upgrade
// handshake together are allowed to take.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) { c.DialTimeout = d }
}

// WithTimeouts bounds how long a single inbound frame read (recv) and
// a single outbound write (send) may each take. Either may be zero to
// leave that direction unbounded.
func WithTimeouts(recv, send time.Duration) Option {
	return func(c *Config) {
		c.RecvTimeout = recv
		c.SendTimeout = send
	}
}

// WithFragmentSize sets the largest frame payload WriteMessage will
// produce for an outbound message.
func WithFragmentSize(n int) Option {
	return func(c *Config) { c.FragmentSize = n }
}

// WithMaxMessageSize bounds the size of an inbound, defragmented message.
func WithMaxMessageSize(n int) Option {
	return func(c *Config) { c.MaxMessageSize = n }
}

// WithKeepalive enables periodic pings, failing the connection if a
// pong doesn't arrive within timeout of the most recent ping.
func WithKeepalive(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.PingInterval = interval
		c.PongTimeout = timeout
	}
}

// WithRateLimit throttles read and write throughput independently, in
// bytes per second, with an independent burst allowance for each
// direction. A zero rate disables throttling in that direction; a
// zero burst falls back to that direction's rate (see
// internal/ratelimit.New).
func WithRateLimit(readBytesPerSec, readBurst, writeBytesPerSec, writeBurst int) Option {
	return func(c *Config) {
		c.ReadBytesPerSec = readBytesPerSec
		c.ReadBurst = readBurst
		c.WriteBytesPerSec = writeBytesPerSec
		c.WriteBurst = writeBurst
	}
}

// WithLogger sets the logger used for connection diagnostics. The
// default is a disabled logger, matching zerolog's own zero value.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func newConfig(opts []Option) *Config {
	c := &Config{
		DialTimeout:      defaultDialTimeout,
		FragmentSize:     defaultFragmentSize,
		MaxMessageSize:   defaultMaxMessageSize,
		ReadBytesPerSec:  defaultReadBytesPerSec,
		WriteBytesPerSec: defaultWriteBytesPerSec,
		ReadBurst:        defaultReadBurst,
		WriteBurst:       defaultWriteBurst,
		Logger:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

package websocket

import (
	"net/http"

	"github.com/rs/zerolog"
)

// Default configuration values: 16 MiB ceiling for both frame and message
// size, 30s ping interval, compression off.
const (
	defaultMaxFramePayload = 16 * 1024 * 1024
	defaultMaxMessageSize  = 16 * 1024 * 1024
	defaultPingInterval    = 30 // seconds
	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096
)

// Options configures a connection constructed by Dial or Upgrade.
//
// The zero value is not meant to be used directly; construct Options via
// NewOptions, which applies the package defaults, then apply any Option
// values on top.
type Options struct {
	// MaxFramePayload bounds a single frame's payload. Frames declaring a
	// larger length are rejected with ErrFrameTooLarge (close 1009).
	MaxFramePayload int64

	// MaxMessageSize bounds a reassembled message's total length, summed
	// across all of its fragments. Exceeding it is ErrMessageTooLarge
	// (close 1009).
	MaxMessageSize int64

	// PingIntervalSecs is the idle threshold before the keepalive task
	// emits an unsolicited Ping.
	PingIntervalSecs int

	// CompressionEnabled negotiates RFC 7692 permessage-deflate.
	CompressionEnabled bool

	// NoContextTakeover, when true, resets the DEFLATE stream before every
	// message instead of carrying the trailing window of plaintext forward
	// as a dictionary (client_no_context_takeover / server_no_context_takeover).
	NoContextTakeover bool

	// Logger receives structured diagnostics. The zero value is
	// zerolog.Nop(), so the library is silent unless a logger is supplied.
	Logger zerolog.Logger

	// Subprotocols is the list of subprotocols a server advertises, or a
	// client requests. Empty means no subprotocol negotiation.
	Subprotocols []string

	// CheckOrigin verifies a server-side upgrade request's Origin header.
	// nil allows all origins.
	CheckOrigin func(*http.Request) bool

	// ReadBufferSize and WriteBufferSize size the bufio wrappers around the
	// transport.
	ReadBufferSize  int
	WriteBufferSize int
}

// Option mutates an Options value constructed by NewOptions.
type Option func(*Options)

// NewOptions returns an Options value populated with package defaults, with
// every opt applied in order.
func NewOptions(opts ...Option) *Options {
	o := &Options{
		MaxFramePayload:  defaultMaxFramePayload,
		MaxMessageSize:   defaultMaxMessageSize,
		PingIntervalSecs: defaultPingInterval,
		Logger:           zerolog.Nop(),
		ReadBufferSize:   defaultReadBufferSize,
		WriteBufferSize:  defaultWriteBufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithMaxFramePayload bounds the payload length of a single frame.
func WithMaxFramePayload(n int64) Option {
	return func(o *Options) { o.MaxFramePayload = n }
}

// WithMaxMessageSize bounds the total length of a reassembled message.
func WithMaxMessageSize(n int64) Option {
	return func(o *Options) { o.MaxMessageSize = n }
}

// WithPingInterval sets the keepalive idle threshold, in seconds.
func WithPingInterval(seconds int) Option {
	return func(o *Options) { o.PingIntervalSecs = seconds }
}

// WithCompression negotiates permessage-deflate. noContextTakeover maps to
// client_no_context_takeover/server_no_context_takeover.
func WithCompression(noContextTakeover bool) Option {
	return func(o *Options) {
		o.CompressionEnabled = true
		o.NoContextTakeover = noContextTakeover
	}
}

// WithLogger attaches a structured logger to the connection.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithSubprotocols sets the subprotocol list advertised (server) or
// requested (client).
func WithSubprotocols(protocols ...string) Option {
	return func(o *Options) { o.Subprotocols = protocols }
}

// WithCheckOrigin installs a server-side Origin header check.
func WithCheckOrigin(check func(*http.Request) bool) Option {
	return func(o *Options) { o.CheckOrigin = check }
}

// WithBufferSizes overrides the default bufio buffer sizes.
func WithBufferSizes(read, write int) Option {
	return func(o *Options) {
		o.ReadBufferSize = read
		o.WriteBufferSize = write
	}
}

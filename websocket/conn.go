package websocket

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// keepaliveTick is the fixed wakeup period of the keepalive task; the idle
// threshold that actually triggers a Ping is pingInterval.
const keepaliveTick = 10 * time.Second

// chanCapacity bounds every inter-task queue: reader->writer (control,
// close) and caller->writer (data). A biased select over these three is
// what gives Close frames priority over a backlog of data.
const chanCapacity = 64

// outboundFrame is one writer-queue entry: either a single control/close
// frame, or the (possibly multi-frame) encoding of one data message whose
// fragments must land on the wire contiguously.
type outboundFrame struct {
	frames []*frame
}

// Conn is one full-duplex WebSocket connection, client or server side. It
// owns three goroutines — reader, writer, keepalive — coordinating over
// bounded channels and a pair of atomic flags (closing, closed). Callers
// interact only through Conn's exported methods; nothing outside this type
// touches the transport directly.
type Conn struct {
	id     uuid.UUID
	role   Role
	logger zerolog.Logger

	netConn net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer

	localAddr  net.Addr
	remoteAddr net.Addr

	maxFramePayload int64
	maxMessageSize  int64
	pingInterval    time.Duration

	reassembler *reassembler
	deflateOut  *deflateContext
	deflateIn   *deflateContext
	compressing bool

	pingStats *PingStats

	closeCh   chan outboundFrame
	controlCh chan outboundFrame
	dataCh    chan outboundFrame
	events    chan Event

	closing          atomic.Bool
	closed           atomic.Bool
	lastSeenUnixNano atomic.Int64

	stopCh     chan struct{} // closed once the reader has stopped accepting new work
	writerDone chan struct{}
}

// newConn wires up a Conn around an already-upgraded transport and starts
// its three goroutines. Both Upgrade (server) and Dial (client) funnel
// through this constructor.
func newConn(netConn net.Conn, role Role, opts *Options) *Conn {
	return newConnWithReader(netConn, role, opts, nil)
}

// newConnWithReader is newConn, but reuses preRead instead of allocating a
// fresh bufio.Reader whenever preRead is non-nil, whatever its buffer size.
// Upgrade passes the bufio.Reader http.Hijacker returns, which may already
// hold bytes the client pipelined immediately after the handshake.
func newConnWithReader(netConn net.Conn, role Role, opts *Options, preRead *bufio.Reader) *Conn {
	if opts == nil {
		opts = NewOptions()
	}

	// preRead may already hold bytes the peer pipelined right after the
	// handshake; always reuse it rather than risk dropping them by
	// allocating a fresh bufio.Reader over the same net.Conn.
	reader := preRead
	if reader == nil {
		reader = bufio.NewReaderSize(netConn, opts.ReadBufferSize)
	}

	c := &Conn{
		id:              uuid.New(),
		role:            role,
		logger:          opts.Logger,
		netConn:         netConn,
		reader:          reader,
		writer:          bufio.NewWriterSize(netConn, opts.WriteBufferSize),
		localAddr:       netConn.LocalAddr(),
		remoteAddr:      netConn.RemoteAddr(),
		maxFramePayload: opts.MaxFramePayload,
		maxMessageSize:  opts.MaxMessageSize,
		pingInterval:    time.Duration(opts.PingIntervalSecs) * time.Second,
		pingStats:       newPingStats(),
		closeCh:         make(chan outboundFrame, chanCapacity),
		controlCh:       make(chan outboundFrame, chanCapacity),
		dataCh:          make(chan outboundFrame, chanCapacity),
		events:          make(chan Event, chanCapacity),
		stopCh:          make(chan struct{}),
		writerDone:      make(chan struct{}),
	}
	c.lastSeenUnixNano.Store(time.Now().UnixNano())

	if opts.CompressionEnabled {
		out, err := newDeflateContext(opts.NoContextTakeover, 0)
		if err == nil {
			if in, err2 := newDeflateContext(opts.NoContextTakeover, 0); err2 == nil {
				c.deflateOut = out
				c.deflateIn = in
				c.compressing = true
			}
		}
	}
	c.reassembler = newReassembler(c.maxMessageSize, c.deflateIn)

	go c.readLoop()
	go c.writeLoop()
	go c.keepaliveLoop()

	return c
}

// ID returns the connection's correlation identifier, suitable for joining
// log lines emitted by the reader, writer, and keepalive goroutines.
func (c *Conn) ID() uuid.UUID { return c.id }

// LocalAddr and RemoteAddr return the addresses captured at construction
// time, so they remain readable after the transport closes.
func (c *Conn) LocalAddr() net.Addr  { return c.localAddr }
func (c *Conn) RemoteAddr() net.Addr { return c.remoteAddr }

// Latency returns the average of recent Ping round-trip times, or false if
// no Pong has been observed yet.
func (c *Conn) Latency() (time.Duration, bool) {
	ms, ok := c.pingStats.average()
	if !ok {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// SendText encodes and enqueues a text message. It blocks while the data
// queue is full (backpressure) and returns ErrClosed if the connection
// shuts down while waiting.
func (c *Conn) SendText(s string) error {
	return c.sendData(opcodeText, []byte(s))
}

// SendBytes encodes and enqueues a binary message.
func (c *Conn) SendBytes(b []byte) error {
	return c.sendData(opcodeBinary, b)
}

func (c *Conn) sendData(opcode byte, payload []byte) error {
	if c.closing.Load() {
		return ErrClosed
	}
	var deflate *deflateContext
	if c.compressing {
		deflate = c.deflateOut
	}
	frames, err := encodeDataMessage(opcode, payload, c.role, c.maxFramePayload, deflate)
	if err != nil {
		return err
	}
	select {
	case c.dataCh <- outboundFrame{frames: frames}:
		return nil
	case <-c.stopCh:
		return ErrClosed
	}
}

// Ping enqueues a Ping frame with a fresh nonce.
func (c *Conn) Ping() error {
	nonce, err := c.pingStats.newNonce()
	if err != nil {
		return err
	}
	f, err := encodeControlFrame(opcodePing, nonce[:], c.role)
	if err != nil {
		return err
	}
	return c.enqueueControl(f, nonce[:])
}

// enqueueControl makes one non-blocking attempt to queue a control frame.
// On a full queue it reports an EventError and returns ErrSendQueueFull
// rather than blocking the caller — this is what keeps the keepalive task's
// Pings and the reader's Pongs non-blocking. Once the reader has stopped it
// returns ErrClosed and reports no Event.
func (c *Conn) enqueueControl(f *frame, originalPayload []byte) error {
	select {
	case c.controlCh <- outboundFrame{frames: []*frame{f}}:
		return nil
	case <-c.stopCh:
		return ErrClosed
	default:
		select {
		case c.events <- errorEvent(originalPayload, ErrSendQueueFull):
		default:
		}
		return ErrSendQueueFull
	}
}

// Close initiates a normal closure. It is idempotent: only the first
// caller — across Close, CloseWithReason, and an internally detected
// protocol violation — actually enqueues a Close frame.
func (c *Conn) Close() error {
	return c.CloseWithReason(CloseNormal, "")
}

// CloseWithReason initiates closure with an explicit code and reason text.
// See Close for idempotency.
func (c *Conn) CloseWithReason(code CloseCode, text string) error {
	return c.initiateClose(code, text)
}

func (c *Conn) initiateClose(code CloseCode, text string) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	f, err := encodeControlFrame(opcodeClose, buildCloseReason(code, text), c.role)
	if err != nil {
		return err
	}
	select {
	case c.closeCh <- outboundFrame{frames: []*frame{f}}:
	default:
		// Queue saturated; the writer still shuts the transport down once
		// it observes stopCh, and the reader's EOF path still delivers
		// Closed.
	}
	return nil
}

// Recv delivers the next Event, blocking until one is available. ok is
// false once the event stream has ended — strictly after an EventClosed
// has already been delivered.
func (c *Conn) Recv() (Event, bool) {
	ev, ok := <-c.events
	return ev, ok
}

// RecvTimeout behaves like Recv but returns (zero Event, false) if d
// elapses with nothing delivered.
func (c *Conn) RecvTimeout(d time.Duration) (Event, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case ev, ok := <-c.events:
		return ev, ok
	case <-timer.C:
		return Event{}, false
	}
}

// protocolSentinels lists the terminal errors readLoop can both receive
// from readFrame/reassembler.feed and map to a close code; anything else
// reaching readLoop is a transport-level failure (EOF, reset, timeout)
// that the transport itself is already past sending a Close frame about.
var protocolSentinels = []error{
	ErrInvalidUTF8, ErrFrameTooLarge, ErrMessageTooLarge, ErrReservedBits,
	ErrInvalidOpcode, ErrControlFragmented, ErrControlTooLarge,
	ErrUnexpectedContinuation, ErrMaskMismatch, ErrMalformedClose,
	ErrCompressionUnsupported, ErrInflate, ErrProtocolError,
}

func isProtocolError(err error) bool {
	for _, sentinel := range protocolSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// readLoop owns the transport source exclusively. It decodes frames,
// dispatches control frames inline, and feeds data frames through the
// reassembler, translating completed messages and terminal conditions into
// Events. Exactly one EventClosed is sent, as the last thing readLoop does.
func (c *Conn) readLoop() {
	finalCode := CloseAbnormal
	finalReason := ""

readLoop:
	for {
		f, err := readFrame(c.reader, c.role, c.maxFramePayload, c.compressing)
		if err != nil {
			switch {
			case c.closing.Load():
				finalCode, finalReason = CloseNormal, ""
			case isProtocolError(err):
				code := closeCodeFor(err)
				c.logger.Warn().Str("conn", c.id.String()).Err(err).Uint16("close_code", uint16(code)).Msg("websocket: closing on protocol violation")
				c.initiateClose(code, err.Error())
				finalCode, finalReason = code, err.Error()
			default:
				c.logger.Debug().Str("conn", c.id.String()).Err(err).Msg("websocket: transport read ended")
				c.closing.Store(true)
				finalCode, finalReason = CloseAbnormal, ""
			}
			break readLoop
		}

		c.lastSeenUnixNano.Store(time.Now().UnixNano())

		switch f.opcode {
		case opcodePing:
			if pong, perr := encodeControlFrame(opcodePong, f.payload, c.role); perr == nil {
				c.enqueueControl(pong, f.payload)
			}

		case opcodePong:
			if res, rtt := c.pingStats.onPong(f.payload); res == pongMatched {
				select {
				case c.events <- pongEvent(rtt):
				default:
				}
			}

		case opcodeClose:
			code, reason := parseClosePayload(f.payload)
			if !c.closing.Load() {
				c.logger.Debug().Str("conn", c.id.String()).Uint16("peer_code", uint16(code)).Msg("websocket: peer initiated close")
				c.initiateClose(CloseNormal, "")
			}
			finalCode, finalReason = code, reason
			break readLoop

		default:
			kind, body, ok, rerr := c.reassembler.feed(f)
			if rerr != nil {
				code := closeCodeFor(rerr)
				c.logger.Warn().Str("conn", c.id.String()).Err(rerr).Uint16("close_code", uint16(code)).Msg("websocket: closing on protocol violation")
				c.initiateClose(code, rerr.Error())
				finalCode, finalReason = code, rerr.Error()
				break readLoop
			}
			if ok {
				var ev Event
				if kind == TextMessage {
					ev = textEvent(string(body))
				} else {
					ev = binaryEvent(body)
				}
				select {
				case c.events <- ev:
				case <-c.stopCh:
				}
			}
		}
	}

	c.closed.Store(true)
	c.reassembler.reset()
	close(c.stopCh)
	<-c.writerDone
	c.events <- closedEvent(finalCode, finalReason)
	close(c.events)
}

// parseClosePayload extracts the close code and reason text from a
// validated Close frame payload. An empty payload means "no status
// received", reported internally as CloseNoStatusReceived.
func parseClosePayload(payload []byte) (CloseCode, string) {
	if len(payload) < 2 {
		return CloseNoStatusReceived, ""
	}
	code := CloseCode(uint16(payload[0])<<8 | uint16(payload[1]))
	return code, string(payload[2:])
}

// writeLoop owns the transport sink exclusively. It drains three
// priority-ordered queues with a biased select — repeated non-blocking
// passes over the higher-priority channels before a final blocking select
// — so close preempts control, which preempts data. After writing and
// flushing a close frame it shuts the transport down and exits.
func (c *Conn) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case out := <-c.closeCh:
			c.writeOutbound(out)
			c.shutdownWrite()
			c.drainRemaining()
			return
		default:
		}

		select {
		case out := <-c.closeCh:
			c.writeOutbound(out)
			c.shutdownWrite()
			c.drainRemaining()
			return
		case out := <-c.controlCh:
			c.writeOutbound(out)
			continue
		default:
		}

		select {
		case out := <-c.closeCh:
			c.writeOutbound(out)
			c.shutdownWrite()
			c.drainRemaining()
			return
		case out := <-c.controlCh:
			c.writeOutbound(out)
		case out := <-c.dataCh:
			c.writeOutbound(out)
		case <-c.stopCh:
			// The reader has stopped. It may have queued a close frame on
			// closeCh in the same breath as closing stopCh, and select
			// doesn't favor one ready case over the other, so check closeCh
			// explicitly before falling back to a bare transport close.
			select {
			case out := <-c.closeCh:
				c.writeOutbound(out)
				c.shutdownWrite()
				c.drainRemaining()
				return
			default:
			}
			c.drainRemaining()
			_ = c.netConn.Close()
			return
		}
	}
}

// drainRemaining empties the control and data queues. Once the reader has
// stopped, it runs before the transport is closed, so a burst of sends
// issued just before shutdown still reaches the wire. After a close frame it
// runs once the write side is already shut down, so those writes fail and
// the frames are dropped. Failed writes here are ignored: the transport is
// going down regardless.
func (c *Conn) drainRemaining() {
	for {
		select {
		case out := <-c.controlCh:
			c.writeOutbound(out)
		case out := <-c.dataCh:
			c.writeOutbound(out)
		default:
			return
		}
	}
}

// writeOutbound writes out's frames in order. A failed write drops the rest
// of out's frames; the writer goroutine itself keeps running until a close
// frame or stopCh ends it.
func (c *Conn) writeOutbound(out outboundFrame) {
	for _, f := range out.frames {
		if err := writeFrame(c.writer, f); err != nil {
			c.logger.Debug().Str("conn", c.id.String()).Err(err).Msg("websocket: write failed, dropping remaining frames")
			return
		}
	}
}

func (c *Conn) shutdownWrite() {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := c.netConn.(closeWriter); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = c.netConn.Close()
}

// keepaliveLoop wakes on a fixed tick, independent of pingInterval, and
// decides whether to emit a Ping or time one out.
func (c *Conn) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if c.closing.Load() {
				return
			}

			if c.pingStats.isOutstanding() {
				if time.Since(c.pingStats.sentAt()) > 2*c.pingInterval {
					c.logger.Warn().Str("conn", c.id.String()).Msg("websocket: ping timed out")
					c.initiateClose(ClosePolicy, "ping timed out")
				}
				continue
			}

			idleFor := time.Since(time.Unix(0, c.lastSeenUnixNano.Load()))
			if idleFor >= c.pingInterval {
				c.logger.Debug().Str("conn", c.id.String()).Msg("websocket: sending keepalive ping")
				_ = c.Ping()
			}
		}
	}
}

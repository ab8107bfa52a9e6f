// Package network implements the TinCat transport: the TCP accept loop and
// the per-connection read and write loops.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sacredlobby/sacredlobby/internal/protocol"
	"github.com/sacredlobby/sacredlobby/internal/stats"
)

// Session is the application state driven by a Connection.
type Session interface {
	// Role is consulted for every inbound message during validation.
	Role() protocol.Role
	// HandleMessage runs on the connection's read goroutine.
	HandleMessage(msg protocol.Message)
	// Disconnected is called exactly once when the connection stops.
	Disconnected()
}

// Options tune a Connection.
type Options struct {
	IdleTimeout        time.Duration
	WriteTimeout       time.Duration
	SkipSecurityChecks bool
	MessagesPerSecond  float64
	MessageBurst       int
	Stats              *stats.Collector
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		IdleTimeout:       ReadTimeout,
		WriteTimeout:      10 * time.Second,
		MessagesPerSecond: 50,
		MessageBurst:      100,
	}
}

type lifecycle int32

const (
	stateNotStarted lifecycle = iota
	stateRunning
	stateStopped
)

type outbound struct {
	kind    protocol.FrameKind
	payload []byte
}

// Connection owns one peer socket. Inbound frames are decoded and handed
// to the Session on the read goroutine; outbound messages go through an
// unbounded queue drained by the write goroutine, which also owns closing
// the socket.
type Connection struct {
	id      uint32
	conn    net.Conn
	session Session
	opts    Options
	logger  zerolog.Logger
	limiter *rate.Limiter

	queue  *Queue[outbound]
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	state    atomic.Int32
	loggedOn atomic.Bool
	loops    sync.WaitGroup

	connectedAt  time.Time
	lastActivity atomic.Int64
}

// NewConnection wraps conn. The connection's context derives from parent,
// so cancelling parent stops it.
func NewConnection(parent context.Context, id uint32, conn net.Conn, opts Options) *Connection {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	c := &Connection{
		id:          id,
		conn:        conn,
		opts:        opts,
		queue:       NewQueue[outbound](),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		connectedAt: now,
		logger: log.With().
			Str("component", "connection").
			Uint32("conn_id", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
	c.lastActivity.Store(now.UnixNano())
	if opts.MessagesPerSecond > 0 {
		burst := opts.MessageBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), burst)
	}
	return c
}

// Start launches the read and write loops for session. It must be called
// at most once; a Stop that wins the race makes it fail.
func (c *Connection) Start(session Session) error {
	if lifecycle(c.state.Load()) != stateNotStarted {
		return fmt.Errorf("connection %d already started", c.id)
	}
	// Set before the state flips so a concurrent Stop sees it.
	c.session = session
	if !c.state.CompareAndSwap(int32(stateNotStarted), int32(stateRunning)) {
		return fmt.Errorf("connection %d already started", c.id)
	}

	// Abort a blocked read as soon as the context ends.
	context.AfterFunc(c.ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})

	c.loops.Add(2)
	go c.readLoop()
	go c.writeLoop()

	c.logger.Debug().Msg("connection started")
	return nil
}

// Enqueue serializes msg and queues it for sending. It never blocks.
func (c *Connection) Enqueue(msg protocol.Message) error {
	payload, err := protocol.Seal(msg)
	if err != nil {
		c.logger.Error().Err(err).Stringer("kind", msg.Kind()).Msg("failed to serialize message")
		return err
	}
	return c.push(outbound{kind: protocol.FrameCustomData, payload: payload})
}

func (c *Connection) push(item outbound) error {
	err := c.queue.Push(item)
	if errors.Is(err, ErrQueueClosed) && lifecycle(c.state.Load()) != stateStopped {
		c.logger.Error().Msg("outbound queue closed on a live connection")
	}
	return err
}

// Stop shuts the connection down. Only the first call has any effect.
// Messages already queued are still flushed by the write loop.
func (c *Connection) Stop() {
	if !c.state.CompareAndSwap(int32(stateRunning), int32(stateStopped)) {
		if c.state.CompareAndSwap(int32(stateNotStarted), int32(stateStopped)) {
			c.queue.Close()
			c.cancel()
			c.conn.Close()
			close(c.done)
		}
		return
	}

	c.queue.Close()
	c.cancel()

	c.logger.Debug().Msg("connection stopping")
	c.session.Disconnected()
}

// Done is closed once the socket has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the read and write loops have returned, so no session
// handler is still running. It returns at once if Start never succeeded.
func (c *Connection) Wait() {
	c.loops.Wait()
}

// ID returns the connection id.
func (c *Connection) ID() uint32 {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// RemoteIP returns the peer IP, or nil for non-IP transports.
func (c *Connection) RemoteIP() net.IP {
	return AddrIP(c.conn.RemoteAddr())
}

// ConnectedAt returns the time the connection was accepted.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// LastActivity returns the time of the last inbound frame.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// LoggedOn reports whether the transport handshake completed.
func (c *Connection) LoggedOn() bool {
	return c.loggedOn.Load()
}

func (c *Connection) readLoop() {
	defer c.loops.Done()
	defer c.Stop()

	reader := protocol.NewFrameReader(c.conn)
	for {
		var deadline time.Time
		if c.opts.IdleTimeout > 0 {
			deadline = time.Now().Add(c.opts.IdleTimeout)
		}
		c.conn.SetReadDeadline(deadline)
		if c.ctx.Err() != nil {
			return
		}

		frame, err := reader.ReadFrame()
		if err != nil {
			var frameErr *protocol.FrameError
			if errors.As(err, &frameErr) {
				c.opts.Stats.FrameRejected()
				c.logger.Warn().Err(err).Msg("dropped frame")
				continue
			}
			c.logReadError(err)
			return
		}

		c.lastActivity.Store(time.Now().UnixNano())
		c.opts.Stats.Received(protocol.HeaderSize + len(frame.Payload))

		if !c.handleFrame(frame) {
			return
		}
	}
}

// handleFrame processes one inbound frame and reports whether reading
// should continue.
func (c *Connection) handleFrame(frame protocol.Frame) bool {
	switch frame.Kind {
	case protocol.FrameLogOn:
		if err := protocol.CheckLogOn(frame.Payload); err != nil {
			c.logger.Warn().Err(err).Msg("rejected log-on")
			return false
		}
		c.loggedOn.Store(true)
		c.push(outbound{kind: protocol.FrameLogOnAccepted, payload: protocol.LogOnAcceptedPayload(c.id)})
		c.logger.Debug().Msg("transport log-on accepted")

	case protocol.FrameLogOff:
		c.push(outbound{kind: protocol.FrameLogOffAccepted})
		c.logger.Debug().Msg("transport log-off")
		return false

	case protocol.FrameCustomData:
		c.dispatch(frame.Payload)

	case protocol.FrameTimeSync, protocol.FrameKeepAlive:
		// Activity only.

	default:
		c.logger.Warn().Stringer("kind", frame.Kind).Msg("unexpected frame kind")
	}
	return true
}

func (c *Connection) dispatch(payload []byte) {
	if !c.loggedOn.Load() {
		c.logger.Debug().Msg("dropping custom data before log-on")
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn().Msg("inbound rate limit exceeded, dropping message")
		return
	}

	start := time.Now()
	msg, err := protocol.Open(payload, c.session.Role(), c.opts.SkipSecurityChecks)
	if err != nil {
		c.opts.Stats.MessageRejected()
		c.logger.Warn().Err(err).Stringer("role", c.session.Role()).Msg("rejected message")
		return
	}

	c.logger.Trace().Stringer("kind", msg.Kind()).Msg("dispatching message")
	c.session.HandleMessage(msg)
	c.opts.Stats.Processed(time.Since(start))
}

func (c *Connection) writeLoop() {
	defer c.loops.Done()
	defer close(c.done)
	defer c.conn.Close()
	defer c.Stop()

	for {
		item, ok := c.queue.Pop(c.ctx)
		if !ok {
			return
		}

		frame := protocol.Frame{
			Destination: c.id,
			Kind:        item.kind,
			Payload:     item.payload,
		}
		if c.opts.WriteTimeout > 0 {
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
		}
		if err := protocol.WriteFrame(c.conn, frame); err != nil {
			c.logger.Debug().Err(err).Msg("write failed")
			return
		}
		c.opts.Stats.Sent(protocol.HeaderSize + len(item.payload))
	}
}

func (c *Connection) logReadError(err error) {
	var netErr net.Error
	switch {
	case c.ctx.Err() != nil:
		c.logger.Debug().Msg("read aborted by shutdown")
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.logger.Debug().Msg("peer closed connection")
	case errors.As(err, &netErr) && netErr.Timeout():
		c.logger.Info().Dur("idle", c.opts.IdleTimeout).Msg("connection idle, closing")
	default:
		c.logger.Debug().Err(err).Msg("read failed")
	}
}

// AddrIP extracts the IP from a network address.
func AddrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	}
	if addr == nil {
		return nil
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

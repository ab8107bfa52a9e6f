package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// ReadTimeout is how long to wait for data before considering a connection stale.
	ReadTimeout = 60 * time.Second
)

// ConnHandler takes ownership of an accepted socket. HandleConn is called
// on the accept goroutine and must not block.
type ConnHandler interface {
	HandleConn(ctx context.Context, conn net.Conn)
}

// ConnHandlerFunc adapts a function to ConnHandler.
type ConnHandlerFunc func(ctx context.Context, conn net.Conn)

// HandleConn calls f.
func (f ConnHandlerFunc) HandleConn(ctx context.Context, conn net.Conn) {
	f(ctx, conn)
}

// TCPListener accepts game clients and game servers on the lobby port.
type TCPListener struct {
	addr     string
	handler  ConnHandler
	listener net.Listener
	ready    chan struct{}
}

// NewTCPListener creates a listener for addr that hands every accepted
// socket to handler.
func NewTCPListener(addr string, handler ConnHandler) *TCPListener {
	return &TCPListener{
		addr:    addr,
		handler: handler,
		ready:   make(chan struct{}),
	}
}

// Start binds the listening socket and runs the accept loop until ctx is
// cancelled.
func (l *TCPListener) Start(ctx context.Context) error {
	// Use SO_REUSEADDR to allow immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	var err error
	l.listener, err = lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", l.addr, err)
	}
	close(l.ready)

	log.Info().Str("addr", l.listener.Addr().String()).Msg("TCP listener started")

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("TCP listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("failed to accept connection")
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}

		log.Debug().
			Str("remote", conn.RemoteAddr().String()).
			Msg("new connection")

		l.handler.HandleConn(ctx, conn)
	}
}

// Ready is closed once the socket is bound.
func (l *TCPListener) Ready() <-chan struct{} {
	return l.ready
}

// Addr returns the bound address. Valid after Ready is closed.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Stop closes the listening socket.
func (l *TCPListener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

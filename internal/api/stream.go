package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sacredlobby/sacredlobby/internal/events"
)

const (
	streamSendBuffer   = 64
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
	streamPongTimeout  = 2 * streamPingInterval
)

// streamHub fans lobby events out to websocket subscribers.
type streamHub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func newStreamHub(bus *events.EventBus, allowedOrigins []string) *streamHub {
	h := &streamHub{
		clients: make(map[*streamClient]struct{}),
		logger:  log.With().Str("component", "event_stream").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	if bus != nil {
		bus.SubscribeAll("api-stream", h.publish)
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// publish is the event bus handler.
func (h *streamHub) publish(_ context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			c.logger.Debug().Str("event", string(event.Type)).Msg("subscriber too slow, event dropped")
		}
	}
	return nil
}

func (h *streamHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *streamHub) add(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *streamHub) remove(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

// close disconnects every subscriber.
func (h *streamHub) close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.stop()
	}
}

// handle upgrades the request and streams events until the peer leaves.
func (h *streamHub) handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	sc := &streamClient{
		id:   id,
		conn: conn,
		send: make(chan []byte, streamSendBuffer),
		done: make(chan struct{}),
		logger: h.logger.With().
			Str("subscriber", id).
			Str("remote", c.ClientIP()).
			Logger(),
	}
	if !h.add(sc) {
		conn.Close()
		return
	}
	sc.logger.Info().Msg("event stream subscriber connected")

	go sc.writePump()
	sc.readPump()

	h.remove(sc)
	sc.logger.Info().Msg("event stream subscriber disconnected")
}

func (c *streamClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// readPump discards inbound messages and returns when the peer goes away.
func (c *streamClient) readPump() {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(streamPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

package lobby

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sacredlobby/sacredlobby/internal/db"
	"github.com/sacredlobby/sacredlobby/internal/events"
	"github.com/sacredlobby/sacredlobby/internal/network"
	"github.com/sacredlobby/sacredlobby/internal/protocol"
)

// noChannel is the channel of a session that has not joined one.
const noChannel int32 = -1

// lobbyChannel is the only channel that exists.
const lobbyChannel int32 = 0

// Outbound is the transport side of a session.
type Outbound interface {
	Enqueue(msg protocol.Message) error
	Stop()
	RemoteAddr() net.Addr
}

// ClientInfo is a read-only view of a session.
type ClientInfo struct {
	ID          uint32    `json:"id"`
	Role        string    `json:"role"`
	Name        string    `json:"name,omitempty"`
	Remote      string    `json:"remote"`
	Channel     int32     `json:"channel"`
	Character   string    `json:"character,omitempty"`
	AccountID   int64     `json:"account_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Client is the session of one peer. Its handlers run on the peer's read
// goroutine; other sessions only read its state through the accessors.
type Client struct {
	id          uint32
	lobby       *Lobby
	conn        Outbound
	logger      zerolog.Logger
	connectedAt time.Time

	mu           sync.Mutex
	role         protocol.Role
	name         string
	account      *db.Account
	serverInfo   protocol.ServerInfo
	channel      int32
	profile      *protocol.ProfileData
	selectedSlot int32
}

func (l *Lobby) newClient(id uint32, conn Outbound) *Client {
	return &Client{
		id:          id,
		lobby:       l,
		conn:        conn,
		connectedAt: time.Now(),
		channel:     noChannel,
		logger: log.With().
			Str("component", "client").
			Uint32("conn_id", id).
			Logger(),
	}
}

// ID returns the connection id, which is also the player or server id.
func (c *Client) ID() uint32 {
	return c.id
}

// Role returns the authenticated role.
func (c *Client) Role() protocol.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Name returns the login name, or the game name of a server.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Account returns the account of a logged in user.
func (c *Client) Account() *db.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// ServerInfo returns the advertised info of a game server session.
func (c *Client) ServerInfo() (protocol.ServerInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo, c.role == protocol.RoleServer
}

// Info returns a snapshot of the session.
func (c *Client) Info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := ClientInfo{
		ID:          c.id,
		Role:        c.role.String(),
		Name:        c.name,
		Channel:     c.channel,
		ConnectedAt: c.connectedAt,
	}
	if addr := c.conn.RemoteAddr(); addr != nil {
		info.Remote = addr.String()
	}
	if c.profile != nil {
		info.Character = c.profile.Character.Name
	}
	if c.account != nil {
		info.AccountID = c.account.ID
	}
	return info
}

func (c *Client) identity() (protocol.Role, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role, c.name
}

func (c *Client) inChannel(channel int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role == protocol.RoleUser && c.channel >= 0 && c.channel == channel
}

func (c *Client) remoteIP() net.IP {
	return network.AddrIP(c.conn.RemoteAddr())
}

// Send queues msg for this peer.
func (c *Client) Send(msg protocol.Message) {
	c.conn.Enqueue(msg)
}

// lockPair locks two sessions lowest id first.
func lockPair(a, b *Client) (unlock func()) {
	if a == b {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if b.id < a.id {
		first, second = b, a
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// Disconnected tears the session down once its connection has stopped.
func (c *Client) Disconnected() {
	c.mu.Lock()
	role, name, channel := c.role, c.name, c.channel
	c.channel = noChannel
	c.mu.Unlock()

	switch role {
	case protocol.RoleUser:
		if channel >= 0 {
			c.lobby.UserLeftChannel(c.id, channel)
		}
	case protocol.RoleServer:
		c.lobby.BroadcastServerRemoved(c.id)
		c.lobby.emit(events.EventServerUnlisted, events.ServerPayload{ID: c.id, Name: name})
	}

	c.lobby.RemoveClient(c.id)

	c.logger.Info().Stringer("role", role).Str("name", name).Msg("client disconnected")
	c.lobby.emit(events.EventClientDisconnected, events.ClientPayload{
		ID:   c.id,
		Role: role.String(),
		Name: name,
	})
}

// Package lobby holds the connected sessions: the login state machine of
// every peer, the game server directory, chat relay and the broadcasts
// between sessions.
package lobby

import (
	"context"
	"fmt"
	"math"
	"net"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sacredlobby/sacredlobby/internal/config"
	"github.com/sacredlobby/sacredlobby/internal/db"
	"github.com/sacredlobby/sacredlobby/internal/events"
	"github.com/sacredlobby/sacredlobby/internal/network"
	"github.com/sacredlobby/sacredlobby/internal/protocol"
	"github.com/sacredlobby/sacredlobby/internal/stats"
)

// AccountStore persists accounts, profiles and character saves.
type AccountStore interface {
	FindAccountByName(name string) (*db.Account, error)
	CreateAccount(name, password string) (*db.Account, error)
	CheckPassword(acc *db.Account, password string) bool
	TouchLogin(id int64) error
	GetProfile(id int64) ([]byte, error)
	SetProfile(id int64, data []byte) error
	GetSaveSlot(id int64, slot uint32) ([]byte, bool, error)
	SetSaveSlot(id int64, slot uint32, data []byte) error
	InitSaveSlot(id int64, slot, templateID uint32, name string) error
	ListSaveSlots(id int64) ([]db.SaveSlot, error)
}

// IPResolver reports the lobby host's public address.
type IPResolver interface {
	PublicIP() net.IP
}

// Options configure a Lobby.
type Options struct {
	MessageOfTheDay    string
	UsernamePattern    *regexp.Regexp
	Separators         []string
	AutoCreateAccounts bool
	Connection         network.Options
}

// OptionsFromConfig builds Options from the lobby configuration section.
func OptionsFromConfig(cfg config.LobbyConfig, collector *stats.Collector) (Options, error) {
	pattern, err := regexp.Compile(cfg.UsernamePattern)
	if err != nil {
		return Options{}, fmt.Errorf("invalid username pattern: %w", err)
	}

	conn := network.DefaultOptions()
	if cfg.IdleTimeoutSec > 0 {
		conn.IdleTimeout = time.Duration(cfg.IdleTimeoutSec) * time.Second
	}
	if cfg.WriteTimeoutSec > 0 {
		conn.WriteTimeout = time.Duration(cfg.WriteTimeoutSec) * time.Second
	}
	conn.SkipSecurityChecks = cfg.SkipSecurityChecks
	conn.MessagesPerSecond = cfg.MaxMessagesPerSec
	conn.MessageBurst = cfg.MessageBurst
	conn.Stats = collector

	return Options{
		MessageOfTheDay:    cfg.MessageOfTheDay,
		UsernamePattern:    pattern,
		Separators:         cfg.Separators,
		AutoCreateAccounts: cfg.AutoCreateAccounts,
		Connection:         conn,
	}, nil
}

// Lobby is the registry of connected sessions.
type Lobby struct {
	opts     Options
	accounts AccountStore
	resolver IPResolver
	bans     *BanList
	bus      *events.EventBus
	logger   zerolog.Logger

	nextID atomic.Uint32

	mu      sync.RWMutex
	clients map[uint32]*Client
	closing bool

	// Connections whose loops may still run session handlers.
	active sync.WaitGroup
}

// New creates an empty lobby. accounts, resolver and bus may be nil.
func New(opts Options, accounts AccountStore, resolver IPResolver, bans *BanList, bus *events.EventBus) *Lobby {
	if opts.UsernamePattern == nil {
		opts.UsernamePattern = regexp.MustCompile(config.DefaultUsernamePattern)
	}
	if bans == nil {
		bans = &BanList{bans: make(map[string]BanKind)}
	}
	return &Lobby{
		opts:     opts,
		accounts: accounts,
		resolver: resolver,
		bans:     bans,
		bus:      bus,
		clients:  make(map[uint32]*Client),
		logger:   log.With().Str("component", "lobby").Logger(),
	}
}

// Bans returns the lobby's ban list.
func (l *Lobby) Bans() *BanList {
	return l.bans
}

// HandleConn takes ownership of an accepted socket.
func (l *Lobby) HandleConn(ctx context.Context, conn net.Conn) {
	ip := network.AddrIP(conn.RemoteAddr())
	if l.bans.Check(ip) == BanFull {
		l.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("refused banned address")
		l.emit(events.EventBanEnforced, events.BanPayload{IP: ip.String(), Kind: BanFull.String()})
		conn.Close()
		return
	}

	if !l.track() {
		l.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("lobby is draining, refusing connection")
		conn.Close()
		return
	}

	id := l.nextID.Add(1)
	nc := network.NewConnection(ctx, id, conn, l.opts.Connection)
	client := l.newClient(id, nc)
	l.AddClient(client)

	if err := nc.Start(client); err != nil {
		l.logger.Error().Err(err).Uint32("conn_id", id).Msg("failed to start connection")
		l.RemoveClient(id)
		nc.Stop()
		l.active.Done()
		return
	}
	go func() {
		nc.Wait()
		l.active.Done()
	}()
	l.opts.Connection.Stats.ConnectionAccepted()

	l.emit(events.EventClientConnected, events.ClientPayload{
		ID:     id,
		Role:   protocol.RoleUnknown.String(),
		Remote: conn.RemoteAddr().String(),
	})
}

func (l *Lobby) track() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing {
		return false
	}
	l.active.Add(1)
	return true
}

// Drain refuses new connections, disconnects every session and waits for
// their handlers to finish or ctx to end.
func (l *Lobby) Drain(ctx context.Context) error {
	l.mu.Lock()
	l.closing = true
	clients := make([]*Client, 0, len(l.clients))
	for _, c := range l.clients {
		clients = append(clients, c)
	}
	l.mu.Unlock()

	l.logger.Info().Int("sessions", len(clients)).Msg("draining lobby")
	for _, c := range clients {
		c.conn.Stop()
	}

	done := make(chan struct{})
	go func() {
		l.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attach registers a session for an already established transport.
func (l *Lobby) attach(conn Outbound) *Client {
	client := l.newClient(l.nextID.Add(1), conn)
	l.AddClient(client)
	return client
}

// AddClient registers a session.
func (l *Lobby) AddClient(c *Client) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients[c.id] = c
}

// RemoveClient unregisters a session.
func (l *Lobby) RemoveClient(id uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, id)
}

// Count returns the number of registered sessions.
func (l *Lobby) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clients)
}

// ClientByPermID returns the session with the given id, or nil.
func (l *Lobby) ClientByPermID(id uint32) *Client {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.clients[id]
}

// UserByPartialName returns every logged in user whose name contains
// part, ignoring case.
func (l *Lobby) UserByPartialName(part string) []*Client {
	part = strings.ToLower(part)

	l.mu.RLock()
	defer l.mu.RUnlock()

	var matches []*Client
	for _, c := range l.clients {
		role, name := c.identity()
		if role == protocol.RoleUser && strings.Contains(strings.ToLower(name), part) {
			matches = append(matches, c)
		}
	}
	sortClients(matches)
	return matches
}

// userNamed returns the logged in user called name, ignoring case.
func (l *Lobby) userNamed(name string) *Client {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.clients {
		role, n := c.identity()
		if role == protocol.RoleUser && strings.EqualFold(n, name) {
			return c
		}
	}
	return nil
}

// claimUser makes c the logged in user called name unless another user
// already holds that name. The check and the claim happen under the
// registry write lock.
func (l *Lobby) claimUser(c *Client, name string, acc *db.Account, profile *protocol.ProfileData) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, other := range l.clients {
		if other == c {
			continue
		}
		role, n := other.identity()
		if role == protocol.RoleUser && strings.EqualFold(n, name) {
			return false
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != protocol.RoleUnknown {
		return false
	}
	c.role = protocol.RoleUser
	c.name = name
	c.account = acc
	c.profile = profile
	c.selectedSlot = profile.SelectedSlot
	return true
}

// BroadcastServerInfo sends info to every user.
func (l *Lobby) BroadcastServerInfo(info protocol.ServerInfo) {
	if info.Hidden {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.clients {
		if c.Role() == protocol.RoleUser {
			c.Send(&protocol.ServerInfoMessage{ServerInfo: info})
		}
	}
}

// BroadcastServerRemoved tells every user that a game server went away.
func (l *Lobby) BroadcastServerRemoved(serverID uint32) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.clients {
		if c.Role() == protocol.RoleUser {
			c.Send(protocol.NewServerRemoved(serverID))
		}
	}
}

// BroadcastChatMessage sends line to every user in channel.
func (l *Lobby) BroadcastChatMessage(channel int32, line protocol.ChatLine) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.clients {
		if c.inChannel(channel) {
			c.Send(&protocol.ChatMessage{ChatLine: line})
		}
	}
}

// UserLeftChannel tells the remaining members of channel that permID left.
func (l *Lobby) UserLeftChannel(permID uint32, channel int32) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for id, c := range l.clients {
		if id != permID && c.inChannel(channel) {
			c.Send(protocol.NewUserLeftChannel(permID))
		}
	}
}

// joinChannel announces joiner to the members of channel and sends
// joiner the member list, itself included.
func (l *Lobby) joinChannel(joiner *Client, name string, channel int32) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	members := make([]*Client, 0, len(l.clients))
	for _, c := range l.clients {
		if c.inChannel(channel) {
			members = append(members, c)
		}
	}
	sortClients(members)

	for _, c := range members {
		_, memberName := c.identity()
		joiner.Send(&protocol.UserJoinedChannel{PermID: c.id, Name: memberName})
		if c != joiner {
			c.Send(&protocol.UserJoinedChannel{PermID: joiner.id, Name: name})
		}
	}
}

// ServerList returns the separators followed by the visible game servers
// ordered by server id.
func (l *Lobby) ServerList() []protocol.ServerInfo {
	list := make([]protocol.ServerInfo, 0, len(l.opts.Separators))
	for i, name := range l.opts.Separators {
		list = append(list, protocol.ServerInfo{
			Name:     name,
			ServerID: math.MaxUint32 - uint32(i),
		})
	}

	for _, info := range l.Servers() {
		if !info.Hidden {
			list = append(list, info)
		}
	}
	return list
}

// Servers returns the info of every logged in game server, hidden ones
// included, ordered by server id.
func (l *Lobby) Servers() []protocol.ServerInfo {
	l.mu.RLock()
	var servers []protocol.ServerInfo
	for _, c := range l.clients {
		if info, ok := c.ServerInfo(); ok {
			servers = append(servers, info)
		}
	}
	l.mu.RUnlock()

	sort.Slice(servers, func(i, j int) bool { return servers[i].ServerID < servers[j].ServerID })
	return servers
}

// Users returns a snapshot of every logged in user.
func (l *Lobby) Users() []ClientInfo {
	return l.snapshot(protocol.RoleUser)
}

// Clients returns a snapshot of every session regardless of role.
func (l *Lobby) Clients() []ClientInfo {
	l.mu.RLock()
	out := make([]ClientInfo, 0, len(l.clients))
	for _, c := range l.clients {
		out = append(out, c.Info())
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Lobby) snapshot(role protocol.Role) []ClientInfo {
	var out []ClientInfo
	for _, info := range l.Clients() {
		if info.Role == role.String() {
			out = append(out, info)
		}
	}
	return out
}

// Kick disconnects the session with the given id.
func (l *Lobby) Kick(id uint32) bool {
	c := l.ClientByPermID(id)
	if c == nil {
		return false
	}
	l.logger.Info().Uint32("conn_id", id).Msg("kicking client")
	c.conn.Stop()
	return true
}

// Broadcast shows text to every logged in user as an important message.
func (l *Lobby) Broadcast(text string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, c := range l.clients {
		if c.Role() == protocol.RoleUser {
			c.Send(&protocol.ImportantMessage{Popup: true, Text: text})
			n++
		}
	}
	return n
}

func (l *Lobby) emit(eventType events.EventType, payload interface{}) {
	if l.bus == nil {
		return
	}
	l.bus.Emit(context.Background(), events.Event{
		Type:    eventType,
		Source:  "lobby",
		Payload: payload,
	})
}

func sortClients(cs []*Client) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].id < cs[j].id })
}

package cli

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sacredlobby/sacredlobby/internal/config"
	"github.com/sacredlobby/sacredlobby/internal/lobby"
	"github.com/sacredlobby/sacredlobby/internal/protocol"
	"github.com/sacredlobby/sacredlobby/internal/stats"
)

type fakeLobby struct {
	users     []lobby.ClientInfo
	servers   []protocol.ServerInfo
	bans      *lobby.BanList
	kicked    []uint32
	broadcast []string
}

func (f *fakeLobby) Clients() []lobby.ClientInfo { return f.users }

func (f *fakeLobby) Users() []lobby.ClientInfo { return f.users }

func (f *fakeLobby) Servers() []protocol.ServerInfo { return f.servers }

func (f *fakeLobby) Bans() *lobby.BanList { return f.bans }

func (f *fakeLobby) Kick(id uint32) bool {
	for _, u := range f.users {
		if u.ID == id {
			f.kicked = append(f.kicked, id)
			return true
		}
	}
	return false
}

func (f *fakeLobby) Broadcast(text string) int {
	f.broadcast = append(f.broadcast, text)
	return len(f.users)
}

func newTestCLI(t *testing.T) (*CLI, *fakeLobby, *config.Config, *bytes.Buffer) {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	bans, err := lobby.NewBanList(nil)
	require.NoError(t, err)
	fl := &fakeLobby{
		users: []lobby.ClientInfo{{ID: 3, Role: "user", Name: "Garlan", Channel: 0, Remote: "203.0.113.10:4000"}},
		servers: []protocol.ServerInfo{{
			Name:       "Ancaria",
			ExternalIP: [4]byte{198, 51, 100, 7},
			Port:       2006,
			MaxPlayers: 4,
			ServerID:   4,
		}},
		bans: bans,
	}

	out := &bytes.Buffer{}
	return NewCLI(cfg, nil, fl, stats.New(true), nil, strings.NewReader(""), out), fl, cfg, out
}

func TestListings(t *testing.T) {
	c, _, _, out := newTestCLI(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "users"))
	assert.Contains(t, out.String(), "Garlan")

	out.Reset()
	require.NoError(t, c.Execute(ctx, "servers"))
	assert.Contains(t, out.String(), "198.51.100.7:2006")
	assert.Contains(t, out.String(), "1/4")

	out.Reset()
	require.NoError(t, c.Execute(ctx, "status"))
	assert.Contains(t, out.String(), "Game servers")

	out.Reset()
	require.NoError(t, c.Execute(ctx, "frobnicate"))
	assert.Contains(t, out.String(), "Unknown command")

	require.NoError(t, c.Execute(ctx, "   "))
}

func TestKick(t *testing.T) {
	c, fl, _, _ := newTestCLI(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "kick 3"))
	assert.Equal(t, []uint32{3}, fl.kicked)

	assert.Error(t, c.Execute(ctx, "kick 99"))
	assert.Error(t, c.Execute(ctx, "kick abc"))
	assert.Error(t, c.Execute(ctx, "kick"))
}

func TestSay(t *testing.T) {
	c, fl, _, out := newTestCLI(t)

	require.NoError(t, c.Execute(context.Background(), "say Server restart in 5 minutes"))
	assert.Equal(t, []string{"Server restart in 5 minutes"}, fl.broadcast)
	assert.Contains(t, out.String(), "1 players")

	assert.Error(t, c.Execute(context.Background(), "say"))
}

func TestBanPersists(t *testing.T) {
	c, fl, cfg, _ := newTestCLI(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "ban 192.0.2.1"))
	require.NoError(t, c.Execute(ctx, "ban 192.0.2.2 server"))
	assert.Equal(t, lobby.BanFull, fl.bans.Check(net.ParseIP("192.0.2.1")))
	assert.Equal(t, lobby.BanServerOnly, fl.bans.Check(net.ParseIP("192.0.2.2")))

	assert.Error(t, c.Execute(ctx, "ban not-an-ip"))
	assert.Error(t, c.Execute(ctx, "ban 192.0.2.3 forever"))

	reloaded, err := config.Load(filepath.Dir(cfg.Path()))
	require.NoError(t, err)
	assert.Equal(t, []config.Ban{
		{IP: "192.0.2.1", Kind: "full"},
		{IP: "192.0.2.2", Kind: "server"},
	}, reloaded.GetLobby().Bans)

	require.NoError(t, c.Execute(ctx, "unban 192.0.2.1"))
	assert.Equal(t, lobby.BanNone, fl.bans.Check(net.ParseIP("192.0.2.1")))
	assert.Error(t, c.Execute(ctx, "unban 192.0.2.1"))
	assert.Len(t, cfg.GetLobby().Bans, 1)
}

func TestQuitCallsShutdown(t *testing.T) {
	c, _, _, _ := newTestCLI(t)
	called := false
	c.shutdown = func() { called = true }

	require.NoError(t, c.Execute(context.Background(), "quit"))
	assert.True(t, called)
}

func TestStartReadsUntilEOF(t *testing.T) {
	c, fl, _, out := newTestCLI(t)
	c.in = strings.NewReader("say hello\nkick 42\n")

	c.Start(context.Background())
	assert.Equal(t, []string{"hello"}, fl.broadcast)
	assert.Contains(t, out.String(), "Error: no session with id 42")
}

func TestSetPersists(t *testing.T) {
	c, _, cfg, out := newTestCLI(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "set motd Welcome back to Ancaria"))
	require.NoError(t, c.Execute(ctx, "set port 2007"))
	require.NoError(t, c.Execute(ctx, "set auto_create_accounts false"))
	assert.Contains(t, out.String(), "restart the lobby")

	reloaded, err := config.Load(filepath.Dir(cfg.Path()))
	require.NoError(t, err)
	got := reloaded.GetLobby()
	assert.Equal(t, "Welcome back to Ancaria", got.MessageOfTheDay)
	assert.Equal(t, 2007, got.Port)
	assert.False(t, got.AutoCreateAccounts)

	assert.Error(t, c.Execute(ctx, "set port 99999"))
	assert.Equal(t, 2007, cfg.GetLobby().Port)
	assert.Error(t, c.Execute(ctx, "set no_such_field 1"))
	assert.Error(t, c.Execute(ctx, "set bans []"))
	assert.Error(t, c.Execute(ctx, "set motd"))
}

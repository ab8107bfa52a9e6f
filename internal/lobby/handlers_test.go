package lobby

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sacredlobby/sacredlobby/internal/config"
	"github.com/sacredlobby/sacredlobby/internal/protocol"
)

func TestClientLogin(t *testing.T) {
	t.Parallel()
	l := newTestLobby(t, nil)
	server, _ := loginServer(t, l, "Game", "203.0.113.20:2006")

	conn := newFakeConn("203.0.113.10:40000")
	c := l.attach(conn)
	c.HandleMessage(&protocol.ClientLoginRequest{Name: "Garlan", Password: "secret"})

	msgs := conn.take()
	require.Len(t, msgs, 5)

	result, ok := msgs[0].(*protocol.LoginResult)
	require.True(t, ok)
	assert.Equal(t, protocol.ResultOk, result.Result)
	assert.Equal(t, c.ID(), result.PermID)
	assert.Equal(t, "Garlan", result.AccountName)

	motd, ok := msgs[1].(*protocol.MessageOfTheDay)
	require.True(t, ok)
	assert.Equal(t, "Welcome to Ancaria", motd.Text)

	infos := ofType[*protocol.ServerInfoMessage](msgs)
	require.Len(t, infos, 3)
	assert.Equal(t, server.ID(), infos[2].ServerID)

	assert.Empty(t, ofType[*protocol.LobbyResult](msgs))
	assert.Equal(t, protocol.RoleUser, c.Role())
}

func TestClientLoginRejections(t *testing.T) {
	t.Parallel()
	l := newTestLobby(t, nil)
	alice, _ := loginUser(t, l, "Alice")

	tests := []struct {
		name     string
		login    string
		password string
		want     protocol.Result
	}{
		{"invalid name", "x", "pw", protocol.ResultInvalidName},
		{"invalid characters", "Bad Name!", "pw", protocol.ResultInvalidName},
		{"already logged in", "alice", "pw-Alice", protocol.ResultFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn("203.0.113.11:40000")
			c := l.attach(conn)
			c.HandleMessage(&protocol.ClientLoginRequest{Name: tt.login, Password: tt.password})

			msgs := conn.take()
			results := ofType[*protocol.LoginResult](msgs)
			require.Len(t, results, 1)
			assert.Equal(t, tt.want, results[0].Result)
			assert.Len(t, ofType[*protocol.ImportantMessage](msgs), 1)
			assert.Equal(t, protocol.RoleUnknown, c.Role())
		})
	}

	alice.Disconnected()

	conn := newFakeConn("203.0.113.11:40000")
	c := l.attach(conn)
	c.HandleMessage(&protocol.ClientLoginRequest{Name: "ALICE", Password: "wrong"})
	msgs := conn.take()
	results := ofType[*protocol.LoginResult](msgs)
	require.Len(t, results, 1)
	assert.Equal(t, protocol.ResultWrongPassword, results[0].Result)
	assert.Equal(t, protocol.RoleUnknown, c.Role())

	c.HandleMessage(&protocol.ClientLoginRequest{Name: "ALICE", Password: "pw-Alice"})
	results = ofType[*protocol.LoginResult](conn.take())
	require.Len(t, results, 1)
	assert.Equal(t, protocol.ResultOk, results[0].Result)
	assert.Equal(t, "Alice", results[0].AccountName)
}

func TestConcurrentLoginsClaimNameOnce(t *testing.T) {
	t.Parallel()
	l := newTestLobby(t, nil)
	first, _ := loginUser(t, l, "Alice")
	first.Disconnected()

	for round := 0; round < 20; round++ {
		clients := []*Client{
			l.attach(newFakeConn("203.0.113.10:40000")),
			l.attach(newFakeConn("203.0.113.11:40000")),
		}

		var wg sync.WaitGroup
		for _, c := range clients {
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				c.HandleMessage(&protocol.ClientLoginRequest{Name: "Alice", Password: "pw-Alice"})
			}(c)
		}
		wg.Wait()

		users := 0
		for _, c := range clients {
			if c.Role() == protocol.RoleUser {
				users++
			}
		}
		require.Equal(t, 1, users, "round %d", round)
		require.Len(t, l.UserByPartialName("Alice"), 1, "round %d", round)

		for _, c := range clients {
			c.Disconnected()
		}
	}
}

func TestRoleTransitionsOnce(t *testing.T) {
	t.Parallel()
	l := newTestLobby(t, nil)

	user, userConn := loginUser(t, l, "Alice")
	user.HandleMessage(&protocol.ServerLoginRequest{ServerInfo: protocol.ServerInfo{Name: "Sneaky"}})
	assert.Equal(t, protocol.ResultFailed, lastResult(t, userConn.take()).Result)
	assert.Equal(t, protocol.RoleUser, user.Role())

	server, serverConn := loginServer(t, l, "Game", "203.0.113.20:2006")
	server.HandleMessage(&protocol.ClientLoginRequest{Name: "Mallory", Password: "x"})
	assert.Equal(t, protocol.ResultFailed, lastResult(t, serverConn.take()).Result)
	assert.Equal(t, protocol.RoleServer, server.Role())
}

func TestLoginBans(t *testing.T) {
	t.Parallel()
	bans, err := NewBanList([]config.Ban{
		{IP: "192.0.2.1", Kind: "client"},
		{IP: "192.0.2.2", Kind: "server"},
	})
	require.NoError(t, err)
	l := newTestLobby(t, bans)

	conn := newFakeConn("192.0.2.1:4000")
	c := l.attach(conn)
	c.HandleMessage(&protocol.ClientLoginRequest{Name: "Banned", Password: "x"})
	assert.True(t, conn.isStopped())
	assert.Empty(t, conn.take())
	assert.Equal(t, protocol.RoleUnknown, c.Role())

	conn = newFakeConn("192.0.2.1:4001")
	c = l.attach(conn)
	c.HandleMessage(&protocol.ServerLoginRequest{ServerInfo: protocol.ServerInfo{Name: "Allowed"}})
	assert.False(t, conn.isStopped())
	assert.Equal(t, protocol.RoleServer, c.Role())

	conn = newFakeConn("192.0.2.2:4000")
	c = l.attach(conn)
	c.HandleMessage(&protocol.ServerLoginRequest{ServerInfo: protocol.ServerInfo{Name: "Banned"}})
	assert.True(t, conn.isStopped())
	assert.Empty(t, conn.take())
	assert.Equal(t, protocol.RoleUnknown, c.Role())

	conn = newFakeConn("192.0.2.2:4001")
	c = l.attach(conn)
	c.HandleMessage(&protocol.ClientLoginRequest{Name: "Player", Password: "x"})
	assert.False(t, conn.isStopped())
	assert.Equal(t, protocol.RoleUser, c.Role())
}

func TestServerLogin(t *testing.T) {
	t.Parallel()
	l := newTestLobby(t, nil)
	_, userConn := loginUser(t, l, "Alice")

	tests := []struct {
		name     string
		addr     string
		external net.IP
	}{
		{"private peer uses public address", "192.168.1.5:2006", net.IPv4(198, 51, 100, 7)},
		{"loopback peer uses public address", "127.0.0.1:2006", net.IPv4(198, 51, 100, 7)},
		{"public peer keeps its address", "203.0.113.9:2006", net.IPv4(203, 0, 113, 9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn(tt.addr)
			c := l.attach(conn)
			c.HandleMessage(&protocol.ServerLoginRequest{ServerInfo: protocol.ServerInfo{
				Name:      "Game",
				ServerID:  1234,
				ChannelID: 7,
				Port:      2006,
			}})

			msgs := conn.take()
			require.Len(t, msgs, 1)
			resp, ok := msgs[0].(*protocol.ServerLoginResponse)
			require.True(t, ok)
			assert.Equal(t, tt.external.To4(), net.IP(resp.ExternalIP[:]))

			info, ok := c.ServerInfo()
			require.True(t, ok)
			assert.Equal(t, c.ID(), info.ServerID)
			assert.Equal(t, int32(0), info.ChannelID)

			announced := ofType[*protocol.ServerInfoMessage](userConn.take())
			require.Len(t, announced, 1)
			assert.Equal(t, c.ID(), announced[0].ServerID)
			assert.Equal(t, resp.ExternalIP, announced[0].ExternalIP)
		})
	}
}

func TestServerChangePublicInfo(t *testing.T) {
	t.Parallel()
	l := newTestLobby(t, nil)
	_, userConn := loginUser(t, l, "Alice")
	server, serverConn := loginServer(t, l, "Game", "203.0.113.20:2006")
	userConn.take()

	server.HandleMessage(&protocol.ServerChangePublicInfo{ServerInfo: protocol.ServerInfo{
		Name:           "Renamed",
		Flags:          0x4,
		MaxPlayers:     16,
		CurrentPlayers: 3,
		Port:           9999,
	}})
	assert.Equal(t, protocol.ResultOk, lastResult(t, serverConn.take()).Result)

	info, _ := server.ServerInfo()
	assert.Equal(t, "Game", info.Name)
	assert.Equal(t, uint16(2006), info.Port)
	assert.Equal(t, uint32(0x4), info.Flags)
	assert.Equal(t, uint16(16), info.MaxPlayers)
	assert.Equal(t, uint16(3), info.CurrentPlayers)

	updates := ofType[*protocol.ServerInfoMessage](userConn.take())
	require.Len(t, updates, 1)
	assert.Equal(t, uint16(3), updates[0].CurrentPlayers)
}

func TestChannelJoinAndLeave(t *testing.T) {
	t.Parallel()
	l := newTestLobby(t, nil)
	alice, aliceConn := loginUser(t, l, "Alice")
	bob, bobConn := loginUser(t, l, "Bob")

	alice.HandleMessage(&protocol.ChannelJoinRequest{Channel: 5})
	msgs := aliceConn.take()
	welcome := ofType[*protocol.ChatMessage](msgs)
	require.Len(t, welcome, 1)
	assert.Contains(t, welcome[0].Text, "Welcome")
	members := ofType[*protocol.UserJoinedChannel](msgs)
	require.Len(t, members, 1)
	assert.Equal(t, alice.ID(), members[0].PermID)
	assert.Equal(t, protocol.ResultOk, lastResult(t, msgs).Result)

	bob.HandleMessage(&protocol.ChannelJoinRequest{Channel: 0})
	members = ofType[*protocol.UserJoinedChannel](bobConn.take())
	require.Len(t, members, 2)
	assert.Equal(t, "Alice", members[0].Name)
	assert.Equal(t, "Bob", members[1].Name)

	announced := ofType[*protocol.UserJoinedChannel](aliceConn.take())
	require.Len(t, announced, 1)
	assert.Equal(t, bob.ID(), announced[0].PermID)

	bob.HandleMessage(&protocol.ChannelLeaveRequest{})
	assert.Equal(t, protocol.ResultOk, lastResult(t, bobConn.take()).Result)
	left := ofType[*protocol.UserLeftChannel](aliceConn.take())
	require.Len(t, left, 1)
	assert.Equal(t, bob.ID(), left[0].ID)

	bob.HandleMessage(&protocol.ChannelLeaveRequest{})
	assert.Equal(t, protocol.ResultNotInChannel, lastResult(t, bobConn.take()).Result)
	assert.Empty(t, aliceConn.take())
}

func uploadProfile(t *testing.T, c *Client, conn *fakeConn, profile *protocol.ProfileData) {
	t.Helper()
	blob, err := protocol.EncodeProfile(profile)
	require.NoError(t, err)
	c.HandleMessage(&protocol.ReceivePublicData{DataBlock: protocol.DataBlock{
		PermID: c.ID(),
		ID:     protocol.BlockProfile,
		Data:   blob,
	}})
	require.Equal(t, protocol.ResultOk, lastResult(t, conn.take()).Result)
}

func TestUserJoinedServer(t *testing.T) {
	t.Parallel()
	l := newTestLobby(t, nil)
	alice, aliceConn := loginUser(t, l, "Alice")
	bob, bobConn := loginUser(t, l, "Bob")
	joinChannel(t, alice, aliceConn)
	joinChannel(t, bob, bobConn)
	uploadProfile(t, alice, aliceConn, &protocol.ProfileData{
		Character: protocol.CharacterPreview{Name: "Ignis", Level: 12},
	})
	server, serverConn := loginServer(t, l, "Sacred Plains", "203.0.113.20:2006")
	aliceConn.take()
	bobConn.take()

	server.HandleMessage(protocol.NewUserJoinedServer(alice.ID()))
	assert.Equal(t, protocol.ResultOk, lastResult(t, serverConn.take()).Result)

	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		lines := ofType[*protocol.ChatMessage](conn.take())
		require.Len(t, lines, 1)
		assert.Equal(t, "Alice (Ignis) joined Sacred Plains", lines[0].Text)
	}

	server.HandleMessage(protocol.NewUserJoinedServer(bob.ID()))
	lines := ofType[*protocol.ChatMessage](aliceConn.take())
	require.Len(t, lines, 1)
	assert.Equal(t, "Bob joined Sacred Plains", lines[0].Text)

	server.HandleMessage(protocol.NewUserJoinedServer(999))
	assert.Equal(t, protocol.ResultNotFound, lastResult(t, serverConn.take()).Result)
}

func TestUserJoinedServerNamesSelectedCharacter(t *testing.T) {
	t.Parallel()
	l := newTestLobby(t, nil)
	bob, bobConn := loginUser(t, l, "Bob")
	joinChannel(t, bob, bobConn)

	bob.HandleMessage(&protocol.CreateCharacter{Slot: 1, TemplateID: 2, Name: "Garlan"})
	require.Equal(t, protocol.ResultOk, lastResult(t, bobConn.take()).Result)
	bob.HandleMessage(&protocol.CharacterSelect{Slot: 1})
	require.Equal(t, protocol.ResultOk, lastResult(t, bobConn.take()).Result)
	assert.Equal(t, "Garlan", bob.Info().Character)

	server, serverConn := loginServer(t, l, "Sacred Plains", "203.0.113.20:2006")
	bobConn.take()

	server.HandleMessage(protocol.NewUserJoinedServer(bob.ID()))
	assert.Equal(t, protocol.ResultOk, lastResult(t, serverConn.take()).Result)

	lines := ofType[*protocol.ChatMessage](bobConn.take())
	require.Len(t, lines, 1)
	assert.Equal(t, "Bob (Garlan) joined Sacred Plains", lines[0].Text)
}

func TestPublicData(t *testing.T) {
	t.Parallel()
	l := newTestLobby(t, nil)
	alice, aliceConn := loginUser(t, l, "Alice")
	bob, bobConn := loginUser(t, l, "Bob")
	uploadProfile(t, bob, bobConn, &protocol.ProfileData{
		AccountName: "Spoofed",
		DisplayName: "Bob the Dwarf",
		Character:   protocol.CharacterPreview{Name: "Thorgrim", Level: 40},
	})

	alice.HandleMessage(&protocol.PublicDataRequest{PermID: bob.ID(), BlockID: protocol.BlockProfile})
	msgs := aliceConn.take()
	assert.Equal(t, protocol.ResultOk, lastResult(t, msgs).Result)
	data := ofType[*protocol.PublicData](msgs)
	require.Len(t, data, 1)
	assert.Equal(t, bob.ID(), data[0].PermID)

	profile, err := protocol.DecodeProfile(data[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "Bob", profile.AccountName)
	assert.Equal(t, "Bob the Dwarf", profile.DisplayName)
	assert.Equal(t, "Thorgrim", profile.Character.Name)

	tests := []struct {
		name string
		req  protocol.PublicDataRequest
		want protocol.Result
	}{
		{"characters block", protocol.PublicDataRequest{PermID: bob.ID(), BlockID: protocol.BlockCharacters}, protocol.ResultNotImplemented},
		{"statistics block", protocol.PublicDataRequest{PermID: bob.ID(), BlockID: protocol.BlockStatistics}, protocol.ResultNotImplemented},
		{"unknown block", protocol.PublicDataRequest{PermID: bob.ID(), BlockID: 3}, protocol.ResultUnknownBlock},
		{"unknown user", protocol.PublicDataRequest{PermID: 999, BlockID: protocol.BlockProfile}, protocol.ResultNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			alice.HandleMessage(&req)
			msgs := aliceConn.take()
			assert.Equal(t, tt.want, lastResult(t, msgs).Result)
			assert.Empty(t, ofType[*protocol.PublicData](msgs))
		})
	}
}

func TestReceivePublicData(t *testing.T) {
	t.Parallel()
	l := newTestLobby(t, nil)
	alice, aliceConn := loginUser(t, l, "Alice")
	bob, _ := loginUser(t, l, "Bob")

	blob, err := protocol.EncodeProfile(&protocol.ProfileData{DisplayName: "Intruder"})
	require.NoError(t, err)

	alice.HandleMessage(&protocol.ReceivePublicData{DataBlock: protocol.DataBlock{PermID: bob.ID(), Data: blob}})
	assert.Equal(t, protocol.ResultAccessDenied, lastResult(t, aliceConn.take()).Result)

	alice.HandleMessage(&protocol.ReceivePublicData{DataBlock: protocol.DataBlock{PermID: alice.ID(), ID: 1, Data: blob}})
	assert.Equal(t, protocol.ResultNotImplemented, lastResult(t, aliceConn.take()).Result)

	alice.HandleMessage(&protocol.ReceivePublicData{DataBlock: protocol.DataBlock{PermID: alice.ID(), Data: []byte("junk")}})
	assert.Equal(t, protocol.ResultFailed, lastResult(t, aliceConn.take()).Result)

	uploadProfile(t, alice, aliceConn, &protocol.ProfileData{DisplayName: "Lady Alice", SelectedSlot: 2})

	alice.Disconnected()
	again, _ := loginUser(t, l, "Alice")
	again.mu.Lock()
	defer again.mu.Unlock()
	require.NotNil(t, again.profile)
	assert.Equal(t, "Lady Alice", again.profile.DisplayName)
	assert.Equal(t, "Alice", again.profile.AccountName)
	assert.Equal(t, int32(2), again.selectedSlot)
}

func TestCharactersAndSaveData(t *testing.T) {
	t.Parallel()
	l := newTestLobby(t, nil)
	alice, aliceConn := loginUser(t, l, "Alice")
	bob, bobConn := loginUser(t, l, "Bob")
	server, serverConn := loginServer(t, l, "Game", "203.0.113.20:2006")

	result := func(c *Client, conn *fakeConn, msg protocol.Message) protocol.Result {
		t.Helper()
		c.HandleMessage(msg)
		return lastResult(t, conn.take()).Result
	}

	assert.Equal(t, protocol.ResultOk, result(alice, aliceConn, &protocol.CreateCharacter{Slot: 2, TemplateID: 3, Name: "Ignis"}))
	assert.Equal(t, protocol.ResultInvalidSlot, result(alice, aliceConn, &protocol.CreateCharacter{Slot: 2, TemplateID: 3, Name: "Again"}))
	assert.Equal(t, protocol.ResultInvalidSlot, result(alice, aliceConn, &protocol.CreateCharacter{Slot: protocol.MaxSaveSlots, Name: "Late"}))
	assert.Equal(t, protocol.ResultInvalidName, result(alice, aliceConn, &protocol.CreateCharacter{Slot: 3, Name: "  "}))

	assert.Equal(t, protocol.ResultOk, result(alice, aliceConn, &protocol.CharacterSelect{Slot: 2}))
	assert.Equal(t, protocol.ResultNotFound, result(alice, aliceConn, &protocol.CharacterSelect{Slot: 5}))
	assert.Equal(t, protocol.ResultInvalidSlot, result(alice, aliceConn, &protocol.CharacterSelect{Slot: -1}))

	store := &protocol.SaveDataStore{DataBlock: protocol.DataBlock{PermID: alice.ID(), ID: 2, Data: []byte("hero-save")}}
	assert.Equal(t, protocol.ResultOk, result(server, serverConn, store))
	assert.Equal(t, protocol.ResultAccessDenied, result(bob, bobConn, store))

	alice.HandleMessage(&protocol.SaveDataRequest{PermID: alice.ID(), Slot: 2})
	msgs := aliceConn.take()
	assert.Equal(t, protocol.ResultOk, lastResult(t, msgs).Result)
	saves := ofType[*protocol.SaveData](msgs)
	require.Len(t, saves, 1)
	assert.Equal(t, []byte("hero-save"), saves[0].Data)
	assert.Equal(t, uint32(2), saves[0].ID)

	server.HandleMessage(&protocol.SaveDataRequest{PermID: alice.ID(), Slot: 2})
	msgs = serverConn.take()
	require.Len(t, ofType[*protocol.SaveData](msgs), 1)

	assert.Equal(t, protocol.ResultAccessDenied, result(bob, bobConn, &protocol.SaveDataRequest{PermID: alice.ID(), Slot: 2}))
	assert.Equal(t, protocol.ResultNotFound, result(bob, bobConn, &protocol.SaveDataRequest{PermID: bob.ID(), Slot: 2}))
	assert.Equal(t, protocol.ResultInvalidSlot, result(bob, bobConn, &protocol.SaveDataRequest{PermID: bob.ID(), Slot: 8}))
	assert.Equal(t, protocol.ResultNotFound, result(server, serverConn, &protocol.SaveDataRequest{PermID: 999, Slot: 0}))
}

func TestServerListRequest(t *testing.T) {
	t.Parallel()
	l := newTestLobby(t, nil)
	alice, aliceConn := loginUser(t, l, "Alice")
	loginServer(t, l, "Game", "203.0.113.20:2006")
	aliceConn.take()

	alice.HandleMessage(&protocol.ServerListRequest{})
	msgs := aliceConn.take()
	assert.Len(t, ofType[*protocol.ServerInfoMessage](msgs), len(testSeparators)+1)
	assert.Equal(t, protocol.ResultOk, lastResult(t, msgs).Result)
}

package lobby

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sacredlobby/sacredlobby/internal/db"
	"github.com/sacredlobby/sacredlobby/internal/events"
	"github.com/sacredlobby/sacredlobby/internal/network"
	"github.com/sacredlobby/sacredlobby/internal/protocol"
)

// answered is returned by handlers that already sent their own reply.
const answered = ^protocol.Result(0)

// HandleMessage dispatches one validated inbound message. Unless the
// handler replied itself, the peer gets a LobbyResult for the message.
func (c *Client) HandleMessage(msg protocol.Message) {
	var result protocol.Result

	switch m := msg.(type) {
	case *protocol.ClientLoginRequest:
		result = c.onClientLoginRequest(m)
	case *protocol.ServerLoginRequest:
		result = c.onServerLoginRequest(m)
	case *protocol.ServerChangePublicInfo:
		result = c.onServerChangePublicInfo(m)
	case *protocol.ChannelJoinRequest:
		result = c.onChannelJoinRequest(m)
	case *protocol.ChannelLeaveRequest:
		result = c.onChannelLeaveRequest()
	case *protocol.ClientChatMessage:
		result = c.onClientChatMessage(m)
	case *protocol.UserJoinedServer:
		result = c.onUserJoinedServer(m)
	case *protocol.PublicDataRequest:
		result = c.onPublicDataRequest(m)
	case *protocol.ReceivePublicData:
		result = c.onReceivePublicData(m)
	case *protocol.CharacterSelect:
		result = c.onCharacterSelect(m)
	case *protocol.SaveDataRequest:
		result = c.onSaveDataRequest(m)
	case *protocol.SaveDataStore:
		result = c.onSaveDataStore(m)
	case *protocol.CreateCharacter:
		result = c.onCreateCharacter(m)
	case *protocol.ServerListRequest:
		c.sendServerList()
		result = protocol.ResultOk
	default:
		c.logger.Warn().Stringer("kind", msg.Kind()).Msg("no handler for message")
		result = protocol.ResultNotImplemented
	}

	if result == answered {
		return
	}
	if result != protocol.ResultOk {
		c.logger.Debug().Stringer("kind", msg.Kind()).Stringer("result", result).Msg("request failed")
	}
	c.Send(&protocol.LobbyResult{Result: result, Answer: msg.Kind()})
}

func (c *Client) onClientLoginRequest(m *protocol.ClientLoginRequest) protocol.Result {
	if c.Role() != protocol.RoleUnknown {
		return protocol.ResultFailed
	}

	ip := c.remoteIP()
	if c.lobby.bans.Check(ip) == BanClientOnly {
		c.refuseBanned(ip, BanClientOnly)
		return answered
	}

	name := strings.TrimSpace(m.Name)
	if !c.lobby.opts.UsernamePattern.MatchString(name) {
		c.rejectLogin(name, protocol.ResultInvalidName, fmt.Sprintf("The name '%s' is invalid.", name))
		return answered
	}
	if c.lobby.userNamed(name) != nil {
		c.rejectLogin(name, protocol.ResultFailed, fmt.Sprintf("%s is already logged in.", name))
		return answered
	}

	acc, result, notice := c.authenticate(name, m.Password)
	if result != protocol.ResultOk {
		c.rejectLogin(name, result, notice)
		return answered
	}
	if acc != nil {
		name = acc.Name
	}
	profile := c.loadProfile(acc, name)

	if !c.lobby.claimUser(c, name, acc, profile) {
		c.rejectLogin(name, protocol.ResultFailed, fmt.Sprintf("%s is already logged in.", name))
		return answered
	}

	c.logger.Info().Str("name", name).Uint32("client_version", m.ClientVersion).Msg("user logged in")

	c.Send(&protocol.LoginResult{Result: protocol.ResultOk, PermID: c.id, AccountName: name})
	if motd := c.lobby.opts.MessageOfTheDay; motd != "" {
		c.Send(&protocol.MessageOfTheDay{Text: motd})
	}
	c.sendServerList()

	c.lobby.emit(events.EventUserLoggedIn, events.ClientPayload{
		ID:     c.id,
		Role:   protocol.RoleUser.String(),
		Name:   name,
		Remote: ip.String(),
	})
	return answered
}

// authenticate resolves the account for a login. Without an account store
// every valid name is accepted.
func (c *Client) authenticate(name, password string) (*db.Account, protocol.Result, string) {
	store := c.lobby.accounts
	if store == nil {
		return nil, protocol.ResultOk, ""
	}

	acc, err := store.FindAccountByName(name)
	if err != nil {
		c.logger.Error().Err(err).Str("name", name).Msg("account lookup failed")
		return nil, protocol.ResultFailed, "The lobby could not check your account, please try again later."
	}

	if acc == nil {
		if !c.lobby.opts.AutoCreateAccounts {
			return nil, protocol.ResultNotFound, fmt.Sprintf("There is no account named '%s'.", name)
		}
		acc, err = store.CreateAccount(name, password)
		if err != nil {
			c.logger.Error().Err(err).Str("name", name).Msg("account creation failed")
			return nil, protocol.ResultFailed, "The lobby could not create your account."
		}
		return acc, protocol.ResultOk, ""
	}

	if !store.CheckPassword(acc, password) {
		return nil, protocol.ResultWrongPassword, "The password is wrong."
	}
	if err := store.TouchLogin(acc.ID); err != nil {
		c.logger.Warn().Err(err).Msg("failed to record login time")
	}
	return acc, protocol.ResultOk, ""
}

func (c *Client) loadProfile(acc *db.Account, name string) *protocol.ProfileData {
	fresh := &protocol.ProfileData{AccountName: name, DisplayName: name, SelectedSlot: -1}
	if acc == nil || c.lobby.accounts == nil {
		return fresh
	}

	blob, err := c.lobby.accounts.GetProfile(acc.ID)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to load profile")
		return fresh
	}
	if blob == nil {
		return fresh
	}
	profile, err := protocol.DecodeProfile(blob)
	if err != nil {
		c.logger.Warn().Err(err).Msg("stored profile is corrupt, starting fresh")
		return fresh
	}
	profile.AccountName = name
	return profile
}

func (c *Client) rejectLogin(name string, result protocol.Result, notice string) {
	c.logger.Info().Str("name", name).Stringer("result", result).Msg("login rejected")
	c.Send(&protocol.LoginResult{Result: result, AccountName: name})
	if notice != "" {
		c.Send(&protocol.ImportantMessage{Popup: true, Text: notice})
	}
	c.lobby.emit(events.EventLoginFailed, events.ClientPayload{
		ID:     c.id,
		Name:   name,
		Role:   protocol.RoleUser.String(),
		Reason: result.String(),
	})
}

func (c *Client) refuseBanned(ip net.IP, kind BanKind) {
	c.logger.Info().Stringer("ban", kind).Msg("login from banned address")
	c.lobby.emit(events.EventBanEnforced, events.BanPayload{IP: ip.String(), Kind: kind.String()})
	c.conn.Stop()
}

func (c *Client) sendServerList() {
	for _, info := range c.lobby.ServerList() {
		c.Send(&protocol.ServerInfoMessage{ServerInfo: info})
	}
}

func (c *Client) onServerLoginRequest(m *protocol.ServerLoginRequest) protocol.Result {
	if c.Role() != protocol.RoleUnknown {
		return protocol.ResultFailed
	}

	ip := c.remoteIP()
	if c.lobby.bans.Check(ip) == BanServerOnly {
		c.refuseBanned(ip, BanServerOnly)
		return answered
	}

	external := c.externalIP(ip)
	info := m.ServerInfo
	info.ServerID = c.id
	info.ChannelID = lobbyChannel
	copy(info.ExternalIP[:], external)

	c.mu.Lock()
	c.role = protocol.RoleServer
	c.name = info.Name
	c.serverInfo = info
	c.mu.Unlock()

	c.logger.Info().
		Str("name", info.Name).
		Str("external_ip", net.IP(external).String()).
		Uint16("port", info.Port).
		Msg("game server logged in")

	c.Send(&protocol.ServerLoginResponse{ExternalIP: info.ExternalIP})
	c.lobby.BroadcastServerInfo(info)

	c.lobby.emit(events.EventServerListed, serverPayload(info))
	return answered
}

// externalIP is the address users should connect to: the peer address,
// or the lobby's public address when the peer shares the lobby's network.
func (c *Client) externalIP(peer net.IP) []byte {
	ip := peer.To4()
	if ip == nil || network.IsPrivateIP(ip) {
		if c.lobby.resolver != nil {
			if public := c.lobby.resolver.PublicIP().To4(); public != nil {
				return public
			}
		}
		c.logger.Warn().Msg("public address unknown, advertising peer address")
	}
	if ip == nil {
		return make([]byte, 4)
	}
	return ip
}

func (c *Client) onServerChangePublicInfo(m *protocol.ServerChangePublicInfo) protocol.Result {
	c.mu.Lock()
	if c.role != protocol.RoleServer {
		c.mu.Unlock()
		return protocol.ResultAccessDenied
	}
	c.serverInfo.Flags = m.Flags
	c.serverInfo.MaxPlayers = m.MaxPlayers
	c.serverInfo.CurrentPlayers = m.CurrentPlayers
	info := c.serverInfo
	c.mu.Unlock()

	c.lobby.BroadcastServerInfo(info)
	c.lobby.emit(events.EventServerUpdated, serverPayload(info))
	return protocol.ResultOk
}

func serverPayload(info protocol.ServerInfo) events.ServerPayload {
	return events.ServerPayload{
		ID:             info.ServerID,
		Name:           info.Name,
		Address:        fmt.Sprintf("%s:%d", info.ExternalAddr(), info.Port),
		CurrentPlayers: info.CurrentPlayers,
		MaxPlayers:     info.MaxPlayers,
	}
}

func (c *Client) onChannelJoinRequest(m *protocol.ChannelJoinRequest) protocol.Result {
	c.mu.Lock()
	if c.role != protocol.RoleUser {
		c.mu.Unlock()
		return protocol.ResultAccessDenied
	}
	rejoin := c.channel == lobbyChannel
	c.channel = lobbyChannel
	name := c.name
	c.mu.Unlock()

	if m.Channel != lobbyChannel {
		c.logger.Debug().Int32("requested", m.Channel).Msg("routing channel join to the lobby channel")
	}

	c.Send(systemLine(c.id, fmt.Sprintf("Welcome to channel %d, %s!", lobbyChannel, name)))
	if rejoin {
		return protocol.ResultOk
	}
	c.lobby.joinChannel(c, name, lobbyChannel)

	c.lobby.emit(events.EventChannelJoined, events.ChatPayload{FromID: c.id, From: name, Channel: lobbyChannel})
	return protocol.ResultOk
}

func (c *Client) onChannelLeaveRequest() protocol.Result {
	c.mu.Lock()
	channel, name := c.channel, c.name
	c.channel = noChannel
	c.mu.Unlock()

	if channel < 0 {
		return protocol.ResultNotInChannel
	}
	c.lobby.UserLeftChannel(c.id, channel)
	c.lobby.emit(events.EventChannelLeft, events.ChatPayload{FromID: c.id, From: name, Channel: channel})
	return protocol.ResultOk
}

func (c *Client) onUserJoinedServer(m *protocol.UserJoinedServer) protocol.Result {
	user := c.lobby.ClientByPermID(m.ID)
	if user == nil || user.Role() != protocol.RoleUser {
		return protocol.ResultNotFound
	}

	unlock := lockPair(c, user)
	if c.role != protocol.RoleServer {
		unlock()
		return protocol.ResultAccessDenied
	}
	userName := user.name
	var character string
	if user.profile != nil {
		character = user.profile.Character.Name
	}
	serverName := c.serverInfo.Name
	unlock()

	text := fmt.Sprintf("%s joined %s", userName, serverName)
	if character != "" {
		text = fmt.Sprintf("%s (%s) joined %s", userName, character, serverName)
	}
	c.lobby.BroadcastChatMessage(lobbyChannel, protocol.ChatLine{Text: text})

	c.lobby.emit(events.EventUserJoinedServer, events.JoinPayload{
		UserID:     user.id,
		User:       userName,
		ServerID:   c.id,
		ServerName: serverName,
	})
	return protocol.ResultOk
}

func checkBlock(id uint32) protocol.Result {
	switch {
	case id > protocol.MaxBlockID:
		return protocol.ResultUnknownBlock
	case id != protocol.BlockProfile:
		return protocol.ResultNotImplemented
	}
	return protocol.ResultOk
}

func (c *Client) onPublicDataRequest(m *protocol.PublicDataRequest) protocol.Result {
	if r := checkBlock(m.BlockID); r != protocol.ResultOk {
		return r
	}

	target := c.lobby.ClientByPermID(m.PermID)
	if target == nil {
		return protocol.ResultNotFound
	}
	blob, err := target.profileBlob()
	if err != nil {
		c.logger.Error().Err(err).Uint32("perm_id", m.PermID).Msg("failed to encode profile")
		return protocol.ResultFailed
	}
	if blob == nil {
		return protocol.ResultNotFound
	}

	c.Send(&protocol.PublicData{DataBlock: protocol.DataBlock{
		PermID: m.PermID,
		ID:     protocol.BlockProfile,
		Data:   blob,
	}})
	return protocol.ResultOk
}

// profileBlob returns the compressed profile of a user, or nil for other
// roles.
func (c *Client) profileBlob() ([]byte, error) {
	c.mu.Lock()
	if c.role != protocol.RoleUser || c.profile == nil {
		c.mu.Unlock()
		return nil, nil
	}
	profile := *c.profile
	c.mu.Unlock()

	return protocol.EncodeProfile(&profile)
}

func (c *Client) onReceivePublicData(m *protocol.ReceivePublicData) protocol.Result {
	if m.PermID != c.id {
		return protocol.ResultAccessDenied
	}
	if r := checkBlock(m.ID); r != protocol.ResultOk {
		return r
	}

	profile, err := protocol.DecodeProfile(m.Data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("rejected profile upload")
		return protocol.ResultFailed
	}

	c.mu.Lock()
	profile.AccountName = c.name
	c.profile = profile
	c.selectedSlot = profile.SelectedSlot
	acc := c.account
	c.mu.Unlock()

	return c.storeProfile(acc, profile)
}

func (c *Client) storeProfile(acc *db.Account, profile *protocol.ProfileData) protocol.Result {
	if acc == nil || c.lobby.accounts == nil {
		return protocol.ResultOk
	}
	blob, err := protocol.EncodeProfile(profile)
	if err == nil {
		err = c.lobby.accounts.SetProfile(acc.ID, blob)
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to store profile")
		return protocol.ResultFailed
	}
	return protocol.ResultOk
}

func validSlot(slot int64) bool {
	return slot >= 0 && slot < protocol.MaxSaveSlots
}

func (c *Client) onCharacterSelect(m *protocol.CharacterSelect) protocol.Result {
	if !validSlot(int64(m.Slot)) {
		return protocol.ResultInvalidSlot
	}

	acc := c.Account()
	var character string
	if acc != nil && c.lobby.accounts != nil {
		slot, err := c.findSaveSlot(acc.ID, uint32(m.Slot))
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to read save slot")
			return protocol.ResultFailed
		}
		if slot == nil {
			return protocol.ResultNotFound
		}
		character = slot.Name
	}

	c.mu.Lock()
	c.selectedSlot = m.Slot
	var profile protocol.ProfileData
	if c.profile != nil {
		c.profile.SelectedSlot = m.Slot
		if character != "" && c.profile.Character.Name != character {
			c.profile.Character = protocol.CharacterPreview{Name: character}
		}
		profile = *c.profile
	}
	c.mu.Unlock()

	return c.storeProfile(acc, &profile)
}

// findSaveSlot returns the slot of account id, or nil if it was never
// created.
func (c *Client) findSaveSlot(id int64, slot uint32) (*db.SaveSlot, error) {
	slots, err := c.lobby.accounts.ListSaveSlots(id)
	if err != nil {
		return nil, err
	}
	for i := range slots {
		if slots[i].Slot == slot {
			return &slots[i], nil
		}
	}
	return nil, nil
}

// saveTarget resolves the user whose save data a request addresses.
func (c *Client) saveTarget(permID uint32, slot uint32) (*db.Account, protocol.Result) {
	if !validSlot(int64(slot)) {
		return nil, protocol.ResultInvalidSlot
	}
	if c.Role() == protocol.RoleUser && permID != c.id {
		return nil, protocol.ResultAccessDenied
	}

	target := c.lobby.ClientByPermID(permID)
	if target == nil || target.Role() != protocol.RoleUser {
		return nil, protocol.ResultNotFound
	}
	acc := target.Account()
	if acc == nil || c.lobby.accounts == nil {
		return nil, protocol.ResultNotFound
	}
	return acc, protocol.ResultOk
}

func (c *Client) onSaveDataRequest(m *protocol.SaveDataRequest) protocol.Result {
	acc, result := c.saveTarget(m.PermID, m.Slot)
	if result != protocol.ResultOk {
		return result
	}

	data, ok, err := c.lobby.accounts.GetSaveSlot(acc.ID, m.Slot)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to read save slot")
		return protocol.ResultFailed
	}
	if !ok {
		return protocol.ResultNotFound
	}

	c.Send(&protocol.SaveData{DataBlock: protocol.DataBlock{PermID: m.PermID, ID: m.Slot, Data: data}})
	return protocol.ResultOk
}

func (c *Client) onSaveDataStore(m *protocol.SaveDataStore) protocol.Result {
	if c.Role() != protocol.RoleServer {
		return protocol.ResultAccessDenied
	}
	acc, result := c.saveTarget(m.PermID, m.ID)
	if result != protocol.ResultOk {
		return result
	}

	if err := c.lobby.accounts.SetSaveSlot(acc.ID, m.ID, m.Data); err != nil {
		c.logger.Error().Err(err).Msg("failed to store save slot")
		return protocol.ResultFailed
	}
	c.logger.Debug().Uint32("perm_id", m.PermID).Uint32("slot", m.ID).Int("size", len(m.Data)).Msg("save data stored")
	return protocol.ResultOk
}

func (c *Client) onCreateCharacter(m *protocol.CreateCharacter) protocol.Result {
	if !validSlot(int64(m.Slot)) {
		return protocol.ResultInvalidSlot
	}
	name := strings.TrimSpace(m.Name)
	if name == "" {
		return protocol.ResultInvalidName
	}

	acc := c.Account()
	if acc == nil || c.lobby.accounts == nil {
		return protocol.ResultFailed
	}

	err := c.lobby.accounts.InitSaveSlot(acc.ID, m.Slot, m.TemplateID, name)
	switch {
	case errors.Is(err, db.ErrSlotTaken):
		return protocol.ResultInvalidSlot
	case err != nil:
		c.logger.Error().Err(err).Msg("failed to create character")
		return protocol.ResultFailed
	}

	c.logger.Info().Str("character", name).Uint32("slot", m.Slot).Msg("character created")
	c.lobby.emit(events.EventCharacterCreated, events.ClientPayload{
		ID:   c.id,
		Role: protocol.RoleUser.String(),
		Name: name,
	})
	return protocol.ResultOk
}

package protocol

import "fmt"

// Kind identifies a Sacred application message.
type Kind uint16

// Inbound kinds.
const (
	KindClientLoginRequest     Kind = 0x01
	KindServerLoginRequest     Kind = 0x02
	KindServerChangePublicInfo Kind = 0x03
	KindChannelJoinRequest     Kind = 0x04
	KindChannelLeaveRequest    Kind = 0x05
	KindClientChatMessage      Kind = 0x06
	KindUserJoinedServer       Kind = 0x07
	KindPublicDataRequest      Kind = 0x08
	KindReceivePublicData      Kind = 0x09
	KindCharacterSelect        Kind = 0x0A
	KindSaveDataRequest        Kind = 0x0B
	KindSaveDataStore          Kind = 0x0C
	KindCreateCharacter        Kind = 0x0D
	KindServerListRequest      Kind = 0x0E
)

// Outbound kinds.
const (
	KindLoginResult         Kind = 0x20
	KindServerLoginResponse Kind = 0x21
	KindServerInfo          Kind = 0x22
	KindServerRemoved       Kind = 0x23
	KindChatMessage         Kind = 0x24
	KindImportantMessage    Kind = 0x25
	KindLobbyResult         Kind = 0x26
	KindUserJoinedChannel   Kind = 0x27
	KindUserLeftChannel     Kind = 0x28
	KindPublicData          Kind = 0x29
	KindSaveData            Kind = 0x2A
	KindMessageOfTheDay     Kind = 0x2B
)

// Dynamic marks a catalog entry without a fixed payload length.
const Dynamic = -1

// CatalogEntry is the static metadata for one message kind.
type CatalogEntry struct {
	Name    string
	Key     uint32
	Length  int
	Senders RoleSet
	New     func() Message
}

var (
	anyone     = RoleSet(0)
	unknown    = Roles(RoleUnknown)
	users      = Roles(RoleUser)
	servers    = Roles(RoleServer)
	registered = Roles(RoleUser, RoleServer)
)

var catalog = map[Kind]CatalogEntry{
	KindClientLoginRequest:     {"client_login_request", 0x3A6F1C02, ClientLoginRequestSize, unknown, func() Message { return &ClientLoginRequest{} }},
	KindServerLoginRequest:     {"server_login_request", 0x51C0A7E3, ServerInfoSize, unknown, func() Message { return &ServerLoginRequest{} }},
	KindServerChangePublicInfo: {"server_change_public_info", 0x0D9B44F1, ServerInfoSize, servers, func() Message { return &ServerChangePublicInfo{} }},
	KindChannelJoinRequest:     {"channel_join_request", 0x6E12B8A9, 4, users, func() Message { return &ChannelJoinRequest{} }},
	KindChannelLeaveRequest:    {"channel_leave_request", 0x2B7DE054, 0, users, func() Message { return &ChannelLeaveRequest{} }},
	KindClientChatMessage:      {"client_chat_message", 0x47A3C915, Dynamic, users, func() Message { return &ClientChatMessage{} }},
	KindUserJoinedServer:       {"user_joined_server", 0x1C84F2D6, 4, servers, func() Message { return &UserJoinedServer{} }},
	KindPublicDataRequest:      {"public_data_request", 0x7B05E19A, 8, registered, func() Message { return &PublicDataRequest{} }},
	KindReceivePublicData:      {"receive_public_data", 0x33D9A64B, Dynamic, users, func() Message { return &ReceivePublicData{} }},
	KindCharacterSelect:        {"character_select", 0x58E2107C, 4, users, func() Message { return &CharacterSelect{} }},
	KindSaveDataRequest:        {"save_data_request", 0x0F61BD38, 8, registered, func() Message { return &SaveDataRequest{} }},
	KindSaveDataStore:          {"save_data_store", 0x66A4C2E1, Dynamic, servers, func() Message { return &SaveDataStore{} }},
	KindCreateCharacter:        {"create_character", 0x4D1F7B90, CreateCharacterSize, users, func() Message { return &CreateCharacter{} }},
	KindServerListRequest:      {"server_list_request", 0x29C35E07, 0, users, func() Message { return &ServerListRequest{} }},

	KindLoginResult:         {"login_result", 0x12E4A7C3, LoginResultSize, anyone, func() Message { return &LoginResult{} }},
	KindServerLoginResponse: {"server_login_response", 0x6B3F0D58, 4, anyone, func() Message { return &ServerLoginResponse{} }},
	KindServerInfo:          {"server_info", 0x3C71E9A2, ServerInfoSize, anyone, func() Message { return &ServerInfoMessage{} }},
	KindServerRemoved:       {"server_removed", 0x0A5D8E14, 4, anyone, func() Message { return &ServerRemoved{} }},
	KindChatMessage:         {"chat_message", 0x5F2C6B37, Dynamic, anyone, func() Message { return &ChatMessage{} }},
	KindImportantMessage:    {"important_message", 0x21B8D4F6, Dynamic, anyone, func() Message { return &ImportantMessage{} }},
	KindLobbyResult:         {"lobby_result", 0x7E09A1C5, 8, anyone, func() Message { return &LobbyResult{} }},
	KindUserJoinedChannel:   {"user_joined_channel", 0x44C6F028, UserJoinedChannelSize, anyone, func() Message { return &UserJoinedChannel{} }},
	KindUserLeftChannel:     {"user_left_channel", 0x18D3B79E, 4, anyone, func() Message { return &UserLeftChannel{} }},
	KindPublicData:          {"public_data", 0x6D4A2E81, Dynamic, anyone, func() Message { return &PublicData{} }},
	KindSaveData:            {"save_data", 0x35F7C10B, Dynamic, anyone, func() Message { return &SaveData{} }},
	KindMessageOfTheDay:     {"message_of_the_day", 0x0C8E5DA6, Dynamic, anyone, func() Message { return &MessageOfTheDay{} }},
}

// Lookup returns the catalog entry for k.
func Lookup(k Kind) (CatalogEntry, bool) {
	e, ok := catalog[k]
	return e, ok
}

// Decode builds the message for kind from its payload.
func Decode(kind Kind, payload []byte) (Message, error) {
	entry, ok := catalog[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	msg := entry.New()
	if err := msg.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", entry.Name, err)
	}
	return msg, nil
}

func (k Kind) String() string {
	if e, ok := catalog[k]; ok {
		return e.Name
	}
	return fmt.Sprintf("kind(0x%02x)", uint16(k))
}

package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleServerInfo() ServerInfo {
	return ServerInfo{
		Name:           "Ancaria PvP",
		LocalIP:        [4]byte{192, 168, 1, 10},
		ExternalIP:     [4]byte{203, 0, 113, 7},
		Port:           2006,
		CurrentPlayers: 3,
		MaxPlayers:     16,
		Flags:          0x11,
		ServerID:       42,
		Version:        0x0207,
		ChannelID:      0,
		Hidden:         true,
	}
}

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	info := sampleServerInfo()
	maxText := strings.Repeat("m", MaxTextSize-1)

	tests := []struct {
		name string
		msg  Message
		size int
	}{
		{"client login", &ClientLoginRequest{Name: "Alice", Password: "hunter2", ClientVersion: 0x0114}, ClientLoginRequestSize},
		{"client login max name", &ClientLoginRequest{Name: strings.Repeat("n", NameSize-1), Password: strings.Repeat("p", PasswordSize-1)}, ClientLoginRequestSize},
		{"login result", &LoginResult{Result: ResultOk, PermID: 17, AccountName: "Alice"}, LoginResultSize},
		{"server login", &ServerLoginRequest{ServerInfo: info}, ServerInfoSize},
		{"server change info", &ServerChangePublicInfo{ServerInfo: info}, ServerInfoSize},
		{"server info", &ServerInfoMessage{ServerInfo: info}, ServerInfoSize},
		{"server login response", &ServerLoginResponse{ExternalIP: [4]byte{1, 2, 3, 4}}, 4},
		{"server removed", NewServerRemoved(9), 4},
		{"user joined server", NewUserJoinedServer(12), 4},
		{"server list request", &ServerListRequest{}, 0},
		{"channel join", &ChannelJoinRequest{Channel: -1}, 4},
		{"channel leave", &ChannelLeaveRequest{}, 0},
		{"client chat", &ClientChatMessage{ChatLine{SenderName: "Alice", SenderPermID: 1, DestPermID: 0, Text: "hello"}}, -1},
		{"chat empty text", &ChatMessage{ChatLine{SenderName: "Bob"}}, SenderNameSize + 8 + 1},
		{"chat max text", &ChatMessage{ChatLine{SenderName: "Bob", Text: maxText}}, SenderNameSize + 8 + MaxTextSize},
		{"important", &ImportantMessage{Popup: true, Text: "Server restarts soon"}, -1},
		{"motd", &MessageOfTheDay{ID: 1, Text: "Welcome"}, -1},
		{"lobby result", &LobbyResult{Result: ResultNotInChannel, Answer: KindClientChatMessage}, 8},
		{"user joined channel", &UserJoinedChannel{PermID: 5, Name: "Carol"}, UserJoinedChannelSize},
		{"user left channel", NewUserLeftChannel(5), 4},
		{"public data request", &PublicDataRequest{PermID: 3, BlockID: BlockProfile}, 8},
		{"public data", &PublicData{DataBlock{PermID: 3, ID: BlockProfile, Data: []byte{1, 2, 3}}}, 15},
		{"public data empty", &PublicData{DataBlock{PermID: 3, ID: BlockProfile}}, 12},
		{"receive public data", &ReceivePublicData{DataBlock{PermID: 3, ID: BlockProfile, Data: []byte("blob")}}, 16},
		{"character select", &CharacterSelect{Slot: 2}, 4},
		{"save data request", &SaveDataRequest{PermID: 4, Slot: 7}, 8},
		{"save data", &SaveData{DataBlock{PermID: 4, ID: 7, Data: []byte("save")}}, 16},
		{"save data store", &SaveDataStore{DataBlock{PermID: 4, ID: 1, Data: []byte{9}}}, 13},
		{"create character", &CreateCharacter{Slot: 1, TemplateID: 3, Name: "Seraphim"}, CreateCharacterSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.msg.MarshalBinary()
			require.NoError(t, err)
			if tt.size >= 0 {
				assert.Len(t, raw, tt.size)
			}

			entry, ok := Lookup(tt.msg.Kind())
			require.True(t, ok)
			if entry.Length != Dynamic {
				assert.Len(t, raw, entry.Length)
			}

			got, err := Decode(tt.msg.Kind(), raw)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestChatTextEmbeddedNul(t *testing.T) {
	t.Parallel()

	raw, err := (&ChatLine{SenderName: "Al\x00ice", Text: "hi\x00there"}).MarshalBinary()
	require.NoError(t, err)

	var got ChatLine
	require.NoError(t, got.UnmarshalBinary(raw))
	assert.Equal(t, "Al", got.SenderName)
	assert.Equal(t, "hi", got.Text)
}

func TestDecodeShortPayload(t *testing.T) {
	t.Parallel()

	_, err := Decode(KindClientLoginRequest, make([]byte, 10))
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = Decode(KindPublicData, []byte{1, 0, 0, 0, 0, 0, 0, 0, 10, 0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = Decode(Kind(0x7F), nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestLogOnHandshake(t *testing.T) {
	t.Parallel()

	raw, err := DefaultLogOn().MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, raw, LogOnPayloadSize)
	assert.NoError(t, CheckLogOn(raw))

	wrong := DefaultLogOn()
	wrong.Password = "guess"
	raw, err = wrong.MarshalBinary()
	require.NoError(t, err)
	assert.ErrorIs(t, CheckLogOn(raw), ErrBadHandshake)

	assert.ErrorIs(t, CheckLogOn([]byte{1, 2}), ErrBadHandshake)
}

func TestProfileRoundTrip(t *testing.T) {
	t.Parallel()

	profile := &ProfileData{
		AccountName:  "alice",
		DisplayName:  "Alice the Bold",
		Email:        "alice@example.org",
		Homepage:     "https://example.org/alice",
		Info:         "Seraphim main",
		SelectedSlot: 1,
		Character: CharacterPreview{
			Name:       "Lumina",
			Level:      54,
			Class:      3,
			Flags:      CharacterHardcore,
			Experience: 1_234_567,
			Gold:       9000,
			Equipped:   [12]uint16{1, 2, 3, 0, 0, 0, 0, 0, 0, 0, 0, 12},
		},
	}

	raw, err := profile.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, raw, ProfileDataSize)

	blob, err := EncodeProfile(profile)
	require.NoError(t, err)
	assert.Less(t, len(blob), ProfileDataSize)

	got, err := DecodeProfile(blob)
	require.NoError(t, err)
	assert.Equal(t, profile, got)

	_, err = DecodeProfile([]byte("not zlib"))
	assert.Error(t, err)
}

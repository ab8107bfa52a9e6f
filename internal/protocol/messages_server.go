package protocol

import "net"

// ServerInfoSize is the wire size of ServerInfo.
const ServerInfoSize = ServerNameSize + 4 + 4 + 2 + 2 + 2 + 4 + 4 + 4 + 4 + 1 + 1

// ServerInfo is the public description of a game server.
type ServerInfo struct {
	Name           string
	LocalIP        [4]byte
	ExternalIP     [4]byte
	Port           uint16
	CurrentPlayers uint16
	MaxPlayers     uint16
	Flags          uint32
	ServerID       uint32
	Version        uint32
	ChannelID      int32
	Hidden         bool
}

// ExternalAddr returns ExternalIP as a net.IP.
func (s ServerInfo) ExternalAddr() net.IP {
	return net.IPv4(s.ExternalIP[0], s.ExternalIP[1], s.ExternalIP[2], s.ExternalIP[3])
}

func (s *ServerInfo) MarshalBinary() ([]byte, error) {
	w := NewWriter(ServerInfoSize)
	w.WriteBytes(EncodeText(s.Name, ServerNameSize))
	w.WriteBytes(s.LocalIP[:])
	w.WriteBytes(s.ExternalIP[:])
	w.WriteUint16(s.Port)
	w.WriteUint16(s.CurrentPlayers)
	w.WriteUint16(s.MaxPlayers)
	w.WriteUint32(s.Flags)
	w.WriteUint32(s.ServerID)
	w.WriteUint32(s.Version)
	w.WriteInt32(s.ChannelID)
	var hidden uint8
	if s.Hidden {
		hidden = 1
	}
	w.WriteUint8(hidden)
	w.WriteUint8(0)
	return w.Bytes(), nil
}

func (s *ServerInfo) UnmarshalBinary(data []byte) error {
	if len(data) < ServerInfoSize {
		return ErrShortBuffer
	}
	r := NewReader(data)
	name, _ := r.ReadBytes(ServerNameSize)
	local, _ := r.ReadBytes(4)
	external, _ := r.ReadBytes(4)
	s.Name = DecodeText(name)
	copy(s.LocalIP[:], local)
	copy(s.ExternalIP[:], external)
	s.Port, _ = r.ReadUint16()
	s.CurrentPlayers, _ = r.ReadUint16()
	s.MaxPlayers, _ = r.ReadUint16()
	s.Flags, _ = r.ReadUint32()
	s.ServerID, _ = r.ReadUint32()
	s.Version, _ = r.ReadUint32()
	s.ChannelID, _ = r.ReadInt32()
	hidden, _ := r.ReadUint8()
	s.Hidden = hidden != 0
	return nil
}

// ServerChangePublicInfo carries updated load figures from a game server.
type ServerChangePublicInfo struct {
	ServerInfo
}

func (*ServerChangePublicInfo) Kind() Kind { return KindServerChangePublicInfo }

// ServerInfoMessage announces a game server to users.
type ServerInfoMessage struct {
	ServerInfo
}

func (*ServerInfoMessage) Kind() Kind { return KindServerInfo }

// ServerListRequest asks for a fresh server list.
type ServerListRequest struct{}

func (*ServerListRequest) Kind() Kind { return KindServerListRequest }

func (*ServerListRequest) MarshalBinary() ([]byte, error) { return nil, nil }

func (*ServerListRequest) UnmarshalBinary([]byte) error { return nil }

// idMessage is the layout shared by messages carrying a single u32 id.
type idMessage struct {
	ID uint32
}

func (m *idMessage) MarshalBinary() ([]byte, error) {
	return NewWriter(4).WriteUint32(m.ID).Bytes(), nil
}

func (m *idMessage) UnmarshalBinary(data []byte) error {
	id, err := NewReader(data).ReadUint32()
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

// ServerRemoved tells users a game server went away.
type ServerRemoved struct {
	idMessage
}

// NewServerRemoved creates a ServerRemoved for serverID.
func NewServerRemoved(serverID uint32) *ServerRemoved {
	return &ServerRemoved{idMessage{ID: serverID}}
}

func (*ServerRemoved) Kind() Kind { return KindServerRemoved }

// UserJoinedServer is sent by a game server when a player enters it.
type UserJoinedServer struct {
	idMessage
}

// NewUserJoinedServer creates a UserJoinedServer for permID.
func NewUserJoinedServer(permID uint32) *UserJoinedServer {
	return &UserJoinedServer{idMessage{ID: permID}}
}

func (*UserJoinedServer) Kind() Kind { return KindUserJoinedServer }

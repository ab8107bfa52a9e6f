package protocol

// UserJoinedChannelSize is the wire size of UserJoinedChannel.
const UserJoinedChannelSize = 4 + NameSize

// ChannelJoinRequest asks to enter a chat channel.
type ChannelJoinRequest struct {
	Channel int32
}

func (*ChannelJoinRequest) Kind() Kind { return KindChannelJoinRequest }

func (m *ChannelJoinRequest) MarshalBinary() ([]byte, error) {
	return NewWriter(4).WriteInt32(m.Channel).Bytes(), nil
}

func (m *ChannelJoinRequest) UnmarshalBinary(data []byte) error {
	v, err := NewReader(data).ReadInt32()
	if err != nil {
		return err
	}
	m.Channel = v
	return nil
}

// ChannelLeaveRequest leaves the current channel.
type ChannelLeaveRequest struct{}

func (*ChannelLeaveRequest) Kind() Kind { return KindChannelLeaveRequest }

func (*ChannelLeaveRequest) MarshalBinary() ([]byte, error) { return nil, nil }

func (*ChannelLeaveRequest) UnmarshalBinary([]byte) error { return nil }

// ChatLine is the layout shared by inbound and outbound chat messages.
type ChatLine struct {
	SenderName   string
	SenderPermID uint32
	DestPermID   uint32
	Text         string
}

func (m *ChatLine) MarshalBinary() ([]byte, error) {
	w := NewWriter(SenderNameSize + 8 + len(m.Text) + 1)
	w.WriteBytes(EncodeText(m.SenderName, SenderNameSize))
	w.WriteUint32(m.SenderPermID)
	w.WriteUint32(m.DestPermID)
	w.WriteBytes(EncodeCString(m.Text, MaxTextSize))
	return w.Bytes(), nil
}

func (m *ChatLine) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	name, err := r.ReadBytes(SenderNameSize)
	if err != nil {
		return err
	}
	sender, err := r.ReadUint32()
	if err != nil {
		return err
	}
	dest, err := r.ReadUint32()
	if err != nil {
		return err
	}
	text := r.ReadRemainder()
	if len(text) > MaxTextSize {
		text = text[:MaxTextSize]
	}
	m.SenderName = DecodeText(name)
	m.SenderPermID = sender
	m.DestPermID = dest
	m.Text = DecodeText(text)
	return nil
}

// ClientChatMessage is a chat line typed by a user.
type ClientChatMessage struct {
	ChatLine
}

func (*ClientChatMessage) Kind() Kind { return KindClientChatMessage }

// ChatMessage is a chat line delivered to a user.
type ChatMessage struct {
	ChatLine
}

func (*ChatMessage) Kind() Kind { return KindChatMessage }

// ImportantMessage is a system notice, optionally shown as a popup.
type ImportantMessage struct {
	Popup bool
	Text  string
}

func (*ImportantMessage) Kind() Kind { return KindImportantMessage }

func (m *ImportantMessage) MarshalBinary() ([]byte, error) {
	var popup uint8
	if m.Popup {
		popup = 1
	}
	w := NewWriter(1 + len(m.Text) + 1)
	w.WriteUint8(popup)
	w.WriteBytes(EncodeCString(m.Text, MaxTextSize))
	return w.Bytes(), nil
}

func (m *ImportantMessage) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	popup, err := r.ReadUint8()
	if err != nil {
		return err
	}
	m.Popup = popup != 0
	m.Text = DecodeText(r.ReadRemainder())
	return nil
}

// MessageOfTheDay is sent to users after login.
type MessageOfTheDay struct {
	ID   uint16
	Text string
}

func (*MessageOfTheDay) Kind() Kind { return KindMessageOfTheDay }

func (m *MessageOfTheDay) MarshalBinary() ([]byte, error) {
	w := NewWriter(2 + len(m.Text) + 1)
	w.WriteUint16(m.ID)
	w.WriteBytes(EncodeCString(m.Text, MaxTextSize))
	return w.Bytes(), nil
}

func (m *MessageOfTheDay) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	id, err := r.ReadUint16()
	if err != nil {
		return err
	}
	m.ID = id
	m.Text = DecodeText(r.ReadRemainder())
	return nil
}

// LobbyResult reports the outcome of a request.
type LobbyResult struct {
	Result Result
	Answer Kind
}

func (*LobbyResult) Kind() Kind { return KindLobbyResult }

func (m *LobbyResult) MarshalBinary() ([]byte, error) {
	w := NewWriter(8)
	w.WriteUint32(uint32(m.Result))
	w.WriteUint16(uint16(m.Answer))
	w.WriteUint16(0)
	return w.Bytes(), nil
}

func (m *LobbyResult) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	result, err := r.ReadUint32()
	if err != nil {
		return err
	}
	answer, err := r.ReadUint16()
	if err != nil {
		return err
	}
	m.Result = Result(result)
	m.Answer = Kind(answer)
	return nil
}

// UserJoinedChannel announces a channel member.
type UserJoinedChannel struct {
	PermID uint32
	Name   string
}

func (*UserJoinedChannel) Kind() Kind { return KindUserJoinedChannel }

func (m *UserJoinedChannel) MarshalBinary() ([]byte, error) {
	w := NewWriter(UserJoinedChannelSize)
	w.WriteUint32(m.PermID)
	w.WriteBytes(EncodeText(m.Name, NameSize))
	return w.Bytes(), nil
}

func (m *UserJoinedChannel) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	id, err := r.ReadUint32()
	if err != nil {
		return err
	}
	name, err := r.ReadBytes(NameSize)
	if err != nil {
		return err
	}
	m.PermID = id
	m.Name = DecodeText(name)
	return nil
}

// UserLeftChannel tells channel members that a user left.
type UserLeftChannel struct {
	idMessage
}

// NewUserLeftChannel creates a UserLeftChannel for permID.
func NewUserLeftChannel(permID uint32) *UserLeftChannel {
	return &UserLeftChannel{idMessage{ID: permID}}
}

func (*UserLeftChannel) Kind() Kind { return KindUserLeftChannel }

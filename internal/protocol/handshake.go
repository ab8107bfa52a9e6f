package protocol

import "errors"

// Low-level log-on constants shared with every client build.
const (
	HandshakeMagic       uint32 = 0x1F2E3D4C
	HandshakePlaceholder uint32 = 0xFFFFFFFF

	HandshakeUser     = "SACRED"
	HandshakePassword = "lobby"

	handshakeFieldSize       = 16
	LogOnPayloadSize         = 4 + 4 + 2*handshakeFieldSize
	LogOnAcceptedPayloadSize = 4
)

// ErrBadHandshake is returned for a log-on frame with unexpected content.
var ErrBadHandshake = errors.New("bad log-on handshake")

// LogOn is the payload of a log-on frame.
type LogOn struct {
	Magic        uint32
	ConnectionID uint32
	User         string
	Password     string
}

// DefaultLogOn returns the log-on payload every genuine client sends.
func DefaultLogOn() LogOn {
	return LogOn{
		Magic:        HandshakeMagic,
		ConnectionID: HandshakePlaceholder,
		User:         HandshakeUser,
		Password:     HandshakePassword,
	}
}

func (l LogOn) MarshalBinary() ([]byte, error) {
	w := NewWriter(LogOnPayloadSize)
	w.WriteUint32(l.Magic)
	w.WriteUint32(l.ConnectionID)
	w.WriteBytes(EncodeText(l.User, handshakeFieldSize))
	w.WriteBytes(EncodeText(l.Password, handshakeFieldSize))
	return w.Bytes(), nil
}

func (l *LogOn) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	magic, err := r.ReadUint32()
	if err != nil {
		return err
	}
	id, err := r.ReadUint32()
	if err != nil {
		return err
	}
	user, err := r.ReadBytes(handshakeFieldSize)
	if err != nil {
		return err
	}
	password, err := r.ReadBytes(handshakeFieldSize)
	if err != nil {
		return err
	}
	l.Magic = magic
	l.ConnectionID = id
	l.User = DecodeText(user)
	l.Password = DecodeText(password)
	return nil
}

// CheckLogOn validates a log-on frame payload.
func CheckLogOn(payload []byte) error {
	var l LogOn
	if err := l.UnmarshalBinary(payload); err != nil {
		return ErrBadHandshake
	}
	if l != DefaultLogOn() {
		return ErrBadHandshake
	}
	return nil
}

// LogOnAcceptedPayload carries the connection id assigned to the peer.
func LogOnAcceptedPayload(connID uint32) []byte {
	return NewWriter(LogOnAcceptedPayloadSize).WriteUint32(connID).Bytes()
}

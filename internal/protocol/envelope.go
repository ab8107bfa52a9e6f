package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// ModuleID is the constant tag of the lobby module.
	ModuleID uint16 = 0x00C8

	// EnvelopeHeaderSize is the Sacred header length: module id, kind and
	// the security header (kind, key, length, checksum).
	EnvelopeHeaderSize = 18
)

// Envelope is the Sacred header that precedes every application payload.
type Envelope struct {
	Module       uint16
	Kind         Kind
	SecurityKind Kind
	Key          uint32
	Length       int32
	Checksum     uint32
}

// Seal marshals msg and prefixes it with its envelope.
func Seal(msg Message) ([]byte, error) {
	kind := msg.Kind()
	entry, ok := catalog[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	body, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", entry.Name, err)
	}
	return SealPayload(kind, entry.Key, body), nil
}

// SealPayload prefixes an already marshaled body with an envelope.
func SealPayload(kind Kind, key uint32, body []byte) []byte {
	buf := make([]byte, EnvelopeHeaderSize+len(body))
	binary.LittleEndian.PutUint16(buf[0:2], ModuleID)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(kind))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(kind))
	binary.LittleEndian.PutUint32(buf[6:10], key)
	binary.LittleEndian.PutUint32(buf[10:14], uint32(int32(len(body))))
	// Checksum slot is reserved by the client and left zero.
	binary.LittleEndian.PutUint32(buf[14:18], 0)
	copy(buf[EnvelopeHeaderSize:], body)
	return buf
}

// ParseEnvelope splits a custom-data payload into its envelope and body.
// A body shorter than the declared length is malformed; a longer one is cut
// to the declared length.
func ParseEnvelope(payload []byte) (Envelope, []byte, error) {
	if len(payload) < EnvelopeHeaderSize {
		return Envelope{}, nil, ErrShortBuffer
	}
	env := Envelope{
		Module:       binary.LittleEndian.Uint16(payload[0:2]),
		Kind:         Kind(binary.LittleEndian.Uint16(payload[2:4])),
		SecurityKind: Kind(binary.LittleEndian.Uint16(payload[4:6])),
		Key:          binary.LittleEndian.Uint32(payload[6:10]),
		Length:       int32(binary.LittleEndian.Uint32(payload[10:14])),
		Checksum:     binary.LittleEndian.Uint32(payload[14:18]),
	}
	body := payload[EnvelopeHeaderSize:]
	if env.Length < 0 || int(env.Length) > len(body) {
		return env, nil, &EnvelopeError{Err: ErrTruncatedMessage, Kind: env.Kind}
	}
	return env, body[:env.Length], nil
}

// Validate checks env against the catalog for a message sent by sender.
// Checks run in order: module id, kind agreement, security key, sender
// role, fixed length.
func (env Envelope) Validate(sender Role) error {
	if env.Module != ModuleID {
		return &EnvelopeError{Err: ErrWrongModule, Kind: env.Kind}
	}
	if env.Kind != env.SecurityKind {
		return &EnvelopeError{Err: ErrKindMismatch, Kind: env.Kind}
	}
	entry, ok := catalog[env.Kind]
	if !ok {
		return &EnvelopeError{Err: ErrUnknownKind, Kind: env.Kind}
	}
	if env.Key != entry.Key {
		return &EnvelopeError{Err: ErrWrongKey, Kind: env.Kind}
	}
	if !entry.Senders.Has(sender) {
		return &EnvelopeError{Err: ErrRoleNotAllowed, Kind: env.Kind}
	}
	if entry.Length != Dynamic && int(env.Length) != entry.Length {
		return &EnvelopeError{Err: ErrWrongLength, Kind: env.Kind}
	}
	return nil
}

// Open parses and validates a custom-data payload and decodes the message.
// With skipChecks set only structural parsing is performed.
func Open(payload []byte, sender Role, skipChecks bool) (Message, error) {
	env, body, err := ParseEnvelope(payload)
	if err != nil {
		return nil, err
	}
	if !skipChecks {
		if err := env.Validate(sender); err != nil {
			return nil, err
		}
	}
	return Decode(env.Kind, body)
}

// Package protocol implements the TinCat transport frame and the Sacred
// application messages carried inside it.
package protocol

import (
	"encoding"
	"fmt"
	"strings"
)

// Message is a Sacred application message with a fixed binary layout.
type Message interface {
	Kind() Kind
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Role is the authenticated identity of a session.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleUser
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleUnknown:
		return "unknown"
	case RoleUser:
		return "user"
	case RoleServer:
		return "server"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// RoleSet is a set of roles allowed to send a message kind.
type RoleSet uint8

// Roles builds a RoleSet.
func Roles(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s |= 1 << r
	}
	return s
}

// Has reports whether r is in the set.
func (s RoleSet) Has(r Role) bool {
	return s&(1<<r) != 0
}

func (s RoleSet) String() string {
	var names []string
	for _, r := range []Role{RoleUnknown, RoleUser, RoleServer} {
		if s.Has(r) {
			names = append(names, r.String())
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Result is the outcome code carried by LoginResult and LobbyResult.
type Result uint32

const (
	ResultOk             Result = 0
	ResultFailed         Result = 1
	ResultInvalidName    Result = 2
	ResultWrongPassword  Result = 3
	ResultNotFound       Result = 4
	ResultUnknownBlock   Result = 5
	ResultAccessDenied   Result = 6
	ResultInvalidSlot    Result = 7
	ResultNotInChannel   Result = 8
	ResultNotImplemented Result = 9
)

var resultNames = map[Result]string{
	ResultOk:             "ok",
	ResultFailed:         "failed",
	ResultInvalidName:    "invalid_name",
	ResultWrongPassword:  "wrong_password",
	ResultNotFound:       "not_found",
	ResultUnknownBlock:   "unknown_block",
	ResultAccessDenied:   "access_denied",
	ResultInvalidSlot:    "invalid_slot",
	ResultNotInChannel:   "not_in_channel",
	ResultNotImplemented: "not_implemented",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("result(%d)", uint32(r))
}

// Public data block identifiers.
const (
	BlockProfile    uint32 = 0
	BlockCharacters uint32 = 1
	BlockStatistics uint32 = 2

	MaxBlockID = BlockStatistics
)

// MaxSaveSlots is the number of character slots per account.
const MaxSaveSlots = 8

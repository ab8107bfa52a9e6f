package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrShortBuffer     = errors.New("short buffer")
	ErrWrongMagic      = errors.New("wrong frame magic")
	ErrBadLength       = errors.New("bad frame length")
	ErrWrongChecksum   = errors.New("wrong frame checksum")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrUnknownKind     = errors.New("unknown message kind")

	ErrWrongModule      = errors.New("wrong module id")
	ErrKindMismatch     = errors.New("envelope kind mismatch")
	ErrWrongKey         = errors.New("wrong security key")
	ErrRoleNotAllowed   = errors.New("role not allowed to send message")
	ErrWrongLength      = errors.New("wrong message length")
	ErrTruncatedMessage = errors.New("declared length exceeds payload")
)

// FrameError is returned by FrameReader for frames that were dropped without
// breaking the stream. The connection may keep reading after one of these.
type FrameError struct {
	Err     error
	Skipped int
}

func (e *FrameError) Error() string {
	if e.Skipped > 0 {
		return fmt.Sprintf("frame dropped: %v (skipped %d bytes)", e.Err, e.Skipped)
	}
	return fmt.Sprintf("frame dropped: %v", e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// EnvelopeError describes an application envelope that failed validation.
type EnvelopeError struct {
	Err  error
	Kind Kind
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("envelope rejected (kind %s): %v", e.Kind, e.Err)
}

func (e *EnvelopeError) Unwrap() error { return e.Err }

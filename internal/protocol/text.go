package protocol

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// MaxTextSize bounds variable-length text fields, terminator included.
const MaxTextSize = 512

var wideEncoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeText converts s to Windows-1252 and returns exactly width bytes:
// at most width-1 characters followed by zero padding. Characters that
// have no Windows-1252 mapping are replaced.
func EncodeText(s string, width int) []byte {
	out := make([]byte, width)
	if width <= 0 {
		return out
	}
	copy(out[:width-1], encodeCodepage(s))
	return out
}

// DecodeText reads a zero-terminated Windows-1252 string. Bytes after the
// first zero are ignored.
func DecodeText(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	if len(b) == 0 {
		return ""
	}
	s, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(s)
}

// EncodeCString converts s to a zero-terminated Windows-1252 string of at
// most limit bytes including the terminator.
func EncodeCString(s string, limit int) []byte {
	b := encodeCodepage(s)
	if len(b) > limit-1 {
		b = b[:limit-1]
	}
	out := make([]byte, len(b)+1)
	copy(out, b)
	return out
}

func encodeCodepage(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return nil
	}
	return b
}

// EncodeWide converts s to UTF-16LE and returns exactly width bytes, keeping
// at least one zero code unit at the end. Surrogate pairs are never split.
func EncodeWide(s string, width int) []byte {
	out := make([]byte, width)
	if width < 2 || s == "" {
		return out
	}
	b, err := wideEncoding.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return out
	}
	limit := (width - 2) &^ 1
	if len(b) > limit {
		b = b[:limit]
		if n := len(b); n >= 2 {
			last := binary.LittleEndian.Uint16(b[n-2:])
			if last >= 0xD800 && last <= 0xDBFF {
				b = b[:n-2]
			}
		}
	}
	copy(out, b)
	return out
}

// DecodeWide reads a zero-terminated UTF-16LE string.
func DecodeWide(b []byte) string {
	end := len(b) &^ 1
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			end = i
			break
		}
	}
	if end == 0 {
		return ""
	}
	s, err := wideEncoding.NewDecoder().Bytes(b[:end])
	if err != nil {
		return ""
	}
	return string(s)
}

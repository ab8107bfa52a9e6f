package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{"empty", "", 8, ""},
		{"short", "abc", 8, "abc"},
		{"exact max", "abcdefg", 8, "abcdefg"},
		{"truncated", "abcdefghij", 8, "abcdefg"},
		{"codepage", "Grüße €", 16, "Grüße €"},
		{"unmappable replaced", "日", 8, "\x1a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := EncodeText(tt.in, tt.width)
			assert.Len(t, raw, tt.width)
			assert.Equal(t, byte(0), raw[tt.width-1])
			assert.Equal(t, tt.want, DecodeText(raw))
		})
	}
}

func TestDecodeTextStopsAtNul(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ab", DecodeText([]byte("ab\x00cd")))
	assert.Equal(t, "", DecodeText([]byte{0, 'x'}))
	assert.Equal(t, "full", DecodeText([]byte("full")))
	assert.Equal(t, "é", DecodeText([]byte{0xE9}))
}

func TestEncodeCString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte{0}, EncodeCString("", MaxTextSize))
	assert.Equal(t, []byte("hi\x00"), EncodeCString("hi", MaxTextSize))

	long := EncodeCString(strings.Repeat("x", 1000), MaxTextSize)
	assert.Len(t, long, MaxTextSize)
	assert.Equal(t, byte(0), long[MaxTextSize-1])
}

func TestWideText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{"empty", "", 16, ""},
		{"ascii", "Hero", 16, "Hero"},
		{"exact max", "1234567", 16, "1234567"},
		{"truncated", "123456789", 16, "1234567"},
		{"non latin", "Дракон", 32, "Дракон"},
		{"surrogate not split", "abcdef😀", 16, "abcdef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := EncodeWide(tt.in, tt.width)
			assert.Len(t, raw, tt.width)
			assert.Equal(t, []byte{0, 0}, raw[tt.width-2:])
			assert.Equal(t, tt.want, DecodeWide(raw))
		})
	}
}

func TestObfuscateRoundTrip(t *testing.T) {
	t.Parallel()

	field := EncodeText("s3cr3t!", PasswordSize)
	scrambled := Obfuscate(field)
	assert.NotEqual(t, field, scrambled)
	assert.Equal(t, field, Deobfuscate(scrambled))

	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	assert.Equal(t, all, Deobfuscate(Obfuscate(all)))
}

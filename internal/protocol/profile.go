package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Profile field widths in bytes (UTF-16LE).
const (
	profileNameSize     = 64
	profileEmailSize    = 128
	profileHomepageSize = 128
	profileInfoSize     = 256
	equipmentSlots      = 12

	CharacterPreviewSize = WideNameSize + 2 + 1 + 1 + 4 + 4 + 2*equipmentSlots
	ProfileDataSize      = 2*profileNameSize + profileEmailSize + profileHomepageSize + profileInfoSize + 4 + CharacterPreviewSize
)

// Character flags.
const (
	CharacterHardcore uint8 = 1 << 0
	CharacterDead     uint8 = 1 << 1
)

// CharacterPreview is the summary of a character shown in the lobby.
type CharacterPreview struct {
	Name       string
	Level      uint16
	Class      uint8
	Flags      uint8
	Experience uint32
	Gold       uint32
	Equipped   [equipmentSlots]uint16
}

func (c *CharacterPreview) appendTo(w *Writer) {
	w.WriteBytes(EncodeWide(c.Name, WideNameSize))
	w.WriteUint16(c.Level)
	w.WriteUint8(c.Class)
	w.WriteUint8(c.Flags)
	w.WriteUint32(c.Experience)
	w.WriteUint32(c.Gold)
	for _, item := range c.Equipped {
		w.WriteUint16(item)
	}
}

func (c *CharacterPreview) readFrom(r *Reader) error {
	if r.Remaining() < CharacterPreviewSize {
		return ErrShortBuffer
	}
	name, _ := r.ReadBytes(WideNameSize)
	c.Name = DecodeWide(name)
	c.Level, _ = r.ReadUint16()
	c.Class, _ = r.ReadUint8()
	c.Flags, _ = r.ReadUint8()
	c.Experience, _ = r.ReadUint32()
	c.Gold, _ = r.ReadUint32()
	for i := range c.Equipped {
		c.Equipped[i], _ = r.ReadUint16()
	}
	return nil
}

// ProfileData is the public profile of an account.
type ProfileData struct {
	AccountName  string
	DisplayName  string
	Email        string
	Homepage     string
	Info         string
	SelectedSlot int32
	Character    CharacterPreview
}

func (p *ProfileData) MarshalBinary() ([]byte, error) {
	w := NewWriter(ProfileDataSize)
	w.WriteBytes(EncodeWide(p.AccountName, profileNameSize))
	w.WriteBytes(EncodeWide(p.DisplayName, profileNameSize))
	w.WriteBytes(EncodeWide(p.Email, profileEmailSize))
	w.WriteBytes(EncodeWide(p.Homepage, profileHomepageSize))
	w.WriteBytes(EncodeWide(p.Info, profileInfoSize))
	w.WriteInt32(p.SelectedSlot)
	p.Character.appendTo(w)
	return w.Bytes(), nil
}

func (p *ProfileData) UnmarshalBinary(data []byte) error {
	if len(data) < ProfileDataSize {
		return fmt.Errorf("%w: profile is %d bytes, want %d", ErrShortBuffer, len(data), ProfileDataSize)
	}
	r := NewReader(data)
	field := func(n int) string {
		b, _ := r.ReadBytes(n)
		return DecodeWide(b)
	}
	p.AccountName = field(profileNameSize)
	p.DisplayName = field(profileNameSize)
	p.Email = field(profileEmailSize)
	p.Homepage = field(profileHomepageSize)
	p.Info = field(profileInfoSize)
	p.SelectedSlot, _ = r.ReadInt32()
	return p.Character.readFrom(r)
}

// CompressBlock zlib-compresses a data block for transfer.
func CompressBlock(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress block: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress block: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressBlock reverses CompressBlock. Output is capped at MaxPayloadSize.
func DecompressBlock(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed block: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, MaxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress block: %w", err)
	}
	if len(out) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	return out, nil
}

// EncodeProfile marshals and compresses p.
func EncodeProfile(p *ProfileData) ([]byte, error) {
	raw, err := p.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return CompressBlock(raw)
}

// DecodeProfile decompresses and unmarshals a profile block.
func DecodeProfile(blob []byte) (*ProfileData, error) {
	raw, err := DecompressBlock(blob)
	if err != nil {
		return nil, err
	}
	p := &ProfileData{}
	if err := p.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return p, nil
}

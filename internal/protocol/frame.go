package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// FrameMagic marks the start of every TinCat frame ("TCAT" on the wire).
	FrameMagic uint32 = 0x54414354

	// HeaderSize is the fixed TinCat header length.
	HeaderSize = 28

	// MaxPayloadSize bounds the payload a peer may declare.
	MaxPayloadSize = 1 << 20
)

// FrameKind identifies the transport-level purpose of a frame.
type FrameKind uint32

const (
	FrameCustomData     FrameKind = 0
	FrameLogOn          FrameKind = 1
	FrameLogOff         FrameKind = 2
	FrameLogOnAccepted  FrameKind = 3
	FrameLogOffAccepted FrameKind = 4
	FrameTimeSync       FrameKind = 5
	FrameKeepAlive      FrameKind = 6
)

var frameKindNames = map[FrameKind]string{
	FrameCustomData:     "custom_data",
	FrameLogOn:          "log_on",
	FrameLogOff:         "log_off",
	FrameLogOnAccepted:  "log_on_accepted",
	FrameLogOffAccepted: "log_off_accepted",
	FrameTimeSync:       "time_sync",
	FrameKeepAlive:      "keep_alive",
}

func (k FrameKind) String() string {
	if name, ok := frameKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("frame_kind(%d)", uint32(k))
}

// Frame is one TinCat transport frame. Length and checksum are derived from
// Payload when encoding and verified when decoding.
type Frame struct {
	Source      uint32
	Destination uint32
	Kind        FrameKind
	Reserved    uint32
	Payload     []byte
}

// EncodeFrame serializes f including its header.
func EncodeFrame(f Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], FrameMagic)
	binary.LittleEndian.PutUint32(buf[4:8], f.Source)
	binary.LittleEndian.PutUint32(buf[8:12], f.Destination)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(f.Kind))
	binary.LittleEndian.PutUint32(buf[16:20], f.Reserved)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(int32(len(f.Payload))))
	binary.LittleEndian.PutUint32(buf[24:28], Checksum(f.Payload))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// WriteFrame encodes f and writes it to w in a single call.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	if _, err := w.Write(EncodeFrame(f)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// FrameReader decodes TinCat frames from a byte stream.
//
// Recoverable problems (wrong magic, impossible length, checksum mismatch)
// are reported as *FrameError after the reader has moved past the bad data,
// so the caller can log the error and call ReadFrame again. Any other error
// comes from the underlying stream and should end the connection.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader creates a FrameReader over r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 8*1024)}
}

// ReadFrame reads the next frame.
func (fr *FrameReader) ReadFrame() (Frame, error) {
	hdr, err := fr.r.Peek(HeaderSize)
	if err != nil {
		if errors.Is(err, io.EOF) && len(hdr) > 0 {
			return Frame{}, io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	if binary.LittleEndian.Uint32(hdr[0:4]) != FrameMagic {
		skipped, err := fr.resync()
		if err != nil {
			return Frame{}, err
		}
		return Frame{}, &FrameError{Err: ErrWrongMagic, Skipped: skipped}
	}

	length := int32(binary.LittleEndian.Uint32(hdr[20:24]))
	if length < 0 || length > MaxPayloadSize {
		skipped, err := fr.resync()
		if err != nil {
			return Frame{}, err
		}
		return Frame{}, &FrameError{Err: ErrBadLength, Skipped: skipped}
	}

	f := Frame{
		Source:      binary.LittleEndian.Uint32(hdr[4:8]),
		Destination: binary.LittleEndian.Uint32(hdr[8:12]),
		Kind:        FrameKind(binary.LittleEndian.Uint32(hdr[12:16])),
		Reserved:    binary.LittleEndian.Uint32(hdr[16:20]),
	}
	sum := binary.LittleEndian.Uint32(hdr[24:28])

	if _, err := fr.r.Discard(HeaderSize); err != nil {
		return Frame{}, err
	}

	if length > 0 {
		f.Payload = make([]byte, length)
		if _, err := io.ReadFull(fr.r, f.Payload); err != nil {
			return Frame{}, err
		}
	}

	if Checksum(f.Payload) != sum {
		return Frame{}, &FrameError{Err: ErrWrongChecksum}
	}

	return f, nil
}

// resync drops bytes one at a time until the stream is positioned on the
// next magic marker. It always drops at least one byte.
func (fr *FrameReader) resync() (int, error) {
	skipped := 0
	for {
		if _, err := fr.r.Discard(1); err != nil {
			return skipped, err
		}
		skipped++

		next, err := fr.r.Peek(4)
		if err != nil {
			return skipped, err
		}
		if binary.LittleEndian.Uint32(next) == FrameMagic {
			return skipped, nil
		}
	}
}

package protocol

import "encoding/binary"

// Writer builds little-endian binary payloads.
type Writer struct {
	buf []byte
}

// NewWriter creates a Writer with room for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// WriteUint8 writes a single byte.
func (w *Writer) WriteUint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

// WriteUint16 writes a uint16 in little-endian order.
func (w *Writer) WriteUint16(v uint16) *Writer {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	return w
}

// WriteUint32 writes a uint32 in little-endian order.
func (w *Writer) WriteUint32(v uint32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

// WriteInt32 writes an int32 in little-endian order.
func (w *Writer) WriteInt32(v int32) *Writer {
	return w.WriteUint32(uint32(v))
}

// WriteUint64 writes a uint64 in little-endian order.
func (w *Writer) WriteUint64(v uint64) *Writer {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(data []byte) *Writer {
	w.buf = append(w.buf, data...)
	return w
}

// WriteFixed writes data truncated or zero-padded to exactly n bytes.
func (w *Writer) WriteFixed(data []byte, n int) *Writer {
	if len(data) > n {
		data = data[:n]
	}
	w.buf = append(w.buf, data...)
	for i := len(data); i < n; i++ {
		w.buf = append(w.buf, 0)
	}
	return w
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the constructed payload.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reader consumes little-endian fields from a caller-owned buffer.
// Slices it returns alias that buffer.
type Reader struct {
	buf []byte
	off int
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt32 reads a little-endian int32.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads a little-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadBytes returns the next n bytes without copying.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	return r.take(n)
}

// ReadRemainder returns every unread byte.
func (r *Reader) ReadRemainder() []byte {
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}

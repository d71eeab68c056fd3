package protocol

import (
	"io"
	"unicode/utf8"
)

// Decoder is a binary decoder that reads from a byte buffer.
// Every read is bounds-checked: a read past the end of the buffer returns
// io.ErrUnexpectedEOF and leaves the position unchanged.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder creates a new decoder from the given byte slice.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// EOF returns true if all bytes have been read.
func (d *Decoder) EOF() bool {
	return d.pos >= len(d.buf)
}

// Position returns the current read position.
func (d *Decoder) Position() int {
	return d.pos
}

// ReadUint8 reads a single byte.
func (d *Decoder) ReadUint8() (uint8, error) {
	if d.pos >= len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// ReadUint16 reads a uint16 in big-endian byte order.
func (d *Decoder) ReadUint16() (uint16, error) {
	if d.pos+2 > len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := uint16(d.buf[d.pos])<<8 | uint16(d.buf[d.pos+1])
	d.pos += 2
	return v, nil
}

// ReadUint32 reads a uint32 in big-endian byte order.
func (d *Decoder) ReadUint32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := uint32(d.buf[d.pos])<<24 | uint32(d.buf[d.pos+1])<<16 |
		uint32(d.buf[d.pos+2])<<8 | uint32(d.buf[d.pos+3])
	d.pos += 4
	return v, nil
}

// ReadUint64 reads a uint64 in big-endian byte order.
func (d *Decoder) ReadUint64() (uint64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := uint64(d.buf[d.pos])<<56 | uint64(d.buf[d.pos+1])<<48 |
		uint64(d.buf[d.pos+2])<<40 | uint64(d.buf[d.pos+3])<<32 |
		uint64(d.buf[d.pos+4])<<24 | uint64(d.buf[d.pos+5])<<16 |
		uint64(d.buf[d.pos+6])<<8 | uint64(d.buf[d.pos+7])
	d.pos += 8
	return v, nil
}

// ReadInt32 reads an int32 in big-endian byte order.
func (d *Decoder) ReadInt32() (int32, error) {
	v, err := d.ReadUint32()
	return int32(v), err
}

// ReadInt64 reads an int64 in big-endian byte order.
func (d *Decoder) ReadInt64() (int64, error) {
	v, err := d.ReadUint64()
	return int64(v), err
}

// ReadSmallString reads a string with a 1-byte length prefix.
func (d *Decoder) ReadSmallString() (string, error) {
	if d.pos >= len(d.buf) {
		return "", io.ErrUnexpectedEOF
	}
	n := int(d.buf[d.pos])
	return d.readStringBody(1, n)
}

// ReadString reads a string with a 2-byte length prefix.
func (d *Decoder) ReadString() (string, error) {
	if d.pos+2 > len(d.buf) {
		return "", io.ErrUnexpectedEOF
	}
	n := int(d.buf[d.pos])<<8 | int(d.buf[d.pos+1])
	return d.readStringBody(2, n)
}

// readStringBody reads n string bytes that follow a prefix of prefixLen
// bytes. The position only moves once the whole string is known to fit.
func (d *Decoder) readStringBody(prefixLen, n int) (string, error) {
	start := d.pos + prefixLen
	if start+n > len(d.buf) {
		return "", io.ErrUnexpectedEOF
	}
	raw := d.buf[start : start+n]
	if !utf8.Valid(raw) {
		return "", ErrInvalidUTF8
	}
	d.pos = start + n
	return string(raw), nil
}

// ReadVector2 reads a vector encoded as two fixed-point int32 coordinates.
func (d *Decoder) ReadVector2() (Vector2, error) {
	if d.pos+8 > len(d.buf) {
		return Vector2{}, io.ErrUnexpectedEOF
	}
	x, _ := d.ReadInt32()
	y, _ := d.ReadInt32()
	return Vector2FromFixed(x, y), nil
}

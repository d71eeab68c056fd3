package protocol

import (
	"fmt"
	"math"
	"unicode/utf8"
)

// String length limits for the two length-prefix variants.
const (
	// MaxSmallStringLen is the longest small string (1-byte length prefix).
	MaxSmallStringLen = math.MaxUint8

	// MaxStringLen is the longest standard string (2-byte length prefix).
	MaxStringLen = math.MaxUint16
)

// Encoder is a binary encoder that appends data to an internal buffer.
// It is designed for efficient encoding without allocations in the hot path.
type Encoder struct {
	buf []byte
}

// NewEncoder creates a new encoder with a default initial capacity.
func NewEncoder() *Encoder {
	return &Encoder{
		buf: make([]byte, 0, 256),
	}
}

// Reset resets the encoder to empty state, reusing the underlying buffer.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Bytes returns the encoded bytes. The returned slice is valid until
// the next call to Reset or any Write method.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes currently encoded.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// WriteUint8 appends a single byte.
func (e *Encoder) WriteUint8(b uint8) {
	e.buf = append(e.buf, b)
}

// WriteUint16 appends a uint16 in big-endian byte order.
func (e *Encoder) WriteUint16(v uint16) {
	e.buf = append(e.buf, byte(v>>8), byte(v))
}

// WriteUint32 appends a uint32 in big-endian byte order.
func (e *Encoder) WriteUint32(v uint32) {
	e.buf = append(e.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteUint64 appends a uint64 in big-endian byte order.
func (e *Encoder) WriteUint64(v uint64) {
	e.buf = append(e.buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteInt32 appends an int32 in big-endian byte order.
func (e *Encoder) WriteInt32(v int32) {
	e.WriteUint32(uint32(v))
}

// WriteInt64 appends an int64 in big-endian byte order.
func (e *Encoder) WriteInt64(v int64) {
	e.WriteUint64(uint64(v))
}

// WriteSmallString appends a string with a 1-byte length prefix.
// Strings longer than MaxSmallStringLen bytes are rejected, never truncated.
func (e *Encoder) WriteSmallString(s string) error {
	if len(s) > MaxSmallStringLen {
		return fmt.Errorf("%w: small string is %d bytes (max %d)", ErrEncodingTooLarge, len(s), MaxSmallStringLen)
	}
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	e.buf = append(e.buf, byte(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

// WriteString appends a string with a 2-byte length prefix.
// Strings longer than MaxStringLen bytes are rejected, never truncated.
func (e *Encoder) WriteString(s string) error {
	if len(s) > MaxStringLen {
		return fmt.Errorf("%w: string is %d bytes (max %d)", ErrEncodingTooLarge, len(s), MaxStringLen)
	}
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	e.WriteUint16(uint16(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

// WriteVector2 appends a vector as two fixed-point int32 coordinates.
func (e *Encoder) WriteVector2(v Vector2) error {
	x, y, err := v.Fixed()
	if err != nil {
		return err
	}
	e.WriteInt32(x)
	e.WriteInt32(y)
	return nil
}

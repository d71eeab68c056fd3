package protocol

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrMalformedFrame is returned when a frame header or body is truncated,
	// or when the declared body length does not match the bytes available.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrMalformedPacket is returned when a packet body cannot be decoded
	// into the fields its kind requires.
	ErrMalformedPacket = errors.New("protocol: malformed packet")

	// ErrUnknownPacketType is returned when no decoder is registered for a
	// packet type.
	ErrUnknownPacketType = errors.New("protocol: unknown packet type")

	// ErrEncodingTooLarge is returned when a string field or a whole body
	// does not fit its length prefix.
	ErrEncodingTooLarge = errors.New("protocol: encoding too large")

	// ErrFrameTooLarge is returned when a frame header declares a body
	// larger than the negotiated maximum.
	ErrFrameTooLarge = errors.New("protocol: frame body exceeds maximum size")

	// ErrInvalidUTF8 is returned when a string field is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("protocol: invalid UTF-8 string")

	// ErrValueOutOfRange is returned when a value cannot be represented in
	// its wire encoding (for example a vector coordinate beyond int32 after
	// scaling).
	ErrValueOutOfRange = errors.New("protocol: value out of range")
)

// DecodeError reports which field of which packet failed to decode.
// It matches both ErrMalformedPacket and the underlying cause with errors.Is.
type DecodeError struct {
	Type  PacketType
	Field string
	Err   error
}

// Error returns the error message with packet context.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: malformed %s packet: field %s: %v", e.Type, e.Field, e.Err)
}

// Unwrap returns ErrMalformedPacket and the underlying error.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrMalformedPacket, e.Err}
}

// fieldError wraps err as a DecodeError for the given packet field.
func fieldError(t PacketType, field string, err error) error {
	return &DecodeError{Type: t, Field: field, Err: err}
}

// EncodeError reports which field of which packet failed to encode.
type EncodeError struct {
	Type  PacketType
	Field string
	Err   error
}

// Error returns the error message with packet context.
func (e *EncodeError) Error() string {
	return fmt.Sprintf("protocol: encode %s packet: field %s: %v", e.Type, e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *EncodeError) Unwrap() error {
	return e.Err
}

func encodeError(t PacketType, field string, err error) error {
	if err == nil {
		return nil
	}
	return &EncodeError{Type: t, Field: field, Err: err}
}

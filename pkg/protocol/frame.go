package protocol

import (
	"errors"
	"fmt"
	"io"
)

// Frame constants.
const (
	// FrameHeaderSize is the size of the frame header in bytes.
	FrameHeaderSize = 4

	// MaxFrameSize is the largest frame (header + body) the 16-bit length
	// field can describe.
	MaxFrameSize = 65535

	// MaxBodySize is the default maximum body size.
	MaxBodySize = MaxFrameSize - FrameHeaderSize
)

// Frame is the raw form of one packet on the wire.
//
// Wire format (4 bytes header + variable body):
//
//	┌───────────────────────────┬───────────────────────────────┐
//	│ Packet Type               │ Body Length                   │
//	│ (2 bytes, big-endian)     │ (2 bytes, big-endian)         │
//	└───────────────────────────┴───────────────────────────────┘
//
// A Frame is not modified after it has been decoded.
type Frame struct {
	Type PacketType
	Body []byte
}

// Len returns the encoded size of the frame including the header.
func (f *Frame) Len() int {
	return FrameHeaderSize + len(f.Body)
}

// Encode encodes the frame to bytes including the header.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Body) > MaxBodySize {
		return nil, fmt.Errorf("%w: body is %d bytes (max %d)", ErrEncodingTooLarge, len(f.Body), MaxBodySize)
	}
	length := len(f.Body)
	buf := make([]byte, FrameHeaderSize+length)
	buf[0] = byte(f.Type >> 8)
	buf[1] = byte(f.Type)
	buf[2] = byte(length >> 8)
	buf[3] = byte(length)
	copy(buf[FrameHeaderSize:], f.Body)
	return buf, nil
}

// DecodeFrameHeader decodes just the frame header, returning the packet
// type and the declared body length.
func DecodeFrameHeader(data []byte) (PacketType, int, error) {
	if len(data) < FrameHeaderSize {
		return 0, 0, fmt.Errorf("%w: header is %d bytes", ErrMalformedFrame, len(data))
	}

	pt := PacketType(uint16(data[0])<<8 | uint16(data[1]))
	length := int(data[2])<<8 | int(data[3])

	return pt, length, nil
}

// DecodeFrame decodes exactly one frame from data. The input must hold the
// header and exactly the declared number of body bytes.
func DecodeFrame(data []byte) (*Frame, error) {
	pt, length, err := DecodeFrameHeader(data)
	if err != nil {
		return nil, err
	}

	if got := len(data) - FrameHeaderSize; got != length {
		return nil, fmt.Errorf("%w: header declares %d body bytes, have %d", ErrMalformedFrame, length, got)
	}

	body := make([]byte, length)
	copy(body, data[FrameHeaderSize:])

	return &Frame{Type: pt, Body: body}, nil
}

// ReadFrame reads one complete frame from r. It keeps reading until the
// header and the whole body have arrived, so arbitrary read boundaries on
// the underlying stream are handled.
//
// A stream that ends cleanly before the first header byte returns io.EOF.
// A stream that ends inside a frame returns an error matching both
// ErrMalformedFrame and io.ErrUnexpectedEOF. A header declaring more than
// maxBody bytes returns ErrFrameTooLarge without reading the body.
func ReadFrame(r io.Reader, maxBody int) (*Frame, error) {
	if maxBody <= 0 || maxBody > MaxBodySize {
		maxBody = MaxBodySize
	}

	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, truncated(err)
	}

	pt, length, _ := DecodeFrameHeader(header[:])
	if length > maxBody {
		return nil, fmt.Errorf("%w: %s declares %d bytes (max %d)", ErrFrameTooLarge, pt, length, maxBody)
	}

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, truncated(err)
		}
	}

	return &Frame{Type: pt, Body: body}, nil
}

// truncated classifies a short read. A clean io.EOF is passed through.
func truncated(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Join(ErrMalformedFrame, err)
	}
	return err
}

// WriteFrame writes a complete frame to w with a single Write call.
func WriteFrame(w io.Writer, f *Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

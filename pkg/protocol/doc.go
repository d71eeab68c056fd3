// Package protocol implements the binary wire protocol spoken between game
// clients and the realm server.
//
// The protocol is a sequence of length-framed packets over a reliable byte
// stream (TCP, or the WebSocket bridge). There is no fixed message size and
// no padding: a frame is exactly its header plus its body.
//
// # Wire Format
//
// Every packet is framed with a 4-byte header:
//
//	┌───────────────────────────┬───────────────────────────────┐
//	│ Packet Type               │ Body Length                   │
//	│ (2 bytes, big-endian)     │ (2 bytes, big-endian)         │
//	└───────────────────────────┴───────────────────────────────┘
//	│                                                           │
//	│  Body (Body Length bytes, packet-kind specific)           │
//	│                                                           │
//	└───────────────────────────────────────────────────────────┘
//
// # Field Encodings
//
//   - Fixed-width integers: big-endian
//   - Small string: 1-byte length + UTF-8 bytes (at most 255 bytes)
//   - Standard string: 2-byte length + UTF-8 bytes (at most 65535 bytes)
//   - Vector2: two int32 values, each the coordinate multiplied by
//     VectorAccuracy and floored
//
// # Packet Type Ranges
//
//   - 0x01-0x0F: protocol handshake
//   - 0x10-0x1F: informational (ping, notices, disconnect reasons)
//   - 0x20-0x2F: account management
//   - 0x30-0x3F: session management
//   - 0x7F and above: reserved for extension framing
//
// The ranges are a convention used by the server's state guard; the codec
// itself does not enforce them.
//
// # Usage Example
//
//	reg := protocol.NewDefaultRegistry()
//
//	data, err := protocol.Encode(&protocol.ChatMessage{Channel: "global", Text: "gg"})
//	if err != nil {
//	    // protocol.ErrEncodingTooLarge, protocol.ErrInvalidUTF8, ...
//	}
//
//	p, err := reg.Decode(data)
//	if err != nil {
//	    // protocol.ErrMalformedFrame, protocol.ErrMalformedPacket,
//	    // protocol.ErrUnknownPacketType
//	}
//
// # File Structure
//
//   - encoder.go: Binary encoder
//   - decoder.go: Binary decoder
//   - frame.go: Frame header, framing over io.Reader/io.Writer
//   - packet.go: Packet interface, packet types, Encode
//   - registry.go: Packet type to decoder mapping
//   - vector.go: Fixed-point 2D vectors
//   - handshake.go, info.go, account.go, session.go: Packet kinds
//   - errors.go: Codec errors
package protocol

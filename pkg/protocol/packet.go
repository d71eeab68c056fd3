package protocol

import (
	"fmt"
)

// PacketType identifies the kind of a packet on the wire.
type PacketType uint16

// Known packet types.
const (
	// Protocol handshake (0x01-0x0F)
	TypeProtocolHandshake PacketType = 0x01
	TypeProtocolAccepted  PacketType = 0x02
	TypeConnectRequest    PacketType = 0x03
	TypeConnectAccepted   PacketType = 0x04

	// Informational (0x10-0x1F)
	TypePing         PacketType = 0x10
	TypePong         PacketType = 0x11
	TypeServerNotice PacketType = 0x12
	TypeDisconnect   PacketType = 0x13

	// Account management (0x20-0x2F)
	TypeLoginRequest PacketType = 0x20
	TypeLoginResult  PacketType = 0x21
	TypeLogout       PacketType = 0x22

	// Session management (0x30-0x3F)
	TypeSessionJoin  PacketType = 0x30
	TypeEntityMove   PacketType = 0x31
	TypeSessionLeave PacketType = 0x32
	TypeChatMessage  PacketType = 0x33

	// TypeExtensionBase is the first id reserved for extension framing.
	TypeExtensionBase PacketType = 0x7F
)

var packetNames = map[PacketType]string{
	TypeProtocolHandshake: "ProtocolHandshake",
	TypeProtocolAccepted:  "ProtocolAccepted",
	TypeConnectRequest:    "ConnectRequest",
	TypeConnectAccepted:   "ConnectAccepted",
	TypePing:              "Ping",
	TypePong:              "Pong",
	TypeServerNotice:      "ServerNotice",
	TypeDisconnect:        "Disconnect",
	TypeLoginRequest:      "LoginRequest",
	TypeLoginResult:       "LoginResult",
	TypeLogout:            "Logout",
	TypeSessionJoin:       "SessionJoin",
	TypeEntityMove:        "EntityMove",
	TypeSessionLeave:      "SessionLeave",
	TypeChatMessage:       "ChatMessage",
}

// String returns the name of the packet type, or its hex id if unnamed.
func (pt PacketType) String() string {
	if name, ok := packetNames[pt]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", uint16(pt))
}

// Category groups packet types by their reserved id range.
type Category uint8

const (
	CategoryUnassigned    Category = iota // 0x00
	CategoryHandshake                     // 0x01-0x0F
	CategoryInformational                 // 0x10-0x1F
	CategoryAccount                       // 0x20-0x2F
	CategorySession                       // 0x30-0x3F
	CategoryApplication                   // 0x40-0x7E
	CategoryExtension                     // 0x7F and above
)

// String returns the string representation of the category.
func (c Category) String() string {
	switch c {
	case CategoryHandshake:
		return "Handshake"
	case CategoryInformational:
		return "Informational"
	case CategoryAccount:
		return "Account"
	case CategorySession:
		return "Session"
	case CategoryApplication:
		return "Application"
	case CategoryExtension:
		return "Extension"
	default:
		return "Unassigned"
	}
}

// Category returns the reserved range the packet type falls in.
func (pt PacketType) Category() Category {
	switch {
	case pt == 0:
		return CategoryUnassigned
	case pt <= 0x0F:
		return CategoryHandshake
	case pt <= 0x1F:
		return CategoryInformational
	case pt <= 0x2F:
		return CategoryAccount
	case pt <= 0x3F:
		return CategorySession
	case pt < TypeExtensionBase:
		return CategoryApplication
	default:
		return CategoryExtension
	}
}

// Packet is a decoded, typed packet. Packets are plain values: they carry
// no reference to the connection they arrived on or are sent to.
type Packet interface {
	// Type returns the packet type written in the frame header.
	Type() PacketType

	// EncodeBody appends the packet body to e.
	EncodeBody(e *Encoder) error
}

// EncodeFrame encodes p into a Frame.
func EncodeFrame(p Packet) (*Frame, error) {
	e := NewEncoder()
	if err := p.EncodeBody(e); err != nil {
		return nil, err
	}
	if e.Len() > MaxBodySize {
		return nil, fmt.Errorf("%w: %s body is %d bytes (max %d)", ErrEncodingTooLarge, p.Type(), e.Len(), MaxBodySize)
	}
	return &Frame{Type: p.Type(), Body: e.Bytes()}, nil
}

// Encode encodes p into the exact bytes of one frame: header plus body,
// with no padding.
func Encode(p Packet) ([]byte, error) {
	return EncodeWithLimit(p, MaxBodySize)
}

// EncodeWithLimit is like Encode but rejects bodies larger than maxBody.
func EncodeWithLimit(p Packet, maxBody int) ([]byte, error) {
	if maxBody <= 0 || maxBody > MaxBodySize {
		maxBody = MaxBodySize
	}

	e := NewEncoder()
	// Reserve the header; it is filled in once the body length is known.
	e.WriteUint16(uint16(p.Type()))
	e.WriteUint16(0)
	if err := p.EncodeBody(e); err != nil {
		return nil, err
	}

	data := e.Bytes()
	length := len(data) - FrameHeaderSize
	if length > maxBody {
		return nil, fmt.Errorf("%w: %s body is %d bytes (max %d)", ErrEncodingTooLarge, p.Type(), length, maxBody)
	}
	data[2] = byte(length >> 8)
	data[3] = byte(length)
	return data, nil
}

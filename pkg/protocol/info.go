package protocol

// Ping asks the peer to answer with a Pong carrying the same values.
type Ping struct {
	Nonce  uint32
	SentAt int64 // Sender clock, Unix milliseconds
}

// Type implements Packet.
func (*Ping) Type() PacketType { return TypePing }

// EncodeBody implements Packet.
func (p *Ping) EncodeBody(e *Encoder) error {
	e.WriteUint32(p.Nonce)
	e.WriteInt64(p.SentAt)
	return nil
}

// Pong answers a Ping.
type Pong struct {
	Nonce  uint32
	SentAt int64 // Copied from the Ping
}

// Type implements Packet.
func (*Pong) Type() PacketType { return TypePong }

// EncodeBody implements Packet.
func (p *Pong) EncodeBody(e *Encoder) error {
	e.WriteUint32(p.Nonce)
	e.WriteInt64(p.SentAt)
	return nil
}

func decodePingPong(pt PacketType) DecodeFunc {
	return func(d *Decoder) (Packet, error) {
		nonce, err := d.ReadUint32()
		if err != nil {
			return nil, fieldError(pt, "nonce", err)
		}
		sentAt, err := d.ReadInt64()
		if err != nil {
			return nil, fieldError(pt, "sent_at", err)
		}
		if pt == TypePong {
			return &Pong{Nonce: nonce, SentAt: sentAt}, nil
		}
		return &Ping{Nonce: nonce, SentAt: sentAt}, nil
	}
}

// Severity grades a ServerNotice.
type Severity uint8

const (
	SeverityInfo    Severity = 0x00
	SeverityWarning Severity = 0x01
	SeverityError   Severity = 0x02
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "Info"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ServerNotice is a human-readable message from the server.
type ServerNotice struct {
	Severity Severity
	Message  string
}

// Type implements Packet.
func (*ServerNotice) Type() PacketType { return TypeServerNotice }

// EncodeBody implements Packet.
func (p *ServerNotice) EncodeBody(e *Encoder) error {
	e.WriteUint8(uint8(p.Severity))
	return encodeError(TypeServerNotice, "message", e.WriteString(p.Message))
}

func decodeServerNotice(d *Decoder) (Packet, error) {
	severity, err := d.ReadUint8()
	if err != nil {
		return nil, fieldError(TypeServerNotice, "severity", err)
	}
	message, err := d.ReadString()
	if err != nil {
		return nil, fieldError(TypeServerNotice, "message", err)
	}
	return &ServerNotice{Severity: Severity(severity), Message: message}, nil
}

// DisconnectReason says why a connection is being closed.
type DisconnectReason uint8

const (
	ReasonNormal           DisconnectReason = 0x00 // Orderly close
	ReasonServerShutdown   DisconnectReason = 0x01 // Server is stopping
	ReasonProtocolError    DisconnectReason = 0x02 // Malformed header or stream
	ReasonVersionMismatch  DisconnectReason = 0x03 // Unsupported protocol version
	ReasonTimeout          DisconnectReason = 0x04 // Read timeout
	ReasonHandshakeTimeout DisconnectReason = 0x05 // Handshake not completed in time
	ReasonIOError          DisconnectReason = 0x06 // Socket failure
	ReasonServerFull       DisconnectReason = 0x07 // Connection limit reached
	ReasonSlowConsumer     DisconnectReason = 0x08 // Outbound backlog too large
	ReasonKicked           DisconnectReason = 0x09 // Removed by application logic
	ReasonClientClosed     DisconnectReason = 0x0A // Peer closed or said goodbye
)

// String returns the string representation of the reason.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonNormal:
		return "Normal"
	case ReasonServerShutdown:
		return "ServerShutdown"
	case ReasonProtocolError:
		return "ProtocolError"
	case ReasonVersionMismatch:
		return "VersionMismatch"
	case ReasonTimeout:
		return "Timeout"
	case ReasonHandshakeTimeout:
		return "HandshakeTimeout"
	case ReasonIOError:
		return "IOError"
	case ReasonServerFull:
		return "ServerFull"
	case ReasonSlowConsumer:
		return "SlowConsumer"
	case ReasonKicked:
		return "Kicked"
	case ReasonClientClosed:
		return "ClientClosed"
	default:
		return "Unknown"
	}
}

// Disconnect announces that the sender is closing the connection.
type Disconnect struct {
	Reason  DisconnectReason
	Message string
}

// NewDisconnect creates a Disconnect packet.
func NewDisconnect(reason DisconnectReason, message string) *Disconnect {
	return &Disconnect{Reason: reason, Message: message}
}

// Type implements Packet.
func (*Disconnect) Type() PacketType { return TypeDisconnect }

// EncodeBody implements Packet.
func (p *Disconnect) EncodeBody(e *Encoder) error {
	e.WriteUint8(uint8(p.Reason))
	return encodeError(TypeDisconnect, "message", e.WriteString(p.Message))
}

func decodeDisconnect(d *Decoder) (Packet, error) {
	reason, err := d.ReadUint8()
	if err != nil {
		return nil, fieldError(TypeDisconnect, "reason", err)
	}
	message, err := d.ReadString()
	if err != nil {
		return nil, fieldError(TypeDisconnect, "message", err)
	}
	return &Disconnect{Reason: DisconnectReason(reason), Message: message}, nil
}

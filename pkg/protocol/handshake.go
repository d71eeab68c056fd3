package protocol

// The handshake runs in two round trips:
//
//	Client                                Server
//	  │                                      │
//	  │──── ProtocolHandshake ─────────────>│  Open → Protocol
//	  │     (protocol version)              │
//	  │<──── ProtocolAccepted ──────────────│
//	  │     (server version, conn id)       │
//	  │                                      │
//	  │──── ConnectRequest ────────────────>│  Protocol → Connected
//	  │     (client name, locale)           │
//	  │<──── ConnectAccepted ───────────────│
//	  │     (server name, tick rate, time)  │

// ProtocolHandshake is the first packet a client sends.
type ProtocolHandshake struct {
	ProtocolVersion string // Semantic version, e.g. "1.2.0"
}

// Type implements Packet.
func (*ProtocolHandshake) Type() PacketType { return TypeProtocolHandshake }

// EncodeBody implements Packet.
func (p *ProtocolHandshake) EncodeBody(e *Encoder) error {
	return encodeError(TypeProtocolHandshake, "protocol_version", e.WriteSmallString(p.ProtocolVersion))
}

func decodeProtocolHandshake(d *Decoder) (Packet, error) {
	version, err := d.ReadSmallString()
	if err != nil {
		return nil, fieldError(TypeProtocolHandshake, "protocol_version", err)
	}
	return &ProtocolHandshake{ProtocolVersion: version}, nil
}

// ProtocolAccepted confirms the protocol version and tells the client its
// connection id.
type ProtocolAccepted struct {
	ServerVersion string
	ConnectionID  uint64
}

// Type implements Packet.
func (*ProtocolAccepted) Type() PacketType { return TypeProtocolAccepted }

// EncodeBody implements Packet.
func (p *ProtocolAccepted) EncodeBody(e *Encoder) error {
	if err := e.WriteSmallString(p.ServerVersion); err != nil {
		return encodeError(TypeProtocolAccepted, "server_version", err)
	}
	e.WriteUint64(p.ConnectionID)
	return nil
}

func decodeProtocolAccepted(d *Decoder) (Packet, error) {
	p := &ProtocolAccepted{}
	var err error

	p.ServerVersion, err = d.ReadSmallString()
	if err != nil {
		return nil, fieldError(TypeProtocolAccepted, "server_version", err)
	}

	p.ConnectionID, err = d.ReadUint64()
	if err != nil {
		return nil, fieldError(TypeProtocolAccepted, "connection_id", err)
	}

	return p, nil
}

// ConnectRequest identifies the client once the protocol is agreed.
type ConnectRequest struct {
	ClientName string
	Locale     string
}

// Type implements Packet.
func (*ConnectRequest) Type() PacketType { return TypeConnectRequest }

// EncodeBody implements Packet.
func (p *ConnectRequest) EncodeBody(e *Encoder) error {
	if err := e.WriteSmallString(p.ClientName); err != nil {
		return encodeError(TypeConnectRequest, "client_name", err)
	}
	return encodeError(TypeConnectRequest, "locale", e.WriteSmallString(p.Locale))
}

func decodeConnectRequest(d *Decoder) (Packet, error) {
	p := &ConnectRequest{}
	var err error

	p.ClientName, err = d.ReadSmallString()
	if err != nil {
		return nil, fieldError(TypeConnectRequest, "client_name", err)
	}

	p.Locale, err = d.ReadSmallString()
	if err != nil {
		return nil, fieldError(TypeConnectRequest, "locale", err)
	}

	return p, nil
}

// ConnectAccepted completes the handshake.
type ConnectAccepted struct {
	ServerName string
	TickRate   uint16 // Server ticks per second
	ServerTime int64  // Unix milliseconds
}

// Type implements Packet.
func (*ConnectAccepted) Type() PacketType { return TypeConnectAccepted }

// EncodeBody implements Packet.
func (p *ConnectAccepted) EncodeBody(e *Encoder) error {
	if err := e.WriteSmallString(p.ServerName); err != nil {
		return encodeError(TypeConnectAccepted, "server_name", err)
	}
	e.WriteUint16(p.TickRate)
	e.WriteInt64(p.ServerTime)
	return nil
}

func decodeConnectAccepted(d *Decoder) (Packet, error) {
	p := &ConnectAccepted{}
	var err error

	p.ServerName, err = d.ReadSmallString()
	if err != nil {
		return nil, fieldError(TypeConnectAccepted, "server_name", err)
	}

	p.TickRate, err = d.ReadUint16()
	if err != nil {
		return nil, fieldError(TypeConnectAccepted, "tick_rate", err)
	}

	p.ServerTime, err = d.ReadInt64()
	if err != nil {
		return nil, fieldError(TypeConnectAccepted, "server_time", err)
	}

	return p, nil
}

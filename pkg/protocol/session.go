package protocol

// SessionJoin places the player in a named game session.
type SessionJoin struct {
	SessionName string
	Spawn       Vector2
}

// Type implements Packet.
func (*SessionJoin) Type() PacketType { return TypeSessionJoin }

// EncodeBody implements Packet.
func (p *SessionJoin) EncodeBody(e *Encoder) error {
	if err := e.WriteSmallString(p.SessionName); err != nil {
		return encodeError(TypeSessionJoin, "session_name", err)
	}
	return encodeError(TypeSessionJoin, "spawn", e.WriteVector2(p.Spawn))
}

func decodeSessionJoin(d *Decoder) (Packet, error) {
	p := &SessionJoin{}
	var err error

	p.SessionName, err = d.ReadSmallString()
	if err != nil {
		return nil, fieldError(TypeSessionJoin, "session_name", err)
	}

	p.Spawn, err = d.ReadVector2()
	if err != nil {
		return nil, fieldError(TypeSessionJoin, "spawn", err)
	}

	return p, nil
}

// EntityMove reports an entity's position and velocity.
type EntityMove struct {
	EntityID uint32
	Position Vector2
	Velocity Vector2
}

// Type implements Packet.
func (*EntityMove) Type() PacketType { return TypeEntityMove }

// EncodeBody implements Packet.
func (p *EntityMove) EncodeBody(e *Encoder) error {
	e.WriteUint32(p.EntityID)
	if err := e.WriteVector2(p.Position); err != nil {
		return encodeError(TypeEntityMove, "position", err)
	}
	return encodeError(TypeEntityMove, "velocity", e.WriteVector2(p.Velocity))
}

func decodeEntityMove(d *Decoder) (Packet, error) {
	p := &EntityMove{}
	var err error

	p.EntityID, err = d.ReadUint32()
	if err != nil {
		return nil, fieldError(TypeEntityMove, "entity_id", err)
	}

	p.Position, err = d.ReadVector2()
	if err != nil {
		return nil, fieldError(TypeEntityMove, "position", err)
	}

	p.Velocity, err = d.ReadVector2()
	if err != nil {
		return nil, fieldError(TypeEntityMove, "velocity", err)
	}

	return p, nil
}

// SessionLeave removes the player from a session.
type SessionLeave struct {
	SessionName string
}

// Type implements Packet.
func (*SessionLeave) Type() PacketType { return TypeSessionLeave }

// EncodeBody implements Packet.
func (p *SessionLeave) EncodeBody(e *Encoder) error {
	return encodeError(TypeSessionLeave, "session_name", e.WriteSmallString(p.SessionName))
}

func decodeSessionLeave(d *Decoder) (Packet, error) {
	name, err := d.ReadSmallString()
	if err != nil {
		return nil, fieldError(TypeSessionLeave, "session_name", err)
	}
	return &SessionLeave{SessionName: name}, nil
}

// ChatMessage is a line of chat on a channel.
type ChatMessage struct {
	Channel string
	Text    string
}

// Type implements Packet.
func (*ChatMessage) Type() PacketType { return TypeChatMessage }

// EncodeBody implements Packet.
func (p *ChatMessage) EncodeBody(e *Encoder) error {
	if err := e.WriteSmallString(p.Channel); err != nil {
		return encodeError(TypeChatMessage, "channel", err)
	}
	return encodeError(TypeChatMessage, "text", e.WriteString(p.Text))
}

func decodeChatMessage(d *Decoder) (Packet, error) {
	p := &ChatMessage{}
	var err error

	p.Channel, err = d.ReadSmallString()
	if err != nil {
		return nil, fieldError(TypeChatMessage, "channel", err)
	}

	p.Text, err = d.ReadString()
	if err != nil {
		return nil, fieldError(TypeChatMessage, "text", err)
	}

	return p, nil
}

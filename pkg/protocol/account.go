package protocol

// LoginRequest carries account credentials. Verifying them is the job of
// the account service subscribed to this packet type.
type LoginRequest struct {
	Username string
	Password string
}

// Type implements Packet.
func (*LoginRequest) Type() PacketType { return TypeLoginRequest }

// EncodeBody implements Packet.
func (p *LoginRequest) EncodeBody(e *Encoder) error {
	if err := e.WriteSmallString(p.Username); err != nil {
		return encodeError(TypeLoginRequest, "username", err)
	}
	return encodeError(TypeLoginRequest, "password", e.WriteString(p.Password))
}

func decodeLoginRequest(d *Decoder) (Packet, error) {
	p := &LoginRequest{}
	var err error

	p.Username, err = d.ReadSmallString()
	if err != nil {
		return nil, fieldError(TypeLoginRequest, "username", err)
	}

	p.Password, err = d.ReadString()
	if err != nil {
		return nil, fieldError(TypeLoginRequest, "password", err)
	}

	return p, nil
}

// LoginStatus is the outcome of a login attempt.
type LoginStatus uint8

const (
	LoginOK                 LoginStatus = 0x00
	LoginInvalidCredentials LoginStatus = 0x01
	LoginAlreadyOnline      LoginStatus = 0x02
	LoginBanned             LoginStatus = 0x03
	LoginUnavailable        LoginStatus = 0x04
)

// String returns the string representation of the login status.
func (s LoginStatus) String() string {
	switch s {
	case LoginOK:
		return "OK"
	case LoginInvalidCredentials:
		return "InvalidCredentials"
	case LoginAlreadyOnline:
		return "AlreadyOnline"
	case LoginBanned:
		return "Banned"
	case LoginUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// LoginResult answers a LoginRequest.
type LoginResult struct {
	Status  LoginStatus
	Message string
}

// Type implements Packet.
func (*LoginResult) Type() PacketType { return TypeLoginResult }

// EncodeBody implements Packet.
func (p *LoginResult) EncodeBody(e *Encoder) error {
	e.WriteUint8(uint8(p.Status))
	return encodeError(TypeLoginResult, "message", e.WriteString(p.Message))
}

func decodeLoginResult(d *Decoder) (Packet, error) {
	status, err := d.ReadUint8()
	if err != nil {
		return nil, fieldError(TypeLoginResult, "status", err)
	}
	message, err := d.ReadString()
	if err != nil {
		return nil, fieldError(TypeLoginResult, "message", err)
	}
	return &LoginResult{Status: LoginStatus(status), Message: message}, nil
}

// Logout ends the account session without closing the connection.
type Logout struct{}

// Type implements Packet.
func (*Logout) Type() PacketType { return TypeLogout }

// EncodeBody implements Packet.
func (*Logout) EncodeBody(*Encoder) error { return nil }

func decodeLogout(*Decoder) (Packet, error) {
	return &Logout{}, nil
}

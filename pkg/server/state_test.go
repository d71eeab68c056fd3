package server

import (
	"errors"
	"testing"

	"github.com/vango-dev/realm/pkg/protocol"
)

func TestAdmits(t *testing.T) {
	tests := []struct {
		name  string
		state State
		pt    protocol.PacketType
		want  bool
	}{
		{"handshake_in_open", StateOpen, protocol.TypeProtocolHandshake, true},
		{"ping_in_open", StateOpen, protocol.TypePing, true},
		{"ping_in_logged_in", StateLoggedIn, protocol.TypePing, true},
		{"login_in_open", StateOpen, protocol.TypeLoginRequest, false},
		{"login_in_protocol", StateProtocol, protocol.TypeLoginRequest, false},
		{"login_in_connected", StateConnected, protocol.TypeLoginRequest, true},
		{"session_in_connected", StateConnected, protocol.TypeSessionJoin, false},
		{"session_in_logged_in", StateLoggedIn, protocol.TypeSessionJoin, true},
		{"extension_in_connected", StateConnected, protocol.PacketType(0x8001), true},
		{"anything_when_disconnected", StateDisconnected, protocol.TypePing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Admits(tt.state, tt.pt); got != tt.want {
				t.Errorf("Admits(%v, %v) = %v, want %v", tt.state, tt.pt, got, tt.want)
			}
		})
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		name     string
		from, to State
		want     bool
	}{
		{"open_to_protocol", StateOpen, StateProtocol, true},
		{"protocol_to_connected", StateProtocol, StateConnected, true},
		{"connected_to_logged_in", StateConnected, StateLoggedIn, true},
		{"logged_in_to_connected", StateLoggedIn, StateConnected, true},
		{"open_to_connected", StateOpen, StateConnected, false},
		{"open_to_logged_in", StateOpen, StateLoggedIn, false},
		{"connected_to_protocol", StateConnected, StateProtocol, false},
		{"open_to_disconnected", StateOpen, StateDisconnected, true},
		{"logged_in_to_disconnected", StateLoggedIn, StateDisconnected, true},
		{"disconnected_is_terminal", StateDisconnected, StateOpen, false},
		{"disconnected_twice", StateDisconnected, StateDisconnected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("validTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if got := StateLoggedIn.String(); got != "LoggedIn" {
		t.Errorf("StateLoggedIn.String() = %q", got)
	}
	if got := State(42).String(); got == "" {
		t.Error("unknown state has empty name")
	}
}

func TestStateErrorUnwrap(t *testing.T) {
	err := error(&StateError{ID: 3, Op: "send", Packet: protocol.TypeChatMessage, State: StateOpen, Required: StateLoggedIn})
	if !errors.Is(err, ErrInvalidState) {
		t.Error("StateError does not unwrap to ErrInvalidState")
	}
	if err.Error() == "" {
		t.Error("empty error message")
	}
}

func TestConnectionErrorUnwrap(t *testing.T) {
	err := error(NewConnectionError(9, "send", ErrSlowConsumer))
	if !errors.Is(err, ErrSlowConsumer) {
		t.Error("ConnectionError does not unwrap to its cause")
	}
}

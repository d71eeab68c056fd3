package server

import (
	"github.com/vango-dev/realm/pkg/protocol"
)

// State is the lifecycle state of a connection.
//
//	Open ──> Protocol ──> Connected <──> LoggedIn
//	  └─────────┴─────────────┴──────────────┴──> Disconnected
//
// The live states are ordered: a packet that requires Connected is also
// admitted in LoggedIn.
type State uint32

const (
	StateOpen         State = iota // Accepted, no handshake yet
	StateProtocol                  // Protocol version agreed
	StateConnected                 // Handshake complete
	StateLoggedIn                  // Authenticated by the account service
	StateDisconnected              // Terminal
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateProtocol:
		return "Protocol"
	case StateConnected:
		return "Connected"
	case StateLoggedIn:
		return "LoggedIn"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Live reports whether s is any state other than Disconnected.
func (s State) Live() bool {
	return s < StateDisconnected
}

// RequiredState returns the lowest connection state in which packets of
// type pt may be exchanged.
func RequiredState(pt protocol.PacketType) State {
	switch pt.Category() {
	case protocol.CategoryHandshake, protocol.CategoryInformational:
		return StateOpen
	case protocol.CategorySession:
		return StateLoggedIn
	default:
		// Account, application and extension traffic
		return StateConnected
	}
}

// Admits reports whether a connection in state s may exchange packets of
// type pt.
func Admits(s State, pt protocol.PacketType) bool {
	return s.Live() && s >= RequiredState(pt)
}

// validTransition reports whether from -> to is a legal step of the state
// machine. Disconnected is reachable from every live state.
func validTransition(from, to State) bool {
	if !from.Live() {
		return false
	}
	switch to {
	case StateProtocol:
		return from == StateOpen
	case StateConnected:
		return from == StateProtocol || from == StateLoggedIn
	case StateLoggedIn:
		return from == StateConnected
	case StateDisconnected:
		return true
	default:
		return false
	}
}

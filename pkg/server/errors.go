package server

import (
	"errors"
	"fmt"

	"github.com/vango-dev/realm/pkg/protocol"
)

// Sentinel errors for listener and connection error conditions.
var (
	// ErrInvalidState is returned when an operation requires a connection
	// state the connection does not hold.
	ErrInvalidState = errors.New("server: invalid connection state")

	// ErrListenerClosed is returned by Serve after Shutdown.
	ErrListenerClosed = errors.New("server: listener closed")

	// ErrAlreadyServing is returned when Serve is called twice.
	ErrAlreadyServing = errors.New("server: already serving")

	// ErrConnectionClosed is returned when a queued frame could not be
	// written because its connection closed first.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrConnectionNotFound is returned when a connection id is not live.
	ErrConnectionNotFound = errors.New("server: connection not found")

	// ErrSlowConsumer is returned when a peer's outbound queue is full.
	ErrSlowConsumer = errors.New("server: outbound queue full")

	// ErrMaxConnectionsReached is returned when the connection cap is reached.
	ErrMaxConnectionsReached = errors.New("server: max connections reached")

	// ErrNotAuthenticated is returned when a connection is moved to LoggedIn
	// without the authenticator vouching for it.
	ErrNotAuthenticated = errors.New("server: connection not authenticated")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("server: invalid config")
)

// StateError reports an operation refused because of the connection state.
type StateError struct {
	ID       ConnectionID
	Op       string
	Packet   protocol.PacketType
	State    State
	Required State
}

// Error returns the error message with connection context.
func (e *StateError) Error() string {
	if e.Packet != 0 {
		return fmt.Sprintf("server: connection %d: %s %s: state %s, requires %s",
			e.ID, e.Op, e.Packet, e.State, e.Required)
	}
	return fmt.Sprintf("server: connection %d: %s: state %s, requires %s",
		e.ID, e.Op, e.State, e.Required)
}

// Unwrap returns ErrInvalidState.
func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// ConnectionError wraps a socket-level failure with connection context.
type ConnectionError struct {
	ID  ConnectionID
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message with connection context.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("server: connection %d: %s: %v", e.ID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(id ConnectionID, op string, err error) *ConnectionError {
	return &ConnectionError{
		ID:  id,
		Op:  op,
		Err: err,
	}
}

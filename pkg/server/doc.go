// Package server accepts game client connections and moves packets between
// the wire and the application.
//
// The Listener owns the listening socket and every live Connection. Each
// accepted socket gets a reader goroutine, which decodes frames through the
// packet registry and hands packets to a Publisher, and a writer goroutine,
// which drains the connection's outbound queue.
//
// # Connection Lifecycle
//
//	Open ──ProtocolHandshake──> Protocol ──ConnectRequest──> Connected
//	                                                            │  ▲
//	                                         Transition(LoggedIn) │ Transition(Connected)
//	                                                            ▼  │
//	                                                          LoggedIn
//
// Disconnected is reachable from every state and is terminal. The server
// sends nothing on accept; the client drives the handshake. A connection
// that has not reached Connected within Config.HandshakeTimeout is closed.
//
// Each packet category requires a minimum state:
//
//   - Handshake and informational packets: any live state
//   - Account and application packets: Connected
//   - Session packets: LoggedIn
//
// Inbound packets that arrive too early are logged and dropped. Outbound
// packets that would be sent too early fail with ErrInvalidState and never
// reach the socket.
//
// # Sending
//
//	err := listener.Send(id, &protocol.ChatMessage{Channel: "global", Text: "hi"}, false)
//	err = listener.Broadcast(&protocol.ServerNotice{Message: "restart in 5m"}, true)
//	listener.Disconnect(id, protocol.NewDisconnect(protocol.ReasonKicked, "afk"))
//
// Writes to one connection happen in call order. An urgent send waits for
// its frame to be written and returns the write error. Sending to an
// unknown or closed connection is a no-op.
//
// # Errors
//
// Malformed packets and unknown packet types are logged and discarded; the
// connection stays open. Socket failures, read timeouts and oversized frames
// close the connection. Every close first tries to send a Disconnect packet
// carrying the reason.
//
// # Thread Safety
//
// All Listener methods are safe for concurrent use. No lock is held across
// socket I/O or publisher calls.
//
// # WebSocket Bridge
//
// WebSocketHandler adopts upgraded HTTP requests as ordinary connections;
// binary messages carry the same frame stream as TCP.
package server

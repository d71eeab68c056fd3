package server

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/vango-dev/realm/pkg/protocol"
)

// handlePacket applies the core's own packet handling and publishes
// everything else. It runs on the connection's reader goroutine.
//
// The core handles the handshake, answers Ping and honours a peer's
// Disconnect. Packets whose type is not admitted in the connection's
// current state are logged and dropped; the connection stays open.
func (l *Listener) handlePacket(c *Connection, p protocol.Packet) {
	switch pk := p.(type) {
	case *protocol.ProtocolHandshake:
		l.handleProtocolHandshake(c, pk)
		return

	case *protocol.ConnectRequest:
		if !l.handleConnectRequest(c, pk) {
			return
		}

	case *protocol.Ping:
		if err := c.Send(&protocol.Pong{Nonce: pk.Nonce, SentAt: pk.SentAt}, false); err != nil {
			c.logger.Debug("pong not sent", "error", err)
		}
		return

	case *protocol.Disconnect:
		c.logger.Debug("peer disconnected", "peer_reason", pk.Reason.String(), "message", pk.Message)
		l.disconnect(c, protocol.ReasonClientClosed, "")
		return

	default:
		if state := c.State(); !Admits(state, p.Type()) {
			l.dropInvalidState(c, p.Type(), state)
			return
		}
	}

	l.publish(c, p)
}

// handleProtocolHandshake checks the client's protocol version and moves
// the connection from Open to Protocol.
func (l *Listener) handleProtocolHandshake(c *Connection, p *protocol.ProtocolHandshake) {
	if state := c.State(); state != StateOpen {
		l.dropInvalidState(c, p.Type(), state)
		return
	}

	if err := checkVersion(l.versions, p.ProtocolVersion); err != nil {
		c.logger.Info("protocol version rejected", "version", p.ProtocolVersion, "error", err)
		l.disconnect(c, protocol.ReasonVersionMismatch, err.Error())
		return
	}

	if !c.transition(StateOpen, StateProtocol) {
		return
	}

	accepted := &protocol.ProtocolAccepted{
		ServerVersion: l.config.ServerVersion,
		ConnectionID:  uint64(c.id),
	}
	if err := c.Send(accepted, false); err != nil {
		c.logger.Warn("handshake reply failed", "error", err)
	}
}

// handleConnectRequest completes the handshake. It reports whether the
// request was accepted and should be published.
func (l *Listener) handleConnectRequest(c *Connection, p *protocol.ConnectRequest) bool {
	if !c.transition(StateProtocol, StateConnected) {
		l.dropInvalidState(c, p.Type(), c.State())
		return false
	}
	c.stopHandshakeTimer()

	c.mu.Lock()
	c.clientName = p.ClientName
	c.mu.Unlock()

	accepted := &protocol.ConnectAccepted{
		ServerName: l.config.ServerName,
		TickRate:   l.config.TickRate,
		ServerTime: time.Now().UnixMilli(),
	}
	if err := c.Send(accepted, false); err != nil {
		c.logger.Warn("handshake reply failed", "error", err)
	}

	c.logger.Info("handshake complete", "client_name", p.ClientName, "locale", p.Locale)
	return true
}

// handshakeExpired disconnects a connection that has not reached
// Connected in time.
func (l *Listener) handshakeExpired(c *Connection) {
	if state := c.State(); state.Live() && state < StateConnected {
		l.disconnect(c, protocol.ReasonHandshakeTimeout, "handshake not completed in time")
	}
}

func (l *Listener) dropInvalidState(c *Connection, pt protocol.PacketType, state State) {
	c.logger.Warn("packet dropped",
		"packet_type", pt.String(),
		"state", state.String(),
		"required", RequiredState(pt).String())
	l.metrics.packetDropped(dropInvalidState)
}

// checkVersion reports whether version satisfies the constraint.
func checkVersion(constraint *semver.Constraints, version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid protocol version %q", version)
	}
	if ok, errs := constraint.Validate(v); !ok {
		if len(errs) > 0 {
			return fmt.Errorf("protocol version %s not supported: %w", v, errs[0])
		}
		return fmt.Errorf("protocol version %s not supported (want %s)", v, constraint)
	}
	return nil
}

package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vango-dev/realm/pkg/dispatch"
	"github.com/vango-dev/realm/pkg/protocol"
	"github.com/vango-dev/realm/pkg/server"
)

// lobby is the game logic that ships with realm serve. It accepts any
// non-empty username, keeps names unique among online players and relays
// chat between logged-in players. It is also the listener's
// Authenticator.
type lobby struct {
	logger   *slog.Logger
	listener *server.Listener

	mu     sync.Mutex
	names  map[string]server.ConnectionID
	byConn map[server.ConnectionID]string
}

func newLobby(logger *slog.Logger) *lobby {
	return &lobby{
		logger: logger.With("component", "lobby"),
		names:  make(map[string]server.ConnectionID),
		byConn: make(map[server.ConnectionID]string),
	}
}

// register subscribes the lobby handlers. The listener must be attached
// before the first packet arrives.
func (lb *lobby) register(d *dispatch.Dispatcher) error {
	if _, err := dispatch.On(d, dispatch.PriorityNormal, lb.login); err != nil {
		return err
	}
	if _, err := dispatch.On(d, dispatch.PriorityNormal, lb.logout); err != nil {
		return err
	}
	if _, err := dispatch.On(d, dispatch.PriorityNormal, lb.chat); err != nil {
		return err
	}
	_, err := d.OnConnection(func(_ context.Context, ev dispatch.ConnectionEvent) {
		if ev.Kind == dispatch.ConnectionClosed {
			lb.release(ev.ConnectionID)
		}
	})
	return err
}

func (lb *lobby) attach(l *server.Listener) {
	lb.listener = l
}

// IsAuthenticated implements server.Authenticator.
func (lb *lobby) IsAuthenticated(id server.ConnectionID) bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	_, ok := lb.byConn[id]
	return ok
}

// Online returns the number of logged-in players.
func (lb *lobby) Online() int {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return len(lb.byConn)
}

func (lb *lobby) login(_ context.Context, id server.ConnectionID, req *protocol.LoginRequest) error {
	status := lb.reserve(id, req.Username)
	if status == protocol.LoginOK {
		if err := lb.listener.Transition(id, server.StateLoggedIn); err != nil {
			lb.release(id)
			status = protocol.LoginUnavailable
			lb.logger.Warn("login transition failed", "conn_id", uint64(id), "error", err)
		}
	}

	msg := ""
	if status == protocol.LoginOK {
		msg = "welcome, " + req.Username
		lb.logger.Info("player logged in", "conn_id", uint64(id), "username", req.Username)
	}
	return lb.listener.Send(id, &protocol.LoginResult{Status: status, Message: msg}, false)
}

func (lb *lobby) reserve(id server.ConnectionID, name string) protocol.LoginStatus {
	if name == "" {
		return protocol.LoginInvalidCredentials
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()
	if _, ok := lb.byConn[id]; ok {
		return protocol.LoginAlreadyOnline
	}
	if _, ok := lb.names[name]; ok {
		return protocol.LoginAlreadyOnline
	}
	lb.names[name] = id
	lb.byConn[id] = name
	return protocol.LoginOK
}

func (lb *lobby) release(id server.ConnectionID) string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	name, ok := lb.byConn[id]
	if !ok {
		return ""
	}
	delete(lb.byConn, id)
	delete(lb.names, name)
	return name
}

func (lb *lobby) logout(_ context.Context, id server.ConnectionID, _ *protocol.Logout) error {
	name := lb.release(id)
	if name == "" {
		return nil
	}
	lb.logger.Info("player logged out", "conn_id", uint64(id), "username", name)
	return lb.listener.Transition(id, server.StateConnected)
}

// chat relays a message to every logged-in player, prefixed with the
// sender's name.
func (lb *lobby) chat(_ context.Context, id server.ConnectionID, msg *protocol.ChatMessage) error {
	lb.mu.Lock()
	name := lb.byConn[id]
	lb.mu.Unlock()

	out := &protocol.ChatMessage{Channel: msg.Channel, Text: msg.Text}
	if out.Channel == "" {
		out.Channel = "global"
	}
	if prefixed := name + ": " + msg.Text; len(prefixed) <= protocol.MaxStringLen {
		out.Text = prefixed
	}
	return lb.listener.Broadcast(out, false)
}

package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/realm/pkg/protocol"
	"github.com/vango-dev/realm/pkg/server"
)

// ErrDisconnected is returned once the server has sent Disconnect.
var ErrDisconnected = errors.New("client: disconnected by server")

// DisconnectError carries the reason the server gave for closing.
type DisconnectError struct {
	Reason  protocol.DisconnectReason
	Message string
}

// Error returns the error message.
func (e *DisconnectError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("client: disconnected by server: %s: %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("client: disconnected by server: %s", e.Reason)
}

// Unwrap returns ErrDisconnected.
func (e *DisconnectError) Unwrap() error {
	return ErrDisconnected
}

// Config configures a Client.
type Config struct {
	// ClientName is sent in ConnectRequest.
	// Default: "realm-client".
	ClientName string

	// Locale is sent in ConnectRequest.
	// Default: "en-US".
	Locale string

	// ProtocolVersion is sent in ProtocolHandshake.
	// Default: "1.0.0".
	ProtocolVersion string

	// DialTimeout bounds connection setup.
	// Default: 5 seconds.
	DialTimeout time.Duration

	// MaxBodySize is the largest frame body accepted from the server.
	// Default: protocol.MaxBodySize.
	MaxBodySize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ClientName:      "realm-client",
		Locale:          "en-US",
		ProtocolVersion: "1.0.0",
		DialTimeout:     5 * time.Second,
		MaxBodySize:     protocol.MaxBodySize,
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.ClientName == "" {
		out.ClientName = d.ClientName
	}
	if out.Locale == "" {
		out.Locale = d.Locale
	}
	if out.ProtocolVersion == "" {
		out.ProtocolVersion = d.ProtocolVersion
	}
	if out.DialTimeout == 0 {
		out.DialTimeout = d.DialTimeout
	}
	if out.MaxBodySize == 0 {
		out.MaxBodySize = d.MaxBodySize
	}
	return &out
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRegistry sets the registry used to decode server packets.
func WithRegistry(r *protocol.Registry) Option {
	return func(c *Client) {
		if r != nil {
			c.registry = r
		}
	}
}

// Session describes the server after a completed handshake.
type Session struct {
	ConnectionID  server.ConnectionID
	ServerVersion string
	ServerName    string
	TickRate      uint16
	ServerTime    time.Time
}

// Client is a connection to a realm server. Send is safe for concurrent
// use; Receive, Ping and Handshake must be called from one goroutine at
// a time.
type Client struct {
	conn     net.Conn
	r        *bufio.Reader
	config   *Config
	registry *protocol.Registry
	logger   *slog.Logger

	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to a server over TCP. It does not start the handshake.
func Dial(ctx context.Context, addr string, config *Config, opts ...Option) (*Client, error) {
	cfg := config.withDefaults()
	d := net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return New(conn, cfg, opts...), nil
}

// DialWebSocket connects to a server's WebSocket bridge, e.g.
// "ws://localhost:8080/ws". It does not start the handshake.
func DialWebSocket(ctx context.Context, url string, config *Config, opts ...Option) (*Client, error) {
	cfg := config.withDefaults()
	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}
	return New(server.NewWebSocketConn(ws), cfg, opts...), nil
}

// New wraps an established connection.
func New(conn net.Conn, config *Config, opts ...Option) *Client {
	c := &Client{
		conn:     conn,
		r:        bufio.NewReader(conn),
		config:   config.withDefaults(),
		registry: protocol.NewDefaultRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "client", "remote_addr", conn.RemoteAddr().String())
	return c
}

// Handshake runs the protocol handshake and returns what the server
// announced. A server that refuses the client answers with a
// *DisconnectError.
func (c *Client) Handshake(ctx context.Context) (*Session, error) {
	defer c.bind(ctx)()

	if err := c.send(&protocol.ProtocolHandshake{ProtocolVersion: c.config.ProtocolVersion}); err != nil {
		return nil, err
	}
	pa, err := expect[*protocol.ProtocolAccepted](c)
	if err != nil {
		return nil, err
	}

	if err := c.send(&protocol.ConnectRequest{ClientName: c.config.ClientName, Locale: c.config.Locale}); err != nil {
		return nil, err
	}
	ca, err := expect[*protocol.ConnectAccepted](c)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ConnectionID:  server.ConnectionID(pa.ConnectionID),
		ServerVersion: pa.ServerVersion,
		ServerName:    ca.ServerName,
		TickRate:      ca.TickRate,
		ServerTime:    time.UnixMilli(ca.ServerTime),
	}
	c.logger.Debug("handshake complete", "conn_id", uint64(s.ConnectionID), "server_name", s.ServerName)
	return s, nil
}

// expect reads the next packet and requires it to be a P.
func expect[P protocol.Packet](c *Client) (P, error) {
	var zero P
	p, err := c.receive()
	if err != nil {
		return zero, err
	}
	got, ok := p.(P)
	if !ok {
		return zero, fmt.Errorf("client: expected %s, got %s", zero.Type(), p.Type())
	}
	return got, nil
}

// Send writes one packet.
func (c *Client) Send(p protocol.Packet) error {
	return c.send(p)
}

func (c *Client) send(p protocol.Packet) error {
	data, err := protocol.Encode(p)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("client: write %s: %w", p.Type(), err)
	}
	return nil
}

// Receive returns the next packet from the server. A Disconnect packet is
// returned as a *DisconnectError.
func (c *Client) Receive(ctx context.Context) (protocol.Packet, error) {
	defer c.bind(ctx)()
	return c.receive()
}

func (c *Client) receive() (protocol.Packet, error) {
	f, err := protocol.ReadFrame(c.r, c.config.MaxBodySize)
	if err != nil {
		return nil, fmt.Errorf("client: read: %w", err)
	}
	p, err := c.registry.DecodePacket(f)
	if err != nil {
		return nil, err
	}
	if d, ok := p.(*protocol.Disconnect); ok {
		return nil, &DisconnectError{Reason: d.Reason, Message: d.Message}
	}
	return p, nil
}

// Ping measures one round trip. Packets that arrive before the matching
// Pong are discarded.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	defer c.bind(ctx)()

	nonce := rand.Uint32()
	start := time.Now()
	if err := c.send(&protocol.Ping{Nonce: nonce, SentAt: start.UnixMilli()}); err != nil {
		return 0, err
	}

	for {
		p, err := c.receive()
		if err != nil {
			return 0, err
		}
		if pong, ok := p.(*protocol.Pong); ok && pong.Nonce == nonce {
			return time.Since(start), nil
		}
		c.logger.Debug("packet skipped while waiting for pong", "packet_type", p.Type().String())
	}
}

// Close sends Disconnect{ClientClosed} on a best-effort basis and closes
// the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.send(protocol.NewDisconnect(protocol.ReasonClientClosed, ""))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// bind applies ctx's deadline and cancellation to the connection until
// the returned func is called.
func (c *Client) bind(ctx context.Context) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	return func() {
		stop()
		_ = c.conn.SetDeadline(time.Time{})
	}
}

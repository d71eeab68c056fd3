package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/vango-dev/realm/pkg/protocol"
)

// Config holds configuration for the connection listener.
type Config struct {
	// Address

	// Host is the interface to bind. Empty binds all interfaces.
	// Default: "".
	Host string

	// Port is the TCP port to bind. 0 picks a free port.
	// Default: 7171.
	Port int

	// ReusePort sets SO_REUSEPORT on the listening socket where supported.
	// Default: false.
	ReusePort bool

	// Timeouts

	// ReadTimeout is the maximum time to wait for the next frame from a peer.
	// A peer that stays silent longer is disconnected with reason Timeout.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout bounds each socket write, including the best-effort
	// disconnect frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HandshakeTimeout is the time a new connection has to reach Connected.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// KeepAlivePeriod is the TCP keep-alive interval. Keep-alive is always
	// enabled on accepted sockets.
	// Default: 30 seconds.
	KeepAlivePeriod time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 15 seconds.
	ShutdownTimeout time.Duration

	// Limits

	// MaxBodySize is the largest frame body accepted or sent.
	// Default: protocol.MaxBodySize.
	MaxBodySize int

	// ReadBufferSize and WriteBufferSize size the socket buffers.
	// Default: protocol.MaxFrameSize.
	ReadBufferSize  int
	WriteBufferSize int

	// MaxConnections caps live connections. 0 means no limit.
	// Default: 0.
	MaxConnections int

	// OutboundQueueLimit is the number of frames that may wait in a
	// connection's outbound queue. A peer that falls further behind is
	// disconnected with reason SlowConsumer. 0 means no limit.
	// Default: 1024.
	OutboundQueueLimit int

	// Handshake

	// VersionConstraint is the semver constraint a client's protocol
	// version must satisfy.
	// Default: "^1.0.0".
	VersionConstraint string

	// ServerName is announced in ConnectAccepted.
	// Default: "realm".
	ServerName string

	// ServerVersion is announced in ProtocolAccepted.
	// Default: "1.0.0".
	ServerVersion string

	// TickRate is the server tick rate announced in ConnectAccepted.
	// Default: 20.
	TickRate uint16

	// WebSocket bridge

	// CheckOrigin validates the origin of WebSocket upgrade requests.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:               7171,
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       10 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		KeepAlivePeriod:    30 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		MaxBodySize:        protocol.MaxBodySize,
		ReadBufferSize:     protocol.MaxFrameSize,
		WriteBufferSize:    protocol.MaxFrameSize,
		OutboundQueueLimit: 1024,
		VersionConstraint:  "^1.0.0",
		ServerName:         "realm",
		ServerVersion:      "1.0.0",
		TickRate:           20,
		CheckOrigin:        SameOriginCheck,
	}
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header (e.g., native clients or curl)
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}

	return originURL.Host == host
}

// Address returns the host:port the listener binds.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// withDefaults returns a copy of c with zero values replaced by defaults.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := c.Clone()
	if out.ReadTimeout == 0 {
		out.ReadTimeout = d.ReadTimeout
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = d.HandshakeTimeout
	}
	if out.KeepAlivePeriod == 0 {
		out.KeepAlivePeriod = d.KeepAlivePeriod
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = d.ShutdownTimeout
	}
	if out.MaxBodySize == 0 {
		out.MaxBodySize = d.MaxBodySize
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = d.ReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = d.WriteBufferSize
	}
	if out.VersionConstraint == "" {
		out.VersionConstraint = d.VersionConstraint
	}
	if out.ServerName == "" {
		out.ServerName = d.ServerName
	}
	if out.ServerVersion == "" {
		out.ServerVersion = d.ServerVersion
	}
	if out.TickRate == 0 {
		out.TickRate = d.TickRate
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = d.CheckOrigin
	}
	return out
}

// Validate reports configuration values that make the listener unusable.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MaxBodySize < 0 || c.MaxBodySize > protocol.MaxBodySize {
		errs = append(errs, fmt.Errorf("max body size %d out of range (max %d)", c.MaxBodySize, protocol.MaxBodySize))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("max connections %d is negative", c.MaxConnections))
	}
	if c.OutboundQueueLimit < 0 {
		errs = append(errs, fmt.Errorf("outbound queue limit %d is negative", c.OutboundQueueLimit))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.VersionConstraint != "" {
		if _, err := semver.NewConstraint(c.VersionConstraint); err != nil {
			errs = append(errs, fmt.Errorf("version constraint %q: %w", c.VersionConstraint, err))
		}
	}
	if c.ServerVersion != "" {
		if _, err := semver.NewVersion(c.ServerVersion); err != nil {
			errs = append(errs, fmt.Errorf("server version %q: %w", c.ServerVersion, err))
		}
	}
	if len(c.ServerName) > protocol.MaxSmallStringLen {
		errs = append(errs, fmt.Errorf("server name is %d bytes (max %d)", len(c.ServerName), protocol.MaxSmallStringLen))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Warnings reports legal but suspicious configuration values.
func (c *Config) Warnings() []string {
	var warnings []string

	if c.MaxConnections == 0 {
		warnings = append(warnings, "MaxConnections is 0: the number of live connections is unbounded")
	}
	if c.OutboundQueueLimit == 0 {
		warnings = append(warnings, "OutboundQueueLimit is 0: a slow peer can queue unbounded outbound frames")
	}
	if c.ReadTimeout > 0 && c.ReadTimeout < time.Second {
		warnings = append(warnings, "ReadTimeout is under one second: idle peers will be dropped quickly")
	}
	if c.HandshakeTimeout > 0 && c.ReadTimeout > 0 && c.HandshakeTimeout > c.ReadTimeout {
		warnings = append(warnings, "HandshakeTimeout exceeds ReadTimeout: silent peers hit the read timeout first")
	}

	return warnings
}

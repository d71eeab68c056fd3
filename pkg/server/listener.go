package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/vango-dev/realm/pkg/protocol"
)

// Publisher receives decoded inbound packets. Publish runs on the
// connection's reader goroutine, so a slow publisher delays further reads
// from that connection.
type Publisher interface {
	Publish(ctx context.Context, id ConnectionID, p protocol.Packet)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, id ConnectionID, p protocol.Packet)

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, id ConnectionID, p protocol.Packet) {
	f(ctx, id, p)
}

// Observer is notified when connections open and close.
type Observer interface {
	ConnectionOpened(ctx context.Context, info ConnectionInfo)
	ConnectionClosed(ctx context.Context, id ConnectionID, reason protocol.DisconnectReason)
}

// Authenticator answers whether a connection has logged in. The listener
// only queries it; authentication state lives with the account service.
type Authenticator interface {
	IsAuthenticated(id ConnectionID) bool
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the listener's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithObserver registers a connection lifecycle observer.
func WithObserver(o Observer) Option {
	return func(l *Listener) {
		l.observer = o
	}
}

// WithAuthenticator sets the authenticator consulted before LoggedIn.
func WithAuthenticator(a Authenticator) Option {
	return func(l *Listener) {
		l.auth = a
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(l *Listener) {
		l.metrics = m
	}
}

// Listener owns the listening socket and the set of live connections, and
// bridges raw bytes to decoded packets and back.
type Listener struct {
	config    *Config
	registry  *protocol.Registry
	publisher Publisher
	observer  Observer
	auth      Authenticator
	metrics   *Metrics
	logger    *slog.Logger
	versions  *semver.Constraints

	conns  *connTable
	nextID atomic.Uint64

	mu     sync.Mutex // guards ln, closed and wg.Add
	ln     net.Listener
	closed bool

	baseCtx context.Context
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Listener. The registry is sealed: it must be fully
// populated before New is called.
func New(config *Config, registry *protocol.Registry, publisher Publisher, opts ...Option) (*Listener, error) {
	cfg := config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	versions, err := semver.NewConstraint(cfg.VersionConstraint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if registry == nil {
		registry = protocol.NewDefaultRegistry()
	}
	registry.Seal()

	if publisher == nil {
		publisher = PublisherFunc(func(context.Context, ConnectionID, protocol.Packet) {})
	}

	ctx, cancel := context.WithCancel(context.Background())

	l := &Listener{
		config:    cfg,
		registry:  registry,
		publisher: publisher,
		logger:    slog.Default(),
		versions:  versions,
		conns:     newConnTable(cfg.MaxConnections),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "listener")

	for _, w := range cfg.Warnings() {
		l.logger.Warn("config warning", "warning", w)
	}

	return l, nil
}

// Config returns the effective configuration.
func (l *Listener) Config() *Config {
	return l.config.Clone()
}

// Registry returns the packet registry.
func (l *Listener) Registry() *protocol.Registry {
	return l.registry
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled or Shutdown is called.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	return l.Start(ctx, l.config.Host, l.config.Port)
}

// Start binds host:port and blocks accepting connections until ctx is
// cancelled or Shutdown is called. It returns ErrListenerClosed after a
// clean shutdown.
func (l *Listener) Start(ctx context.Context, host string, port int) error {
	lc := net.ListenConfig{
		Control:   listenControl(l.config.ReusePort),
		KeepAlive: l.config.KeepAlivePeriod,
	}

	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln. Cancelling ctx shuts the listener down
// within Config.ShutdownTimeout.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		ln.Close()
		return ErrListenerClosed
	}
	if l.ln != nil {
		l.mu.Unlock()
		return ErrAlreadyServing
	}
	l.ln = ln
	l.mu.Unlock()

	l.logger.Info("listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), l.config.ShutdownTimeout)
		defer cancel()
		if err := l.Shutdown(sctx); err != nil {
			l.logger.Warn("shutdown incomplete", "error", err)
		}
	})
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.isClosed() {
				return ErrListenerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("server: accept: %w", err)
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			l.logger.Warn("accept error", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if _, err := l.Adopt(conn, "tcp"); err != nil {
			l.logger.Warn("connection refused", "remote_addr", remoteString(conn), "error", err)
		}
	}
}

// Addr returns the bound address, or nil before Serve.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Adopt turns an established stream into a live Connection in state Open
// and starts its reader and writer. The server sends nothing until the
// client starts the handshake.
func (l *Listener) Adopt(conn net.Conn, transport string) (*Connection, error) {
	l.tuneSocket(conn)

	id := ConnectionID(l.nextID.Add(1))
	c := newConnection(l, id, conn, transport)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		c.cancel()
		conn.Close()
		return nil, ErrListenerClosed
	}
	if err := l.conns.add(c); err != nil {
		l.wg.Add(1)
		l.mu.Unlock()
		c.cancel()
		l.metrics.connectionDenied()
		go l.refuse(conn, protocol.ReasonServerFull, "server is full")
		return nil, err
	}
	l.wg.Add(2)
	l.mu.Unlock()

	l.metrics.connectionOpened()
	go c.writeLoop()
	go c.readLoop()

	c.logger.Info("connection opened")
	if l.observer != nil {
		l.observer.ConnectionOpened(c.ctx, c.Info())
	}

	// Armed only once the connection is live and its workers run, so an
	// expiry always finds it in the table.
	if l.config.HandshakeTimeout > 0 {
		c.armHandshakeTimer(l.config.HandshakeTimeout, func() {
			l.handshakeExpired(c)
		})
	}
	return c, nil
}

// refuse sends a best-effort Disconnect to a connection that never became
// live, then closes it.
func (l *Listener) refuse(conn net.Conn, reason protocol.DisconnectReason, message string) {
	defer l.wg.Done()
	defer conn.Close()

	data, err := protocol.Encode(protocol.NewDisconnect(reason, message))
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout))
	_, _ = conn.Write(data)
}

func (l *Listener) tuneSocket(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}

	errs := []error{
		tcp.SetKeepAlive(true),
		tcp.SetKeepAlivePeriod(l.config.KeepAlivePeriod),
		tcp.SetNoDelay(true),
		tcp.SetReadBuffer(l.config.ReadBufferSize),
		tcp.SetWriteBuffer(l.config.WriteBufferSize),
	}
	if err := errors.Join(errs...); err != nil {
		l.logger.Debug("socket tuning failed", "remote_addr", remoteString(conn), "error", err)
	}
}

// Connection returns the live connection with the given id.
func (l *Listener) Connection(id ConnectionID) (*Connection, bool) {
	c := l.conns.get(id)
	return c, c != nil
}

// Connections returns a snapshot of all live connections ordered by id.
func (l *Listener) Connections() []ConnectionInfo {
	conns := l.conns.snapshot()
	infos := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.Info())
	}
	return infos
}

// Count returns the number of live connections.
func (l *Listener) Count() int {
	return l.conns.count()
}

// Stats returns live-connection statistics.
func (l *Listener) Stats() Stats {
	return l.conns.stats()
}

// Send queues p for connection id. Sending to an unknown or closed id is a
// no-op. See Connection.Send for state checks and the urgent flag.
func (l *Listener) Send(id ConnectionID, p protocol.Packet, urgent bool) error {
	c := l.conns.get(id)
	if c == nil {
		return nil
	}
	return c.Send(p, urgent)
}

// Broadcast sends p to every live connection whose state admits it. The
// packet is encoded once. A failure on one peer does not stop delivery to
// the others; all failures are joined into the returned error. With urgent
// set, Broadcast waits until every frame has been written.
func (l *Listener) Broadcast(p protocol.Packet, urgent bool) error {
	data, err := protocol.EncodeWithLimit(p, l.config.MaxBodySize)
	if err != nil {
		return err
	}
	pt := p.Type()

	var (
		errs    []error
		pending []*outbound
	)
	for _, c := range l.conns.snapshot() {
		if !Admits(c.State(), pt) {
			continue
		}
		item, err := c.push(data, pt, urgent)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if item != nil {
			pending = append(pending, item)
		}
	}

	for _, item := range pending {
		if err := item.wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Disconnect closes connection id, first sending reason on a best-effort
// basis. A nil reason sends ReasonNormal. Disconnecting an unknown or
// already closed id is a no-op. It reports whether this call closed the
// connection.
func (l *Listener) Disconnect(id ConnectionID, reason *protocol.Disconnect) bool {
	c := l.conns.get(id)
	if c == nil {
		return false
	}
	if reason == nil {
		reason = protocol.NewDisconnect(protocol.ReasonNormal, "")
	}
	return l.disconnect(c, reason.Reason, reason.Message)
}

// disconnect is the single close path for a connection. The first caller
// moves it to Disconnected, removes it from the live set, lets the writer
// flush the reason frame, closes the socket and notifies the observer.
// Later callers return false immediately.
func (l *Listener) disconnect(c *Connection, reason protocol.DisconnectReason, message string) bool {
	prev, ok := c.markDisconnected()
	if !ok {
		return false
	}
	c.reason.Store(uint32(reason))
	c.stopHandshakeTimer()
	l.conns.remove(c.id)
	l.metrics.connectionClosed(reason)

	final, err := protocol.EncodeWithLimit(protocol.NewDisconnect(reason, message), l.config.MaxBodySize)
	if err != nil {
		c.logger.Debug("disconnect message dropped", "error", err)
		final, _ = protocol.Encode(protocol.NewDisconnect(reason, ""))
	}
	c.beginClose(final)

	timer := time.NewTimer(l.config.WriteTimeout + time.Second)
	select {
	case <-c.writerDone:
	case <-timer.C:
		c.logger.Warn("writer did not finish before close")
	}
	timer.Stop()
	c.closeSocket()
	c.cancel()

	c.logger.Info("connection closed",
		"reason", reason.String(),
		"state", prev.String(),
		"packets_in", c.packetsIn.Load(),
		"packets_out", c.packetsOut.Load(),
		"bytes_in", c.bytesIn.Load(),
		"bytes_out", c.bytesOut.Load())

	if l.observer != nil {
		l.observer.ConnectionClosed(context.WithoutCancel(c.ctx), c.id, reason)
	}
	return true
}

// Transition moves connection id to state to. It is how application logic
// drives Connected -> LoggedIn after a successful login, and LoggedIn ->
// Connected after a logout. Moving to LoggedIn requires the authenticator,
// when one is configured, to vouch for the connection. Moving to
// Disconnected is the same as Disconnect with ReasonNormal.
func (l *Listener) Transition(id ConnectionID, to State) error {
	c := l.conns.get(id)
	if c == nil {
		return fmt.Errorf("%w: %d", ErrConnectionNotFound, id)
	}

	if to == StateDisconnected {
		l.disconnect(c, protocol.ReasonNormal, "")
		return nil
	}

	if to == StateLoggedIn && l.auth != nil && !l.auth.IsAuthenticated(id) {
		return NewConnectionError(id, "transition", ErrNotAuthenticated)
	}

	from := c.State()
	if !c.transition(from, to) {
		return &StateError{
			ID:       id,
			Op:       "transition to " + to.String(),
			State:    c.State(),
			Required: predecessor(to),
		}
	}

	c.logger.Debug("state changed", "from", from.String(), "to", to.String())
	return nil
}

// predecessor returns the state a connection must hold to move to s.
func predecessor(s State) State {
	switch s {
	case StateProtocol:
		return StateOpen
	case StateConnected:
		return StateProtocol
	case StateLoggedIn:
		return StateConnected
	default:
		return StateDisconnected
	}
}

// publish hands p to the publisher. A panicking publisher is logged and
// does not take the reader down.
func (l *Listener) publish(c *Connection, p protocol.Packet) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("publisher panic",
				"packet_type", p.Type().String(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	l.publisher.Publish(c.ctx, c.id, p)
}

// Shutdown stops accepting, disconnects every live connection with
// ReasonServerShutdown and waits for their goroutines to exit.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	ln := l.ln
	l.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	conns := l.conns.snapshot()
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			l.disconnect(c, protocol.ReasonServerShutdown, "server shutting down")
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.cancel()
		l.logger.Info("listener stopped", "disconnected", len(conns))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

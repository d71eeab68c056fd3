package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/vango-dev/realm/pkg/protocol"
)

// ConnectionID identifies a connection. Ids are assigned from a process-wide
// counter and never reused.
type ConnectionID uint64

// outbound is one encoded frame waiting in a connection's write queue.
type outbound struct {
	data   []byte
	pt     protocol.PacketType
	result chan error // nil unless the sender waits for the write
}

func (o *outbound) finish(err error) {
	if o.result != nil {
		o.result <- err
	}
}

// wait blocks until the frame has been written or dropped.
func (o *outbound) wait() error {
	if o == nil || o.result == nil {
		return nil
	}
	return <-o.result
}

// Connection is one remote peer. It owns its socket: only the listener
// closes it, and application code refers to it by ID.
//
// Each connection runs two goroutines. The reader decodes inbound frames
// and hands packets to the listener; it is the only reader of the socket.
// The writer drains the outbound FIFO; it is the only writer of the
// socket, so frames go out in the order Send was called.
type Connection struct {
	id        ConnectionID
	conn      net.Conn
	transport string
	openedAt  time.Time
	listener  *Listener
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state  atomic.Uint32 // State
	reason atomic.Uint32 // protocol.DisconnectReason, set once Disconnected

	mu             sync.Mutex // guards out, final, clientName, handshakeTimer
	out            *queue.Queue
	final          []byte // disconnect frame, written after the queue drains
	clientName     string
	handshakeTimer *time.Timer

	wake       chan struct{}
	closing    chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	lastActive atomic.Int64
}

// ConnectionInfo is a point-in-time view of a connection.
type ConnectionInfo struct {
	ID         ConnectionID `json:"id"`
	RemoteAddr string       `json:"remote_addr"`
	Transport  string       `json:"transport"`
	State      string       `json:"state"`
	ClientName string       `json:"client_name,omitempty"`
	OpenedAt   time.Time    `json:"opened_at"`
	LastActive time.Time    `json:"last_active"`
	PacketsIn  uint64       `json:"packets_in"`
	PacketsOut uint64       `json:"packets_out"`
	BytesIn    uint64       `json:"bytes_in"`
	BytesOut   uint64       `json:"bytes_out"`
	Queued     int          `json:"queued"`
}

func newConnection(l *Listener, id ConnectionID, conn net.Conn, transport string) *Connection {
	ctx, cancel := context.WithCancel(l.baseCtx)
	now := time.Now()

	c := &Connection{
		id:         id,
		conn:       conn,
		transport:  transport,
		openedAt:   now,
		listener:   l,
		ctx:        ctx,
		cancel:     cancel,
		out:        queue.New(),
		wake:       make(chan struct{}, 1),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	c.logger = l.logger.With("conn_id", uint64(id), "remote_addr", remoteString(conn), "transport", transport)
	c.state.Store(uint32(StateOpen))
	c.lastActive.Store(now.UnixNano())
	return c
}

// ID returns the connection id.
func (c *Connection) ID() ConnectionID {
	return c.id
}

// State returns the current connection state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Reason returns why the connection was closed. It is only meaningful once
// State reports Disconnected.
func (c *Connection) Reason() protocol.DisconnectReason {
	return protocol.DisconnectReason(c.reason.Load())
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Transport returns "tcp" or "websocket".
func (c *Connection) Transport() string {
	return c.transport
}

// Context returns a context that is cancelled when the connection closes.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// ClientName returns the name the client announced in ConnectRequest.
func (c *Connection) ClientName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientName
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() ConnectionInfo {
	c.mu.Lock()
	queued := c.out.Length()
	name := c.clientName
	c.mu.Unlock()

	return ConnectionInfo{
		ID:         c.id,
		RemoteAddr: remoteString(c.conn),
		Transport:  c.transport,
		State:      c.State().String(),
		ClientName: name,
		OpenedAt:   c.openedAt,
		LastActive: time.Unix(0, c.lastActive.Load()),
		PacketsIn:  c.packetsIn.Load(),
		PacketsOut: c.packetsOut.Load(),
		BytesIn:    c.bytesIn.Load(),
		BytesOut:   c.bytesOut.Load(),
		Queued:     queued,
	}
}

// Send encodes p and queues it for this connection.
//
// Sending on a closed connection is a no-op. A packet whose type is not
// admitted in the current state fails with ErrInvalidState before anything
// is queued. With urgent set, Send waits until the frame has been written
// and returns the write error; otherwise it returns once the frame is
// queued.
func (c *Connection) Send(p protocol.Packet, urgent bool) error {
	state := c.State()
	if !state.Live() {
		return nil
	}
	if !Admits(state, p.Type()) {
		return &StateError{
			ID:       c.id,
			Op:       "send",
			Packet:   p.Type(),
			State:    state,
			Required: RequiredState(p.Type()),
		}
	}

	data, err := protocol.EncodeWithLimit(p, c.listener.config.MaxBodySize)
	if err != nil {
		return err
	}

	item, err := c.push(data, p.Type(), urgent)
	if err != nil {
		return err
	}
	return item.wait()
}

// transition moves the connection from one live state to another.
func (c *Connection) transition(from, to State) bool {
	if !validTransition(from, to) {
		return false
	}
	return c.state.CompareAndSwap(uint32(from), uint32(to))
}

// markDisconnected moves the connection to Disconnected. Only the first
// caller succeeds; it gets the state the connection was in.
func (c *Connection) markDisconnected() (State, bool) {
	for {
		prev := c.State()
		if !prev.Live() {
			return prev, false
		}
		if c.state.CompareAndSwap(uint32(prev), uint32(StateDisconnected)) {
			return prev, true
		}
	}
}

// push appends an encoded frame to the outbound queue and wakes the writer.
// It returns a nil item once the connection is closing.
func (c *Connection) push(data []byte, pt protocol.PacketType, wait bool) (*outbound, error) {
	item := &outbound{data: data, pt: pt}
	if wait {
		item.result = make(chan error, 1)
	}

	c.mu.Lock()
	select {
	case <-c.closing:
		c.mu.Unlock()
		return nil, nil
	default:
	}
	if limit := c.listener.config.OutboundQueueLimit; limit > 0 && c.out.Length() >= limit {
		c.mu.Unlock()
		go c.listener.disconnect(c, protocol.ReasonSlowConsumer, "outbound queue full")
		return nil, NewConnectionError(c.id, "send", ErrSlowConsumer)
	}
	c.out.Add(item)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return item, nil
}

// armHandshakeTimer runs expire after d unless the handshake completes or
// the connection closes first.
func (c *Connection) armHandshakeTimer(d time.Duration, expire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() >= StateConnected || c.isClosing() {
		return
	}
	c.handshakeTimer = time.AfterFunc(d, expire)
}

func (c *Connection) stopHandshakeTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
		c.handshakeTimer = nil
	}
}

// beginClose stores the disconnect frame and tells the writer to finish.
func (c *Connection) beginClose(final []byte) {
	c.mu.Lock()
	c.final = final
	close(c.closing)
	c.mu.Unlock()
}

func (c *Connection) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// writeLoop is the connection's only socket writer.
func (c *Connection) writeLoop() {
	defer c.listener.wg.Done()
	defer close(c.writerDone)
	defer c.closeSocket()

	for {
		select {
		case <-c.wake:
			if err := c.flush(); err != nil {
				c.logger.Warn("write failed", "error", err)
				c.listener.metrics.writeFailed()
				go c.listener.disconnect(c, protocol.ReasonIOError, "write failed")
				<-c.closing
				c.drain(false)
				return
			}

		case <-c.closing:
			c.drain(true)
			return
		}
	}
}

// flush writes queued frames until the queue is empty or the connection
// starts closing.
func (c *Connection) flush() error {
	for !c.isClosing() {
		c.mu.Lock()
		if c.out.Length() == 0 {
			c.mu.Unlock()
			return nil
		}
		item := c.out.Remove().(*outbound)
		c.mu.Unlock()

		deadline := time.Now().Add(c.listener.config.WriteTimeout)
		if err := c.write(item, deadline); err != nil {
			err = NewConnectionError(c.id, "write", err)
			item.finish(err)
			return err
		}
		item.finish(nil)
	}
	return nil
}

// drain runs once the connection is closing. Queued frames are written
// ahead of the disconnect frame, all within a single write timeout; with
// healthy unset the socket has already failed and queued frames are
// dropped.
func (c *Connection) drain(healthy bool) {
	c.mu.Lock()
	pending := make([]*outbound, 0, c.out.Length())
	for c.out.Length() > 0 {
		pending = append(pending, c.out.Remove().(*outbound))
	}
	final := c.final
	c.mu.Unlock()

	deadline := time.Now().Add(c.listener.config.WriteTimeout)
	for _, item := range pending {
		if !healthy {
			item.finish(ErrConnectionClosed)
			continue
		}
		if err := c.write(item, deadline); err != nil {
			healthy = false
			item.finish(NewConnectionError(c.id, "write", err))
			continue
		}
		item.finish(nil)
	}

	if healthy && len(final) > 0 {
		item := &outbound{data: final, pt: protocol.TypeDisconnect}
		if err := c.write(item, deadline); err != nil {
			c.logger.Debug("disconnect frame not delivered", "error", err)
		}
	}
}

func (c *Connection) write(item *outbound, deadline time.Time) error {
	_ = c.conn.SetWriteDeadline(deadline)
	n, err := c.conn.Write(item.data)
	c.bytesOut.Add(uint64(n))
	if err != nil {
		return err
	}
	c.packetsOut.Add(1)
	c.listener.metrics.packetSent(item.pt, len(item.data))
	return nil
}

func (c *Connection) closeSocket() {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debug("close error", "error", err)
		}
	})
}

// readLoop is the connection's only socket reader. It reads whole frames,
// decodes them and hands them to the listener until the socket fails or
// the connection is closed.
func (c *Connection) readLoop() {
	defer c.listener.wg.Done()

	l := c.listener
	r := bufio.NewReaderSize(c.conn, l.config.ReadBufferSize)

	for {
		if l.config.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(l.config.ReadTimeout))
		}

		f, err := protocol.ReadFrame(r, l.config.MaxBodySize)
		if err != nil {
			if c.State().Live() {
				reason := readFailureReason(err)
				c.logger.Debug("read failed", "reason", reason.String(), "error", err)
				l.disconnect(c, reason, readFailureMessage(reason))
			}
			return
		}

		c.lastActive.Store(time.Now().UnixNano())
		c.packetsIn.Add(1)
		c.bytesIn.Add(uint64(f.Len()))

		p, err := l.registry.DecodePacket(f)
		if err != nil {
			cause := dropMalformed
			if errors.Is(err, protocol.ErrUnknownPacketType) {
				cause = dropUnknownType
			}
			c.logger.Warn("frame discarded", "packet_type", f.Type.String(), "cause", cause, "error", err)
			l.metrics.frameReceived(f.Len())
			l.metrics.packetDropped(cause)
			continue
		}

		l.metrics.packetReceived(f.Type, f.Len())
		l.handlePacket(c, p)
	}
}

// readFailureReason maps a failed frame read to a disconnect reason.
func readFailureReason(err error) protocol.DisconnectReason {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		return protocol.ReasonClientClosed
	case errors.Is(err, protocol.ErrFrameTooLarge), errors.Is(err, protocol.ErrMalformedFrame):
		return protocol.ReasonProtocolError
	case errors.As(err, &ne) && ne.Timeout():
		return protocol.ReasonTimeout
	default:
		return protocol.ReasonIOError
	}
}

func readFailureMessage(reason protocol.DisconnectReason) string {
	switch reason {
	case protocol.ReasonProtocolError:
		return "malformed frame"
	case protocol.ReasonTimeout:
		return "read timeout"
	default:
		return ""
	}
}

func remoteString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

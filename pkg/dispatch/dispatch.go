package dispatch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/vango-dev/realm/pkg/protocol"
	"github.com/vango-dev/realm/pkg/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "realm"

var (
	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("dispatch: nil handler")

	// ErrStop may be returned by a handler to skip the remaining,
	// lower-priority handlers for this packet. It is not counted as a
	// failure.
	ErrStop = errors.New("dispatch: stop propagation")
)

// Priority orders handlers for one packet: higher values run first, and
// handlers with equal priority run in subscription order.
type Priority int

const (
	PriorityLowest  Priority = -200
	PriorityLow     Priority = -100
	PriorityNormal  Priority = 0
	PriorityHigh    Priority = 100
	PriorityHighest Priority = 200
)

// Event is one inbound packet from one connection.
type Event struct {
	ConnectionID server.ConnectionID
	Packet       protocol.Packet
	Received     time.Time
}

// Handler handles inbound packets. It runs on the sending connection's
// reader goroutine, so it must return quickly.
type Handler func(ctx context.Context, ev Event) error

// ConnectionEventKind says whether a connection opened or closed.
type ConnectionEventKind uint8

const (
	ConnectionOpened ConnectionEventKind = iota
	ConnectionClosed
)

// String returns the string representation of the kind.
func (k ConnectionEventKind) String() string {
	if k == ConnectionOpened {
		return "opened"
	}
	return "closed"
}

// ConnectionEvent reports a connection lifecycle change. Info is set for
// ConnectionOpened and Reason for ConnectionClosed.
type ConnectionEvent struct {
	Kind         ConnectionEventKind
	ConnectionID server.ConnectionID
	Info         server.ConnectionInfo
	Reason       protocol.DisconnectReason
}

// ConnectionHandler receives connection lifecycle events.
type ConnectionHandler func(ctx context.Context, ev ConnectionEvent)

// subscriber is one registered packet handler.
type subscriber struct {
	sub      *Subscription
	priority Priority
	seq      uint64
	handler  Handler
}

// Subscription is a handle on a registered handler.
type Subscription struct {
	d    *Dispatcher
	once sync.Once
}

// Unsubscribe removes the handler. It is safe to call more than once and
// from inside a handler; a publish already in progress may still call it.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.d.remove(s) })
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTracerName sets the OpenTelemetry tracer name (default: "realm").
// The tracer comes from the global provider.
func WithTracerName(name string) Option {
	return func(d *Dispatcher) {
		d.tracerName = name
	}
}

// WithMetrics records dispatch metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher fans inbound packets out to priority-ordered handlers. It
// implements server.Publisher and server.Observer.
//
// Handlers subscribe to one packet type, one category, or everything.
// For each packet the matching handlers run in priority order. A handler
// error is logged and counted and the remaining handlers still run,
// unless the error is ErrStop. A panicking handler is recovered.
type Dispatcher struct {
	logger     *slog.Logger
	tracerName string
	tracer     trace.Tracer
	metrics    *Metrics

	mu         sync.RWMutex
	seq        uint64
	byType     map[protocol.PacketType][]subscriber
	byCategory map[protocol.Category][]subscriber
	all        []subscriber
	conns      []connSubscriber
}

type connSubscriber struct {
	sub     *Subscription
	handler ConnectionHandler
}

var (
	_ server.Publisher = (*Dispatcher)(nil)
	_ server.Observer  = (*Dispatcher)(nil)
)

// New creates a Dispatcher with no handlers.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:     slog.Default(),
		tracerName: defaultTracerName,
		byType:     make(map[protocol.PacketType][]subscriber),
		byCategory: make(map[protocol.Category][]subscriber),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "dispatch")
	d.tracer = otel.Tracer(d.tracerName)
	return d
}

// Subscribe registers h for packets of type pt.
func (d *Dispatcher) Subscribe(pt protocol.PacketType, priority Priority, h Handler) (*Subscription, error) {
	return d.add(h, priority, func(s subscriber) {
		d.byType[pt] = insert(d.byType[pt], s)
	})
}

// SubscribeCategory registers h for every packet type in category c.
func (d *Dispatcher) SubscribeCategory(c protocol.Category, priority Priority, h Handler) (*Subscription, error) {
	return d.add(h, priority, func(s subscriber) {
		d.byCategory[c] = insert(d.byCategory[c], s)
	})
}

// SubscribeAll registers h for every packet.
func (d *Dispatcher) SubscribeAll(priority Priority, h Handler) (*Subscription, error) {
	return d.add(h, priority, func(s subscriber) {
		d.all = insert(d.all, s)
	})
}

// On registers a handler for packets of Go type P, which must be a
// pointer packet type such as *protocol.ChatMessage.
//
//	dispatch.On(d, dispatch.PriorityNormal, func(ctx context.Context, id server.ConnectionID, m *protocol.ChatMessage) error {
//		return chat.Relay(id, m)
//	})
func On[P protocol.Packet](d *Dispatcher, priority Priority, fn func(ctx context.Context, id server.ConnectionID, p P) error) (*Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	var zero P
	return d.Subscribe(zero.Type(), priority, func(ctx context.Context, ev Event) error {
		p, ok := ev.Packet.(P)
		if !ok {
			return fmt.Errorf("dispatch: packet %s is %T", ev.Packet.Type(), ev.Packet)
		}
		return fn(ctx, ev.ConnectionID, p)
	})
}

// OnConnection registers h for connection lifecycle events.
func (d *Dispatcher) OnConnection(h ConnectionHandler) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	sub := &Subscription{d: d}
	d.mu.Lock()
	d.conns = append(d.conns, connSubscriber{sub: sub, handler: h})
	d.mu.Unlock()
	return sub, nil
}

func (d *Dispatcher) add(h Handler, priority Priority, place func(subscriber)) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	sub := &Subscription{d: d}

	d.mu.Lock()
	d.seq++
	place(subscriber{sub: sub, priority: priority, seq: d.seq, handler: h})
	d.mu.Unlock()
	return sub, nil
}

// insert adds s keeping list sorted by priority, then subscription order.
func insert(list []subscriber, s subscriber) []subscriber {
	i, _ := slices.BinarySearchFunc(list, s, compareSubscribers)
	return slices.Insert(list, i, s)
}

func compareSubscribers(a, b subscriber) int {
	if c := cmp.Compare(b.priority, a.priority); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

func (d *Dispatcher) remove(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	drop := func(list []subscriber) []subscriber {
		return slices.DeleteFunc(list, func(s subscriber) bool { return s.sub == sub })
	}
	for pt, list := range d.byType {
		if list = drop(list); len(list) == 0 {
			delete(d.byType, pt)
		} else {
			d.byType[pt] = list
		}
	}
	for c, list := range d.byCategory {
		if list = drop(list); len(list) == 0 {
			delete(d.byCategory, c)
		} else {
			d.byCategory[c] = list
		}
	}
	d.all = drop(d.all)
	d.conns = slices.DeleteFunc(d.conns, func(s connSubscriber) bool { return s.sub == sub })
}

// handlers returns the handlers for pt in run order.
func (d *Dispatcher) handlers(pt protocol.PacketType) []subscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byType := d.byType[pt]
	byCategory := d.byCategory[pt.Category()]
	if len(byCategory) == 0 && len(d.all) == 0 {
		return slices.Clone(byType)
	}

	out := make([]subscriber, 0, len(byType)+len(byCategory)+len(d.all))
	out = append(out, byType...)
	out = append(out, byCategory...)
	out = append(out, d.all...)
	slices.SortFunc(out, compareSubscribers)
	return out
}

// Count returns the number of packet handlers that would run for pt.
func (d *Dispatcher) Count(pt protocol.PacketType) int {
	return len(d.handlers(pt))
}

// Publish implements server.Publisher.
func (d *Dispatcher) Publish(ctx context.Context, id server.ConnectionID, p protocol.Packet) {
	pt := p.Type()
	subs := d.handlers(pt)

	if len(subs) == 0 {
		d.logger.Debug("unhandled packet", "conn_id", uint64(id), "packet_type", pt.String())
		d.metrics.unhandled(pt)
		return
	}

	ctx, span := d.tracer.Start(ctx, "realm.packet "+pt.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int64("realm.connection_id", int64(id)),
			attribute.String("realm.packet_type", pt.String()),
			attribute.String("realm.packet_category", pt.Category().String()),
		),
	)
	defer span.End()

	ev := Event{ConnectionID: id, Packet: p, Received: time.Now()}
	start := ev.Received

	var (
		ran    int
		failed []error
	)
	for _, s := range subs {
		ran++
		err := d.call(ctx, s, ev)
		if errors.Is(err, ErrStop) {
			break
		}
		if err != nil {
			failed = append(failed, err)
			d.logger.Warn("handler failed",
				"conn_id", uint64(id),
				"packet_type", pt.String(),
				"priority", int(s.priority),
				"error", err)
			d.metrics.handlerFailed(pt)
		}
	}

	span.SetAttributes(attribute.Int("realm.handler_count", ran))
	if err := errors.Join(failed...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	d.metrics.dispatched(pt, time.Since(start))
}

// call runs one handler, turning a panic into an error.
func (d *Dispatcher) call(ctx context.Context, s subscriber, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				"conn_id", uint64(ev.ConnectionID),
				"packet_type", ev.Packet.Type().String(),
				"panic", r,
				"stack", string(debug.Stack()))
			d.metrics.handlerPanicked(ev.Packet.Type())
			err = fmt.Errorf("dispatch: handler panic: %v", r)
		}
	}()
	return s.handler(ctx, ev)
}

// ConnectionOpened implements server.Observer.
func (d *Dispatcher) ConnectionOpened(ctx context.Context, info server.ConnectionInfo) {
	d.notify(ctx, ConnectionEvent{Kind: ConnectionOpened, ConnectionID: info.ID, Info: info})
}

// ConnectionClosed implements server.Observer.
func (d *Dispatcher) ConnectionClosed(ctx context.Context, id server.ConnectionID, reason protocol.DisconnectReason) {
	d.notify(ctx, ConnectionEvent{Kind: ConnectionClosed, ConnectionID: id, Reason: reason})
}

func (d *Dispatcher) notify(ctx context.Context, ev ConnectionEvent) {
	d.mu.RLock()
	subs := slices.Clone(d.conns)
	d.mu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("connection handler panic",
						"conn_id", uint64(ev.ConnectionID),
						"event", ev.Kind.String(),
						"panic", r,
						"stack", string(debug.Stack()))
				}
			}()
			s.handler(ctx, ev)
		}()
	}
}

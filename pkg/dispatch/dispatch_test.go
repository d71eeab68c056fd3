package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/vango-dev/realm/pkg/protocol"
	"github.com/vango-dev/realm/pkg/server"
	"go.opentelemetry.io/otel/trace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

// recordTo returns a handler that appends name to calls.
func recordTo(calls *[]string, name string) Handler {
	return func(context.Context, Event) error {
		*calls = append(*calls, name)
		return nil
	}
}

func TestPriorityOrder(t *testing.T) {
	d := New(WithLogger(testLogger()))

	var calls []string
	d.Subscribe(protocol.TypeChatMessage, PriorityLow, recordTo(&calls, "low"))
	d.Subscribe(protocol.TypeChatMessage, PriorityHighest, recordTo(&calls, "highest"))
	d.Subscribe(protocol.TypeChatMessage, PriorityNormal, recordTo(&calls, "normal_1"))
	d.Subscribe(protocol.TypeChatMessage, PriorityNormal, recordTo(&calls, "normal_2"))
	d.SubscribeCategory(protocol.CategorySession, PriorityHigh, recordTo(&calls, "category"))
	d.SubscribeAll(PriorityLowest, recordTo(&calls, "all"))
	d.Subscribe(protocol.TypePing, PriorityHighest, recordTo(&calls, "other_type"))

	d.Publish(context.Background(), 1, &protocol.ChatMessage{Text: "hi"})

	want := []string{"highest", "category", "normal_1", "normal_2", "low", "all"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if got := d.Count(protocol.TypeChatMessage); got != 6 {
		t.Errorf("Count() = %d, want 6", got)
	}
}

func TestTypedSubscription(t *testing.T) {
	d := New(WithLogger(testLogger()))

	var got *protocol.LoginRequest
	var from server.ConnectionID
	_, err := On(d, PriorityNormal, func(_ context.Context, id server.ConnectionID, req *protocol.LoginRequest) error {
		got, from = req, id
		return nil
	})
	if err != nil {
		t.Fatalf("On() error = %v", err)
	}

	d.Publish(context.Background(), 42, &protocol.ChatMessage{})
	if got != nil {
		t.Fatal("typed handler ran for another packet type")
	}

	d.Publish(context.Background(), 42, &protocol.LoginRequest{Username: "alice"})
	if got == nil || got.Username != "alice" || from != 42 {
		t.Errorf("handler got %+v from %d", got, from)
	}
}

func TestErrorsDoNotStopOtherHandlers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "")
	d := New(WithLogger(testLogger()), WithMetrics(m))

	var calls []string
	d.Subscribe(protocol.TypePing, PriorityHigh, func(context.Context, Event) error {
		calls = append(calls, "failing")
		return errors.New("nope")
	})
	d.Subscribe(protocol.TypePing, PriorityNormal, func(context.Context, Event) error {
		calls = append(calls, "panicking")
		panic("boom")
	})
	d.Subscribe(protocol.TypePing, PriorityLow, recordTo(&calls, "last"))

	d.Publish(context.Background(), 1, &protocol.Ping{})

	if want := []string{"failing", "panicking", "last"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if got := metricCounterValue(t, m.failures.WithLabelValues("Ping")); got != 2 {
		t.Errorf("handler_errors_total = %v, want 2", got)
	}
	if got := metricCounterValue(t, m.panics.WithLabelValues("Ping")); got != 1 {
		t.Errorf("handler_panics_total = %v, want 1", got)
	}
	if got := metricCounterValue(t, m.packets.WithLabelValues("Ping")); got != 1 {
		t.Errorf("packets_total = %v, want 1", got)
	}
}

func TestStopPropagation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")
	d := New(WithLogger(testLogger()), WithMetrics(m))

	var calls []string
	d.Subscribe(protocol.TypeChatMessage, PriorityHigh, func(context.Context, Event) error {
		calls = append(calls, "filter")
		return ErrStop
	})
	d.Subscribe(protocol.TypeChatMessage, PriorityNormal, recordTo(&calls, "relay"))

	d.Publish(context.Background(), 1, &protocol.ChatMessage{})

	if want := []string{"filter"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if got := metricCounterValue(t, m.failures.WithLabelValues("ChatMessage")); got != 0 {
		t.Errorf("ErrStop counted as failure: %v", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	d := New(WithLogger(testLogger()))

	var calls []string
	keep, _ := d.Subscribe(protocol.TypePing, PriorityNormal, recordTo(&calls, "keep"))
	drop, _ := d.SubscribeCategory(protocol.CategoryInformational, PriorityNormal, recordTo(&calls, "drop"))
	_ = keep

	drop.Unsubscribe()
	drop.Unsubscribe()

	d.Publish(context.Background(), 1, &protocol.Ping{})
	if want := []string{"keep"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestUnsubscribeFromHandler(t *testing.T) {
	d := New(WithLogger(testLogger()))

	runs := 0
	var sub *Subscription
	sub, _ = d.Subscribe(protocol.TypePing, PriorityNormal, func(context.Context, Event) error {
		runs++
		sub.Unsubscribe()
		return nil
	})

	d.Publish(context.Background(), 1, &protocol.Ping{})
	d.Publish(context.Background(), 1, &protocol.Ping{})

	if runs != 1 {
		t.Errorf("one-shot handler ran %d times", runs)
	}
}

func TestUnhandledPackets(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "")
	d := New(WithLogger(testLogger()), WithMetrics(m))

	d.Publish(context.Background(), 1, &protocol.Logout{})

	if got := metricCounterValue(t, m.orphans.WithLabelValues("Logout")); got != 1 {
		t.Errorf("unhandled_total = %v, want 1", got)
	}
}

func TestNilHandler(t *testing.T) {
	d := New()

	if _, err := d.Subscribe(protocol.TypePing, PriorityNormal, nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("Subscribe(nil) error = %v", err)
	}
	if _, err := d.OnConnection(nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("OnConnection(nil) error = %v", err)
	}
	if _, err := On[*protocol.Ping](d, PriorityNormal, nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("On(nil) error = %v", err)
	}
}

func TestHandlerContextCarriesSpan(t *testing.T) {
	d := New(WithLogger(testLogger()), WithTracerName("realm-test"))

	var sawSpan bool
	d.Subscribe(protocol.TypePing, PriorityNormal, func(ctx context.Context, ev Event) error {
		sawSpan = trace.SpanFromContext(ctx) != nil
		if ev.Received.IsZero() {
			t.Error("event has no receive time")
		}
		return nil
	})

	d.Publish(context.Background(), 1, &protocol.Ping{})

	if !sawSpan {
		t.Error("handler context has no span")
	}
}

func TestConnectionEvents(t *testing.T) {
	d := New(WithLogger(testLogger()))

	var events []ConnectionEvent
	d.OnConnection(func(_ context.Context, ev ConnectionEvent) {
		events = append(events, ev)
	})
	d.OnConnection(func(context.Context, ConnectionEvent) {
		panic("observer bug")
	})

	d.ConnectionOpened(context.Background(), server.ConnectionInfo{ID: 7, Transport: "tcp"})
	d.ConnectionClosed(context.Background(), 7, protocol.ReasonKicked)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != ConnectionOpened || events[0].Info.Transport != "tcp" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Kind != ConnectionClosed || events[1].ConnectionID != 7 || events[1].Reason != protocol.ReasonKicked {
		t.Errorf("second event = %+v", events[1])
	}
}

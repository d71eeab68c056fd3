package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/realm/pkg/protocol"
)

// MetricsConfig configures the listener's Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "realm").
	Namespace string

	// Subsystem is the metrics subsystem (default: "net").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels
}

// MetricsOption configures the listener's Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// Metrics holds the listener's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	connectionsDenied prometheus.Counter
	disconnects       *prometheus.CounterVec
	packetsReceived   *prometheus.CounterVec
	packetsSent       *prometheus.CounterVec
	packetsDropped    *prometheus.CounterVec
	bytesReceived     prometheus.Counter
	bytesSent         prometheus.Counter
	writeErrors       prometheus.Counter
}

// NewMetrics registers the listener metrics with reg.
func NewMetrics(reg prometheus.Registerer, opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "realm",
		Subsystem: "net",
	}
	for _, opt := range opts {
		opt(&config)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_active",
			Help:        "Number of live connections",
			ConstLabels: config.ConstLabels,
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Total number of accepted connections",
			ConstLabels: config.ConstLabels,
		}),

		connectionsDenied: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_denied_total",
			Help:        "Total number of connections refused at the connection cap",
			ConstLabels: config.ConstLabels,
		}),

		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "disconnects_total",
			Help:        "Total number of disconnects by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_received_total",
			Help:        "Total number of decoded inbound packets by type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_sent_total",
			Help:        "Total number of outbound packets written by type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		packetsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "packets_dropped_total",
			Help:        "Total number of inbound frames discarded by cause",
			ConstLabels: config.ConstLabels,
		}, []string{"cause"}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "received_bytes_total",
			Help:        "Total number of frame bytes received",
			ConstLabels: config.ConstLabels,
		}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sent_bytes_total",
			Help:        "Total number of frame bytes written",
			ConstLabels: config.ConstLabels,
		}),

		writeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "write_errors_total",
			Help:        "Total number of failed socket writes",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Drop causes reported by packets_dropped_total.
const (
	dropUnknownType  = "unknown_type"
	dropMalformed    = "malformed"
	dropInvalidState = "invalid_state"
)

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) connectionDenied() {
	if m == nil {
		return
	}
	m.connectionsDenied.Inc()
}

func (m *Metrics) connectionClosed(reason protocol.DisconnectReason) {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
	m.disconnects.WithLabelValues(reason.String()).Inc()
}

func (m *Metrics) packetReceived(pt protocol.PacketType, frameLen int) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(pt.String()).Inc()
	m.bytesReceived.Add(float64(frameLen))
}

func (m *Metrics) frameReceived(frameLen int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(frameLen))
}

func (m *Metrics) packetSent(pt protocol.PacketType, frameLen int) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(pt.String()).Inc()
	m.bytesSent.Add(float64(frameLen))
}

func (m *Metrics) packetDropped(cause string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(cause).Inc()
}

func (m *Metrics) writeFailed() {
	if m == nil {
		return
	}
	m.writeErrors.Inc()
}

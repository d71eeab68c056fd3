package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/realm/pkg/protocol"
)

// Metrics holds dispatcher collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	packets  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	orphans  *prometheus.CounterVec
	failures *prometheus.CounterVec
	panics   *prometheus.CounterVec
}

// NewMetrics registers dispatcher metrics with reg under the given
// namespace (default "realm").
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "realm"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "packets_total",
			Help:      "Total number of packets delivered to handlers by type",
		}, []string{"type"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent in handlers per packet",
			Buckets:   []float64{.00005, .0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"type"}),

		orphans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "unhandled_total",
			Help:      "Total number of packets with no handler by type",
		}, []string{"type"}),

		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "handler_errors_total",
			Help:      "Total number of handler errors by packet type",
		}, []string{"type"}),

		panics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "handler_panics_total",
			Help:      "Total number of recovered handler panics by packet type",
		}, []string{"type"}),
	}
}

func (m *Metrics) dispatched(pt protocol.PacketType, d time.Duration) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(pt.String()).Inc()
	m.duration.WithLabelValues(pt.String()).Observe(d.Seconds())
}

func (m *Metrics) unhandled(pt protocol.PacketType) {
	if m == nil {
		return
	}
	m.orphans.WithLabelValues(pt.String()).Inc()
}

func (m *Metrics) handlerFailed(pt protocol.PacketType) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(pt.String()).Inc()
}

func (m *Metrics) handlerPanicked(pt protocol.PacketType) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(pt.String()).Inc()
}

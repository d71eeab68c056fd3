package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures scheduler metric names.
type MetricsConfig struct {
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

// MetricsOption configures scheduler metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets labels added to every scheduler metric.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// Metrics holds scheduler collectors, labelled by scheduler name so one
// set can be shared by every scheduler in a process. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ticks        *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec
	scheduled    *prometheus.CounterVec
	runs         *prometheus.CounterVec
	panics       *prometheus.CounterVec
	pending      *prometheus.GaugeVec
}

// NewMetrics registers scheduler metrics with reg.
func NewMetrics(reg prometheus.Registerer, opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "realm",
		Subsystem: "scheduler",
	}
	for _, opt := range opts {
		opt(&config)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "ticks_total",
			Help:        "Total number of scheduler ticks run",
			ConstLabels: config.ConstLabels,
		}, []string{"scheduler"}),

		tickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "tick_duration_seconds",
			Help:        "Time spent running synchronous tasks in one tick",
			Buckets:     []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
			ConstLabels: config.ConstLabels,
		}, []string{"scheduler"}),

		scheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "tasks_scheduled_total",
			Help:        "Total number of tasks submitted",
			ConstLabels: config.ConstLabels,
		}, []string{"scheduler"}),

		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "task_runs_total",
			Help:        "Total number of task runs by mode",
			ConstLabels: config.ConstLabels,
		}, []string{"scheduler", "mode"}),

		panics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "task_panics_total",
			Help:        "Total number of recovered task panics",
			ConstLabels: config.ConstLabels,
		}, []string{"scheduler"}),

		pending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pending_tasks",
			Help:        "Number of queued tasks",
			ConstLabels: config.ConstLabels,
		}, []string{"scheduler"}),
	}
}

func (m *Metrics) tickCompleted(name string, d time.Duration, pending int) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(name).Inc()
	m.tickDuration.WithLabelValues(name).Observe(d.Seconds())
	m.pending.WithLabelValues(name).Set(float64(pending))
}

func (m *Metrics) taskScheduled(name string) {
	if m == nil {
		return
	}
	m.scheduled.WithLabelValues(name).Inc()
}

func (m *Metrics) taskRun(name, mode string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(name, mode).Inc()
}

func (m *Metrics) taskPanicked(name string) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(name).Inc()
}

func (m *Metrics) setPending(name string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(name).Set(float64(n))
}

// Package metrics exposes Prometheus collectors for connection lifecycle,
// dispatched commands, and published deltas.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "gaia_core"

// Metrics bundles every collector the core process records against. It is
// not a set of package-level globals (unlike the teacher's), so tests can
// build an isolated instance per registry instead of sharing process-wide
// state.
type Metrics struct {
	ConnectionsActive       prometheus.Gauge
	ConnectionsTotal        *prometheus.CounterVec
	ConnectionDuration      prometheus.Histogram
	CommandDuration         *prometheus.HistogramVec
	CommandsTotal           *prometheus.CounterVec
	DeltasPublishedTotal    *prometheus.CounterVec
	DeltaFanoutDroppedTotal prometheus.Counter
}

// New builds a Metrics bundle. Collectors are not yet registered with any
// registry; call Register or MustRegister.
func New() *Metrics {
	return &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently open WebSocket connections.",
		}),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted, by close reason.",
		}, []string{"close_reason"}), // normal, write_error, backpressure, idle_timeout, server_shutdown
		ConnectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Duration a WebSocket connection stayed open.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of a dispatched command, by action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total dispatched commands, by action and outcome.",
		}, []string{"action", "status"}), // status: success, error
		DeltasPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_published_total",
			Help:      "Total area-of-interest deltas published to subscribers.",
		}, []string{"experience"}),
		DeltaFanoutDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delta_fanout_dropped_total",
			Help:      "Deltas dropped because a subscriber's outbound buffer was full.",
		}),
	}
}

// collectors lists every collector in m, for bulk registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.ConnectionDuration,
		m.CommandDuration,
		m.CommandsTotal,
		m.DeltasPublishedTotal,
		m.DeltaFanoutDroppedTotal,
	}
}

// Register registers every collector in m with reg.
func (m *Metrics) Register(reg *prometheus.Registry) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister is Register but panics on failure, for process startup
// where a registration conflict is a programming error.
func (m *Metrics) MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(m.collectors()...)
}

// RecordConnectionOpened increments the active-connection gauge.
func (m *Metrics) RecordConnectionOpened() {
	m.ConnectionsActive.Inc()
}

// RecordConnectionClosed decrements the active-connection gauge and
// records the total/duration counters for the connection's lifetime.
func (m *Metrics) RecordConnectionClosed(reason string, durationSeconds float64) {
	m.ConnectionsActive.Dec()
	m.ConnectionsTotal.WithLabelValues(reason).Inc()
	m.ConnectionDuration.Observe(durationSeconds)
}

// RecordCommand records a dispatched command's outcome and latency.
func (m *Metrics) RecordCommand(action, status string, durationSeconds float64) {
	m.CommandDuration.WithLabelValues(action).Observe(durationSeconds)
	m.CommandsTotal.WithLabelValues(action, status).Inc()
}

// RecordDeltaPublished records one area-of-interest delta published for
// experience.
func (m *Metrics) RecordDeltaPublished(experience string) {
	m.DeltasPublishedTotal.WithLabelValues(experience).Inc()
}

// RecordDeltaDropped records a delta that could not be queued because a
// connection's outbound buffer was full; wsserver then closes that
// connection with reason "backpressure".
func (m *Metrics) RecordDeltaDropped() {
	m.DeltaFanoutDroppedTotal.Inc()
}

// Package metrics wires the engine and real-time delivery layers to a
// prometheus registry. It implements engine.Metrics and ws.Metrics by
// duck typing, so neither of those packages imports prometheus
// directly.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the process-wide metrics sink. Construct once at
// start-up and share across the engine and the real-time hub.
type Collector struct {
	switchLatency   prometheus.Histogram
	casConflicts    prometheus.Counter
	auditQueueDepth prometheus.Gauge
	connections     prometheus.Gauge
}

// New registers every collector against reg and returns a Collector.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the
// default global registry across parallel test processes.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		switchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "syncclock",
			Subsystem: "engine",
			Name:      "switch_latency_seconds",
			Help:      "End-to-end latency of the switch operation (spec §4.3.2, target < 50ms).",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		casConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "syncclock",
			Subsystem: "engine",
			Name:      "cas_conflicts_total",
			Help:      "Number of optimistic-concurrency conflicts observed by the read-apply-CAS loop.",
		}),
		auditQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncclock",
			Subsystem: "audit",
			Name:      "queue_depth",
			Help:      "Current depth of the audit write queue.",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncclock",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Number of currently open WebSocket connections across all sessions.",
		}),
	}
}

// ObserveSwitchLatency implements engine.Metrics.
func (c *Collector) ObserveSwitchLatency(d time.Duration) {
	c.switchLatency.Observe(d.Seconds())
}

// IncCASConflict implements engine.Metrics.
func (c *Collector) IncCASConflict() {
	c.casConflicts.Inc()
}

// SetAuditQueueDepth implements engine.Metrics.
func (c *Collector) SetAuditQueueDepth(depth int) {
	c.auditQueueDepth.Set(float64(depth))
}

// SetConnectionCount implements ws.Metrics.
func (c *Collector) SetConnectionCount(n int) {
	c.connections.Set(float64(n))
}

// Handler returns the /metrics scrape endpoint for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles the pipeline's Prometheus metrics. A nil *Collector is
// safe to call; every method becomes a no-op.
type Collector struct {
	tasksStarted       prometheus.Counter
	tasksFinished      *prometheus.CounterVec
	taskDuration       prometheus.Histogram
	recordsCreated     *prometheus.CounterVec
	verificationsTotal *prometheus.CounterVec
	consensusDecisions *prometheus.CounterVec
	relayPublishes     *prometheus.CounterVec
	connectedRelays    prometheus.Gauge
}

// NewCollector registers the pipeline metrics on the given registerer. A nil
// registerer uses the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		tasksStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "finstudio",
			Name:      "tasks_started_total",
			Help:      "Analysis tasks accepted for execution.",
		}),
		tasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finstudio",
			Name:      "tasks_finished_total",
			Help:      "Analysis tasks that reached a terminal status.",
		}, []string{"status"}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "finstudio",
			Name:      "task_duration_seconds",
			Help:      "End-to-end task execution duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		recordsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finstudio",
			Name:      "provenance_records_created_total",
			Help:      "Signed provenance records created, by component type.",
		}, []string{"component_type", "degraded"}),
		verificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finstudio",
			Name:      "verifications_total",
			Help:      "Individual record verifications, by structural outcome.",
		}, []string{"passed"}),
		consensusDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finstudio",
			Name:      "consensus_decisions_total",
			Help:      "Per-record consensus decisions.",
		}, []string{"accepted"}),
		relayPublishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finstudio",
			Name:      "relay_publishes_total",
			Help:      "Relay publish attempts, by envelope kind and outcome.",
		}, []string{"kind", "outcome"}),
		connectedRelays: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "finstudio",
			Name:      "relay_connections",
			Help:      "Currently connected relay endpoints.",
		}),
	}
}

// TaskStarted counts one accepted task.
func (c *Collector) TaskStarted() {
	if c == nil {
		return
	}
	c.tasksStarted.Inc()
}

// TaskFinished counts one terminal task and observes its duration.
func (c *Collector) TaskFinished(status string, seconds float64) {
	if c == nil {
		return
	}
	c.tasksFinished.WithLabelValues(status).Inc()
	c.taskDuration.Observe(seconds)
}

// RecordCreated counts one signed provenance record.
func (c *Collector) RecordCreated(componentType string, degraded bool) {
	if c == nil {
		return
	}
	c.recordsCreated.WithLabelValues(componentType, boolLabel(degraded)).Inc()
}

// Verification counts one record verification.
func (c *Collector) Verification(passed bool) {
	if c == nil {
		return
	}
	c.verificationsTotal.WithLabelValues(boolLabel(passed)).Inc()
}

// ConsensusDecision counts one per-record consensus outcome.
func (c *Collector) ConsensusDecision(accepted bool) {
	if c == nil {
		return
	}
	c.consensusDecisions.WithLabelValues(boolLabel(accepted)).Inc()
}

// RelayPublish counts one publish attempt.
func (c *Collector) RelayPublish(kind string, ok bool) {
	if c == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	c.relayPublishes.WithLabelValues(kind, outcome).Inc()
}

// SetConnectedRelays records the current relay connection count.
func (c *Collector) SetConnectedRelays(n int) {
	if c == nil {
		return
	}
	c.connectedRelays.Set(float64(n))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

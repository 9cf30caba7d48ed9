// Package metrics wires the core's operational counters into
// Prometheus, following the teacher's observability/metrics package:
// a constructor that takes a prometheus.Registerer and can fail if
// registration collides, one CounterVec/HistogramVec/GaugeVec per
// concern, and a narrow Recorder interface so callers never import
// prometheus directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the narrow interface the rest of the core depends on,
// mirroring the teacher's own Recorder shape (RecordOperation /
// RecordDuration / RecordError) generalized with the dispatch- and
// archive-specific gauges this core additionally needs.
type Recorder interface {
	RecordOperation(operation, status string)
	RecordDuration(operation string, seconds float64)
	RecordError(operation, errorType string)
	RecordDispatchThrottled(throttled bool)
	RecordChunkOutcome(status string)
	RecordArchiveAppendLatency(seconds float64)
	RecordAuditAppendFailure()
}

// Metrics is the Prometheus-backed Recorder implementation.
type Metrics struct {
	operationsTotal    *prometheus.CounterVec
	operationDurations *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec

	dispatchThrottled       prometheus.Gauge
	chunkOutcomesTotal      *prometheus.CounterVec
	archiveAppendLatencySec prometheus.Histogram
	auditAppendFailures     prometheus.Counter
}

// NewMetrics registers the core's metrics against reg and returns the
// Recorder. It returns an error rather than panicking so a caller that
// registers twice against a shared registry (tests, multiple
// instances) can decide how to handle the collision, matching the
// teacher's NewXMetrics(reg) (*X, error) constructor convention.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diarocore",
			Name:      "operations_total",
			Help:      "Count of core operations by name and outcome status.",
		}, []string{"operation", "status"}),
		operationDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "diarocore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of core operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diarocore",
			Name:      "errors_total",
			Help:      "Count of errors by operation and error class.",
		}, []string{"operation", "error_type"}),
		dispatchThrottled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "diarocore",
			Name:      "dispatch_throttled",
			Help:      "1 if the CPU Governor is currently denying new dispatch, else 0.",
		}),
		chunkOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diarocore",
			Name:      "chunk_outcomes_total",
			Help:      "Count of finished chunks by outcome status.",
		}, []string{"status"}),
		archiveAppendLatencySec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "diarocore",
			Name:      "archive_append_latency_seconds",
			Help:      "Latency of Archive Store append_row calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		auditAppendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diarocore",
			Name:      "audit_append_failures_total",
			Help:      "Count of failed Audit Ledger append calls.",
		}),
	}

	collectors := []prometheus.Collector{
		m.operationsTotal, m.operationDurations, m.errorsTotal,
		m.dispatchThrottled, m.chunkOutcomesTotal, m.archiveAppendLatencySec, m.auditAppendFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) RecordDuration(operation string, seconds float64) {
	m.operationDurations.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

func (m *Metrics) RecordDispatchThrottled(throttled bool) {
	if throttled {
		m.dispatchThrottled.Set(1)
		return
	}
	m.dispatchThrottled.Set(0)
}

func (m *Metrics) RecordChunkOutcome(status string) {
	m.chunkOutcomesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordArchiveAppendLatency(seconds float64) {
	m.archiveAppendLatencySec.Observe(seconds)
}

func (m *Metrics) RecordAuditAppendFailure() {
	m.auditAppendFailures.Inc()
}

// Timer returns a func that, when called, records the elapsed time
// since Timer was called as operation's duration — a small convenience
// around defer'ing RecordDuration at a call site.
func Timer(m Recorder, operation string) func() {
	start := time.Now()
	return func() {
		m.RecordDuration(operation, time.Since(start).Seconds())
	}
}

// Package metrics provides Prometheus instrumentation for the connector
// engine: execution outcomes, retry and rate-limit activity, and call
// latency distributions.
//
// A single Collector is created at process start and shared by the engine.
// All metrics carry the connector id as a label so per-integration dashboards
// can be built without per-instance cardinality blowups.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector wraps the engine's Prometheus metrics.
type Collector struct {
	executions         *prometheus.CounterVec
	retries            *prometheus.CounterVec
	rateLimitRejects   *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	inFlightExecutions prometheus.Gauge
}

// NewCollector creates the engine metric set and registers it with the given
// registerer. Pass prometheus.DefaultRegisterer for the process-wide
// registry, or a private registry in tests.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connector",
			Name:      "executions_total",
			Help:      "Endpoint executions by connector and terminal status.",
		}, []string{"connector_id", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connector",
			Name:      "retries_total",
			Help:      "Transport retries by connector and error classification.",
		}, []string{"connector_id", "classification"}),
		rateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connector",
			Name:      "rate_limit_rejections_total",
			Help:      "Calls rejected by the rate limiter before any transport attempt.",
		}, []string{"connector_id"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "connector",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of executions from creation to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"connector_id", "status"}),
		inFlightExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "connector",
			Name:      "in_flight_executions",
			Help:      "Executions currently in the running state.",
		}),
	}

	if reg != nil {
		reg.MustRegister(c.executions, c.retries, c.rateLimitRejects,
			c.executionDuration, c.inFlightExecutions)
	}
	return c
}

// ExecutionStarted marks one more in-flight execution.
func (c *Collector) ExecutionStarted() {
	c.inFlightExecutions.Inc()
}

// ExecutionFinished records a terminal execution with its duration.
func (c *Collector) ExecutionFinished(connectorID, status string, duration time.Duration) {
	c.inFlightExecutions.Dec()
	c.executions.WithLabelValues(connectorID, status).Inc()
	c.executionDuration.WithLabelValues(connectorID, status).Observe(duration.Seconds())
}

// RetryAttempted records one transport retry.
func (c *Collector) RetryAttempted(connectorID, classification string) {
	c.retries.WithLabelValues(connectorID, classification).Inc()
}

// RateLimitRejected records a call refused by the rate limiter.
func (c *Collector) RateLimitRejected(connectorID string) {
	c.rateLimitRejects.WithLabelValues(connectorID).Inc()
}

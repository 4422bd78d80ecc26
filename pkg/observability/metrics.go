// Package observability exposes the engine's Prometheus metrics: run and
// node counters, token and latency histograms, and test harness outcomes.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the engine records into. All instruments
// are registered on a private registry so tests can run side by side.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	runDuration  prometheus.Histogram
	nodesTotal   *prometheus.CounterVec
	nodeLatency  *prometheus.HistogramVec
	tokensTotal  *prometheus.CounterVec
	retriesTotal *prometheus.CounterVec
	testsTotal   *prometheus.CounterVec
}

// New creates and registers all instruments.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgraph_runs_total",
			Help: "Completed graph runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentgraph_run_duration_seconds",
			Help:    "Wall-clock duration of a graph run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		nodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgraph_node_executions_total",
			Help: "Node executions by node id and outcome.",
		}, []string{"node", "outcome"}),
		nodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentgraph_node_latency_seconds",
			Help:    "Latency of a single node execution.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"node"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgraph_tokens_total",
			Help: "LLM tokens consumed, by goal.",
		}, []string{"goal"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgraph_node_retries_total",
			Help: "Node retry attempts by node id.",
		}, []string{"node"}),
		testsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgraph_tests_total",
			Help: "Harness test results by outcome and error category.",
		}, []string{"outcome", "category"}),
	}
	registry.MustRegister(
		m.runsTotal, m.runDuration, m.nodesTotal, m.nodeLatency,
		m.tokensTotal, m.retriesTotal, m.testsTotal,
	)
	return m
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status string, seconds float64) {
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(seconds)
}

// ObserveNode records one node execution.
func (m *Metrics) ObserveNode(node string, success bool, seconds float64) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.nodesTotal.WithLabelValues(node, outcome).Inc()
	m.nodeLatency.WithLabelValues(node).Observe(seconds)
}

// ObserveRetry records a node retry attempt.
func (m *Metrics) ObserveRetry(node string) {
	m.retriesTotal.WithLabelValues(node).Inc()
}

// ObserveTokens records LLM token consumption for a goal.
func (m *Metrics) ObserveTokens(goal string, tokens int) {
	m.tokensTotal.WithLabelValues(goal).Add(float64(tokens))
}

// ObserveTest records a harness test result. category is empty for passes.
func (m *Metrics) ObserveTest(passed bool, category string) {
	outcome := "failed"
	if passed {
		outcome = "passed"
		category = ""
	}
	m.testsTotal.WithLabelValues(outcome, category).Inc()
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, for callers that add their own
// collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

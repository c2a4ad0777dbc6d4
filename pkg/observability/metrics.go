package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records counters and latency histograms for the hot paths. All
// methods are safe for concurrent use and never fail; a nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	llmRequests   *prometheus.CounterVec
	llmDuration   *prometheus.HistogramVec
	llmTokens     *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	swarmRuns     *prometheus.CounterVec
	swarmAgents   prometheus.Histogram
	breakerTrips  *prometheus.CounterVec
	ragOperations *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the process-wide metrics recorder.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics builds a recorder with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto(registry)

	m := &Metrics{
		registry: registry,
		llmRequests: factory.counterVec(prometheus.CounterOpts{
			Name: "hivemind_llm_requests_total",
			Help: "LLM requests by model, backend and outcome.",
		}, []string{"model", "backend", "status"}),
		llmDuration: factory.histogramVec(prometheus.HistogramOpts{
			Name:    "hivemind_llm_request_duration_seconds",
			Help:    "LLM request latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"model", "backend"}),
		llmTokens: factory.counterVec(prometheus.CounterOpts{
			Name: "hivemind_llm_tokens_total",
			Help: "Tokens consumed and produced by LLM requests.",
		}, []string{"model", "direction"}),
		toolCalls: factory.counterVec(prometheus.CounterOpts{
			Name: "hivemind_tool_calls_total",
			Help: "Tool invocations by tool and outcome.",
		}, []string{"tool", "status"}),
		toolDuration: factory.histogramVec(prometheus.HistogramOpts{
			Name:    "hivemind_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool"}),
		swarmRuns: factory.counterVec(prometheus.CounterOpts{
			Name: "hivemind_swarm_runs_total",
			Help: "Swarm runs by topology and outcome.",
		}, []string{"topology", "status"}),
		swarmAgents: factory.histogram(prometheus.HistogramOpts{
			Name:    "hivemind_swarm_agents",
			Help:    "Agents spawned per swarm run.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 100},
		}),
		breakerTrips: factory.counterVec(prometheus.CounterOpts{
			Name: "hivemind_circuit_breaker_trips_total",
			Help: "Circuit breaker open transitions by backend.",
		}, []string{"backend"}),
		ragOperations: factory.counterVec(prometheus.CounterOpts{
			Name: "hivemind_rag_operations_total",
			Help: "RAG store operations by kind and outcome.",
		}, []string{"operation", "status"}),
		httpRequests: factory.counterVec(prometheus.CounterOpts{
			Name: "hivemind_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: factory.histogramVec(prometheus.HistogramOpts{
			Name:    "hivemind_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"route"}),
	}

	return m
}

// Handler serves the /metrics endpoint for this recorder's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordLLMCall records one LLM request.
func (m *Metrics) RecordLLMCall(model, backend string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.llmRequests.WithLabelValues(model, backend, status).Inc()
	m.llmDuration.WithLabelValues(model, backend).Observe(duration.Seconds())
	if inputTokens > 0 {
		m.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(tool string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordSwarmRun records a completed swarm run.
func (m *Metrics) RecordSwarmRun(topology, status string, agents int) {
	if m == nil {
		return
	}
	m.swarmRuns.WithLabelValues(topology, status).Inc()
	m.swarmAgents.Observe(float64(agents))
}

// RecordBreakerTrip records a circuit breaker opening for a backend.
func (m *Metrics) RecordBreakerTrip(backend string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(backend).Inc()
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(route, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordRAGOperation records a RAG store operation.
func (m *Metrics) RecordRAGOperation(operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ragOperations.WithLabelValues(operation, status).Inc()
}

// registryFactory registers collectors on construction so duplicate metric
// names fail fast.
type registryFactory struct {
	registry *prometheus.Registry
}

func promauto(registry *prometheus.Registry) registryFactory {
	return registryFactory{registry: registry}
}

func (f registryFactory) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.registry.MustRegister(c)
	return c
}

func (f registryFactory) histogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.registry.MustRegister(h)
	return h
}

func (f registryFactory) histogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	f.registry.MustRegister(h)
	return h
}

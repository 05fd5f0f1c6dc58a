// Package metrics exposes Prometheus instrumentation for the research
// pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns all metric families. One instance is created per
// process and passed down; nothing registers on the default registry.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	workflowsCreated prometheus.Counter
	stageTransitions *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	escalations      *prometheus.CounterVec
	approvals        *prometheus.CounterVec

	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec

	toolCalls *prometheus.CounterVec
}

// NewCollector creates the collector and its registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researchflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, path pattern and status code.",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "researchflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		workflowsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "researchflow",
			Subsystem: "workflow",
			Name:      "created_total",
			Help:      "Workflows created.",
		}),
		stageTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researchflow",
			Subsystem: "workflow",
			Name:      "stage_transitions_total",
			Help:      "Executed stage steps by stage and outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "researchflow",
			Subsystem: "workflow",
			Name:      "stage_duration_seconds",
			Help:      "Stage step duration.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researchflow",
			Subsystem: "workflow",
			Name:      "escalations_total",
			Help:      "Loop escalations by originating loop.",
		}, []string{"loop"}),
		approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researchflow",
			Subsystem: "workflow",
			Name:      "approvals_total",
			Help:      "Human gate decisions by gate and decision.",
		}, []string{"gate", "decision"}),

		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researchflow",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "LLM completions by role and outcome.",
		}, []string{"role", "outcome"}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researchflow",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by role and direction.",
		}, []string{"role", "direction"}),
		llmDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "researchflow",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM completion latency including retries.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"role"}),

		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researchflow",
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool adapter calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
	}
}

// Handler returns the scrape endpoint handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordHTTPRequest observes one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWorkflowCreated counts a new run.
func (c *Collector) RecordWorkflowCreated() {
	c.workflowsCreated.Inc()
}

// RecordStage observes one executed stage step.
func (c *Collector) RecordStage(stage string, duration time.Duration, err error) {
	c.stageTransitions.WithLabelValues(stage, outcome(err)).Inc()
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordEscalation counts a loop escalation.
func (c *Collector) RecordEscalation(loop string) {
	c.escalations.WithLabelValues(loop).Inc()
}

// RecordApproval counts a human gate decision.
func (c *Collector) RecordApproval(gate, decision string) {
	c.approvals.WithLabelValues(gate, decision).Inc()
}

// RecordLLMRequest observes one completion attempt chain.
func (c *Collector) RecordLLMRequest(role string, inputTokens, outputTokens int, duration time.Duration, err error) {
	c.llmRequests.WithLabelValues(role, outcome(err)).Inc()
	c.llmDuration.WithLabelValues(role).Observe(duration.Seconds())
	if inputTokens > 0 {
		c.llmTokens.WithLabelValues(role, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		c.llmTokens.WithLabelValues(role, "output").Add(float64(outputTokens))
	}
}

// RecordToolCall observes one tool adapter call.
func (c *Collector) RecordToolCall(tool string, err error) {
	c.toolCalls.WithLabelValues(tool, outcome(err)).Inc()
}

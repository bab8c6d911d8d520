// Package telemetry tracks orchestrator metrics and LLM spend. Counters are
// exposed on /metrics; the cost tracker keeps per-model running totals.
package telemetry

import (
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry bundles the prometheus registry and the cost tracker.
type Telemetry struct {
	logger   *log.Logger
	registry *prometheus.Registry

	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	TurnsAppended   *prometheus.CounterVec
	ToolCalls       *prometheus.CounterVec
	ToolLatency     *prometheus.HistogramVec
	ReasoningLoops  prometheus.Histogram
	LLMTokens       *prometheus.CounterVec
	LLMCost         prometheus.Counter

	costs *CostTracker
}

func New(logger *log.Logger) *Telemetry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	registry := prometheus.NewRegistry()
	t := &Telemetry{
		logger:   logger,
		registry: registry,
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabletalk_sessions_started_total",
			Help: "Sessions created.",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabletalk_sessions_ended_total",
			Help: "Sessions reaching a terminal status.",
		}, []string{"status"}),
		TurnsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabletalk_turns_total",
			Help: "Turns appended to session history.",
		}, []string{"role"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabletalk_tool_calls_total",
			Help: "Tool invocations by tool and outcome.",
		}, []string{"tool", "status"}),
		ToolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tabletalk_tool_latency_seconds",
			Help:    "Tool invocation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		ReasoningLoops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabletalk_reasoning_loops_per_turn",
			Help:    "Reasoning loops consumed per user turn.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 24},
		}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabletalk_llm_tokens_total",
			Help: "LLM tokens by direction.",
		}, []string{"direction"}),
		LLMCost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabletalk_llm_cost_dollars_total",
			Help: "Accumulated LLM spend in dollars.",
		}),
		costs: NewCostTracker(),
	}
	registry.MustRegister(
		t.SessionsStarted, t.SessionsEnded, t.TurnsAppended,
		t.ToolCalls, t.ToolLatency, t.ReasoningLoops,
		t.LLMTokens, t.LLMCost,
	)
	return t
}

// Handler serves the registry on /metrics.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// RecordToolCall observes one tool invocation.
func (t *Telemetry) RecordToolCall(tool, status string, elapsed time.Duration) {
	t.ToolCalls.WithLabelValues(tool, status).Inc()
	t.ToolLatency.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// RecordLLMUsage folds one completion's usage into counters and the cost
// tracker.
func (t *Telemetry) RecordLLMUsage(model string, inputTokens, outputTokens int64, cost float64) {
	t.LLMTokens.WithLabelValues("input").Add(float64(inputTokens))
	t.LLMTokens.WithLabelValues("output").Add(float64(outputTokens))
	t.LLMCost.Add(cost)
	t.costs.Record(model, inputTokens+outputTokens, cost)
	if cost > 0 {
		t.logger.Printf("llm usage model=%s in=%d out=%d cost=$%.6f", model, inputTokens, outputTokens, cost)
	}
}

// Costs exposes the tracker for budget checks and reporting.
func (t *Telemetry) Costs() *CostTracker { return t.costs }

// CostTracker keeps running LLM spend totals per model.
type CostTracker struct {
	mu          sync.RWMutex
	modelCosts  map[string]float64
	modelTokens map[string]int64
	totalCost   float64
	totalTokens int64
}

func NewCostTracker() *CostTracker {
	return &CostTracker{
		modelCosts:  make(map[string]float64),
		modelTokens: make(map[string]int64),
	}
}

func (c *CostTracker) Record(model string, tokens int64, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modelCosts[model] += cost
	c.modelTokens[model] += tokens
	c.totalCost += cost
	c.totalTokens += tokens
}

// Totals returns the accumulated spend and token count.
func (c *CostTracker) Totals() (float64, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalCost, c.totalTokens
}

// ModelCost returns the accumulated spend for one model.
func (c *CostTracker) ModelCost(model string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modelCosts[model]
}

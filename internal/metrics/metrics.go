// Package metrics records Prometheus metrics for the agent, the LLM
// transport, ingestion and the HTTP API.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChamsBouzaiene/cvagent/internal/engine"
)

const namespace = "cvagent"

// Metrics holds every collector. Build one per registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	stageDuration   *prometheus.HistogramVec
	stageEvents     *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	judgeRejections prometheus.Counter
	runsTotal       *prometheus.CounterVec

	llmRequests *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	ingestTotal    *prometheus.CounterVec
	ingestDuration prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each agent stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		stageEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_events_total",
			Help:      "Stage outcomes by stage and event",
		}, []string{"stage", "event"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome",
		}, []string{"tool", "outcome"}),
		judgeRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "judge_rejections_total",
			Help:      "Answers sent back by the judge",
		}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Agent runs by how they ended",
		}, []string{"status"}),
		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM requests by provider and status",
		}, []string{"provider", "status"}),
		llmDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens used by provider and type",
		}, []string{"provider", "type"}),
		ingestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Resume ingestions by outcome",
		}, []string{"outcome"}),
		ingestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Duration of resume ingestion",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80},
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveIngest records one pipeline run.
func (m *Metrics) ObserveIngest(outcome string, d time.Duration) {
	m.ingestTotal.WithLabelValues(outcome).Inc()
	m.ingestDuration.Observe(d.Seconds())
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// InstrumentLLM wraps next so every call is counted and timed.
func (m *Metrics) InstrumentLLM(next engine.LLMClient, provider string) engine.LLMClient {
	return instrumentedClient{next: next, provider: provider, m: m}
}

type instrumentedClient struct {
	next     engine.LLMClient
	provider string
	m        *Metrics
}

func (c instrumentedClient) Chat(ctx context.Context, model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	start := time.Now()
	resp, err := c.next.Chat(ctx, model, messages, toolSchemas, opts)
	c.m.llmDuration.WithLabelValues(c.provider).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
		var ee *engine.EngineError
		if errors.As(err, &ee) && ee.IsRateLimit {
			status = "rate_limited"
		}
	}
	c.m.llmRequests.WithLabelValues(c.provider, status).Inc()
	if err == nil {
		c.m.llmTokens.WithLabelValues(c.provider, "prompt").Add(float64(resp.Usage.Prompt))
		c.m.llmTokens.WithLabelValues(c.provider, "completion").Add(float64(resp.Usage.Completion))
	}
	return resp, err
}

// Hook returns an engine hook feeding the stage and tool collectors.
func (m *Metrics) Hook() engine.Hook {
	return &Hook{m: m, started: make(map[string]time.Time)}
}

// Hook implements engine.Hook. It is safe for concurrent runs.
type Hook struct {
	engine.NopHook
	m *Metrics

	mu      sync.Mutex
	started map[string]time.Time // run id -> current stage start
}

func (h *Hook) OnStageStart(_ context.Context, st *engine.ConversationState) {
	h.mu.Lock()
	h.started[st.RunID] = time.Now()
	h.mu.Unlock()
}

func (h *Hook) OnTransition(_ context.Context, st *engine.ConversationState, from engine.Stage, ev engine.Event) {
	h.observeStage(st.RunID, from)
	h.m.stageEvents.WithLabelValues(string(from), string(ev)).Inc()
	if ev == engine.EventRejected {
		h.m.judgeRejections.Inc()
	}
}

func (h *Hook) OnToolResult(_ context.Context, _ *engine.ConversationState, c engine.ToolCall, result string, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case strings.HasPrefix(result, "Error:"):
		outcome = "failed"
	}
	h.m.toolCalls.WithLabelValues(c.Name, outcome).Inc()
}

func (h *Hook) OnSuspend(_ context.Context, st *engine.ConversationState, _ engine.PendingQuestion) {
	h.forget(st.RunID)
	h.m.runsTotal.WithLabelValues("awaiting_human").Inc()
}

func (h *Hook) OnError(_ context.Context, st *engine.ConversationState, _ error) {
	h.forget(st.RunID)
	h.m.runsTotal.WithLabelValues("error").Inc()
}

func (h *Hook) OnDone(_ context.Context, st *engine.ConversationState) {
	h.forget(st.RunID)
	status := "rejected"
	if st.IsGoodAnswer || !st.RequiresDBQuery {
		status = "accepted"
	}
	h.m.runsTotal.WithLabelValues(status).Inc()
}

func (h *Hook) observeStage(runID string, stage engine.Stage) {
	h.mu.Lock()
	start, ok := h.started[runID]
	h.mu.Unlock()
	if ok {
		h.m.stageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
}

func (h *Hook) forget(runID string) {
	h.mu.Lock()
	delete(h.started, runID)
	h.mu.Unlock()
}

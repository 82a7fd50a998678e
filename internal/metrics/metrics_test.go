package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/cvagent/internal/engine"
)

type stubLLM struct {
	err error
}

func (s stubLLM) Chat(context.Context, string, []engine.ChatMessage, []engine.ToolSchema, engine.ChatOptions) (engine.LLMResponse, error) {
	if s.err != nil {
		return engine.LLMResponse{}, s.err
	}
	return engine.LLMResponse{Usage: engine.Usage{Prompt: 12, Completion: 3, Total: 15}}, nil
}

func TestInstrumentLLM(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	_, err := m.InstrumentLLM(stubLLM{}, "openai").Chat(ctx, "m", nil, nil, engine.ChatOptions{})
	require.NoError(t, err)
	rateLimited := engine.WrapLLMError(errors.New("429"), http.StatusTooManyRequests, "")
	_, err = m.InstrumentLLM(stubLLM{err: rateLimited}, "openai").Chat(ctx, "m", nil, nil, engine.ChatOptions{})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmRequests.WithLabelValues("openai", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmRequests.WithLabelValues("openai", "rate_limited")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.llmTokens.WithLabelValues("openai", "prompt")))
}

func TestHook(t *testing.T) {
	m := New(nil)
	h := m.Hook()
	ctx := context.Background()
	st := &engine.ConversationState{RunID: "r1", Stage: engine.StageJudge, RequiresDBQuery: true}

	h.OnStageStart(ctx, st)
	time.Sleep(time.Millisecond)
	h.OnTransition(ctx, st, engine.StageJudge, engine.EventRejected)
	h.OnToolResult(ctx, st, engine.ToolCall{Name: "run_query"}, "Error: Query failed.", nil)
	h.OnToolResult(ctx, st, engine.ToolCall{Name: "run_query"}, "id\n1", nil)
	h.OnToolResult(ctx, st, engine.ToolCall{Name: "ask_human"}, "", errors.New("suspended"))
	h.OnDone(ctx, st)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.judgeRejections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageEvents.WithLabelValues("judge", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("run_query", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("run_query", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("ask_human", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("rejected")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(nil)
	m.ObserveIngest("success", 2*time.Second)
	m.ObserveHTTP(http.MethodGet, "/api/v1/health", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `cvagent_ingest_total{outcome="success"} 1`))
	assert.True(t, strings.Contains(body, `cvagent_http_requests_total{code="200",method="GET",route="/api/v1/health"} 1`))
}

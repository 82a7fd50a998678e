package engine

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   retries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestClassifyLLMError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RetryClass
	}{
		{"rate limited", errors.New("429 Too Many Requests"), RetryClassRetryable},
		{"overloaded", errors.New("anthropic: overloaded_error"), RetryClassRetryable},
		{"connection reset", errors.New("read tcp: connection reset by peer"), RetryClassRetryable},
		{"auth", errors.New("401 unauthorized"), RetryClassNonRetryable},
		{"bad request", errors.New("400 bad request"), RetryClassNonRetryable},
		{"context length", errors.New("maximum context length exceeded"), RetryClassMaybe},
		{"cancelled", context.Canceled, RetryClassNonRetryable},
		{"classified wins", WrapLLMError(errors.New("weird"), http.StatusServiceUnavailable, ""), RetryClassRetryable},
		{"client status wins", WrapLLMError(errors.New("503 in body"), http.StatusUnauthorized, ""), RetryClassNonRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyLLMError(tt.err))
		})
	}
}

func TestExtractRetryAfter(t *testing.T) {
	err := WrapLLMError(errors.New("slow down"), http.StatusTooManyRequests, "7")
	assert.Equal(t, 7*time.Second, ExtractRetryAfter(err))
	assert.Zero(t, ExtractRetryAfter(errors.New("plain")))

	// Retry-After is capped by the policy.
	assert.Equal(t, 5*time.Millisecond, calculateDelay(fastPolicy(1), 0, err))
}

func TestRetryClient(t *testing.T) {
	unavailable := errors.New("503 service unavailable")

	tests := []struct {
		name      string
		errs      []error
		retries   int
		wantCalls int
		wantErr   bool
		exhausted bool
	}{
		{name: "recovers from transient failures", errs: []error{unavailable, unavailable}, retries: 3, wantCalls: 3},
		{name: "gives up after the policy", errs: []error{unavailable, unavailable, unavailable}, retries: 2, wantCalls: 3, wantErr: true, exhausted: true},
		{name: "does not retry auth failures", errs: []error{errors.New("401 unauthorized")}, retries: 3, wantCalls: 1, wantErr: true},
		{name: "no policy means one attempt", errs: []error{unavailable}, retries: 0, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &stubLLM{errs: tt.errs, responses: []LLMResponse{textResponse("ok")}}
			var retried []int
			client := NewRetryClient(llm, fastPolicy(tt.retries))
			client.OnRetry = func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) }

			resp, err := client.Chat(context.Background(), "m", nil, nil, ChatOptions{})
			assert.Len(t, llm.requests, tt.wantCalls)
			assert.Len(t, retried, tt.wantCalls-1)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "ok", resp.Assistant.Content)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.exhausted, IsRetryExhausted(err))
		})
	}
}

func TestRetryClientStopsOnCancel(t *testing.T) {
	llm := &stubLLM{errs: []error{errors.New("503"), errors.New("503")}, responses: []LLMResponse{textResponse("ok")}}
	policy := fastPolicy(3)
	policy.InitialDelay = time.Hour
	policy.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	client := NewRetryClient(llm, policy)
	client.OnRetry = func(int, time.Duration, error) { cancel() }

	_, err := client.Chat(ctx, "m", nil, nil, ChatOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, llm.requests, 1)
}

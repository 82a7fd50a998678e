// Package engine provides the decide/plan/act/judge agent controller.
// This file contains error classification and handling.

package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInvalidTransition is returned when an event is not accepted by the
	// current stage.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrNotSuspended is returned when an answer is supplied to a run that
	// is not waiting for one.
	ErrNotSuspended = errors.New("run is not awaiting human input")
	// ErrRunFinished is returned when a finished run is driven again.
	ErrRunFinished = errors.New("run already finished")
)

// RetryClass indicates whether an error should be retried.
type RetryClass string

const (
	RetryClassRetryable    RetryClass = "retryable"     // Definitely retry
	RetryClassMaybe        RetryClass = "maybe"         // Retry with caution (limited attempts)
	RetryClassNonRetryable RetryClass = "non_retryable" // Never retry
)

// EngineError wraps provider errors with classification metadata.
type EngineError struct {
	Err         error
	Class       RetryClass
	HTTPStatus  int    // HTTP status code if applicable
	RetryAfter  string // Retry-After header value if present
	IsRateLimit bool
	IsTimeout   bool
	IsAuth      bool
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("engine error: %s", e.Class)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// ClassifyLLMError classifies an error from an LLM provider call.
func ClassifyLLMError(err error) RetryClass {
	if err == nil {
		return RetryClassNonRetryable
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Class
	}

	// A cancelled caller never wants another attempt.
	if errors.Is(err, context.Canceled) {
		return RetryClassNonRetryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return RetryClassMaybe
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case containsAny(errStr, "429", "rate limit", "too many requests"):
		return RetryClassRetryable
	case containsAny(errStr, "500", "502", "503", "504", "internal server error",
		"bad gateway", "service unavailable", "gateway timeout", "overloaded"):
		return RetryClassRetryable
	case containsAny(errStr, "timeout", "connection reset", "connection refused",
		"no such host", "temporary failure", "eof"):
		return RetryClassRetryable
	case containsAny(errStr, "context length", "token limit", "maximum context length"):
		return RetryClassMaybe
	case containsAny(errStr, "401", "403", "unauthorized", "forbidden", "invalid api key"):
		return RetryClassNonRetryable
	case containsAny(errStr, "400", "bad request", "invalid request", "malformed"):
		return RetryClassNonRetryable
	case containsAny(errStr, "402", "quota", "billing"):
		return RetryClassNonRetryable
	}

	return RetryClassNonRetryable
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ExtractRetryAfter extracts the Retry-After value from an error.
// Returns 0 if not found or invalid.
func ExtractRetryAfter(err error) time.Duration {
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.RetryAfter != "" {
		var seconds int
		if _, err := fmt.Sscanf(engineErr.RetryAfter, "%d", &seconds); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, err := time.Parse(time.RFC1123, engineErr.RetryAfter); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	return 0
}

// WrapLLMError wraps an LLM provider error with classification metadata.
func WrapLLMError(err error, httpStatus int, retryAfter string) error {
	if err == nil {
		return nil
	}

	class := ClassifyLLMError(err)
	switch {
	case httpStatus == http.StatusTooManyRequests || httpStatus >= 500:
		class = RetryClassRetryable
	case httpStatus >= 400 && httpStatus < 500 && httpStatus != http.StatusRequestTimeout:
		class = RetryClassNonRetryable
	}

	return &EngineError{
		Err:         err,
		Class:       class,
		HTTPStatus:  httpStatus,
		RetryAfter:  retryAfter,
		IsRateLimit: httpStatus == http.StatusTooManyRequests,
		IsTimeout:   httpStatus == http.StatusGatewayTimeout || httpStatus == http.StatusRequestTimeout,
		IsAuth:      httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden,
	}
}

// RetryExhaustedError indicates that all retry attempts have been exhausted.
type RetryExhaustedError struct {
	Err         error
	Attempts    int
	MaxAttempts int
	IsGuarded   bool // True if this was a "maybe" class error with limited retries
}

func (e *RetryExhaustedError) Error() string {
	if e.IsGuarded {
		return fmt.Sprintf("guarded retries exhausted after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var retryExhausted *RetryExhaustedError
	return errors.As(err, &retryExhausted)
}

// ToolValidationError indicates that arguments failed JSON schema validation.
type ToolValidationError struct {
	ToolName string
	Errors   []string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("tool %s validation failed: %s", e.ToolName, strings.Join(e.Errors, "; "))
}

// ServiceError reports a failed reasoning call. It aborts the whole run; the
// controller never retries it.
type ServiceError struct {
	Stage   Stage
	Timeout bool
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("reasoning service timed out in %s stage: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("reasoning service failed in %s stage: %v", e.Stage, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsServiceError reports whether err is a reasoning-service failure.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// SuspendError is returned by a tool that needs a human answer before the
// run can continue.
type SuspendError struct {
	Question string
}

func (e *SuspendError) Error() string {
	return fmt.Sprintf("awaiting human input: %s", e.Question)
}

// StageContextError wraps errors with run context for debugging.
type StageContextError struct {
	Err       error
	RunID     string
	Stage     Stage
	Turn      int
	Operation string // "llm_call", "tool_execution", "checkpoint"
}

func (e *StageContextError) Error() string {
	return fmt.Sprintf("[run=%s stage=%s turn=%d op=%s] %v", e.RunID, e.Stage, e.Turn, e.Operation, e.Err)
}

func (e *StageContextError) Unwrap() error {
	return e.Err
}

// WrapWithContext wraps an error with the run's current position.
func WrapWithContext(err error, st *ConversationState, operation string) error {
	if err == nil {
		return nil
	}
	return &StageContextError{
		Err:       err,
		RunID:     st.RunID,
		Stage:     st.Stage,
		Turn:      st.ActTurns,
		Operation: operation,
	}
}

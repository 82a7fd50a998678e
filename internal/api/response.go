// Package api exposes candidates and the recruiting agent over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ChamsBouzaiene/cvagent/internal/agent"
	"github.com/ChamsBouzaiene/cvagent/internal/checkpoint"
	"github.com/ChamsBouzaiene/cvagent/internal/engine"
	"github.com/ChamsBouzaiene/cvagent/internal/ingest"
	"github.com/ChamsBouzaiene/cvagent/internal/store"
)

// Envelope wraps every successful response.
type Envelope struct {
	Message   string         `json:"message,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Data      any            `json:"data"`
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
}

// PageEnvelope wraps a page of results.
type PageEnvelope struct {
	Message   string         `json:"message"`
	Meta      map[string]any `json:"meta"`
	Data      any            `json:"data"`
	Page      int            `json:"page"`
	Size      int            `json:"size"`
	Total     int            `json:"total"`
	Pages     int            `json:"pages"`
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
}

// ErrorEnvelope is the body of every error response.
type ErrorEnvelope struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Status    string `json:"status"`
}

var now = func() time.Time { return time.Now().UTC() }

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// OK writes data in the success envelope.
func OK(w http.ResponseWriter, status int, data any, message string) {
	JSON(w, status, Envelope{
		Message:   message,
		Data:      data,
		Status:    "success",
		Timestamp: now().Format(time.RFC3339Nano),
	})
}

// Page writes one page of results.
func Page(w http.ResponseWriter, data any, page, size, total int) {
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	JSON(w, http.StatusOK, PageEnvelope{
		Message:   "Data paginated correctly",
		Meta:      map[string]any{},
		Data:      data,
		Page:      page,
		Size:      size,
		Total:     total,
		Pages:     pages,
		Status:    "success",
		Timestamp: now().Format(time.RFC3339Nano),
	})
}

// Error writes an error envelope.
func Error(w http.ResponseWriter, status int, errorType, message string, details any) {
	JSON(w, status, ErrorEnvelope{
		ErrorType: errorType,
		Message:   message,
		Details:   details,
		Status:    "error",
	})
}

// errValidation marks request bodies that parsed but carry unusable values.
var errValidation = errors.New("validation failed")

// errBadRequest marks malformed requests.
var errBadRequest = errors.New("bad request")

type errorMapping struct {
	status    int
	errorType string
	message   string
}

// classify maps a handler error onto a status code and error type.
func classify(err error) errorMapping {
	var svc *engine.ServiceError
	switch {
	case errors.As(err, &svc):
		if svc.Timeout {
			return errorMapping{http.StatusGatewayTimeout, "TimeoutError", "The reasoning service timed out."}
		}
		return errorMapping{http.StatusBadGateway, "ServiceError", "The reasoning service failed."}
	case errors.Is(err, context.DeadlineExceeded):
		return errorMapping{http.StatusGatewayTimeout, "TimeoutError", "Request timed out."}
	case errors.Is(err, store.ErrNotFound), errors.Is(err, agent.ErrSessionNotFound):
		return errorMapping{http.StatusNotFound, "NotFoundError", "The requested resource was not found."}
	case errors.Is(err, store.ErrConflict):
		return errorMapping{http.StatusConflict, "DatabaseError", "An error occurred while processing the request."}
	case errors.Is(err, agent.ErrAwaitingHuman), errors.Is(err, engine.ErrNotSuspended),
		errors.Is(err, engine.ErrRunFinished):
		return errorMapping{http.StatusConflict, "ConflictError", "The session cannot accept this request now."}
	case errors.Is(err, ingest.ErrEmptyDocument), errors.Is(err, ingest.ErrIncompleteProfile),
		errors.Is(err, errValidation):
		return errorMapping{http.StatusUnprocessableEntity, "ValidationError", "An error occurred while validating the request."}
	case errors.Is(err, ingest.ErrUnsupportedFile), errors.Is(err, agent.ErrEmptyMessage),
		errors.Is(err, checkpoint.ErrInvalidSessionID), errors.Is(err, errBadRequest):
		return errorMapping{http.StatusBadRequest, "BadRequestError", "The request is invalid."}
	}
	return errorMapping{http.StatusInternalServerError, "InternalServerError", "An unexpected error occurred."}
}

package providers

import (
	"net/http"
	"strings"
)

var statusHints = []struct {
	code   string
	status int
}{
	{"429", http.StatusTooManyRequests},
	{"500", http.StatusInternalServerError},
	{"502", http.StatusBadGateway},
	{"503", http.StatusServiceUnavailable},
	{"504", http.StatusGatewayTimeout},
	{"529", http.StatusServiceUnavailable},
	{"401", http.StatusUnauthorized},
	{"403", http.StatusForbidden},
	{"400", http.StatusBadRequest},
	{"402", http.StatusPaymentRequired},
}

// extractErrorMetadata guesses the HTTP status and Retry-After value from an
// error message, for SDK errors that carry no typed status.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	msg := err.Error()

	var status int
	for _, h := range statusHints {
		if strings.Contains(msg, h.code) {
			status = h.status
			break
		}
	}

	var retryAfter string
	lower := strings.ToLower(msg)
	for _, marker := range []string{"retry-after", "retry after"} {
		if idx := strings.Index(lower, marker); idx != -1 {
			rest := strings.TrimLeft(msg[idx+len(marker):], ": ")
			if parts := strings.Fields(rest); len(parts) > 0 {
				retryAfter = strings.TrimRight(parts[0], ",.;")
			}
			break
		}
	}
	return status, retryAfter
}

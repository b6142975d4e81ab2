package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haasonsaas/switchboard/internal/auth"
	"github.com/haasonsaas/switchboard/internal/dialect/anthropic"
	"github.com/haasonsaas/switchboard/internal/dialect/responses"
)

// classify maps an upstream failure to an HTTP status and an error type in
// the Anthropic taxonomy, which the other dialect envelopes reuse.
func classify(err error) (status int, errType string) {
	var upstreamErr *auth.UpstreamError
	switch {
	case errors.Is(err, auth.ErrAuth):
		return http.StatusInternalServerError, anthropic.ErrAuthentication
	case errors.Is(err, auth.ErrConnection):
		return http.StatusBadGateway, anthropic.ErrAPI
	case errors.As(err, &upstreamErr):
		return http.StatusInternalServerError, anthropic.ErrAPI
	default:
		return http.StatusInternalServerError, anthropic.ErrAPI
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOpenAIError(w http.ResponseWriter, status int, message string) {
	errType := "server_error"
	if status >= 400 && status < 500 {
		errType = "invalid_request_error"
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": message, "type": errType},
	})
}

func writeAnthropicError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, anthropic.NewError(errType, message))
}

func writeResponsesError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, responses.NewError(errType, message))
}

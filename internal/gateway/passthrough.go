package gateway

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/haasonsaas/switchboard/internal/auth"
	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/dialect/responses"
)

// validEfforts are the reasoning strengths the native Responses upstream
// accepts.
var validEfforts = map[string]bool{
	"low": true, "medium": true, "high": true,
	"xhigh": true, "minimal": true, "none": true,
}

// handlePassthrough forwards a Responses request to a native Responses
// upstream, bypassing translation. Only the model name, the reasoning
// settings, and the bearer are rewritten; everything else passes through
// byte-for-byte, including non-2xx upstream statuses.
func (s *Server) handlePassthrough(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeResponsesError(w, http.StatusBadRequest, responses.ErrInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	s.rewritePassthroughBody(body)

	payload, err := json.Marshal(body)
	if err != nil {
		writeResponsesError(w, http.StatusInternalServerError, responses.ErrServer, err.Error())
		return
	}

	token, err := s.auth.AccessToken(r.Context())
	if err != nil {
		status, errType := classify(err)
		writeResponsesError(w, status, errType, err.Error())
		return
	}

	streaming, _ := body["stream"].(bool)
	accept := "application/json"
	if streaming {
		accept = "text/event-stream"
	}

	logger.Info("passthrough request", "model", body["model"], "stream", streaming)

	resp, err := s.auth.Do(r.Context(), auth.Request{
		Method: http.MethodPost,
		URL:    s.cfg.GetFresh(config.KeyResponsesAPIURL),
		Body:   payload,
		Header: http.Header{
			"Content-Type":  {"application/json"},
			"Accept":        {accept},
			"Authorization": {"Bearer " + token},
		},
		Retry: true,
	})
	if err != nil {
		logger.Error("passthrough connection failed", "error", err)
		writeResponsesError(w, http.StatusBadGateway, "connection_error",
			"Failed to connect to backend API: "+err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		logger.Error("passthrough upstream error", "status", resp.StatusCode, "body", string(excerpt))
		writeResponsesError(w, resp.StatusCode, responses.ErrServer, "Backend API error: "+string(excerpt))
		return
	}

	if !streaming {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeResponsesError(w, http.StatusInternalServerError, responses.ErrServer, "response writer does not support streaming")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if _, err := io.WriteString(w, scanner.Text()+"\n"); err != nil {
			logger.Warn("client disconnected mid-passthrough", "error", err)
			return
		}
		flusher.Flush()
	}
	if err := scanner.Err(); err != nil {
		logger.Error("passthrough stream read failed", "error", err)
	}
}

// rewritePassthroughBody applies the model and reasoning overrides in place.
func (s *Server) rewritePassthroughBody(body map[string]any) {
	incoming, _ := body["model"].(string)
	configured := s.cfg.GetFresh(config.KeyModelName)
	switch {
	case strings.HasPrefix(configured, "oca/"):
		body["model"] = configured
	case !strings.HasPrefix(incoming, "oca/"):
		body["model"] = "oca/" + incoming
	}

	reasoning, hasReasoning := body["reasoning"].(map[string]any)
	if effort := s.cfg.GetFresh(config.KeyReasoningStrength); validEfforts[effort] {
		if !hasReasoning {
			reasoning = map[string]any{}
			body["reasoning"] = reasoning
		}
		reasoning["effort"] = effort
	} else if !hasReasoning || body["reasoning"] == nil {
		if effort := s.cfg.GetFresh(config.KeyNonReasoningStrength); validEfforts[effort] {
			body["reasoning"] = map[string]any{"effort": effort, "summary": "auto"}
		}
	}
}

package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/haasonsaas/switchboard/internal/dialect/anthropic"
	"github.com/haasonsaas/switchboard/internal/upstream"
)

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	if r.Header.Get("anthropic-version") == "" {
		logger.Warn("missing anthropic-version header")
	}

	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAnthropicError(w, http.StatusBadRequest, anthropic.ErrInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if err := anthropic.Validate(&req); err != nil {
		writeAnthropicError(w, http.StatusBadRequest, anthropic.ErrInvalidRequest, err.Error())
		return
	}
	if !s.modelAvailable(req.Model) {
		writeAnthropicError(w, http.StatusNotFound, anthropic.ErrNotFound,
			fmt.Sprintf("Model '%s' not found. Available models: %s", req.Model, strings.Join(s.models, ", ")))
		return
	}

	msgs, tools, err := anthropic.ToCanonical(&req)
	if err != nil {
		writeAnthropicError(w, http.StatusBadRequest, anthropic.ErrInvalidRequest, err.Error())
		return
	}
	msgs = s.repair(msgs, logger)

	upReq := upstream.Request{
		Model:     req.Model,
		Messages:  msgs,
		Tools:     tools,
		MaxTokens: req.MaxTokens,
	}

	logger.Info("messages request", "model", req.Model, "stream", req.Stream, "messages", len(msgs), "tools", len(tools))

	if !req.Stream {
		res, err := s.upstream.Complete(r.Context(), upReq)
		if err != nil {
			status, errType := classify(err)
			writeAnthropicError(w, status, errType, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, anthropic.FromResult(res, req.Model, anthropic.NewMessageID(), msgs))
		return
	}

	chunks, err := s.upstream.Stream(r.Context(), upReq)
	if err != nil {
		status, errType := classify(err)
		writeAnthropicError(w, status, errType, err.Error())
		return
	}
	sw, err := anthropic.NewStreamWriter(w, anthropic.NewMessageID(), req.Model)
	if err != nil {
		writeAnthropicError(w, http.StatusInternalServerError, anthropic.ErrAPI, err.Error())
		return
	}
	for chunk := range chunks {
		if chunk.Err != nil {
			logger.Error("upstream stream failed", "error", chunk.Err)
			sw.WriteError(chunk.Err.Error())
			return
		}
		if err := sw.Write(chunk); err != nil {
			logger.Warn("client disconnected mid-stream", "error", err)
			return
		}
	}
	if err := sw.Finish(); err != nil {
		logger.Warn("client disconnected before stream end", "error", err)
		return
	}
	if calls := sw.SealedCalls(); len(calls) > 0 {
		logger.Info("messages stream finished with tool calls", "tool_calls", len(calls))
	}
}

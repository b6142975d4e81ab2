package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	oai "github.com/haasonsaas/switchboard/internal/dialect/openai"
	"github.com/haasonsaas/switchboard/internal/upstream"
)

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	var req oai.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeOpenAIError(w, http.StatusBadRequest, "model: This field is required")
		return
	}
	if !s.modelAvailable(req.Model) {
		writeOpenAIError(w, http.StatusNotFound, fmt.Sprintf("Model '%s' not found. Available models: %s", req.Model, strings.Join(s.models, ", ")))
		return
	}

	msgs, tools, err := oai.ToCanonical(&req)
	if err != nil {
		writeOpenAIError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs = s.repair(msgs, logger)

	upReq := upstream.Request{
		Model:     req.Model,
		Messages:  msgs,
		Tools:     tools,
		MaxTokens: req.MaxTokens,
	}
	if len(req.ToolChoice) > 0 {
		upReq.ToolChoice = req.ToolChoice
	}

	logger.Info("chat completion request", "model", req.Model, "stream", req.Stream, "messages", len(msgs), "tools", len(tools))

	if !req.Stream {
		res, err := s.upstream.Complete(r.Context(), upReq)
		if err != nil {
			status, _ := classify(err)
			writeOpenAIError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, oai.FromResult(res, req.Model, msgs))
		return
	}

	chunks, err := s.upstream.Stream(r.Context(), upReq)
	if err != nil {
		status, _ := classify(err)
		writeOpenAIError(w, status, err.Error())
		return
	}
	sw, err := oai.NewStreamWriter(w, req.Model)
	if err != nil {
		writeOpenAIError(w, http.StatusInternalServerError, err.Error())
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
	}
}

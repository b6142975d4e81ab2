package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/dialect/responses"
	"github.com/haasonsaas/switchboard/internal/model"
	"github.com/haasonsaas/switchboard/internal/upstream"
)

func (s *Server) handleCreateResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	// A configured native Responses upstream short-circuits translation
	// entirely. Re-read per request so the mode can change at runtime.
	if s.cfg.GetFresh(config.KeyResponsesAPIURL) != "" {
		s.handlePassthrough(w, r, logger)
		return
	}

	var req responses.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponsesError(w, http.StatusBadRequest, responses.ErrInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeResponsesError(w, http.StatusBadRequest, responses.ErrInvalidRequest, "model: This field is required")
		return
	}
	if req.PreviousResponseID != "" {
		if _, ok := s.store.Get(req.PreviousResponseID); !ok {
			writeResponsesError(w, http.StatusNotFound, responses.ErrNotFound,
				fmt.Sprintf("previous_response_id: Response '%s' not found", req.PreviousResponseID))
			return
		}
	}

	resolved := responses.ResolveModel(req.Model, s.cfg.GetFresh(config.KeyModelName))
	if !s.modelAvailable(resolved) {
		writeResponsesError(w, http.StatusNotFound, responses.ErrNotFound,
			fmt.Sprintf("Model '%s' not found. Available models: %s", resolved, strings.Join(s.models, ", ")))
		return
	}

	msgs, tools, err := responses.ToCanonical(&req)
	if err != nil {
		writeResponsesError(w, http.StatusBadRequest, responses.ErrInvalidRequest, err.Error())
		return
	}
	msgs = s.repair(msgs, logger)

	upReq := upstream.Request{
		Model:     resolved,
		Messages:  msgs,
		Tools:     tools,
		MaxTokens: req.MaxOutputTokens,
	}
	if len(req.ToolChoice) > 0 {
		upReq.ToolChoice = req.ToolChoice
	}

	responseID := responses.NewResponseID()
	logger.Info("responses request", "model", resolved, "stream", req.Stream,
		"store", req.StoreEnabled(), "previous_response_id", req.PreviousResponseID)

	if !req.Stream {
		res, err := s.upstream.Complete(r.Context(), upReq)
		if err != nil {
			status, errType := classify(err)
			writeResponsesError(w, status, errType, err.Error())
			return
		}
		resp := responses.FromResult(res, responseID, resolved, req.PreviousResponseID, msgs)
		if req.StoreEnabled() {
			s.store.Put(resp)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	chunks, err := s.upstream.Stream(r.Context(), upReq)
	if err != nil {
		status, errType := classify(err)
		writeResponsesError(w, status, errType, err.Error())
		return
	}
	sw, err := responses.NewStreamWriter(w, responseID, resolved, req.PreviousResponseID, model.EstimateInputTokens(msgs))
	if err != nil {
		writeResponsesError(w, http.StatusInternalServerError, responses.ErrServer, err.Error())
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
	final, err := sw.Finish()
	if err != nil {
		logger.Warn("client disconnected before stream end", "error", err)
		return
	}
	if req.StoreEnabled() {
		s.store.Put(final)
	}
}

func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	id := r.PathValue("id")
	resp, ok := s.store.Get(id)
	if !ok {
		writeResponsesError(w, http.StatusNotFound, responses.ErrNotFound, fmt.Sprintf("Response '%s' not found", id))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	id := r.PathValue("id")
	if !s.store.Delete(id) {
		writeResponsesError(w, http.StatusNotFound, responses.ErrNotFound, fmt.Sprintf("Response '%s' not found", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "object": "response", "deleted": true})
}

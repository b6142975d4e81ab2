package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

type modelCard struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	cards := make([]modelCard, 0, len(s.models))
	for _, id := range s.models {
		cards = append(cards, modelCard{ID: id, Object: "model", Created: time.Now().Unix(), OwnedBy: "oca"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": cards})
}

// handleModelInfo serves the LiteLLM-shaped metadata listing some clients
// probe before routing traffic.
func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	data := make([]map[string]any, 0, len(s.models))
	for _, id := range s.models {
		data = append(data, map[string]any{
			"model_name":     id,
			"litellm_params": map[string]any{"model": id},
			"model_info": map[string]any{
				"id":               id,
				"key":              id,
				"db_model":         false,
				"mode":             "chat",
				"litellm_provider": "oca",
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// handleSpendCalculate is a compatibility stub: it echoes the submitted
// usage and reports zero cost.
func (s *Server) handleSpendCalculate(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		body = map[string]any{}
	}
	usageField := func(key string) any {
		if v, ok := body[key]; ok {
			return v
		}
		return 0
	}
	modelName, _ := body["model"].(string)
	if modelName == "" {
		modelName = "unknown"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     "spend-calc-12345",
		"object": "spend.calculation",
		"model":  modelName,
		"usage": map[string]any{
			"prompt_tokens":     usageField("prompt_tokens"),
			"completion_tokens": usageField("completion_tokens"),
			"total_tokens":      usageField("total_tokens"),
		},
		"result": map[string]any{"cost": 0.0, "currency": "USD"},
	})
}

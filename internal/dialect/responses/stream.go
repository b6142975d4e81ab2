package responses

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/switchboard/internal/model"
	"github.com/haasonsaas/switchboard/internal/upstream"
)

// StreamWriter remultiplexes upstream deltas into the Responses event
// grammar:
//
//	response.created
//	response.output_item.added (message)
//	response.output_text.delta*
//	response.output_item.done (message)
//	response.output_item.added (function_call) / ...arguments.delta* / .done
//	response.completed
//
// Every event carries a sequence_number allocated at emission time. The
// assistant message item is opened eagerly at output index 0; it is closed
// when the first tool call appears (or at completion). Tool items are
// announced as soon as their first delta arrives and finalised together at
// completion, mirroring how argument fragments actually interleave.
type StreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	responseID  string
	model       string
	previousID  string
	inputTokens int

	seq         int
	outputIndex int

	msgItemID string
	msgOpen   bool
	msgText   string

	states map[toolKey]*toolItem
	order  []toolKey
}

type toolKey struct {
	byIndex bool
	index   int
	id      string
}

type toolItem struct {
	itemID      string
	callID      string
	name        string
	arguments   string
	outputIndex int
}

// NewStreamWriter prepares SSE output and emits response.created plus the
// opening message item.
func NewStreamWriter(w http.ResponseWriter, responseID, modelName, previousID string, inputTokens int) (*StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s := &StreamWriter{
		w:           w,
		flusher:     flusher,
		responseID:  responseID,
		model:       modelName,
		previousID:  previousID,
		inputTokens: inputTokens,
		msgItemID:   newItemID("msg"),
		states:      make(map[toolKey]*toolItem),
	}

	err := s.event("response.created", map[string]any{
		"response": map[string]any{
			"id":                   responseID,
			"object":               "response",
			"model":                modelName,
			"status":               "in_progress",
			"output":               []any{},
			"previous_response_id": orNil(previousID),
		},
	})
	if err != nil {
		return nil, err
	}

	s.msgOpen = true
	err = s.event("response.output_item.added", map[string]any{
		"output_index": 0,
		"item": map[string]any{
			"id":      s.msgItemID,
			"type":    "message",
			"role":    "assistant",
			"content": []any{},
			"status":  "in_progress",
		},
	})
	if err != nil {
		return nil, err
	}
	s.outputIndex = 1
	return s, nil
}

// Write folds one upstream chunk into the event stream.
func (s *StreamWriter) Write(chunk upstream.Chunk) error {
	if chunk.Text != "" {
		if !s.msgOpen {
			// Text after the message item closed has no legal home;
			// keep it for the final output but emit nothing.
			s.msgText += chunk.Text
		} else {
			s.msgText += chunk.Text
			err := s.event("response.output_text.delta", map[string]any{
				"output_index":  0,
				"content_index": 0,
				"delta":         chunk.Text,
			})
			if err != nil {
				return err
			}
		}
	}

	for _, delta := range chunk.ToolCalls {
		if err := s.writeToolDelta(delta); err != nil {
			return err
		}
	}
	return nil
}

func (s *StreamWriter) writeToolDelta(delta openai.ToolCall) error {
	key := keyFor(delta)
	state, ok := s.states[key]
	if !ok {
		if err := s.closeMessageItem(); err != nil {
			return err
		}
		state = &toolItem{
			itemID:      newItemID("fc"),
			callID:      delta.ID,
			outputIndex: s.outputIndex,
		}
		if state.callID == "" {
			state.callID = newCallID()
		}
		s.states[key] = state
		s.order = append(s.order, key)
		s.outputIndex++

		err := s.event("response.output_item.added", map[string]any{
			"output_index": state.outputIndex,
			"item": map[string]any{
				"id":        state.itemID,
				"type":      "function_call",
				"call_id":   state.callID,
				"name":      delta.Function.Name,
				"arguments": "",
				"status":    "in_progress",
			},
		})
		if err != nil {
			return err
		}
	}

	if state.name == "" && delta.Function.Name != "" {
		state.name = delta.Function.Name
	}
	if args := delta.Function.Arguments; args != "" {
		state.arguments += args
		err := s.event("response.function_call_arguments.delta", map[string]any{
			"output_index": state.outputIndex,
			"call_id":      state.callID,
			"delta":        args,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *StreamWriter) closeMessageItem() error {
	if !s.msgOpen {
		return nil
	}
	s.msgOpen = false
	return s.event("response.output_item.done", map[string]any{
		"output_index": 0,
		"item":         s.finalMessageItem(),
	})
}

func (s *StreamWriter) finalMessageItem() OutputItem {
	item := messageItem(s.msgItemID, s.msgText)
	return item
}

// Finish closes open items, emits response.completed, and returns the
// final response for the retrieval store.
func (s *StreamWriter) Finish() (*Response, error) {
	if err := s.closeMessageItem(); err != nil {
		return nil, err
	}

	output := []OutputItem{s.finalMessageItem()}
	calls := make([]model.ToolCall, 0, len(s.order))
	for _, key := range s.order {
		state := s.states[key]
		item := OutputItem{
			ID:        state.itemID,
			Type:      "function_call",
			CallID:    state.callID,
			Name:      state.name,
			Arguments: state.arguments,
			Status:    "completed",
		}
		output = append(output, item)
		calls = append(calls, model.ToolCall{ID: state.callID, Name: state.name, Arguments: state.arguments})

		err := s.event("response.output_item.done", map[string]any{
			"output_index": state.outputIndex,
			"item":         item,
		})
		if err != nil {
			return nil, err
		}
	}

	outputTokens := model.EstimateOutputTokens(s.msgText, calls)
	usage := &Usage{
		InputTokens:  s.inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  s.inputTokens + outputTokens,
	}

	resp := &Response{
		ID:                 s.responseID,
		Object:             "response",
		CreatedAt:          time.Now().Unix(),
		Model:              s.model,
		Output:             output,
		Status:             "completed",
		Usage:              usage,
		PreviousResponseID: s.previousID,
	}

	err := s.event("response.completed", map[string]any{
		"response": map[string]any{
			"id":                   s.responseID,
			"object":               "response",
			"model":                s.model,
			"status":               "completed",
			"output":               output,
			"usage":                usage,
			"previous_response_id": orNil(s.previousID),
		},
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// WriteError emits response.failed followed by an inline error event.
func (s *StreamWriter) WriteError(message string) {
	_ = s.event("response.failed", map[string]any{
		"response": map[string]any{
			"id":     s.responseID,
			"object": "response",
			"status": "failed",
		},
	})
	_ = s.event("error", map[string]any{
		"error": map[string]any{"type": "server_error", "message": message},
	})
}

func keyFor(delta openai.ToolCall) toolKey {
	switch {
	case delta.Index != nil:
		return toolKey{byIndex: true, index: *delta.Index}
	case delta.ID != "":
		return toolKey{id: delta.ID}
	default:
		return toolKey{byIndex: true}
	}
}

// event emits one SSE frame, stamping the event type and the next
// sequence number into the payload.
func (s *StreamWriter) event(eventType string, payload map[string]any) error {
	payload["type"] = eventType
	payload["sequence_number"] = s.seq
	s.seq++

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

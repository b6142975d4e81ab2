package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/haasonsaas/switchboard/internal/upstream"
)

// StreamWriter re-emits upstream deltas as chat.completion.chunk events.
// The upstream already speaks this dialect, so streaming is a reshape: each
// delta gets the gateway's chunk envelope, and the stream is closed with a
// finish_reason chunk followed by the [DONE] marker.
type StreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	id      string
	model   string
	created int64
	started bool
}

// NewStreamWriter prepares SSE output on w. It fails when the underlying
// writer cannot flush incrementally.
func NewStreamWriter(w http.ResponseWriter, modelName string) (*StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &StreamWriter{
		w:       w,
		flusher: flusher,
		id:      NewChatID(),
		model:   modelName,
		created: time.Now().Unix(),
	}, nil
}

// Write emits one delta chunk.
func (s *StreamWriter) Write(chunk upstream.Chunk) error {
	delta := ChatDelta{Content: chunk.Text}
	if !s.started {
		delta.Role = "assistant"
		s.started = true
	}
	for i, tc := range chunk.ToolCalls {
		index := i
		if tc.Index != nil {
			index = *tc.Index
		}
		delta.ToolCalls = append(delta.ToolCalls, ChunkToolCall{
			Index:    index,
			ID:       tc.ID,
			Type:     string(tc.Type),
			Function: ChatFunction{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return s.emit(ChatChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []ChatChunkChoice{{Delta: delta}},
	})
}

// Finish emits the terminal finish_reason chunk and the [DONE] marker.
func (s *StreamWriter) Finish() error {
	finish := "stop"
	if err := s.emit(ChatChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []ChatChunkChoice{{Delta: ChatDelta{}, FinishReason: &finish}},
	}); err != nil {
		return err
	}
	return s.writeRaw("[DONE]")
}

// WriteError surfaces a mid-stream failure inline and terminates the
// stream. The HTTP status is already committed, so this is the only channel
// left to the client.
func (s *StreamWriter) WriteError(message string) {
	payload := map[string]any{
		"error": map[string]any{"message": message, "type": "server_error"},
	}
	if data, err := json.Marshal(payload); err == nil {
		s.writeRaw(string(data))
	}
	s.writeRaw("[DONE]")
}

func (s *StreamWriter) emit(chunk ChatChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	return s.writeRaw(string(data))
}

func (s *StreamWriter) writeRaw(payload string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

package anthropic

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/switchboard/internal/model"
	"github.com/haasonsaas/switchboard/internal/upstream"
)

// StreamWriter remultiplexes upstream Chat Completions deltas into the
// Messages event grammar:
//
//	message_start
//	content_block_start / content_block_delta* / content_block_stop   (per block)
//	message_delta{stop_reason, usage}
//	message_stop
//
// Content blocks are strictly sequential. The text block opens lazily on
// the first non-empty text delta. A tool block opens once both its id and
// name have been observed; argument fragments arriving before that are
// buffered and replayed at open. Upstream call_ ids are rewritten into the
// toolu_ namespace.
type StreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	messageID string
	model     string

	blockIndex int
	textOpen   bool
	textDone   bool
	textWords  int

	current *toolState            // tool block currently open, if any
	states  map[toolKey]*toolState
	order   []toolKey
}

type toolKey struct {
	byIndex bool
	index   int
	id      string
}

type toolState struct {
	id      string
	name    string
	pending []string // argument fragments buffered before open
	opened  bool
	closed  bool
	index   int
	argLen  int
}

// NewStreamWriter prepares SSE output and emits message_start.
func NewStreamWriter(w http.ResponseWriter, messageID, modelName string) (*StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s := &StreamWriter{
		w:         w,
		flusher:   flusher,
		messageID: messageID,
		model:     modelName,
		states:    make(map[toolKey]*toolState),
	}
	err := s.event("message_start", map[string]any{
		"type": "message_start",
		"message": &MessagesResponse{
			ID:      messageID,
			Type:    "message",
			Role:    "assistant",
			Model:   modelName,
			Content: []ContentBlock{},
			Usage:   Usage{},
		},
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Write folds one upstream chunk into the event stream.
func (s *StreamWriter) Write(chunk upstream.Chunk) error {
	if chunk.Text != "" {
		if err := s.writeText(chunk.Text); err != nil {
			return err
		}
	}
	for _, delta := range chunk.ToolCalls {
		if err := s.writeToolDelta(delta); err != nil {
			return err
		}
	}
	return nil
}

func (s *StreamWriter) writeText(text string) error {
	if s.textDone {
		// Text after tool blocks have started cannot reopen the closed
		// block; the grammar has no place for it.
		return nil
	}
	if !s.textOpen {
		err := s.event("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         s.blockIndex,
			"content_block": map[string]any{"type": "text", "text": ""},
		})
		if err != nil {
			return err
		}
		s.textOpen = true
	}
	s.textWords += len(strings.Fields(text))
	return s.event("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": s.blockIndex,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})
}

func (s *StreamWriter) writeToolDelta(delta openai.ToolCall) error {
	key := keyFor(delta)
	state, ok := s.states[key]
	if !ok {
		state = &toolState{}
		s.states[key] = state
		s.order = append(s.order, key)
	}
	if state.id == "" && delta.ID != "" {
		state.id = delta.ID
	}
	if state.name == "" && delta.Function.Name != "" {
		state.name = delta.Function.Name
	}
	if args := delta.Function.Arguments; args != "" {
		switch {
		case state.closed:
			// The block has already been terminated; late fragments have
			// no home in the grammar.
		case state.opened:
			state.argLen += len(args)
			return s.argDelta(state.index, args)
		default:
			state.argLen += len(args)
			state.pending = append(state.pending, args)
		}
	}

	if !state.opened && !state.closed && state.id != "" && state.name != "" {
		return s.openToolBlock(state)
	}
	return nil
}

func (s *StreamWriter) openToolBlock(state *toolState) error {
	if err := s.closeCurrentBlock(); err != nil {
		return err
	}
	// Once a tool block exists, later text deltas have no legal slot; the
	// text block is done whether or not it ever opened.
	s.textDone = true
	state.opened = true
	state.index = s.blockIndex
	s.current = state

	err := s.event("content_block_start", map[string]any{
		"type":  "content_block_start",
		"index": state.index,
		"content_block": map[string]any{
			"type":  "tool_use",
			"id":    RewriteToolUseID(state.id),
			"name":  state.name,
			"input": map[string]any{},
		},
	})
	if err != nil {
		return err
	}
	for _, fragment := range state.pending {
		if err := s.argDelta(state.index, fragment); err != nil {
			return err
		}
	}
	state.pending = nil
	return nil
}

func (s *StreamWriter) argDelta(index int, partial string) error {
	return s.event("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": index,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": partial},
	})
}

// closeCurrentBlock ends whichever block is open and advances block_index.
func (s *StreamWriter) closeCurrentBlock() error {
	switch {
	case s.textOpen:
		s.textOpen = false
		s.textDone = true
	case s.current != nil:
		s.current.closed = true
		s.current = nil
	default:
		return nil
	}
	err := s.event("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": s.blockIndex,
	})
	s.blockIndex++
	return err
}

// Finish closes any open block and emits message_delta plus message_stop.
func (s *StreamWriter) Finish() error {
	if err := s.closeCurrentBlock(); err != nil {
		return err
	}

	stopReason := "end_turn"
	argChars := 0
	for _, key := range s.order {
		state := s.states[key]
		if !state.opened {
			// Never completed id+name, so nothing was streamed for it.
			continue
		}
		stopReason = "tool_use"
		argChars += state.argLen
	}

	err := s.event("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason, "stop_sequence": nil},
		"usage": Usage{OutputTokens: s.textWords + argChars/4},
	})
	if err != nil {
		return err
	}
	return s.event("message_stop", map[string]any{"type": "message_stop"})
}

// WriteError emits an inline error frame; the stream ends afterwards.
func (s *StreamWriter) WriteError(message string) {
	_ = s.event("error", NewError(ErrAPI, message))
}

// SealedCalls exposes the final tool calls (with rewritten ids) for the
// handler's bookkeeping, e.g. logging.
func (s *StreamWriter) SealedCalls() []model.ToolCall {
	var calls []model.ToolCall
	for _, key := range s.order {
		state := s.states[key]
		if !state.opened && !state.closed {
			continue
		}
		calls = append(calls, model.ToolCall{ID: RewriteToolUseID(state.id), Name: state.name})
	}
	return calls
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

func (s *StreamWriter) event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

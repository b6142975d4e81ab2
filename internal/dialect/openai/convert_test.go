package openai

import (
	"encoding/json"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	sdk "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/switchboard/internal/model"
	"github.com/haasonsaas/switchboard/internal/upstream"
)

func TestToCanonicalNormalisesContent(t *testing.T) {
	raw := `{
		"model": "oca/base",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": [
				{"type": "text", "text": "first part"},
				{"type": "text", "text": "second part"}
			]},
			{"role": "assistant", "content": "on it", "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"x\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "result"}
		],
		"tools": [
			{"type": "function", "function": {"name": "lookup", "description": "find things", "parameters": {"type": "object"}}}
		]
	}`
	var req ChatRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	msgs, tools, err := ToCanonical(&req)
	if err != nil {
		t.Fatalf("ToCanonical: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[1].Content != "first part\nsecond part" {
		t.Errorf("part-list content = %q", msgs[1].Content)
	}
	if msgs[2].Weight() != 1 || msgs[2].ToolCalls[0].Arguments != `{"q":"x"}` {
		t.Errorf("assistant message = %+v", msgs[2])
	}
	if msgs[3].Role != model.RoleTool || msgs[3].ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", msgs[3])
	}
	if len(tools) != 1 || tools[0].Name != "lookup" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestToCanonicalRejectsUnknownRole(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{{Role: "narrator", Content: "hm"}}}
	if _, _, err := ToCanonical(req); err == nil {
		t.Error("ToCanonical accepted an unknown role")
	}
}

func TestFromResult(t *testing.T) {
	tests := []struct {
		name       string
		result     *upstream.Result
		wantFinish string
	}{
		{"text only", &upstream.Result{Text: "hello world"}, "stop"},
		{"with tool calls", &upstream.Result{ToolCalls: []model.ToolCall{{ID: "call_1", Name: "f", Arguments: "{}"}}}, "tool_calls"},
	}

	idPattern := regexp.MustCompile(`^chatcmpl-[a-zA-Z0-9]{29}$`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := FromResult(tt.result, "oca/base", []model.Message{model.User("two words")})
			if !idPattern.MatchString(resp.ID) {
				t.Errorf("id = %q", resp.ID)
			}
			if resp.Object != "chat.completion" {
				t.Errorf("object = %q", resp.Object)
			}
			if got := resp.Choices[0].FinishReason; got != tt.wantFinish {
				t.Errorf("finish_reason = %q, want %q", got, tt.wantFinish)
			}
			if resp.Usage.PromptTokens != 1 {
				t.Errorf("prompt_tokens = %d, want 1", resp.Usage.PromptTokens)
			}
		})
	}
}

func TestStreamWriterGrammar(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewStreamWriter(rec, "oca/base")
	if err != nil {
		t.Fatalf("NewStreamWriter: %v", err)
	}

	if err := sw.Write(upstream.Chunk{Text: "Hel"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	idx := 0
	if err := sw.Write(upstream.Chunk{ToolCalls: []sdk.ToolCall{{
		Index: &idx, ID: "call_1", Type: "function",
		Function: sdk.FunctionCall{Name: "lookup", Arguments: `{"q":1}`},
	}}}); err != nil {
		t.Fatalf("Write tool delta: %v", err)
	}
	if err := sw.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	body := rec.Body.String()
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}

	var frames []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(frames) != 4 {
		t.Fatalf("frames = %d (%q), want 4", len(frames), frames)
	}
	if frames[len(frames)-1] != "[DONE]" {
		t.Errorf("terminal frame = %q, want [DONE]", frames[len(frames)-1])
	}

	var first ChatChunk
	if err := json.Unmarshal([]byte(frames[0]), &first); err != nil {
		t.Fatalf("decode first chunk: %v", err)
	}
	if first.Choices[0].Delta.Role != "assistant" || first.Choices[0].Delta.Content != "Hel" {
		t.Errorf("first delta = %+v", first.Choices[0].Delta)
	}

	var finishing ChatChunk
	if err := json.Unmarshal([]byte(frames[2]), &finishing); err != nil {
		t.Fatalf("decode finish chunk: %v", err)
	}
	if finishing.Choices[0].FinishReason == nil || *finishing.Choices[0].FinishReason != "stop" {
		t.Errorf("finish chunk = %+v", finishing.Choices[0])
	}
}

func TestStreamWriterError(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewStreamWriter(rec, "oca/base")
	if err != nil {
		t.Fatalf("NewStreamWriter: %v", err)
	}
	sw.WriteError("boom")

	body := rec.Body.String()
	if !strings.Contains(body, `"type":"server_error"`) {
		t.Errorf("error frame missing: %q", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Errorf("stream not terminated with [DONE]: %q", body)
	}
}

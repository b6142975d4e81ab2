package anthropic

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/haasonsaas/switchboard/internal/model"
	"github.com/haasonsaas/switchboard/internal/upstream"
)

func TestValidate(t *testing.T) {
	valid := func() *MessagesRequest {
		return &MessagesRequest{
			Model:     "oca/base",
			MaxTokens: 100,
			Messages:  []InMessage{{Role: "user", Content: json.RawMessage(`"hi"`)}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*MessagesRequest)
		wantErr bool
	}{
		{"valid", func(r *MessagesRequest) {}, false},
		{"empty model", func(r *MessagesRequest) { r.Model = " " }, true},
		{"zero max_tokens", func(r *MessagesRequest) { r.MaxTokens = 0 }, true},
		{"no messages", func(r *MessagesRequest) { r.Messages = nil }, true},
		{"bad role", func(r *MessagesRequest) { r.Messages[0].Role = "tool" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			if err := Validate(req); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToCanonical(t *testing.T) {
	raw := `{
		"model": "oca/base",
		"max_tokens": 512,
		"system": "you are terse",
		"messages": [
			{"role": "user", "content": "look this up"},
			{"role": "assistant", "content": [
				{"type": "text", "text": "checking"},
				{"type": "tool_use", "id": "toolu_abc", "name": "lookup", "input": {"q": "x"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_abc", "content": [
					{"type": "text", "text": "line one"},
					{"type": "text", "text": "line two"}
				]},
				{"type": "text", "text": "and then?"}
			]}
		],
		"tools": [{"name": "lookup", "description": "find", "input_schema": {"type": "object"}}]
	}`
	var req MessagesRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	msgs, tools, err := ToCanonical(&req)
	if err != nil {
		t.Fatalf("ToCanonical: %v", err)
	}

	want := []model.Message{
		model.System("you are terse"),
		model.User("look this up"),
		model.AssistantToolCalls("checking", []model.ToolCall{{ID: "toolu_abc", Name: "lookup", Arguments: `{"q": "x"}`}}),
		model.ToolResult("toolu_abc", "line one\nline two"),
		model.User("and then?"),
	}
	if !reflect.DeepEqual(msgs, want) {
		t.Errorf("messages = %+v\nwant %+v", msgs, want)
	}
	if len(tools) != 1 || tools[0].Name != "lookup" || tools[0].Parameters["type"] != "object" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestRewriteToolUseID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"call_xyz789", "toolu_xyz789"},
		{"toolu_already", "toolu_already"},
		{"opaque-id", "opaque-id"},
	}
	for _, tt := range tests {
		if got := RewriteToolUseID(tt.in); got != tt.want {
			t.Errorf("RewriteToolUseID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := RewriteToolUseID(""); len(got) != len("toolu_")+24 {
		t.Errorf("RewriteToolUseID(\"\") = %q, want generated toolu_ id", got)
	}
}

func TestFromResult(t *testing.T) {
	res := &upstream.Result{
		Text: "found it",
		ToolCalls: []model.ToolCall{
			{ID: "call_1", Name: "lookup", Arguments: `{"q":"x"}`},
			{ID: "call_2", Name: "broken", Arguments: `{"q":`},
		},
	}
	resp := FromResult(res, "oca/base", "msg_test", []model.Message{model.User("two words")})

	if resp.StopReason != "tool_use" {
		t.Errorf("stop_reason = %q, want tool_use", resp.StopReason)
	}
	if len(resp.Content) != 3 {
		t.Fatalf("content blocks = %d, want 3", len(resp.Content))
	}
	if resp.Content[0].Type != "text" || resp.Content[0].Text != "found it" {
		t.Errorf("text block = %+v", resp.Content[0])
	}
	if resp.Content[1].ID != "toolu_1" {
		t.Errorf("tool_use id = %q, want toolu_1", resp.Content[1].ID)
	}
	if resp.Content[1].Input["q"] != "x" {
		t.Errorf("tool_use input = %+v", resp.Content[1].Input)
	}
	// Unparsable arguments degrade to an empty input object.
	if len(resp.Content[2].Input) != 0 {
		t.Errorf("broken input = %+v, want empty", resp.Content[2].Input)
	}
	if resp.Usage.InputTokens != 1 {
		t.Errorf("input_tokens = %d, want 1", resp.Usage.InputTokens)
	}
}

func TestFromResultTextOnly(t *testing.T) {
	resp := FromResult(&upstream.Result{Text: "hello"}, "oca/base", "msg_t", nil)
	if resp.StopReason != "end_turn" {
		t.Errorf("stop_reason = %q, want end_turn", resp.StopReason)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != "text" {
		t.Errorf("content = %+v", resp.Content)
	}
}

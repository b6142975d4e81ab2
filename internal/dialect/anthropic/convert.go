package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/switchboard/internal/dialect"
	"github.com/haasonsaas/switchboard/internal/model"
	"github.com/haasonsaas/switchboard/internal/upstream"
)

const toolUseIDLength = 24

// NewMessageID mints a message identifier.
func NewMessageID() string { return dialect.RandomID("msg_", 24) }

// RewriteToolUseID maps an upstream tool-call id into the dialect's toolu_
// namespace. The common case is a call_ prefix swap, which keeps the id
// bijective so tool results can be mapped back.
func RewriteToolUseID(id string) string {
	switch {
	case id == "":
		return dialect.RandomID("toolu_", toolUseIDLength)
	case strings.HasPrefix(id, "call_"):
		return "toolu_" + strings.TrimPrefix(id, "call_")
	default:
		return id
	}
}

// Validate checks the structural requirements the dialect enforces at the
// boundary. The returned error text is already client-facing.
func Validate(req *MessagesRequest) error {
	if strings.TrimSpace(req.Model) == "" {
		return fmt.Errorf("model: This field is required")
	}
	if req.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens: This field is required and must be > 0")
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("messages: Must provide at least one message")
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "user", "assistant", "system":
		default:
			return fmt.Errorf("messages: Invalid role %q. Must be one of: user, assistant, system", m.Role)
		}
	}
	return nil
}

// ToCanonical converts a Messages request into canonical messages and
// tools.
func ToCanonical(req *MessagesRequest) ([]model.Message, []model.Tool, error) {
	var msgs []model.Message

	if sys := contentText(req.System); sys != "" {
		msgs = append(msgs, model.System(sys))
	}

	for i, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, model.System(contentText(m.Content)))
		case "user":
			converted, err := convertUserContent(m.Content)
			if err != nil {
				return nil, nil, fmt.Errorf("messages[%d]: %w", i, err)
			}
			msgs = append(msgs, converted...)
		case "assistant":
			converted, err := convertAssistantContent(m.Content)
			if err != nil {
				return nil, nil, fmt.Errorf("messages[%d]: %w", i, err)
			}
			msgs = append(msgs, converted)
		default:
			return nil, nil, fmt.Errorf("messages[%d]: unsupported role %q", i, m.Role)
		}
	}

	var tools []model.Tool
	for _, t := range req.Tools {
		tools = append(tools, model.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return msgs, tools, nil
}

// convertUserContent expands one user message. tool_result blocks become
// standalone canonical tool results (emitted before any accompanying text
// so they stay adjacent to the assistant turn they answer); text blocks
// collapse into a single user message.
func convertUserContent(raw json.RawMessage) ([]model.Message, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []model.Message{model.User(text)}, nil
	}

	var blocks []InContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("content must be a string or block list")
	}

	var out []model.Message
	var texts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case "tool_result":
			out = append(out, model.ToolResult(b.ToolUseID, contentText(b.Content)))
		}
	}
	if len(texts) > 0 {
		out = append(out, model.User(strings.Join(texts, "\n")))
	}
	return out, nil
}

func convertAssistantContent(raw json.RawMessage) (model.Message, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return model.AssistantText(text), nil
	}

	var blocks []InContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return model.Message{}, fmt.Errorf("content must be a string or block list")
	}

	var texts []string
	var calls []model.ToolCall
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case "tool_use":
			args := "{}"
			if len(b.Input) > 0 {
				args = string(b.Input)
			}
			calls = append(calls, model.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	content := strings.Join(texts, "\n")
	if len(calls) > 0 {
		return model.AssistantToolCalls(content, calls), nil
	}
	return model.AssistantText(content), nil
}

// contentText extracts plain text from a value that may be a string, a
// block list, or absent.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []InContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var texts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// FromResult renders an aggregated upstream reply as a Messages response.
func FromResult(res *upstream.Result, modelName, messageID string, input []model.Message) *MessagesResponse {
	var content []ContentBlock
	if res.Text != "" {
		content = append(content, ContentBlock{Type: "text", Text: res.Text})
	}
	for _, call := range res.ToolCalls {
		content = append(content, ContentBlock{
			Type:  "tool_use",
			ID:    RewriteToolUseID(call.ID),
			Name:  call.Name,
			Input: call.ArgumentsMap(),
		})
	}

	stopReason := "end_turn"
	if len(res.ToolCalls) > 0 {
		stopReason = "tool_use"
	}
	return &MessagesResponse{
		ID:         messageID,
		Type:       "message",
		Role:       "assistant",
		Model:      modelName,
		Content:    content,
		StopReason: stopReason,
		Usage: Usage{
			InputTokens:  model.EstimateInputTokens(input),
			OutputTokens: model.EstimateOutputTokens(res.Text, res.ToolCalls),
		},
	}
}

package openai

import (
	"fmt"
	"time"

	"github.com/haasonsaas/switchboard/internal/dialect"
	"github.com/haasonsaas/switchboard/internal/model"
	"github.com/haasonsaas/switchboard/internal/upstream"
)

// chatIDLength is the random suffix length of chat completion ids.
const chatIDLength = 29

// NewChatID mints a chat completion identifier.
func NewChatID() string { return dialect.RandomIDMixed("chatcmpl-", chatIDLength) }

// ToCanonical converts a Chat Completions request into canonical messages
// and tools. The mapping is close to identity; only content normalisation
// and tool-call reshaping happen here.
func ToCanonical(req *ChatRequest) ([]model.Message, []model.Tool, error) {
	msgs := make([]model.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		switch m.Role {
		case "system", "developer":
			msgs = append(msgs, model.System(string(m.Content)))
		case "user":
			msgs = append(msgs, model.User(string(m.Content)))
		case "assistant":
			if len(m.ToolCalls) > 0 {
				calls := make([]model.ToolCall, 0, len(m.ToolCalls))
				for _, tc := range m.ToolCalls {
					calls = append(calls, model.ToolCall{
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					})
				}
				msgs = append(msgs, model.AssistantToolCalls(string(m.Content), calls))
			} else {
				msgs = append(msgs, model.AssistantText(string(m.Content)))
			}
		case "tool":
			msgs = append(msgs, model.ToolResult(m.ToolCallID, string(m.Content)))
		default:
			return nil, nil, fmt.Errorf("messages[%d]: unsupported role %q", i, m.Role)
		}
	}

	var tools []model.Tool
	for _, t := range req.Tools {
		if t.Type != "" && t.Type != "function" {
			continue
		}
		tools = append(tools, model.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return msgs, tools, nil
}

// FromResult renders an aggregated upstream reply as a Chat Completions
// response.
func FromResult(res *upstream.Result, modelName string, input []model.Message) *ChatResponse {
	msg := ChatResponseMessage{Role: "assistant", Content: res.Text}
	finish := "stop"
	if len(res.ToolCalls) > 0 {
		finish = "tool_calls"
		msg.ToolCalls = make([]ChatToolCall, 0, len(res.ToolCalls))
		for _, call := range res.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ChatToolCall{
				ID:       call.ID,
				Type:     "function",
				Function: ChatFunction{Name: call.Name, Arguments: call.Arguments},
			})
		}
	}

	prompt := model.EstimateInputTokens(input)
	completion := model.EstimateOutputTokens(res.Text, res.ToolCalls)
	return &ChatResponse{
		ID:      NewChatID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   modelName,
		Choices: []ChatChoice{{Message: msg, FinishReason: finish}},
		Usage: ChatUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}
}

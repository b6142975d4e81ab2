package responses

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/switchboard/internal/dialect"
	"github.com/haasonsaas/switchboard/internal/model"
	"github.com/haasonsaas/switchboard/internal/upstream"
)

const itemIDLength = 24

// NewResponseID mints a response identifier.
func NewResponseID() string { return dialect.RandomID("resp_", itemIDLength) }

// newItemID mints an output item id with the given kind prefix (msg, fc, rs).
func newItemID(prefix string) string { return dialect.RandomID(prefix+"_", itemIDLength) }

func newCallID() string { return dialect.RandomID("call_", itemIDLength) }

// builtinTools are dropped on conversion: the gateway has no way to execute
// them against a Chat Completions upstream.
var builtinTools = map[string]bool{
	"web_search":  true,
	"file_search": true,
	"computer":    true,
}

// ToCanonical converts a Responses request into canonical messages and
// tools.
func ToCanonical(req *Request) ([]model.Message, []model.Tool, error) {
	var msgs []model.Message
	if req.Instructions != "" {
		msgs = append(msgs, model.System(req.Instructions))
	}

	if len(req.Input) > 0 {
		converted, err := convertInput(req.Input)
		if err != nil {
			return nil, nil, err
		}
		msgs = append(msgs, converted...)
	}

	var tools []model.Tool
	for _, t := range req.Tools {
		switch {
		case t.Type == "function":
			tools = append(tools, model.Tool{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  ensureValidParameters(t.Parameters),
			})
		case builtinTools[t.Type]:
			// Not executable through this gateway.
		case t.Name != "":
			// Unknown tool types that still name a function are coerced.
			tools = append(tools, model.Tool{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  ensureValidParameters(t.Parameters),
			})
		}
	}
	return msgs, tools, nil
}

func convertInput(raw json.RawMessage) ([]model.Message, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []model.Message{model.User(text)}, nil
	}

	var items []InputItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("input must be a string or item list")
	}

	// An empty assistant message is dropped only when a sibling
	// function_call carries the assistant's actual action; an input with
	// no function calls keeps it as a genuine empty turn.
	hasFunctionCall := false
	for _, item := range items {
		if item.Type == "function_call" {
			hasFunctionCall = true
			break
		}
	}

	var msgs []model.Message
	for i, item := range items {
		switch item.Type {
		case "message", "":
			msg, keep := convertMessageItem(item, hasFunctionCall)
			if keep {
				msgs = append(msgs, msg)
			}
		case "function_call":
			name := item.Name
			if name == "" {
				name = InferToolName(item.Arguments)
				if name == "" {
					// Nothing to dispatch; forwarding a nameless call
					// would only make the upstream reject the turn.
					continue
				}
			}
			callID := item.CallID
			if callID == "" {
				callID = item.ID
			}
			if callID == "" {
				callID = newCallID()
			}
			msgs = append(msgs, model.AssistantToolCalls("", []model.ToolCall{{
				ID:        callID,
				Name:      name,
				Arguments: item.Arguments,
			}}))
		case "function_call_output":
			msgs = append(msgs, model.ToolResult(item.CallID, item.Output))
		case "reasoning":
			// Informational only.
		default:
			return nil, fmt.Errorf("input[%d]: unsupported item type %q", i, item.Type)
		}
	}
	return msgs, nil
}

func convertMessageItem(item InputItem, hasFunctionCall bool) (model.Message, bool) {
	text := itemText(item.Content)
	switch item.Role {
	case "system", "developer":
		return model.System(text), true
	case "assistant":
		if text == "" && hasFunctionCall {
			return model.Message{}, false
		}
		return model.AssistantText(text), true
	default:
		return model.User(text), true
	}
}

// itemText extracts text from message content: a string, or a part list
// whose input_text/output_text/text entries are joined with newlines.
func itemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		switch p.Type {
		case "input_text", "output_text", "text":
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
	}
	return strings.Join(texts, "\n")
}

// InferToolName guesses the function behind a nameless call from its
// argument keys. Coding agents are known to omit names for a small set of
// shell-oriented tools.
func InferToolName(arguments string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return ""
	}
	has := func(k string) bool { _, ok := args[k]; return ok }
	switch {
	case has("cmd"):
		return "exec_command"
	case has("session_id") && has("chars"):
		return "write_stdin"
	case has("plan"):
		return "update_plan"
	case has("questions"):
		return "request_user_input"
	case has("path"):
		return "view_image"
	default:
		return ""
	}
}

// ensureValidParameters normalises a function schema into a well-formed
// object schema. Malformed or missing schemas are replaced wholesale.
func ensureValidParameters(params map[string]any) map[string]any {
	defaultSchema := func() map[string]any {
		return map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"required":             []any{},
			"additionalProperties": false,
		}
	}
	if params == nil || params["type"] != "object" {
		return defaultSchema()
	}
	if _, ok := params["properties"].(map[string]any); !ok {
		params["properties"] = map[string]any{}
	}
	if _, ok := params["required"]; !ok {
		params["required"] = []any{}
	}
	if _, ok := params["additionalProperties"]; !ok {
		params["additionalProperties"] = false
	}
	return params
}

// FromResult renders an aggregated upstream reply as a Responses response.
// The output carries the assistant message first (always present, possibly
// empty) followed by one function_call item per tool call.
func FromResult(res *upstream.Result, responseID, modelName, previousID string, input []model.Message) *Response {
	output := BuildOutput(res.Text, res.ToolCalls)
	inputTokens := model.EstimateInputTokens(input)
	outputTokens := model.EstimateOutputTokens(res.Text, res.ToolCalls)
	return &Response{
		ID:                 responseID,
		Object:             "response",
		CreatedAt:          time.Now().Unix(),
		Model:              modelName,
		Output:             output,
		Status:             "completed",
		PreviousResponseID: previousID,
		Usage: &Usage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		},
	}
}

// BuildOutput assembles the output item list for a completed reply.
func BuildOutput(text string, calls []model.ToolCall) []OutputItem {
	var output []OutputItem
	if text != "" || len(calls) == 0 {
		output = append(output, messageItem(newItemID("msg"), text))
	}
	for _, call := range calls {
		output = append(output, functionCallItem(newItemID("fc"), call))
	}
	return output
}

func messageItem(id, text string) OutputItem {
	item := OutputItem{ID: id, Type: "message", Role: "assistant", Status: "completed"}
	if text != "" {
		item.Content = []OutputContent{{Type: "output_text", Text: text, Annotations: []any{}}}
	}
	return item
}

func functionCallItem(id string, call model.ToolCall) OutputItem {
	callID := call.ID
	if callID == "" {
		callID = newCallID()
	}
	return OutputItem{
		ID:        id,
		Type:      "function_call",
		CallID:    callID,
		Name:      call.Name,
		Arguments: call.Arguments,
		Status:    "completed",
	}
}

// ResolveModel picks the upstream model for a Responses request: an
// incoming oca/-prefixed name is trusted as-is, anything else defers to
// the configured default when one exists. The configured name is re-read
// per request.
func ResolveModel(incoming, configured string) string {
	if strings.HasPrefix(incoming, "oca/") {
		return incoming
	}
	if configured != "" {
		return configured
	}
	return incoming
}

// Package model defines the canonical conversation representation shared by
// every dialect converter and the upstream client. Each inbound request is
// converted into these records, repaired, and then rendered into the
// upstream wire format; responses flow back the same way.
package model

import "encoding/json"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall is a fully assembled tool invocation requested by the assistant.
// Arguments holds the raw JSON argument text exactly as produced by the
// upstream; it is never reserialized between dialects.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ArgumentsMap parses Arguments, returning an empty map when the text is
// absent or malformed. Callers that need the structured form (the Anthropic
// tool_use input) use this; everyone else passes the raw text through.
func (c ToolCall) ArgumentsMap() map[string]any {
	if c.Arguments == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(c.Arguments), &m); err != nil {
		return map[string]any{}
	}
	return m
}

// Message is one canonical conversation entry.
type Message struct {
	Role    Role
	Content string

	// ToolCalls is set only on assistant messages that request tools.
	ToolCalls []ToolCall

	// ToolCallID links a tool-result message to the call it answers.
	// Set only on messages with RoleTool.
	ToolCallID string
}

// Weight classifies a message for tool-sequence validation:
// 0 for plain messages, the number of tool calls for an assistant message
// that requests tools, and -1 for a tool result.
func (m Message) Weight() int {
	switch {
	case m.Role == RoleTool:
		return -1
	case m.Role == RoleAssistant && len(m.ToolCalls) > 0:
		return len(m.ToolCalls)
	default:
		return 0
	}
}

// Tool describes a function the assistant may call. Parameters is a JSON
// Schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// User builds a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// System builds a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// AssistantText builds a plain assistant message.
func AssistantText(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// AssistantToolCalls builds an assistant message requesting tools.
func AssistantToolCalls(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResult builds a tool-result message answering callID.
func ToolResult(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

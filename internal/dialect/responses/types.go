// Package responses implements the client-facing Responses dialect,
// including the response-retrieval store and the streaming remultiplexer.
package responses

import "encoding/json"

// Request is the /v1/responses request body. Input is kept raw because the
// dialect accepts both a bare string and a structured item list.
type Request struct {
	Model              string          `json:"model"`
	Input              json.RawMessage `json:"input,omitempty"`
	Instructions       string          `json:"instructions,omitempty"`
	Tools              []Tool          `json:"tools,omitempty"`
	ToolChoice         json.RawMessage `json:"tool_choice,omitempty"`
	Temperature        *float64        `json:"temperature,omitempty"`
	MaxOutputTokens    int             `json:"max_output_tokens,omitempty"`
	Stream             bool            `json:"stream,omitempty"`
	Store              *bool           `json:"store,omitempty"`
	PreviousResponseID string          `json:"previous_response_id,omitempty"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
}

// StoreEnabled reports whether the response should be kept for retrieval;
// the dialect default is true.
func (r *Request) StoreEnabled() bool {
	return r.Store == nil || *r.Store
}

// InputItem is one element of a structured input list.
type InputItem struct {
	Type string `json:"type"`

	// message items
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`

	// function_call items
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output items
	Output string `json:"output,omitempty"`
}

// Tool is a tool definition. Built-in tool types carry no function schema.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// OutputItem is one element of a response output list: an assistant
// message, a function call, or a reasoning item.
type OutputItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Role      string          `json:"role,omitempty"`
	Status    string          `json:"status,omitempty"`
	Content   []OutputContent `json:"content,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
}

type OutputContent struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	Annotations []any  `json:"annotations"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the full /v1/responses reply, also the retrieval-store entry.
type Response struct {
	ID                 string         `json:"id"`
	Object             string         `json:"object"`
	CreatedAt          int64          `json:"created_at"`
	Model              string         `json:"model"`
	Output             []OutputItem   `json:"output"`
	Status             string         `json:"status"`
	Usage              *Usage         `json:"usage,omitempty"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
	Instructions       string         `json:"instructions,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Error              map[string]any `json:"error,omitempty"`
}

// Error types used in the dialect envelope.
const (
	ErrInvalidRequest = "invalid_request_error"
	ErrNotFound       = "not_found_error"
	ErrServer         = "server_error"
)

// ErrorResponse is the dialect error envelope.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds the dialect error envelope.
func NewError(errType, message string) *ErrorResponse {
	return &ErrorResponse{Type: "error", Error: ErrorDetail{Type: errType, Message: message}}
}

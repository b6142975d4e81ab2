package upstream

import (
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/switchboard/internal/model"
)

// builderKey identifies one logical tool call across its stream fragments.
// Deltas carrying an index are keyed by index; index-less deltas fall back
// to the call id, and deltas with neither collapse onto index 0.
type builderKey struct {
	byIndex bool
	index   int
	id      string
}

type partialCall struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

// ToolCallBuilder reassembles fragmented tool-call deltas from an upstream
// stream into sealed tool calls. Fragment accumulation rules: id and name
// keep the first non-empty value, type keeps the last, and argument text is
// concatenated verbatim (fragments are often not individually valid JSON).
// Calls are emitted in first-seen order.
type ToolCallBuilder struct {
	order []builderKey
	items map[builderKey]*partialCall
}

func NewToolCallBuilder() *ToolCallBuilder {
	return &ToolCallBuilder{items: make(map[builderKey]*partialCall)}
}

// Add folds one partial delta into the builder.
func (b *ToolCallBuilder) Add(delta openai.ToolCall) {
	var key builderKey
	switch {
	case delta.Index != nil:
		key = builderKey{byIndex: true, index: *delta.Index}
	case delta.ID != "":
		key = builderKey{id: delta.ID}
	default:
		key = builderKey{byIndex: true}
	}

	call, ok := b.items[key]
	if !ok {
		call = &partialCall{}
		b.items[key] = call
		b.order = append(b.order, key)
	}

	if call.id == "" && delta.ID != "" {
		call.id = delta.ID
	}
	if string(delta.Type) != "" {
		call.typ = string(delta.Type)
	}
	if call.name == "" && delta.Function.Name != "" {
		call.name = delta.Function.Name
	}
	call.args.WriteString(delta.Function.Arguments)
}

// Len reports the number of distinct calls seen so far.
func (b *ToolCallBuilder) Len() int { return len(b.order) }

// Calls seals and returns the accumulated tool calls in arrival order.
func (b *ToolCallBuilder) Calls() []model.ToolCall {
	if len(b.order) == 0 {
		return nil
	}
	calls := make([]model.ToolCall, 0, len(b.order))
	for _, key := range b.order {
		item := b.items[key]
		calls = append(calls, model.ToolCall{
			ID:        item.id,
			Name:      item.name,
			Arguments: item.args.String(),
		})
	}
	return calls
}

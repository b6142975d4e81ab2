package upstream

import (
	"reflect"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/switchboard/internal/model"
)

func idx(i int) *int { return &i }

func TestToolCallBuilderReassemblesFragments(t *testing.T) {
	b := NewToolCallBuilder()
	deltas := []openai.ToolCall{
		{Index: idx(0), ID: "call_A", Type: "function", Function: openai.FunctionCall{Name: "get_weather"}},
		{Index: idx(0), Function: openai.FunctionCall{Arguments: `{"city":`}},
		{Index: idx(0), Function: openai.FunctionCall{Arguments: `"Paris"}`}},
		{Index: idx(1), ID: "call_B", Type: "function", Function: openai.FunctionCall{Name: "get_time", Arguments: `{}`}},
	}
	for _, d := range deltas {
		b.Add(d)
	}
	if b.Len() != 2 {
		t.Errorf("Len() = %d, want 2", b.Len())
	}

	want := []model.ToolCall{
		{ID: "call_A", Name: "get_weather", Arguments: `{"city":"Paris"}`},
		{ID: "call_B", Name: "get_time", Arguments: `{}`},
	}
	if got := b.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("Calls() = %+v, want %+v", got, want)
	}
}

func TestToolCallBuilderKeying(t *testing.T) {
	tests := []struct {
		name   string
		deltas []openai.ToolCall
		want   []model.ToolCall
	}{
		{
			name: "id key when index absent",
			deltas: []openai.ToolCall{
				{ID: "call_X", Function: openai.FunctionCall{Name: "a", Arguments: `{"v":`}},
				{ID: "call_X", Function: openai.FunctionCall{Arguments: `1}`}},
			},
			want: []model.ToolCall{{ID: "call_X", Name: "a", Arguments: `{"v":1}`}},
		},
		{
			name: "neither index nor id collapses to slot zero",
			deltas: []openai.ToolCall{
				{Function: openai.FunctionCall{Name: "solo", Arguments: `{"a`}},
				{Function: openai.FunctionCall{Arguments: `":true}`}},
			},
			want: []model.ToolCall{{Name: "solo", Arguments: `{"a":true}`}},
		},
		{
			name: "first id and name win, later values ignored",
			deltas: []openai.ToolCall{
				{Index: idx(0), ID: "call_first", Function: openai.FunctionCall{Name: "keep"}},
				{Index: idx(0), ID: "call_second", Function: openai.FunctionCall{Name: "ignore"}},
			},
			want: []model.ToolCall{{ID: "call_first", Name: "keep"}},
		},
		{
			name: "insertion order preserved across interleaving",
			deltas: []openai.ToolCall{
				{Index: idx(2), ID: "call_late_slot", Function: openai.FunctionCall{Name: "second"}},
				{Index: idx(0), ID: "call_early_slot", Function: openai.FunctionCall{Name: "first"}},
				{Index: idx(2), Function: openai.FunctionCall{Arguments: `{}`}},
			},
			want: []model.ToolCall{
				{ID: "call_late_slot", Name: "second", Arguments: `{}`},
				{ID: "call_early_slot", Name: "first"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewToolCallBuilder()
			for _, d := range tt.deltas {
				b.Add(d)
			}
			if got := b.Calls(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Calls() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestToolCallBuilderEmpty(t *testing.T) {
	if got := NewToolCallBuilder().Calls(); got != nil {
		t.Errorf("Calls() on empty builder = %+v, want nil", got)
	}
}

package model

import "strings"

// Token estimates. The upstream does not report usage on its stream, so the
// dialect responses carry a whitespace-based approximation: half a token
// per input word, one token per output word, and a quarter token per
// character of tool-call argument text.

// EstimateInputTokens approximates prompt tokens for a message sequence.
func EstimateInputTokens(msgs []Message) int {
	words := 0
	for _, m := range msgs {
		words += len(strings.Fields(m.Content))
	}
	return words / 2
}

// EstimateOutputTokens approximates completion tokens for generated text
// plus any tool-call arguments.
func EstimateOutputTokens(text string, calls []ToolCall) int {
	n := len(strings.Fields(text))
	for _, c := range calls {
		n += len(c.Arguments) / 4
	}
	return n
}

// Package transcript repairs multi-turn conversation histories whose
// tool-call bookkeeping has drifted: assistant tool invocations not
// immediately followed by their results, results answering calls that no
// longer exist, or interleaved user turns. Backends reject such histories
// outright, so every request is repaired before it reaches the upstream.
package transcript

import (
	"log/slog"

	"github.com/haasonsaas/switchboard/internal/model"
)

// Repair returns a copy of msgs in which every assistant tool-call group is
// immediately and completely answered by matching tool results.
//
// The pass walks the input front to back using the message weight (plain
// messages 0, assistant-with-n-tool-calls n, tool results -1):
//
//   - plain messages pass through unchanged
//   - a tool result outside any group is an orphan and is dropped
//   - an assistant tool-call message opens a collection phase that consumes
//     following tool results until every call id is answered or a non-result
//     message interrupts; the interrupting message is re-queued after the
//     repaired group, unanswered calls are trimmed from the assistant
//     message, and an assistant left with no answered calls is demoted to a
//     plain text message
//
// Results inside a group may arrive in any order; results for ids the group
// does not own are dropped. The relative order of surviving messages is
// otherwise preserved.
func Repair(msgs []model.Message, logger *slog.Logger) []model.Message {
	if logger == nil {
		logger = slog.Default()
	}

	valid := make([]model.Message, 0, len(msgs))
	remaining := append([]model.Message(nil), msgs...)

	for len(remaining) > 0 {
		m := remaining[0]
		remaining = remaining[1:]

		switch w := m.Weight(); {
		case w == 0:
			valid = append(valid, m)

		case w == -1:
			logger.Info("dropping orphaned tool result", "tool_call_id", m.ToolCallID)

		default:
			var group, delayed []model.Message
			pending := make(map[string]bool, len(m.ToolCalls))
			for _, call := range m.ToolCalls {
				pending[call.ID] = true
			}

			for len(pending) > 0 && len(remaining) > 0 {
				n := remaining[0]
				if n.Weight() != -1 {
					remaining = remaining[1:]
					delayed = append(delayed, n)
					break
				}
				remaining = remaining[1:]
				if pending[n.ToolCallID] {
					group = append(group, n)
					delete(pending, n.ToolCallID)
				} else {
					logger.Info("dropping tool result for unknown call", "tool_call_id", n.ToolCallID)
				}
			}

			if len(pending) == 0 {
				valid = append(valid, m)
				valid = append(valid, group...)
			} else {
				resolved := make([]model.ToolCall, 0, len(m.ToolCalls))
				for _, call := range m.ToolCalls {
					if !pending[call.ID] {
						resolved = append(resolved, call)
					}
				}
				logger.Info("trimming unanswered tool calls",
					"requested", len(m.ToolCalls), "answered", len(resolved))
				if len(resolved) == 0 {
					valid = append(valid, model.AssistantText(m.Content))
				} else {
					valid = append(valid, model.AssistantToolCalls(m.Content, resolved))
					valid = append(valid, group...)
				}
			}

			if len(delayed) > 0 {
				remaining = append(delayed, remaining...)
			}
		}
	}

	return valid
}

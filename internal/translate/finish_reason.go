package translate

import (
	"log/slog"
	"strings"
)

// nativeFinishReason maps an upstream (OpenAI-style) finish_reason to a
// native Anthropic stop_reason, per spec.md §4.3's mapping table.
// sawToolCall unconditionally takes precedence over the mapped reason —
// upstreams sometimes close a tool-call-bearing turn with a finish_reason
// other than "tool_calls" (e.g. "length", "content_filter"), and the turn
// must still surface as "tool_use".
func nativeFinishReason(foreignReason string, sawToolCall bool) string {
	if sawToolCall {
		return "tool_use"
	}
	switch strings.ToLower(foreignReason) {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "content_filter", "safety":
		return "stop_sequence"
	default:
		slog.Warn("translate: unrecognized foreign finish_reason, defaulting to end_turn", "finish_reason", foreignReason)
		return "end_turn"
	}
}

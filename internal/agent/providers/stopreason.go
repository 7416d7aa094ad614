package providers

import "strings"

// normalizeStopReason maps a vendor's raw stop/finish-reason signal onto the
// shared four-value vocabulary every agent.LLMProvider reports through
// CompletionResponse.StopReason: end_turn, tool_use, max_tokens,
// stop_sequence. Comparison is case-insensitive since Gemini reports its
// finish reasons upper-cased ("STOP", "MAX_TOKENS") while Anthropic and
// OpenAI use lowercase/snake_case strings.
func normalizeStopReason(raw string) string {
	switch strings.ToLower(raw) {
	case "end_turn", "stop":
		return "end_turn"
	case "tool_use", "tool_calls":
		return "tool_use"
	case "length", "max_tokens":
		return "max_tokens"
	case "stop_sequence":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

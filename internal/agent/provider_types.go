// Package agent defines the provider-agnostic LLM and tool-calling
// contracts that the conversation manager drives. Concrete LLM backends
// live in agent/providers; concrete tools live in controller/tools.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexhearth/mimirgo/internal/models"
)

// LLMProvider is the capability interface every LLM backend implements.
// Implementations must be safe for concurrent use: the conversation
// manager may have one call to Complete or Stream in flight per active
// conversation, across many conversations at once.
type LLMProvider interface {
	// Complete runs one non-streaming completion, draining any internal
	// streaming transport itself and assembling the final response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Stream runs one completion and returns incremental chunks. The
	// channel is closed after a chunk with Done set to true, or after
	// a chunk carrying a non-nil Error.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider's identifier (e.g. "anthropic", "openai").
	Name() string

	// Model returns the model id this provider instance is configured to use.
	Model() string
}

// CompletionRequest bundles the conversation history, the system prompt,
// and the tool set exposed to the LLM for one completion call.
type CompletionRequest struct {
	Model     string               `json:"model,omitempty"`
	System    string               `json:"system,omitempty"`
	Messages  []CompletionMessage  `json:"messages"`
	Tools     []ToolDescriptor     `json:"tools,omitempty"`
	MaxTokens int                  `json:"max_tokens,omitempty"`
}

// CompletionMessage is one turn of conversation history: a user message,
// an assistant message (possibly carrying tool calls), or a tool-result
// message reporting back the outcome of previously requested tool calls.
type CompletionMessage struct {
	Role        string             `json:"role"` // "user", "assistant", "tool"
	Content     string             `json:"content,omitempty"`
	ToolCalls   []models.ToolCall  `json:"tool_calls,omitempty"`
	ToolResults []ToolResultMessage `json:"tool_results,omitempty"`
}

// ToolResultMessage reports the outcome of one tool call back to the LLM.
type ToolResultMessage struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// CompletionResponse is the fully-assembled result of a non-streaming call.
type CompletionResponse struct {
	Content      string            `json:"content,omitempty"`
	ToolCalls    []models.ToolCall `json:"tool_calls,omitempty"`
	StopReason   string            `json:"stop_reason,omitempty"`
	InputTokens  int               `json:"input_tokens,omitempty"`
	OutputTokens int               `json:"output_tokens,omitempty"`
}

// HasToolCalls reports whether the LLM asked to execute one or more tools.
func (r *CompletionResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// CompletionChunk is one increment of a streamed completion.
type CompletionChunk struct {
	Text         string           `json:"text,omitempty"`
	ToolCall     *models.ToolCall `json:"tool_call,omitempty"`
	Done         bool             `json:"done,omitempty"`
	Error        error            `json:"-"`
	InputTokens  int              `json:"input_tokens,omitempty"`
	OutputTokens int              `json:"output_tokens,omitempty"`
	// StopReason carries the provider's normalized stop reason on the final
	// (Done) chunk: one of end_turn, tool_use, max_tokens, stop_sequence.
	StopReason string `json:"stop_reason,omitempty"`
}

// ToolDescriptor is the shape an LLM provider needs to advertise one tool:
// name, natural-language description, and a JSON-Schema parameter object.
// Providers translate this into their own wire format (Anthropic's
// input_schema, OpenAI's function.parameters, ...).
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Tool is the interface every executable tool implements.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the outcome of one tool execution. By convention shared
// with the conversation manager, an error result's Content is prefixed
// with "Error:" rather than being communicated via IsError alone — IsError
// is kept as a structured convenience for callers that don't want to
// string-match.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ErrorResult builds a ToolResult using the "Error: <msg>" sentinel
// convention used throughout the tool execution chain.
func ErrorResult(format string, args ...any) *ToolResult {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &ToolResult{Content: "Error: " + msg, IsError: true}
}

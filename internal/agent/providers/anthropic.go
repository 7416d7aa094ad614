// Package providers implements concrete agent.LLMProvider backends: Anthropic,
// an OpenAI-compatible adapter, Google's generative API, and Amazon Bedrock.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/models"
)

// AnthropicProvider implements agent.LLMProvider against the Claude Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicProvider builds a provider from config. APIKey is required.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Model() string { return p.defaultModel }

func (p *AnthropicProvider) getModel(requested string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return p.defaultModel
}

func (p *AnthropicProvider) getMaxTokens(requested int) int64 {
	if requested > 0 {
		return int64(requested)
	}
	return 4096
}

// Complete runs one completion by draining Stream and assembling the result.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &agent.CompletionResponse{}
	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		text.WriteString(chunk.Text)
		if chunk.ToolCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		}
		if chunk.StopReason != "" {
			resp.StopReason = chunk.StopReason
		}
		resp.InputTokens += chunk.InputTokens
		resp.OutputTokens += chunk.OutputTokens
	}
	resp.Content = text.String()
	if resp.StopReason == "" {
		if len(resp.ToolCalls) > 0 {
			resp.StopReason = "tool_use"
		} else {
			resp.StopReason = "end_turn"
		}
	}
	return resp, nil
}

// Stream runs one completion and streams incremental chunks from the Claude
// Messages SSE API.
func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: p.getMaxTokens(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)
		p.processStream(stream, chunks, p.getModel(req.Model))
	}()
	return chunks, nil
}

func (p *AnthropicProvider) convertMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, toolResult := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(toolResult.ToolCallID, toolResult.Content, toolResult.IsError))
		}
		for _, toolCall := range msg.ToolCalls {
			var input map[string]any
			if len(toolCall.Input) > 0 {
				if err := json.Unmarshal(toolCall.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input: %w", err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(toolCall.ID, input, toolCall.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []agent.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

// processStream consumes the Messages SSE stream and emits CompletionChunks,
// accumulating streamed tool_use input JSON across content_block_delta events
// before emitting the finished tool call on content_block_stop.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) {
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	var inputTokens, outputTokens int
	var stopReason string

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			inputTokens = int(ms.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if toolUse := block.AsToolUse(); toolUse.ID != "" {
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if text := delta.AsTextDelta(); text.Text != "" {
				chunks <- &agent.CompletionChunk{Text: text.Text}
			}
			if partial := delta.AsInputJSONDelta(); partial.PartialJSON != "" {
				currentToolInput.WriteString(partial.PartialJSON)
			}

		case "content_block_stop":
			if currentToolCall != nil {
				raw := currentToolInput.String()
				if strings.TrimSpace(raw) == "" {
					raw = "{}"
				}
				currentToolCall.Input = json.RawMessage(raw)
				chunks <- &agent.CompletionChunk{ToolCall: currentToolCall}
				currentToolCall = nil
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}
			if reason := string(md.Delta.StopReason); reason != "" {
				stopReason = reason
			}

		case "message_stop":
			chunks <- &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
				StopReason:   normalizeStopReason(stopReason),
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
	}
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	wrapped := NewProviderError(p.Name(), model, err)
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		wrapped = wrapped.WithStatus(apiErr.StatusCode)
	}
	return wrapped
}

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements agent.LLMProvider against the Chat Completions
// API, and doubles as the adapter for any OpenAI-compatible gateway (Azure,
// local inference servers) via BaseURL.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewOpenAIProvider builds a provider from config. APIKey is required.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = openai.GPT4o
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Model() string { return p.defaultModel }

func (p *OpenAIProvider) getModel(requested string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return p.defaultModel
}

// Complete runs one completion by draining Stream and assembling the result.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
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

// Stream runs one completion against the streaming chat completions endpoint.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.getModel(req.Model),
		Messages: p.convertMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err, chatReq.Model)
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)
		p.processStream(stream, chunks, chatReq.Model)
	}()
	return chunks, nil
}

func (p *OpenAIProvider) processStream(stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var finishReason string

	flushToolCalls := func() {
		for i := 0; i < len(toolCalls); i++ {
			if tc := toolCalls[i]; tc != nil && tc.ID != "" && tc.Name != "" {
				chunks <- &agent.CompletionChunk{ToolCall: tc}
			}
		}
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushToolCalls()
				chunks <- &agent.CompletionChunk{Done: true, StopReason: normalizeStopReason(finishReason)}
				return
			}
			chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = append(toolCalls[index].Input, []byte(tc.Function.Arguments)...)
			}
		}

		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flushToolCalls()
			toolCalls = make(map[int]*models.ToolCall)
		}

		if response.Usage != nil {
			chunks <- &agent.CompletionChunk{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
			}
		}
	}
}

func (p *OpenAIProvider) convertMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(tc.Input)},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		}
	}
	return result
}

func (p *OpenAIProvider) convertTools(tools []agent.ToolDescriptor) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	wrapped := NewProviderError(p.Name(), model, err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped = wrapped.WithStatus(apiErr.HTTPStatusCode).WithCode(fmt.Sprintf("%v", apiErr.Code))
	}
	return wrapped
}

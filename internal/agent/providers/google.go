package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/agent/toolconv"
	"github.com/nexhearth/mimirgo/internal/models"
	"google.golang.org/genai"
)

// GoogleProvider implements agent.LLMProvider against the Gemini API.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
}

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
}

// NewGoogleProvider builds a provider from config. APIKey is required.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{client: client, defaultModel: config.DefaultModel}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) Model() string { return p.defaultModel }

func (p *GoogleProvider) getModel(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

// Complete runs one completion by draining Stream and assembling the result.
func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
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
	}
	resp.Content = text.String()
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = "tool_use"
	} else if resp.StopReason == "" {
		resp.StopReason = "end_turn"
	}
	return resp, nil
}

// Stream runs one completion against Gemini's generateContent streaming endpoint.
func (p *GoogleProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.getModel(req.Model)
	contents, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("google: failed to convert messages: %w", err)
	}
	config := p.buildConfig(req)

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)
		var finishReason string
		streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
		for resp, err := range streamIter {
			select {
			case <-ctx.Done():
				chunks <- &agent.CompletionChunk{Error: ctx.Err()}
				return
			default:
			}
			if err != nil {
				chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
				return
			}
			if resp == nil {
				continue
			}
			if reason := p.emitCandidates(resp, chunks); reason != "" {
				finishReason = reason
			}
		}
		chunks <- &agent.CompletionChunk{Done: true, StopReason: normalizeStopReason(finishReason)}
	}()
	return chunks, nil
}

// emitCandidates streams a candidate's text and function-call parts and
// returns its raw finish reason, if any, so the caller can surface it on the
// final chunk.
func (p *GoogleProvider) emitCandidates(resp *genai.GenerateContentResponse, chunks chan<- *agent.CompletionChunk) string {
	var finishReason string
	for _, candidate := range resp.Candidates {
		if candidate == nil {
			continue
		}
		if candidate.FinishReason != "" {
			finishReason = string(candidate.FinishReason)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				chunks <- &agent.CompletionChunk{Text: part.Text}
			}
			if part.FunctionCall != nil {
				argsJSON, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					argsJSON = []byte("{}")
				}
				chunks <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
					ID:    generateToolCallID(part.FunctionCall.Name),
					Name:  part.FunctionCall.Name,
					Input: argsJSON,
				}}
			}
		}
	}
	return finishReason
}

// convertMessages converts internal messages to Gemini contents. System
// messages are dropped here; the system prompt travels via
// GenerateContentConfig.SystemInstruction instead.
func (p *GoogleProvider) convertMessages(messages []agent.CompletionMessage) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case "assistant":
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				args = make(map[string]any)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}
		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil {
				response = map[string]any{"result": tr.Content, "error": tr.IsError}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     getToolNameFromID(tr.ToolCallID, messages),
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

func (p *GoogleProvider) buildConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	}
	return config
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	return NewProviderError(p.Name(), model, err)
}

var toolCallSeq atomic.Int64

// generateToolCallID synthesizes an id for a Gemini function call, which the
// API itself does not assign one for.
func generateToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, toolCallSeq.Add(1))
}

// getToolNameFromID looks up the tool name for a prior tool call by id,
// falling back to parsing it out of the "call_<name>_<seq>" format.
func getToolNameFromID(toolCallID string, messages []agent.CompletionMessage) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	parts := strings.Split(toolCallID, "_")
	if len(parts) >= 2 {
		return strings.Join(parts[1:len(parts)-1], "_")
	}
	return ""
}

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/nexhearth/mimirgo/internal/agent"
	"github.com/nexhearth/mimirgo/internal/agent/toolconv"
	"github.com/nexhearth/mimirgo/internal/models"
)

// BedrockProvider implements agent.LLMProvider against AWS Bedrock's Converse
// API, giving access to foundation models (Anthropic, Titan, Llama, ...)
// hosted on AWS without a separate Anthropic API key.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
}

// NewBedrockProvider builds a provider from config, using explicit static
// credentials if given or the default AWS credential chain otherwise.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(), config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Model() string { return p.defaultModel }

func (p *BedrockProvider) getModel(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

// Complete runs one completion by draining Stream and assembling the result.
func (p *BedrockProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
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
	if resp.StopReason == "" {
		if len(resp.ToolCalls) > 0 {
			resp.StopReason = "tool_use"
		} else {
			resp.StopReason = "end_turn"
		}
	}
	return resp, nil
}

// Stream runs one completion against the Converse streaming API.
func (p *BedrockProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.getModel(req.Model)
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to convert messages: %w", err)
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		converseReq.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}
	if len(req.Tools) > 0 {
		converseReq.ToolConfig = toolconv.ToBedrockTools(req.Tools)
	}

	stream, err := p.client.ConverseStream(ctx, converseReq)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)
		p.processStream(ctx, stream, chunks, model)
	}()
	return chunks, nil
}

func (p *BedrockProvider) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, chunks chan<- *agent.CompletionChunk, model string) {
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentToolCall *models.ToolCall
	var toolInput strings.Builder

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err()}
			return
		case event, ok := <-eventChan:
			if !ok {
				if currentToolCall != nil && currentToolCall.ID != "" {
					currentToolCall.Input = json.RawMessage(toolInput.String())
					chunks <- &agent.CompletionChunk{ToolCall: currentToolCall}
				}
				if err := eventStream.Err(); err != nil {
					chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
				} else {
					chunks <- &agent.CompletionChunk{Done: true}
				}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentToolCall = &models.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						chunks <- &agent.CompletionChunk{Text: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentToolCall != nil && currentToolCall.ID != "" {
					currentToolCall.Input = json.RawMessage(toolInput.String())
					chunks <- &agent.CompletionChunk{ToolCall: currentToolCall}
					currentToolCall = nil
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				chunks <- &agent.CompletionChunk{
					Done:       true,
					StopReason: normalizeStopReason(string(ev.Value.StopReason)),
				}
				return
			}
		}
	}
}

func (p *BedrockProvider) convertMessages(messages []agent.CompletionMessage) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []types.ContentBlock
		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}
		for _, tr := range msg.ToolResults {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: tr.Content}},
				},
			})
		}
		for _, tc := range msg.ToolCalls {
			var inputDoc any
			if err := json.Unmarshal(tc.Input, &inputDoc); err != nil {
				inputDoc = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}

		role := types.ConversationRoleUser
		if msg.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		if len(content) > 0 {
			result = append(result, types.Message{Role: role, Content: content})
		}
	}

	return result, nil
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError(p.Name(), model, err)
}

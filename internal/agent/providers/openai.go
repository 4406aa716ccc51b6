package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/haasonsaas/valet/internal/agent"
	"github.com/haasonsaas/valet/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider adapts the OpenAI-compatible chat completions wire format.
// Differences from the Anthropic adapter: the system prompt is injected as
// the first message, and tool calls stream incrementally (id, name, argument
// fragments) and must be accumulated by index until finish_reason signals
// completion.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	base         BaseProvider
}

// OpenAIConfig holds configuration for an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey is required. Format: sk-...
	APIKey string

	// BaseURL points at any OpenAI-compatible endpoint (local runtimes
	// included) when set.
	BaseURL string

	// DefaultModel is used when the request does not specify one.
	DefaultModel string

	// MaxRetries for transient failures. Default: 3.
	MaxRetries int

	// RetryDelay base delay between attempts. Default: 1s.
	RetryDelay time.Duration
}

// NewOpenAIProvider builds the client from config.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
		base:         NewBaseProvider("openai", config.MaxRetries, config.RetryDelay),
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Models returns the list of available models with their capabilities.
func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4.1", Name: "GPT-4.1", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385, SupportsVision: false},
	}
}

// Stream performs one streaming round against the chat completions API.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.Request) (<-chan agent.StreamEvent, error) {
	if p.client == nil {
		return nil, errors.New("openai: client not configured")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.convertMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err := p.base.Retry(ctx, p.isRetryableError, func() error {
		var streamErr error
		stream, streamErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		return streamErr
	})
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	out := make(chan agent.StreamEvent)
	go p.processStream(ctx, stream, out, model)
	return out, nil
}

// processStream accumulates tool call fragments by index and flushes them
// when finish_reason reports tool_calls (or at EOF as a fallback).
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- agent.StreamEvent, model string) {
	defer close(out)
	defer stream.Close()

	var text strings.Builder
	toolCalls := make(map[int]*models.ToolCall)
	var order []int
	started := make(map[int]bool)

	flush := func() {
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc != nil && tc.ID != "" && tc.Name != "" {
				if len(tc.Input) == 0 {
					tc.Input = json.RawMessage("{}")
				}
				out <- agent.ToolUseComplete(tc)
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
		order = nil
	}

	for {
		select {
		case <-ctx.Done():
			out <- agent.ErrorEvent(ctx.Err())
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				out <- agent.MessageComplete(text.String())
				return
			}
			out <- agent.ErrorEvent(p.wrapError(err, model))
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			text.WriteString(delta.Content)
			out <- agent.TextDelta(delta.Content)
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
				order = append(order, index)
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
				if !started[index] {
					started[index] = true
					out <- agent.ToolUseStart(tc.Function.Name)
				}
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = append(toolCalls[index].Input, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

// convertMessages converts unified messages to the OpenAI format. The system
// prompt becomes the first message; each tool result becomes its own message
// with role "tool".
func (p *OpenAIProvider) convertMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if len(msg.ToolResults) > 0 {
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			if msg.Content == "" {
				continue
			}
		}

		oaiMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		if msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				}
			}
		}

		if msg.Role == models.RoleUser && hasImageAttachment(msg.Attachments) {
			parts := make([]openai.ChatMessagePart, 0, len(msg.Attachments)+1)
			if msg.Content != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: msg.Content,
				})
			}
			for _, att := range msg.Attachments {
				if att.Type != "image" {
					continue
				}
				url := att.URL
				if url == "" && att.Data != "" && att.MediaType != "" {
					url = "data:" + att.MediaType + ";base64," + att.Data
				}
				if url == "" {
					continue
				}
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    url,
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
			oaiMsg.Content = ""
			oaiMsg.MultiContent = parts
		}

		result = append(result, oaiMsg)
	}

	return result
}

func hasImageAttachment(attachments []models.Attachment) bool {
	for _, att := range attachments {
		if att.Type == "image" {
			return true
		}
	}
	return false
}

// convertOpenAITools maps tool specs to function definitions. A tool with an
// unparsable schema degrades to an empty object schema rather than breaking
// the whole request.
func convertOpenAITools(tools []agent.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

func (p *OpenAIProvider) isRetryableError(err error) bool {
	return isRetryableMessage(err)
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("openai", model, err)
}

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/haasonsaas/valet/internal/agent"
	"github.com/haasonsaas/valet/pkg/models"
)

// AnthropicProvider adapts the Anthropic message-block wire format to the
// agent.Provider streaming contract. Each Stream call creates an independent
// SSE stream and goroutine; the provider is safe for concurrent use.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	base         BaseProvider
}

// AnthropicConfig holds configuration for an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey is required. Format: sk-ant-...
	APIKey string

	// BaseURL overrides the default API base URL.
	BaseURL string

	// MaxRetries for transient failures. Default: 3.
	MaxRetries int

	// RetryDelay base delay between attempts. Default: 1s.
	RetryDelay time.Duration

	// DefaultModel is used when the request does not specify one.
	DefaultModel string
}

// NewAnthropicProvider validates config, applies defaults, and builds the
// SDK client.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
		base:         NewBaseProvider("anthropic", config.MaxRetries, config.RetryDelay),
	}, nil
}

// Name returns the provider identifier used for routing and logging.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Models returns the list of available Claude models with their capabilities.
func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000, SupportsVision: true},
	}
}

// Stream performs one streaming round against the Anthropic messages API,
// retrying transient failures with exponential backoff.
func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.Request) (<-chan agent.StreamEvent, error) {
	out := make(chan agent.StreamEvent)
	model := p.model(req.Model)

	go func() {
		defer close(out)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		err := p.base.Retry(ctx, p.isRetryableError, func() error {
			var streamErr error
			stream, streamErr = p.createStream(ctx, req)
			if streamErr != nil {
				return p.wrapError(streamErr, model)
			}
			return nil
		})
		if err != nil {
			out <- agent.ErrorEvent(err)
			return
		}

		p.processStream(stream, out, model)
	}()

	return out, nil
}

// maxEmptyStreamEvents bounds consecutive empty events before the stream is
// treated as malformed.
const maxEmptyStreamEvents = 300

// processStream converts Anthropic SSE events into stream events. Tool calls
// arrive as content_block_start (id, name) followed by input_json_delta
// fragments; the call is emitted only when its block closes.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- agent.StreamEvent, model string) {
	var text strings.Builder
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	emptyEventCount := 0

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			eventProcessed = true

		case "content_block_start":
			contentBlockStart := event.AsContentBlockStart()
			if contentBlockStart.ContentBlock.Type == "tool_use" {
				toolUse := contentBlockStart.ContentBlock.AsToolUse()
				currentToolCall = &models.ToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				currentToolInput.Reset()
				out <- agent.ToolUseStart(toolUse.Name)
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text.WriteString(delta.Text)
					out <- agent.TextDelta(delta.Text)
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				out <- agent.ToolUseComplete(currentToolCall)
				currentToolCall = nil
				eventProcessed = true
			}

		case "message_delta":
			eventProcessed = true

		case "message_stop":
			out <- agent.MessageComplete(text.String())
			return

		case "error":
			out <- agent.ErrorEvent(p.wrapError(errors.New("anthropic stream error"), model))
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				out <- agent.ErrorEvent(p.wrapError(
					fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEventCount),
					model,
				))
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		out <- agent.ErrorEvent(p.wrapError(err, model))
		return
	}
	out <- agent.MessageComplete(text.String())
}

// createStream builds the Anthropic request and opens the SSE stream.
func (p *AnthropicProvider) createStream(ctx context.Context, req *agent.Request) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens(req.MaxTokens)),
	}

	// System prompt lives outside the messages array in this wire format.
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		}
	}

	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// convertMessages lifts the unified message format into Anthropic content
// blocks. User and tool roles both map to user messages; tool results become
// tool_result blocks keyed by the original call id.
func (p *AnthropicProvider) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, att := range msg.Attachments {
			if att.Type == "image" && att.Data != "" && att.MediaType != "" {
				content = append(content, anthropic.NewImageBlockBase64(att.MediaType, att.Data))
			}
		}

		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input: %w", err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertAnthropicTools(tools []agent.ToolSpec) ([]anthropic.ToolUnionParam, error) {
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

func (p *AnthropicProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func maxTokens(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func (p *AnthropicProvider) isRetryableError(err error) bool {
	return isRetryableMessage(err)
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("anthropic", model, err)
}

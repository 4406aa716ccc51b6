package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/haasonsaas/valet/internal/agent"
	"github.com/haasonsaas/valet/internal/agent/toolconv"
	"github.com/haasonsaas/valet/pkg/models"
)

const bedrockImageMaxBytes = 20 * 1024 * 1024

// BedrockProvider adapts the AWS Bedrock ConverseStream wire format.
// Authentication uses the default AWS credential chain unless explicit
// credentials are configured.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	region       string
	base         BaseProvider
}

// BedrockConfig holds configuration for the Bedrock provider.
type BedrockConfig struct {
	// Region is the AWS region. Default: us-east-1.
	Region string

	// AccessKeyID / SecretAccessKey / SessionToken for explicit credentials;
	// the default chain applies when empty.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// DefaultModel is used when the request does not specify one.
	DefaultModel string

	// MaxRetries for transient failures. Default: 3.
	MaxRetries int

	// RetryDelay base delay between attempts. Default: 1s.
	RetryDelay time.Duration
}

// NewBedrockProvider loads the AWS config and builds the runtime client.
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
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		region:       cfg.Region,
		base:         NewBaseProvider("bedrock", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns the provider identifier.
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// Models returns available Bedrock models. Actual availability depends on the
// AWS account's model access.
func (p *BedrockProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "anthropic.claude-3-opus-20240229-v1:0", Name: "Claude 3 Opus (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "anthropic.claude-3-sonnet-20240229-v1:0", Name: "Claude 3 Sonnet (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "amazon.titan-text-express-v1", Name: "Titan Text Express", ContextSize: 8192, SupportsVision: false},
		{ID: "meta.llama3-70b-instruct-v1:0", Name: "Llama 3 70B (Bedrock)", ContextSize: 8192, SupportsVision: false},
		{ID: "mistral.mixtral-8x7b-instruct-v0:1", Name: "Mixtral 8x7B (Bedrock)", ContextSize: 32768, SupportsVision: false},
	}
}

// Stream performs one streaming round via the Converse API.
func (p *BedrockProvider) Stream(ctx context.Context, req *agent.Request) (<-chan agent.StreamEvent, error) {
	if p.client == nil {
		return nil, NewProviderError("bedrock", req.Model, errors.New("client not initialized"))
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to convert messages: %w", err)
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.MaxTokens > 0 {
		tokens := min(req.MaxTokens, math.MaxInt32)
		converseReq.InferenceConfig = &types.InferenceConfiguration{
			// #nosec G115 -- bounded by min above
			MaxTokens: aws.Int32(int32(tokens)),
		}
	}
	if len(req.Tools) > 0 {
		converseReq.ToolConfig = toolconv.ToBedrockTools(req.Tools)
	}

	var stream *bedrockruntime.ConverseStreamOutput
	err = p.base.Retry(ctx, p.isRetryableError, func() error {
		var callErr error
		stream, callErr = p.client.ConverseStream(ctx, converseReq)
		if callErr != nil {
			return p.wrapError(callErr, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan agent.StreamEvent)
	go p.processStream(ctx, stream, out, model)
	return out, nil
}

// processStream converts ConverseStream events. Tool input arrives as string
// fragments between contentBlockStart and contentBlockStop.
func (p *BedrockProvider) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- agent.StreamEvent, model string) {
	defer close(out)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var text strings.Builder
	var currentToolCall *models.ToolCall
	var toolInput strings.Builder

	for {
		select {
		case <-ctx.Done():
			out <- agent.ErrorEvent(ctx.Err())
			return
		case event, ok := <-eventStream.Events():
			if !ok {
				if currentToolCall != nil && currentToolCall.ID != "" {
					currentToolCall.Input = json.RawMessage(toolInput.String())
					out <- agent.ToolUseComplete(currentToolCall)
				}
				if err := eventStream.Err(); err != nil {
					out <- agent.ErrorEvent(p.wrapError(err, model))
				} else {
					out <- agent.MessageComplete(text.String())
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
					out <- agent.ToolUseStart(currentToolCall.Name)
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						text.WriteString(delta.Value)
						out <- agent.TextDelta(delta.Value)
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentToolCall != nil && currentToolCall.ID != "" {
					currentToolCall.Input = json.RawMessage(toolInput.String())
					out <- agent.ToolUseComplete(currentToolCall)
					currentToolCall = nil
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				out <- agent.MessageComplete(text.String())
				return
			}
		}
	}
}

// convertMessages converts unified messages to the Converse format. Inline
// base64 images are decoded to raw bytes, as this wire format requires.
func (p *BedrockProvider) convertMessages(messages []models.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []types.ContentBlock

		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}

		for _, att := range msg.Attachments {
			if att.Type != "image" || att.Data == "" {
				continue
			}
			block, err := imageBlockFromAttachment(att)
			if err != nil {
				continue
			}
			content = append(content, block)
		}

		for _, tr := range msg.ToolResults {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: tr.Content},
					},
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

		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}

	return result, nil
}

func imageBlockFromAttachment(att models.Attachment) (*types.ContentBlockMemberImage, error) {
	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}
	if int64(len(data)) > bedrockImageMaxBytes {
		return nil, fmt.Errorf("attachment too large (%d bytes)", len(data))
	}
	format, ok := bedrockImageFormat(att.MediaType)
	if !ok {
		return nil, fmt.Errorf("unsupported image format %q", att.MediaType)
	}
	return &types.ContentBlockMemberImage{
		Value: types.ImageBlock{
			Format: format,
			Source: &types.ImageSourceMemberBytes{Value: data},
		},
	}, nil
}

func bedrockImageFormat(mediaType string) (types.ImageFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "image/png":
		return types.ImageFormatPng, true
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	default:
		return "", false
	}
}

func (p *BedrockProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := GetProviderError(err); ok {
		return pe.Reason.IsRetryable()
	}
	msg := err.Error()
	if strings.Contains(msg, "ThrottlingException") ||
		strings.Contains(msg, "TooManyRequestsException") ||
		strings.Contains(msg, "ServiceUnavailableException") {
		return true
	}
	return isRetryableMessage(err)
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("bedrock", model, err)
}

package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/valet/pkg/models"
)

// ToolSpec is the provider-facing view of a registered tool: just enough to
// advertise it to the model. Execution stays behind the registry.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"input_schema"`
}

// Request is a single-round streaming completion request.
type Request struct {
	Model     string
	System    string
	Messages  []models.Message
	Tools     []ToolSpec
	MaxTokens int
}

// Model describes an available model and its capabilities.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// Provider is a streaming LLM adapter for one wire format.
//
// Stream performs one round: it returns a channel owned by the provider's
// goroutine, which emits text_delta / tool_use_start / tool_use_complete
// events as deltas arrive and closes the channel after emitting exactly one
// message_complete (with the round's accumulated text) or one error event.
type Provider interface {
	Name() string
	Models() []Model
	Stream(ctx context.Context, req *Request) (<-chan StreamEvent, error)
}

// ToolExecutor runs one tool call and returns its result. Implementations
// never return Go errors; failures are error-flagged results.
type ToolExecutor func(ctx context.Context, call models.ToolCall) models.ToolResult

package agent

import (
	"context"
	"strings"

	"github.com/haasonsaas/valet/pkg/models"
)

// DefaultMaxToolRounds bounds the tool-use loop when the caller does not.
const DefaultMaxToolRounds = 10

// summaryPrompt is appended when the round budget is exhausted so the final
// round produces a textual answer instead of more tool calls.
const summaryPrompt = "You have used all available tool calls. Summarize what you found and respond to the user."

// LoopOptions configures one tool-use loop run.
type LoopOptions struct {
	Model     string
	System    string
	Messages  []models.Message
	Tools     []ToolSpec
	Execute   ToolExecutor
	MaxTokens int

	// MaxToolRounds bounds the number of provider rounds that may request
	// tools. Zero means DefaultMaxToolRounds.
	MaxToolRounds int
}

// runToolLoop drives rounds against the provider until the model stops
// requesting tools or the round budget runs out. Tool results within a turn
// preserve the emission order of their tool_use events.
func runToolLoop(ctx context.Context, provider Provider, model string, opts LoopOptions, out chan<- StreamEvent) {
	maxRounds := opts.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}

	messages := make([]models.Message, len(opts.Messages))
	copy(messages, opts.Messages)
	tools := opts.Tools
	final := false

	for round := 0; ; round++ {
		req := &Request{
			Model:     model,
			System:    opts.System,
			Messages:  messages,
			Tools:     tools,
			MaxTokens: opts.MaxTokens,
		}

		stream, err := provider.Stream(ctx, req)
		if err != nil {
			emit(ctx, out, ErrorEvent(err))
			return
		}

		// The range must always reach channel close: the provider goroutine
		// sends without a ctx select, so abandoning the stream mid-flight
		// would strand it on a blocked send along with its open connection.
		// After cancellation we stop forwarding and drain the remainder.
		var text strings.Builder
		var calls []models.ToolCall
		cancelled := false
		failed := false
		for ev := range stream {
			if cancelled {
				continue
			}
			switch ev.Type {
			case EventTextDelta:
				text.WriteString(ev.Text)
				cancelled = !emit(ctx, out, ev)
			case EventToolUseStart:
				cancelled = !emit(ctx, out, ev)
			case EventToolUseComplete:
				if ev.ToolCall != nil {
					calls = append(calls, *ev.ToolCall)
				}
				cancelled = !emit(ctx, out, ev)
			case EventError:
				emit(ctx, out, ev)
				failed = true
			case EventMessageComplete:
				// Round boundary; the loop decides whether it is final.
			}
		}
		if cancelled || failed {
			return
		}

		if final || len(calls) == 0 || opts.Execute == nil {
			emit(ctx, out, MessageComplete(text.String()))
			return
		}

		// Record the assistant turn, run the tools sequentially in emission
		// order, and hand the results back as the next user turn.
		messages = append(messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   text.String(),
			ToolCalls: calls,
		})

		results := make([]models.ToolResult, 0, len(calls))
		for _, call := range calls {
			results = append(results, opts.Execute(ctx, call))
		}
		messages = append(messages, models.Message{
			Role:        models.RoleUser,
			ToolResults: results,
		})

		if round+1 >= maxRounds {
			// Budget exhausted: request a summary and run one tool-free round.
			messages = append(messages, models.Message{
				Role:    models.RoleUser,
				Content: summaryPrompt,
			})
			tools = nil
			final = true
		}
	}
}

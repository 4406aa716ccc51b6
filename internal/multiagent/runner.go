package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/valet/internal/agent"
	"github.com/haasonsaas/valet/internal/tools"
	"github.com/haasonsaas/valet/pkg/models"
)

// delegationTools are stripped from an agent's tool view unless it is
// explicitly allowed to delegate.
var delegationTools = map[string]bool{
	"delegate_to_agent": true,
	"delegate_parallel": true,
	"list_agents":       true,
}

// Runner executes one agent run: scoped tool set, isolated conversation,
// bounded tool rounds. A run never mutates the caller's session.
type Runner struct {
	router           *agent.Router
	registry         *tools.Registry
	baseSystemPrompt string
	logger           *slog.Logger
}

// NewRunner creates a runner over the shared router and registry.
func NewRunner(router *agent.Router, registry *tools.Registry, baseSystemPrompt string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		router:           router,
		registry:         registry,
		baseSystemPrompt: baseSystemPrompt,
		logger:           logger,
	}
}

// Run drives the tool-use loop for one agent and task. Provider errors and
// depth violations surface as AgentResult.Err, never as panics or Go errors
// to the caller.
func (r *Runner) Run(ctx context.Context, def *AgentDefinition, task, taskContext string, override tools.Approver) *AgentResult {
	result := &AgentResult{AgentName: def.Name}

	system := r.baseSystemPrompt
	if def.SystemPrompt != "" {
		if system != "" {
			system += "\n\n---\n\n"
		}
		system += fmt.Sprintf("# Agent Role: %s\n\n%s", def.Name, def.SystemPrompt)
	}

	content := task
	if taskContext != "" {
		content = fmt.Sprintf("Context:\n%s\n\nTask:\n%s", taskContext, task)
	}

	specs := r.scopedSpecs(def)
	allowed := make(map[string]bool, len(specs))
	for _, spec := range specs {
		allowed[spec.Name] = true
	}

	execute := func(ctx context.Context, call models.ToolCall) models.ToolResult {
		if !allowed[call.Name] {
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("Tool '%s' is not available to this agent.", call.Name),
				IsError:    true,
			}
		}
		return r.registry.Execute(ctx, call, "agent:"+def.Name, override)
	}

	events, err := r.router.StreamWithToolLoop(ctx, agent.LoopOptions{
		Model:         def.Model,
		System:        system,
		Messages:      []models.Message{{Role: models.RoleUser, Content: content}},
		Tools:         specs,
		Execute:       execute,
		MaxToolRounds: def.MaxToolRounds,
	})
	if err != nil {
		result.Err = err.Error()
		return result
	}

	var text strings.Builder
	for ev := range events {
		switch ev.Type {
		case agent.EventTextDelta:
			text.WriteString(ev.Text)
		case agent.EventToolUseComplete:
			if ev.ToolCall != nil {
				result.ToolCallsMade = append(result.ToolCallsMade, *ev.ToolCall)
			}
		case agent.EventMessageComplete:
			// The terminal payload supersedes the accumulator.
			result.Response = ev.Text
		case agent.EventError:
			result.Err = ev.Err.Error()
		}
	}
	if result.Response == "" && result.Err == "" {
		result.Response = text.String()
	}
	return result
}

// scopedSpecs filters the registry's tool list down to the agent's view.
func (r *Runner) scopedSpecs(def *AgentDefinition) []agent.ToolSpec {
	all := r.registry.Specs()
	scoped := make([]agent.ToolSpec, 0, len(all))
	for _, spec := range all {
		if !def.AllowsTool(spec.Name) {
			continue
		}
		if !def.CanDelegate && delegationTools[spec.Name] {
			continue
		}
		scoped = append(scoped, spec)
	}
	return scoped
}

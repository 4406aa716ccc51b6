package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/valet/internal/tools"
	"github.com/haasonsaas/valet/pkg/models"
)

// ToolExecutor runs one named tool with merged arguments. Production wiring
// funnels through the tool registry so permissions and audit apply.
type ToolExecutor func(ctx context.Context, tool string, args map[string]any) (string, error)

// RegistryExecutor adapts the tool registry to the engine's executor
// contract. Workflow step calls are attributed to the workflow's session.
func RegistryExecutor(registry *tools.Registry, sessionID string, override tools.Approver) ToolExecutor {
	return func(ctx context.Context, tool string, args map[string]any) (string, error) {
		input, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("marshal step args: %w", err)
		}
		result := registry.Execute(ctx, models.ToolCall{Name: tool, Input: input}, sessionID, override)
		if result.IsError {
			return "", fmt.Errorf("%s", result.Content)
		}
		return result.Content, nil
	}
}

// ApprovalFunc gates steps marked requires_approval. A false answer skips
// the step; the workflow continues.
type ApprovalFunc func(ctx context.Context, workflow, step string) bool

// Engine walks a workflow's steps in order with an accumulating context.
type Engine struct {
	execute  ToolExecutor
	approval ApprovalFunc
	logger   *slog.Logger
}

// NewEngine creates an engine. A nil approval callback means approval gates
// pass unconsulted.
func NewEngine(execute ToolExecutor, approval ApprovalFunc, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{execute: execute, approval: approval, logger: logger}
}

// Run executes the workflow's steps in order. The running context dict is
// seeded from workflowCtx; each step's args merge with it (context wins) and
// its output becomes previous_output for later steps. A step error halts the
// run; prior results are preserved.
func (e *Engine) Run(ctx context.Context, def *Definition, workflowCtx map[string]any) []StepResult {
	results := make([]StepResult, 0, len(def.Steps))

	running := make(map[string]any, len(workflowCtx))
	for k, v := range workflowCtx {
		running[k] = v
	}

	for _, step := range def.Steps {
		if step.RequiresApproval && e.approval != nil {
			if !e.approval(ctx, def.Name, step.Name) {
				e.logger.Info("workflow step skipped", "workflow", def.Name, "step", step.Name)
				results = append(results, StepResult{
					Step:   step.Name,
					Status: StepSkipped,
					Reason: ReasonApprovalDenied,
				})
				continue
			}
		}

		args := make(map[string]any, len(step.Args)+len(running))
		for k, v := range step.Args {
			args[k] = v
		}
		for k, v := range running {
			args[k] = v
		}

		output, err := e.execute(ctx, step.Tool, args)
		if err != nil {
			e.logger.Warn("workflow step failed", "workflow", def.Name, "step", step.Name, "error", err)
			results = append(results, StepResult{
				Step:   step.Name,
				Status: StepError,
				Error:  err.Error(),
			})
			return results
		}

		results = append(results, StepResult{
			Step:   step.Name,
			Status: StepSuccess,
			Output: output,
		})
		running["previous_output"] = output
	}
	return results
}

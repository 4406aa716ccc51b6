package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/valet/internal/tools"
)

// Orchestrator exposes delegation to the model as tools: list_agents,
// delegate_to_agent, delegate_parallel, and task_status.
type Orchestrator struct {
	loader  *Loader
	runner  *Runner
	taskMgr *TaskManager
	logger  *slog.Logger
}

// NewOrchestrator wires the loader and runner behind the delegation tools.
func NewOrchestrator(loader *Loader, runner *Runner, taskMgr *TaskManager, logger *slog.Logger) *Orchestrator {
	if taskMgr == nil {
		taskMgr = NewTaskManager(DefaultTaskCapacity)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		loader:  loader,
		runner:  runner,
		taskMgr: taskMgr,
		logger:  logger,
	}
}

// Tasks exposes the background task manager.
func (o *Orchestrator) Tasks() *TaskManager {
	return o.taskMgr
}

// RegisterTools installs the delegation tools into the registry. The tools
// are classified as reads: the delegated agent's own tool calls are still
// gated individually.
func (o *Orchestrator) RegisterTools(registry *tools.Registry) {
	registry.Register(tools.Definition{
		Name:        "list_agents",
		Description: "List the available agents and their descriptions.",
		Schema:      json.RawMessage(`{"type":"object","properties":{}}`),
		Category:    tools.CategoryRead,
		Handler:     o.handleListAgents,
	})
	registry.Register(tools.Definition{
		Name:        "delegate_to_agent",
		Description: "Delegate a task to a named agent. Set background=true to run it asynchronously and be notified on completion.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"agent_name": {"type": "string", "description": "Name of the agent to delegate to"},
				"task": {"type": "string", "description": "The task for the agent to perform"},
				"context": {"type": "string", "description": "Optional background context for the task"},
				"background": {"type": "boolean", "description": "Run the task in the background"}
			},
			"required": ["agent_name", "task"]
		}`),
		Category: tools.CategoryRead,
		Handler:  o.handleDelegate,
	})
	registry.Register(tools.Definition{
		Name:        "delegate_parallel",
		Description: "Delegate several tasks to agents concurrently and collect all results.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"tasks": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"agent_name": {"type": "string"},
							"task": {"type": "string"},
							"context": {"type": "string"}
						},
						"required": ["agent_name", "task"]
					}
				}
			},
			"required": ["tasks"]
		}`),
		Category: tools.CategoryRead,
		Handler:  o.handleDelegateParallel,
	})
	registry.Register(tools.Definition{
		Name:        "task_status",
		Description: "Check the status of background tasks. Pass task_id for one task, omit it to list all.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"task_id": {"type": "string", "description": "Id of the task to inspect"}
			}
		}`),
		Category: tools.CategoryRead,
		Handler:  o.handleTaskStatus,
	})
}

func (o *Orchestrator) handleListAgents(ctx context.Context, input map[string]any) (string, error) {
	agents := o.loader.List()
	if len(agents) == 0 {
		return "No agents are configured.", nil
	}
	var b strings.Builder
	b.WriteString("Available agents:\n")
	for _, def := range agents {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	return b.String(), nil
}

func (o *Orchestrator) handleDelegate(ctx context.Context, input map[string]any) (string, error) {
	name, _ := input["agent_name"].(string)
	task, _ := input["task"].(string)
	taskContext, _ := input["context"].(string)
	background, _ := input["background"].(bool)

	if name == "" || task == "" {
		return "", fmt.Errorf("agent_name and task are required")
	}

	def, ok := o.loader.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown agent: %s", name)
	}

	if background {
		return o.delegateBackground(ctx, def, task, taskContext)
	}

	result, err := o.delegate(ctx, def, task, taskContext)
	if err != nil {
		return "", err
	}
	if result.Err != "" {
		return "", fmt.Errorf("agent %s failed: %s", name, result.Err)
	}
	return result.Response, nil
}

// delegate runs a foreground delegation under the depth guard.
func (o *Orchestrator) delegate(ctx context.Context, def *AgentDefinition, task, taskContext string) (*AgentResult, error) {
	depth := DepthFromContext(ctx) + 1
	if depth > MaxDelegationDepth {
		return nil, fmt.Errorf("delegation depth limit (%d) exceeded", MaxDelegationDepth)
	}
	ctx = WithDepth(ctx, depth)
	return o.runner.Run(ctx, def, task, taskContext, nil), nil
}

// delegateBackground detaches a run and reports completion through the
// delivery callback captured at creation.
func (o *Orchestrator) delegateBackground(ctx context.Context, def *AgentDefinition, task, taskContext string) (string, error) {
	depth := DepthFromContext(ctx) + 1
	if depth > MaxDelegationDepth {
		return "", fmt.Errorf("delegation depth limit (%d) exceeded", MaxDelegationDepth)
	}

	bg := o.taskMgr.Create(def.Name, task, DeliveryFromContext(ctx))

	// The run outlives the originating request; only depth carries over.
	runCtx := WithDepth(context.Background(), depth)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("background task panicked", "task_id", bg.ID, "agent", def.Name, "panic", r)
				o.finish(bg.ID, o.taskMgr.Fail(bg.ID, fmt.Sprintf("panic: %v", r)),
					fmt.Sprintf("Background task %s (%s) failed: panic: %v", bg.ID, def.Name, r))
			}
		}()

		o.taskMgr.SetRunning(bg.ID)
		result := o.runner.Run(runCtx, def, task, taskContext, tools.AutoApprove)

		if result.Err != "" {
			o.finish(bg.ID, o.taskMgr.Fail(bg.ID, result.Err),
				fmt.Sprintf("Background task %s (%s) failed: %s", bg.ID, def.Name, result.Err))
			return
		}
		o.finish(bg.ID, o.taskMgr.Complete(bg.ID, result.Response),
			fmt.Sprintf("Background task %s (%s) completed: %s", bg.ID, def.Name, result.Response))
	}()

	return fmt.Sprintf("Background task started: %s. You will be notified when it completes.", bg.ID), nil
}

// finish invokes the delivery callback; delivery failures are logged, never
// re-raised into the detached task.
func (o *Orchestrator) finish(taskID string, deliver DeliveryFunc, message string) {
	if deliver == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("background task delivery failed", "task_id", taskID, "panic", r)
		}
	}()
	deliver(message)
}

type parallelTask struct {
	AgentName string `json:"agent_name"`
	Task      string `json:"task"`
	Context   string `json:"context,omitempty"`
}

func (o *Orchestrator) handleDelegateParallel(ctx context.Context, input map[string]any) (string, error) {
	raw, err := json.Marshal(input["tasks"])
	if err != nil {
		return "", fmt.Errorf("invalid tasks: %w", err)
	}
	var requests []parallelTask
	if err := json.Unmarshal(raw, &requests); err != nil {
		return "", fmt.Errorf("invalid tasks: %w", err)
	}
	if len(requests) == 0 {
		return "", fmt.Errorf("tasks must contain at least one entry")
	}

	depth := DepthFromContext(ctx) + 1
	if depth > MaxDelegationDepth {
		return "", fmt.Errorf("delegation depth limit (%d) exceeded", MaxDelegationDepth)
	}
	ctx = WithDepth(ctx, depth)

	results := make([]*AgentResult, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req parallelTask) {
			defer wg.Done()
			def, ok := o.loader.Get(req.AgentName)
			if !ok {
				results[i] = &AgentResult{AgentName: req.AgentName, Err: "unknown agent: " + req.AgentName}
				return
			}
			results[i] = o.runner.Run(ctx, def, req.Task, req.Context, nil)
		}(i, req)
	}
	wg.Wait()

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(out), nil
}

func (o *Orchestrator) handleTaskStatus(ctx context.Context, input map[string]any) (string, error) {
	if id, _ := input["task_id"].(string); id != "" {
		task, ok := o.taskMgr.Get(id)
		if !ok {
			return "", fmt.Errorf("no such task: %s", id)
		}
		out, err := json.MarshalIndent(task, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal task: %w", err)
		}
		return string(out), nil
	}

	all := o.taskMgr.List()
	if len(all) == 0 {
		return "No background tasks.", nil
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	out, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tasks: %w", err)
	}
	return string(out), nil
}

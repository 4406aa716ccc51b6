// Package tools implements the tool registry: the single chokepoint through
// which every tool call passes for permission gating, input sanitisation, and
// audit.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/valet/internal/agent"
	"github.com/haasonsaas/valet/internal/audit"
	"github.com/haasonsaas/valet/pkg/models"
)

// Handler executes one tool call. Returned errors propagate into tool_error
// audit entries; the returned string is the content presented to the model.
type Handler func(ctx context.Context, input map[string]any) (string, error)

// Definition is one registered tool.
type Definition struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     Handler
	Category    ActionCategory
}

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Registry manages tool definitions with thread-safe registration and
// executes calls end-to-end: classify, check permission, sanitise, run the
// handler, audit.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Definition
	order   []string
	schemas map[string]*jsonschema.Schema

	perms     *PermissionManager
	sanitizer *Sanitizer
	audit     *audit.Logger
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. Nil collaborators degrade to safe
// defaults (deny-all permissions, no-op audit).
func NewRegistry(perms *PermissionManager, sanitizer *Sanitizer, auditLog *audit.Logger, logger *slog.Logger) *Registry {
	if auditLog == nil {
		auditLog = audit.Nop()
	}
	if perms == nil {
		perms = NewPermissionManager(nil, true, auditLog, logger)
	}
	if sanitizer == nil {
		sanitizer = NewSanitizer("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:     make(map[string]*Definition),
		schemas:   make(map[string]*jsonschema.Schema),
		perms:     perms,
		sanitizer: sanitizer,
		audit:     auditLog,
		logger:    logger,
	}
}

// Register idempotently installs a tool; an existing tool with the same name
// is replaced in place.
func (r *Registry) Register(def Definition) {
	if def.Name == "" || def.Handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = &def

	delete(r.schemas, def.Name)
	if len(def.Schema) > 0 {
		schema, err := jsonschema.CompileString(def.Name+".json", string(def.Schema))
		if err != nil {
			r.logger.Warn("invalid tool schema, skipping validation", "tool", def.Name, "error", err)
		} else {
			r.schemas[def.Name] = schema
		}
	}
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	delete(r.schemas, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Definitions returns all tools in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		if def, ok := r.tools[name]; ok {
			result = append(result, *def)
		}
	}
	return result
}

// Specs returns the provider-facing view of all tools.
func (r *Registry) Specs() []agent.ToolSpec {
	defs := r.Definitions()
	specs := make([]agent.ToolSpec, len(defs))
	for i, def := range defs {
		schema := def.Schema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		specs[i] = agent.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Schema:      schema,
		}
	}
	return specs
}

// Execute runs one tool call end-to-end. Failures are returned as
// error-flagged results, never Go errors, so the model can re-plan.
func (r *Registry) Execute(ctx context.Context, call models.ToolCall, sessionID string, override Approver) models.ToolResult {
	errResult := func(content string) models.ToolResult {
		return models.ToolResult{ToolCallID: call.ID, Content: content, IsError: true}
	}

	if len(call.Name) > MaxToolNameLength {
		return errResult(fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength))
	}
	if len(call.Input) > MaxToolParamsSize {
		return errResult(fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize))
	}

	input := map[string]any{}
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &input); err != nil {
			return errResult("Error: invalid tool input: " + err.Error())
		}
	}

	def, known := r.Get(call.Name)
	var registered ActionCategory
	if known {
		registered = def.Category
	}

	req := Classify(call.Name, input, registered)
	inputJSON := string(call.Input)

	if !r.perms.Check(ctx, req, override) {
		r.audit.ToolDenied(sessionID, call.Name, inputJSON, string(req.Category))
		return errResult("Permission denied by user.")
	}

	if !known {
		return errResult("Unknown tool: " + call.Name)
	}

	r.mu.RLock()
	schema := r.schemas[call.Name]
	r.mu.RUnlock()
	if schema != nil {
		if err := schema.Validate(input); err != nil {
			r.audit.ToolError(sessionID, call.Name, inputJSON, string(req.Category), 0, err.Error())
			return errResult("Error: invalid arguments: " + err.Error())
		}
	}

	input = r.sanitizer.Sanitize(input)

	start := time.Now()
	output, err := def.Handler(ctx, input)
	duration := time.Since(start)

	if err != nil {
		r.logger.Warn("tool handler failed", "tool", call.Name, "error", err, "duration", duration)
		r.audit.ToolError(sessionID, call.Name, inputJSON, string(req.Category), duration, err.Error())
		return errResult("Error: " + err.Error())
	}

	r.audit.ToolCall(sessionID, call.Name, inputJSON, output, string(req.Category), !req.Category.AutoAllowed(), duration)
	return models.ToolResult{ToolCallID: call.ID, Content: output}
}

// Executor adapts the registry to the agent.ToolExecutor contract for one
// session, with an optional approver override.
func (r *Registry) Executor(sessionID string, override Approver) agent.ToolExecutor {
	return func(ctx context.Context, call models.ToolCall) models.ToolResult {
		return r.Execute(ctx, call, sessionID, override)
	}
}

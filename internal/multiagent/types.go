// Package multiagent implements named sub-agents: declarative definitions,
// an isolated runner, and the orchestrator that exposes delegation to the
// model as tools.
package multiagent

import (
	"github.com/haasonsaas/valet/pkg/models"
)

// AgentDefinition is a declarative configuration of a conversational role
// with a scoped tool subset.
type AgentDefinition struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	SystemPrompt string   `yaml:"system_prompt" json:"system_prompt"`
	AllowedTools []string `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
	DeniedTools  []string `yaml:"denied_tools,omitempty" json:"denied_tools,omitempty"`
	Model        string   `yaml:"model,omitempty" json:"model,omitempty"`

	// MaxToolRounds bounds the agent's tool-use loop. Zero means the
	// runtime default.
	MaxToolRounds int `yaml:"max_tool_rounds,omitempty" json:"max_tool_rounds,omitempty"`

	// CanDelegate keeps the delegation tools visible to this agent.
	// Off by default to prevent accidental recursion.
	CanDelegate bool `yaml:"can_delegate,omitempty" json:"can_delegate,omitempty"`
}

// Clone returns a deep copy.
func (d *AgentDefinition) Clone() *AgentDefinition {
	if d == nil {
		return nil
	}
	clone := *d
	clone.AllowedTools = append([]string(nil), d.AllowedTools...)
	clone.DeniedTools = append([]string(nil), d.DeniedTools...)
	return &clone
}

// AllowsTool applies the scoping rule: allowed_tools wins when non-empty,
// otherwise anything not denied passes.
func (d *AgentDefinition) AllowsTool(name string) bool {
	if len(d.AllowedTools) > 0 {
		for _, t := range d.AllowedTools {
			if t == name {
				return true
			}
		}
		return false
	}
	for _, t := range d.DeniedTools {
		if t == name {
			return false
		}
	}
	return true
}

// AgentResult is the outcome of one agent run.
type AgentResult struct {
	AgentName     string            `json:"agent_name"`
	Response      string            `json:"response"`
	ToolCallsMade []models.ToolCall `json:"tool_calls_made,omitempty"`
	Err           string            `json:"error,omitempty"`
}

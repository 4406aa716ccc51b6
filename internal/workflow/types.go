// Package workflow implements declarative multi-step workflows: definitions
// loaded from yaml files, an engine with approval gates and context
// threading, and a manager that runs workflows by name.
package workflow

// TriggerKind describes how a workflow is invoked.
type TriggerKind string

const (
	TriggerManual   TriggerKind = "manual"
	TriggerWebhook  TriggerKind = "webhook"
	TriggerSchedule TriggerKind = "schedule"
)

// Step is one unit of a workflow: a tool call with static args.
type Step struct {
	Name             string         `yaml:"name" json:"name"`
	Tool             string         `yaml:"tool" json:"tool"`
	Args             map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	RequiresApproval bool           `yaml:"requires_approval,omitempty" json:"requires_approval,omitempty"`
}

// Definition is one declarative workflow.
type Definition struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	Trigger     TriggerKind `yaml:"trigger,omitempty" json:"trigger,omitempty"`
	Enabled     bool        `yaml:"enabled" json:"enabled"`
	Steps       []Step      `yaml:"steps" json:"steps"`
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Steps = make([]Step, len(d.Steps))
	for i, step := range d.Steps {
		clone.Steps[i] = step
		if step.Args != nil {
			args := make(map[string]any, len(step.Args))
			for k, v := range step.Args {
				args[k] = v
			}
			clone.Steps[i].Args = args
		}
	}
	return &clone
}

// StepStatus is the outcome of one executed step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
	StepSkipped StepStatus = "skipped"
)

// ReasonApprovalDenied marks a step skipped because its approval gate said no.
const ReasonApprovalDenied = "approval_denied"

// StepResult records one step's outcome.
type StepResult struct {
	Step   string     `json:"step"`
	Status StepStatus `json:"status"`
	Output string     `json:"output,omitempty"`
	Error  string     `json:"error,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

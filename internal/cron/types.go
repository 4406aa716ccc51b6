// Package cron implements the persistent scheduler: durable date, cron, and
// interval jobs replayed from the store on startup and executed against the
// notification, assistant, and workflow subsystems.
package cron

import (
	"context"
	"encoding/json"
	"time"
)

// TriggerType determines when a job fires.
type TriggerType string

const (
	TriggerDate     TriggerType = "date"
	TriggerCron     TriggerType = "cron"
	TriggerInterval TriggerType = "interval"
)

// JobType determines what a job does when it fires.
type JobType string

const (
	JobNotification JobType = "notification"
	JobAssistant    JobType = "assistant"
	JobWorkflow     JobType = "workflow"
)

// Job is one persisted scheduled job. TriggerArgs and JobArgs are stored as
// raw JSON so new argument shapes never require a schema migration.
type Job struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	TriggerType TriggerType     `json:"trigger_type"`
	TriggerArgs json.RawMessage `json:"trigger_args"`
	JobType     JobType         `json:"job_type"`
	JobArgs     json.RawMessage `json:"job_args"`
}

// DateTrigger fires once at a specific instant.
type DateTrigger struct {
	RunDate string `json:"run_date"`
}

// CronTrigger fires on a cron expression, timezone-aware.
type CronTrigger struct {
	Expression string `json:"expression"`
	Timezone   string `json:"timezone,omitempty"`
}

// IntervalTrigger fires on a fixed period.
type IntervalTrigger struct {
	Seconds float64 `json:"seconds"`
}

// NotificationArgs carries the payload of a notification job.
type NotificationArgs struct {
	Message string `json:"message"`
	Urgent  bool   `json:"urgent,omitempty"`
}

// AssistantArgs carries the payload of an assistant job.
type AssistantArgs struct {
	Prompt string `json:"prompt"`
}

// WorkflowArgs names the workflow a workflow job runs.
type WorkflowArgs struct {
	Workflow string         `json:"workflow"`
	Context  map[string]any `json:"context,omitempty"`
}

// MessageSender dispatches notification text to the user.
type MessageSender interface {
	Send(ctx context.Context, message string, urgent bool) error
}

// MessageSenderFunc adapts a function to MessageSender.
type MessageSenderFunc func(ctx context.Context, message string, urgent bool) error

func (f MessageSenderFunc) Send(ctx context.Context, message string, urgent bool) error {
	return f(ctx, message, urgent)
}

// AssistantRunner runs an LLM prompt and returns the response text.
type AssistantRunner interface {
	Run(ctx context.Context, sessionID, prompt string) (string, error)
}

// AssistantRunnerFunc adapts a function to AssistantRunner.
type AssistantRunnerFunc func(ctx context.Context, sessionID, prompt string) (string, error)

func (f AssistantRunnerFunc) Run(ctx context.Context, sessionID, prompt string) (string, error) {
	return f(ctx, sessionID, prompt)
}

// WorkflowRunner runs a named workflow with a context payload.
type WorkflowRunner interface {
	Run(ctx context.Context, name string, workflowCtx map[string]any) (string, error)
}

// WorkflowRunnerFunc adapts a function to WorkflowRunner.
type WorkflowRunnerFunc func(ctx context.Context, name string, workflowCtx map[string]any) (string, error)

func (f WorkflowRunnerFunc) Run(ctx context.Context, name string, workflowCtx map[string]any) (string, error) {
	return f(ctx, name, workflowCtx)
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.TriggerArgs = append(json.RawMessage(nil), j.TriggerArgs...)
	clone.JobArgs = append(json.RawMessage(nil), j.JobArgs...)
	return &clone
}

// dateTimeLayouts are the accepted run_date formats.
var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

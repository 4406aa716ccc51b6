package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// schedulerSessionID is the well-known session used by assistant jobs.
const schedulerSessionID = "scheduler"

// entry is one registered job plus its derived timer state.
type entry struct {
	job      *Job
	schedule *schedule
	nextRun  time.Time
}

// Scheduler replays persisted jobs on start and fires them from a tick loop.
// The store is the source of truth; timer state is derived.
type Scheduler struct {
	store    Store
	sender   MessageSender
	runner   AssistantRunner
	workflow WorkflowRunner
	timezone string
	logger   *slog.Logger

	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMessageSender configures the sender for notification jobs.
func WithMessageSender(sender MessageSender) Option {
	return func(s *Scheduler) {
		if sender != nil {
			s.sender = sender
		}
	}
}

// WithAssistantRunner configures the runner for assistant jobs.
func WithAssistantRunner(runner AssistantRunner) Option {
	return func(s *Scheduler) {
		if runner != nil {
			s.runner = runner
		}
	}
}

// WithWorkflowRunner configures the runner for workflow jobs.
func WithWorkflowRunner(runner WorkflowRunner) Option {
	return func(s *Scheduler) {
		if runner != nil {
			s.workflow = runner
		}
	}
}

// WithTimezone sets the default timezone for cron triggers.
func WithTimezone(tz string) Option {
	return func(s *Scheduler) {
		s.timezone = tz
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the scheduler tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// NewScheduler creates a scheduler over the given store.
func NewScheduler(store Store, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	s := &Scheduler{
		store:        store,
		logger:       slog.Default().With("component", "scheduler"),
		now:          time.Now,
		tickInterval: time.Second,
		entries:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start loads persisted jobs, registers them with the timer, and begins the
// tick loop. Unparseable jobs are logged and skipped, never dropped from the
// store.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	jobs, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	for _, job := range jobs {
		if err := s.register(job); err != nil {
			s.logger.Warn("scheduled job skipped", "id", job.ID, "error", err)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the tick loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddJob persists the job and registers it with the timer. Persist happens
// first so a crash between the two never loses the job.
func (s *Scheduler) AddJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	// Validate the trigger before persisting a job that can never fire.
	if _, err := newSchedule(job.TriggerType, job.TriggerArgs, s.timezone); err != nil {
		return err
	}
	if err := s.store.Save(ctx, job); err != nil {
		return err
	}
	return s.register(job)
}

// AddNotification persists a notification job.
func (s *Scheduler) AddNotification(ctx context.Context, description string, triggerType TriggerType, triggerArgs any, message string) (*Job, error) {
	return s.add(ctx, description, triggerType, triggerArgs, JobNotification, NotificationArgs{Message: message})
}

// AddAssistant persists an assistant job.
func (s *Scheduler) AddAssistant(ctx context.Context, description string, triggerType TriggerType, triggerArgs any, prompt string) (*Job, error) {
	return s.add(ctx, description, triggerType, triggerArgs, JobAssistant, AssistantArgs{Prompt: prompt})
}

// AddWorkflow persists a workflow job.
func (s *Scheduler) AddWorkflow(ctx context.Context, description string, triggerType TriggerType, triggerArgs any, workflow string) (*Job, error) {
	return s.add(ctx, description, triggerType, triggerArgs, JobWorkflow, WorkflowArgs{Workflow: workflow})
}

func (s *Scheduler) add(ctx context.Context, description string, triggerType TriggerType, triggerArgs any, jobType JobType, jobArgs any) (*Job, error) {
	trigger, err := json.Marshal(triggerArgs)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger args: %w", err)
	}
	args, err := json.Marshal(jobArgs)
	if err != nil {
		return nil, fmt.Errorf("marshal job args: %w", err)
	}
	job := &Job{
		ID:          uuid.NewString(),
		Description: description,
		TriggerType: triggerType,
		TriggerArgs: trigger,
		JobType:     jobType,
		JobArgs:     args,
	}
	if err := s.AddJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// RemoveJob removes a job from the timer and the store. Absence from the
// timer is tolerated (one-shots may already have fired).
func (s *Scheduler) RemoveJob(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return s.store.Remove(ctx, id)
}

// ListJobs returns all persisted jobs.
func (s *Scheduler) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.store.List(ctx)
}

// Prune removes expired date jobs from the store.
func (s *Scheduler) Prune(ctx context.Context) error {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	for _, job := range jobs {
		if job.TriggerType != TriggerDate {
			continue
		}
		sched, err := newSchedule(job.TriggerType, job.TriggerArgs, s.timezone)
		if err != nil {
			continue
		}
		if _, ok := sched.next(now); !ok {
			if err := s.store.Remove(ctx, job.ID); err != nil {
				return err
			}
			s.mu.Lock()
			delete(s.entries, job.ID)
			s.mu.Unlock()
		}
	}
	return nil
}

// RunOnce executes due jobs immediately (primarily for tests).
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

func (s *Scheduler) register(job *Job) error {
	sched, err := newSchedule(job.TriggerType, job.TriggerArgs, s.timezone)
	if err != nil {
		return err
	}
	next, ok := sched.next(s.now())
	if !ok {
		// Already-expired one-shot; leave it to Prune.
		return nil
	}
	s.mu.Lock()
	s.entries[job.ID] = &entry{job: job.Clone(), schedule: sched, nextRun: next}
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.nextRun.IsZero() && !now.Before(e.nextRun) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if err := s.execute(ctx, e.job); err != nil {
			s.logger.Warn("scheduled job failed", "id", e.job.ID, "type", e.job.JobType, "error", err)
			s.notifyFailure(ctx, e.job, err)
		}

		// Date jobs retire after firing; next(now) alone would reschedule one
		// whose run time equals the tick exactly.
		var next time.Time
		var ok bool
		if e.schedule.kind != TriggerDate {
			next, ok = e.schedule.next(now)
		}
		s.mu.Lock()
		if ok {
			e.nextRun = next
		} else {
			delete(s.entries, e.job.ID)
		}
		s.mu.Unlock()
	}
	return len(due)
}

func (s *Scheduler) execute(ctx context.Context, job *Job) error {
	switch job.JobType {
	case JobNotification:
		return s.executeNotification(ctx, job)
	case JobAssistant:
		return s.executeAssistant(ctx, job)
	case JobWorkflow:
		return s.executeWorkflow(ctx, job)
	default:
		return fmt.Errorf("unsupported job type %q", job.JobType)
	}
}

func (s *Scheduler) executeNotification(ctx context.Context, job *Job) error {
	if s.sender == nil {
		return errors.New("message sender not configured")
	}
	var args NotificationArgs
	if err := json.Unmarshal(job.JobArgs, &args); err != nil {
		return fmt.Errorf("parse notification args: %w", err)
	}
	if args.Message == "" {
		return errors.New("notification job missing message")
	}
	return s.sender.Send(ctx, args.Message, args.Urgent)
}

func (s *Scheduler) executeAssistant(ctx context.Context, job *Job) error {
	if s.runner == nil {
		return errors.New("assistant runner not configured")
	}
	var args AssistantArgs
	if err := json.Unmarshal(job.JobArgs, &args); err != nil {
		return fmt.Errorf("parse assistant args: %w", err)
	}
	if args.Prompt == "" {
		return errors.New("assistant job missing prompt")
	}
	response, err := s.runner.Run(ctx, schedulerSessionID, args.Prompt)
	if err != nil {
		return err
	}
	if s.sender != nil && response != "" {
		return s.sender.Send(ctx, response, false)
	}
	return nil
}

func (s *Scheduler) executeWorkflow(ctx context.Context, job *Job) error {
	if s.workflow == nil {
		return errors.New("workflow runner not configured")
	}
	var args WorkflowArgs
	if err := json.Unmarshal(job.JobArgs, &args); err != nil {
		return fmt.Errorf("parse workflow args: %w", err)
	}
	if args.Workflow == "" {
		return errors.New("workflow job missing workflow name")
	}
	summary, err := s.workflow.Run(ctx, args.Workflow, args.Context)
	if err != nil {
		return err
	}
	if s.sender != nil && summary != "" {
		return s.sender.Send(ctx, summary, false)
	}
	return nil
}

func (s *Scheduler) notifyFailure(ctx context.Context, job *Job, jobErr error) {
	if s.sender == nil {
		return
	}
	msg := fmt.Sprintf("Scheduled job %q failed: %v", job.Description, jobErr)
	if err := s.sender.Send(ctx, msg, false); err != nil {
		s.logger.Warn("failure notification not delivered", "id", job.ID, "error", err)
	}
}

// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enablerdao/ChirAI/internal/tasks"
)

// ErrEmptyTask is returned for a blank task description.
var ErrEmptyTask = errors.New("task is empty")

// DefaultStepTimeout bounds one handler call.
const DefaultStepTimeout = 2 * time.Minute

const maxResults = 100

// =============================================================================
// RESULTS
// =============================================================================

// StepResult is the outcome of one step.
type StepResult struct {
	TaskID      string           `json:"task_id"`
	Capability  Capability       `json:"capability"`
	Description string           `json:"description"`
	Agent       string           `json:"agent"`
	Status      tasks.TaskStatus `json:"status"`
	Output      string           `json:"output,omitempty"`
	Error       string           `json:"error,omitempty"`
	Duration    time.Duration    `json:"duration_ns"`
}

// Result is the outcome of a whole task.
type Result struct {
	JobID    string        `json:"job_id"`
	Task     string        `json:"task"`
	Steps    []StepResult  `json:"steps"`
	Summary  string        `json:"summary"`
	Duration time.Duration `json:"duration_ns"`
}

// Succeeded reports whether every step completed.
func (r *Result) Succeeded() bool {
	return r.Completed() == len(r.Steps) && len(r.Steps) > 0
}

// Completed returns the number of completed steps.
func (r *Result) Completed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == tasks.TaskStatusComplete {
			n++
		}
	}
	return n
}

func (r *Result) clone() *Result {
	c := *r
	c.Steps = append([]StepResult(nil), r.Steps...)
	return &c
}

func (r *Result) agents() int {
	seen := make(map[string]bool)
	for _, s := range r.Steps {
		if s.Status == tasks.TaskStatusComplete {
			seen[s.Agent] = true
		}
	}
	return len(seen)
}

// StepError reports which step stopped a run.
type StepError struct {
	Step       int
	Capability Capability
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Step, e.Capability, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Options configures an Orchestrator.
type Options struct {
	// Decomposer plans each task. Defaults to PlanDecomposer.
	Decomposer Decomposer

	// Queue records jobs and subtasks. Defaults to a queue keeping 100
	// finished entries.
	Queue *tasks.Queue

	// StepTimeout bounds each handler call. Defaults to DefaultStepTimeout.
	StepTimeout time.Duration

	// ContinueOnError runs the remaining steps after a failure.
	ContinueOnError bool

	// Summarize appends a coordination step when a coordination handler
	// is registered and the plan does not already end with one.
	Summarize bool

	Logger *zap.Logger
}

// Orchestrator runs tasks through capability handlers in plan order.
type Orchestrator struct {
	registry        *Registry
	decomposer      Decomposer
	queue           *tasks.Queue
	stepTimeout     time.Duration
	continueOnError bool
	summarize       bool
	logger          *zap.Logger

	mu      sync.Mutex
	results map[string]*Result
	order   []string
}

// NewOrchestrator creates an orchestrator over registry.
func NewOrchestrator(registry *Registry, opts Options) *Orchestrator {
	if opts.Decomposer == nil {
		opts.Decomposer = PlanDecomposer{}
	}
	if opts.Queue == nil {
		opts.Queue = tasks.NewQueueWithOptions(100, 0, opts.Logger)
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		registry:        registry,
		decomposer:      opts.Decomposer,
		queue:           opts.Queue,
		stepTimeout:     opts.StepTimeout,
		continueOnError: opts.ContinueOnError,
		summarize:       opts.Summarize,
		logger:          opts.Logger,
		results:         make(map[string]*Result),
	}
}

// Queue returns the queue holding jobs and subtasks.
func (o *Orchestrator) Queue() *tasks.Queue {
	return o.queue
}

// Run plans task and executes it on the calling goroutine.
func (o *Orchestrator) Run(ctx context.Context, task string) (*Result, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, ErrEmptyTask
	}

	job := tasks.NewTask(task, nil)
	if err := o.queue.Add(job); err != nil {
		return nil, err
	}
	if !o.queue.MarkRunning(job) {
		return nil, fmt.Errorf("job %s was canceled before it started", job.ID)
	}

	res, err := o.execute(ctx, job)
	switch {
	case err == nil:
		o.queue.MarkComplete(job, res.Summary)
	case ctx.Err() != nil:
		o.queue.MarkCanceled(job)
	default:
		o.queue.MarkFailed(job, err)
	}
	return res, err
}

// Submit queues task as a job for a tasks.Runner and returns it. The
// result is available from Result once the job finishes.
func (o *Orchestrator) Submit(task, conversationID string) (*tasks.Task, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, ErrEmptyTask
	}
	job := tasks.NewTask(task, func(ctx context.Context, t *tasks.Task) (string, error) {
		res, err := o.execute(ctx, t)
		if res == nil {
			return "", err
		}
		return res.Summary, err
	})
	job.ConversationID = conversationID
	if err := o.queue.Add(job); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// Result returns a copy of the result of a finished or running job.
func (o *Orchestrator) Result(jobID string) (*Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.results[jobID]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

func (o *Orchestrator) storeResult(r *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.results[r.JobID]; !ok {
		o.order = append(o.order, r.JobID)
	}
	o.results[r.JobID] = r
	for len(o.order) > maxResults {
		delete(o.results, o.order[0])
		o.order = o.order[1:]
	}
}

// =============================================================================
// EXECUTION
// =============================================================================

func (o *Orchestrator) execute(ctx context.Context, job *tasks.Task) (*Result, error) {
	start := time.Now()
	log := o.logger.With(zap.String("job", job.ID))

	plan, err := o.decomposer.Decompose(ctx, job.Description)
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	if len(plan) == 0 {
		return nil, errors.New("decompose: empty plan")
	}
	if o.summarize && plan[len(plan)-1].Capability != CapCoordination {
		if _, ok := o.registry.Handler(CapCoordination); ok {
			plan = append(plan, PlanStep{Capability: CapCoordination, Description: "Summarize the results for the user"})
		}
	}

	subs := make([]*tasks.Task, len(plan))
	for i, step := range plan {
		sub := tasks.NewSubtask(job.ID, string(step.Capability), step.Description)
		sub.ConversationID = job.ConversationID
		sub.SetMeta("step", strconv.Itoa(i+1))
		if err := o.queue.Add(sub); err != nil {
			return nil, fmt.Errorf("queue step %d: %w", i+1, err)
		}
		subs[i] = sub
	}
	log.Info("task planned", zap.String("task", job.Description), zap.Int("steps", len(plan)))

	res := &Result{JobID: job.ID, Task: job.Description}
	o.storeResult(res.clone())

	var firstErr error
	for i, sub := range subs {
		if ctx.Err() != nil || (firstErr != nil && !o.continueOnError) {
			o.queue.MarkCanceled(sub)
			res.Steps = append(res.Steps, stepResult(sub, plan[i], ""))
			continue
		}

		sr, err := o.runStep(ctx, job.Description, plan[i], sub, res.Steps)
		res.Steps = append(res.Steps, sr)
		job.SetProgress((i + 1) * 100 / len(subs))
		o.storeResult(res.clone())

		if err != nil {
			log.Warn("step failed",
				zap.Int("step", i+1),
				zap.String("capability", string(plan[i].Capability)),
				zap.Error(err))
			if firstErr == nil {
				firstErr = &StepError{Step: i + 1, Capability: plan[i].Capability, Err: err}
			}
		}
	}

	res.Duration = time.Since(start)
	res.Summary = summarize(res)
	o.storeResult(res.clone())

	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}
	log.Info("task finished",
		zap.Int("completed", res.Completed()),
		zap.Int("steps", len(res.Steps)),
		zap.Duration("duration", res.Duration),
		zap.Error(firstErr))
	return res, firstErr
}

func (o *Orchestrator) runStep(ctx context.Context, task string, step PlanStep, sub *tasks.Task, prior []StepResult) (StepResult, error) {
	h, ok := o.registry.Handler(step.Capability)
	if !o.queue.MarkRunning(sub) {
		return stepResult(sub, step, ""), context.Canceled
	}
	if !ok {
		err := fmt.Errorf("%w %q", ErrNoHandler, step.Capability)
		o.queue.MarkFailed(sub, err)
		return stepResult(sub, step, ""), err
	}

	stepCtx, cancel := context.WithTimeout(ctx, o.stepTimeout)
	sub.SetCancelFunc(cancel)
	out, err := h.Handle(stepCtx, Step{
		Task:        task,
		Capability:  step.Capability,
		Description: step.Description,
		Prior:       completedSteps(prior),
	})
	cancel()

	switch {
	case err == nil:
		o.queue.MarkComplete(sub, out)
	case ctx.Err() != nil:
		o.queue.MarkCanceled(sub)
	default:
		o.queue.MarkFailed(sub, err)
	}
	return stepResult(sub, step, handlerName(h, step.Capability)), err
}

func stepResult(sub *tasks.Task, step PlanStep, agentName string) StepResult {
	snap := sub.Clone()
	return StepResult{
		TaskID:      snap.ID,
		Capability:  step.Capability,
		Description: step.Description,
		Agent:       agentName,
		Status:      snap.Status,
		Output:      snap.Output,
		Error:       snap.Error,
		Duration:    sub.Duration(),
	}
}

func completedSteps(steps []StepResult) []StepResult {
	var out []StepResult
	for _, s := range steps {
		if s.Status == tasks.TaskStatusComplete {
			out = append(out, s)
		}
	}
	return out
}

func summarize(r *Result) string {
	var b strings.Builder
	if r.Succeeded() {
		fmt.Fprintf(&b, "Task completed by %d agents in %.1f seconds.", r.agents(), r.Duration.Seconds())
	} else {
		fmt.Fprintf(&b, "Task stopped after %d of %d steps in %.1f seconds.", r.Completed(), len(r.Steps), r.Duration.Seconds())
	}
	if n := len(r.Steps); n > 0 {
		last := r.Steps[n-1]
		if last.Capability == CapCoordination && last.Status == tasks.TaskStatusComplete {
			b.WriteString("\n\n")
			b.WriteString(last.Output)
		}
	}
	return b.String()
}

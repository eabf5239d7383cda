// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// TASK RUNNER
// =============================================================================

// Runner executes queued jobs in the background.
type Runner struct {
	queue         *Queue
	logger        *zap.Logger
	wg            sync.WaitGroup
	stop          chan struct{}
	stopOnce      sync.Once
	stopped       atomic.Bool
	maxConcurrent int
	semaphore     chan struct{}
	taskTimeout   time.Duration
	pollInterval  time.Duration
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// MaxConcurrent limits parallel jobs (default 5).
	MaxConcurrent int

	// TaskTimeout bounds each job (0 = no timeout).
	TaskTimeout time.Duration

	// PollInterval is how often the queue is checked (default 100ms).
	PollInterval time.Duration

	Logger *zap.Logger
}

// NewRunnerWithOptions creates a runner with custom settings.
func NewRunnerWithOptions(queue *Queue, opts RunnerOptions) *Runner {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{
		queue:         queue,
		logger:        opts.Logger,
		stop:          make(chan struct{}),
		maxConcurrent: opts.MaxConcurrent,
		semaphore:     make(chan struct{}, opts.MaxConcurrent),
		taskTimeout:   opts.TaskTimeout,
		pollInterval:  opts.PollInterval,
	}
}

// =============================================================================
// RUNNER LIFECYCLE
// =============================================================================

// Start begins processing jobs from the queue.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.processLoop()
}

// Stop cancels running jobs and waits for them to return.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.stop)
	})
	r.wg.Wait()
}

// =============================================================================
// TASK PROCESSING
// =============================================================================

func (r *Runner) processLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if r.stopped.Load() {
				return
			}
			free := r.maxConcurrent - len(r.semaphore)
			if free <= 0 {
				continue
			}
			for _, task := range r.queue.claimRunnable(free) {
				r.semaphore <- struct{}{}
				r.wg.Add(1)
				go r.executeTask(task)
			}
		}
	}
}

func (r *Runner) executeTask(task *Task) {
	defer r.wg.Done()
	defer func() { <-r.semaphore }()

	ctx, cancel := r.jobContext()
	task.SetCancelFunc(cancel)
	defer cancel()

	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	output, err := task.work(ctx, task)
	r.finish(ctx, task, output, err)
}

func (r *Runner) jobContext() (context.Context, context.CancelFunc) {
	if r.taskTimeout > 0 {
		return context.WithTimeout(context.Background(), r.taskTimeout)
	}
	return context.WithCancel(context.Background())
}

func (r *Runner) finish(ctx context.Context, task *Task, output string, err error) {
	switch {
	case err == nil:
		r.queue.MarkComplete(task, output)
	case errors.Is(ctx.Err(), context.Canceled):
		r.queue.MarkCanceled(task)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.queue.MarkFailed(task, fmt.Errorf("task timeout after %v: %w", r.taskTimeout, err))
	default:
		r.queue.MarkFailed(task, err)
	}
	r.logger.Info("task finished",
		zap.String("task", task.ID),
		zap.String("status", task.GetStatus().String()),
		zap.Duration("duration", task.Duration()),
		zap.Error(err))
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// Execute runs a job immediately on the calling goroutine, without a queue.
func Execute(ctx context.Context, task *Task) error {
	if task.work == nil {
		return fmt.Errorf("task %s has no work", task.ID)
	}
	if !task.MarkStarted() {
		return fmt.Errorf("task %s is %s, not queued", task.ID, task.GetStatus())
	}

	ctx, cancel := context.WithCancel(ctx)
	task.SetCancelFunc(cancel)
	defer cancel()

	output, err := task.work(ctx, task)
	switch {
	case err == nil:
		task.MarkComplete(output)
	case ctx.Err() != nil:
		task.MarkCanceled()
	default:
		task.MarkFailed(err)
	}
	return err
}

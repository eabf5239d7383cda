// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned by Add when the queued limit is reached.
var ErrQueueFull = errors.New("queue is full")

// =============================================================================
// TASK QUEUE
// =============================================================================

// Queue holds jobs and subtasks with thread-safe operations.
type Queue struct {
	// tasks is the list of all tasks (both queued and completed)
	tasks []*Task

	// running tracks currently running tasks by ID
	running map[string]*Task

	// maxHistory is the maximum number of completed tasks to keep
	maxHistory int

	// maxQueueSize is the maximum number of queued tasks allowed (0 = unlimited)
	maxQueueSize int

	logger  *zap.Logger
	dropped int

	mu sync.RWMutex

	// notifyChan sends notifications when tasks change state
	notifyChan chan TaskNotification
}

// TaskNotification represents a notification about a task state change.
type TaskNotification struct {
	TaskID      string
	ParentID    string
	Kind        string
	Description string
	Status      TaskStatus
	Error       string
	Duration    time.Duration
}

// =============================================================================
// QUEUE CREATION
// =============================================================================

// NewQueue creates a new task queue.
// maxHistory sets the maximum number of completed tasks to keep (0 = unlimited).
func NewQueue(maxHistory int) *Queue {
	return NewQueueWithOptions(maxHistory, 0, nil)
}

// NewQueueWithOptions creates a new task queue with custom settings.
// maxQueueSize limits queued tasks (0 = unlimited). A nil logger is a no-op.
func NewQueueWithOptions(maxHistory, maxQueueSize int, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		tasks:        make([]*Task, 0),
		running:      make(map[string]*Task),
		maxHistory:   maxHistory,
		maxQueueSize: maxQueueSize,
		logger:       logger,
		notifyChan:   make(chan TaskNotification, 100),
	}
}

// =============================================================================
// TASK MANAGEMENT
// =============================================================================

// Add appends a queued task.
func (q *Queue) Add(task *Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxQueueSize > 0 {
		queuedCount := 0
		for _, t := range q.tasks {
			if t.GetStatus() == TaskStatusQueued {
				queuedCount++
			}
		}
		if queuedCount >= q.maxQueueSize {
			return fmt.Errorf("%w: %d queued tasks (max: %d)", ErrQueueFull, queuedCount, q.maxQueueSize)
		}
	}

	if task.GetStatus() != TaskStatusQueued {
		return fmt.Errorf("task %s is %s, not queued", task.ID, task.GetStatus())
	}
	q.tasks = append(q.tasks, task)
	return nil
}

// Get retrieves a copy of a task by ID, or nil.
func (q *Queue) Get(id string) *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, task := range q.tasks {
		if task.ID == id {
			return task.Clone()
		}
	}
	return nil
}

// Children returns copies of the subtasks of parentID in plan order.
func (q *Queue) Children(parentID string) []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []*Task
	for _, task := range q.tasks {
		if task.ParentID == parentID {
			result = append(result, task.Clone())
		}
	}
	return result
}

// Cancel cancels a queued or running task by ID.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, task := range q.tasks {
		if task.ID != id {
			continue
		}
		if !task.Cancel() {
			return false
		}
		delete(q.running, task.ID)
		q.notify(task, TaskStatusCanceled)
		return true
	}
	return false
}

// MarkRunning moves task to Running. It returns false if the task is no
// longer queued.
func (q *Queue) MarkRunning(task *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !task.MarkStarted() {
		return false
	}
	q.running[task.ID] = task
	q.notify(task, TaskStatusRunning)
	return true
}

// MarkComplete records output and moves task to Complete.
func (q *Queue) MarkComplete(task *Task, output string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task.MarkComplete(output) {
		q.notify(task, TaskStatusComplete)
	}
	delete(q.running, task.ID)
	q.cleanupLocked()
}

// MarkFailed records err and moves task to Failed.
func (q *Queue) MarkFailed(task *Task, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task.MarkFailed(err) {
		q.notify(task, TaskStatusFailed)
	}
	delete(q.running, task.ID)
	q.cleanupLocked()
}

// MarkCanceled moves task to Canceled.
func (q *Queue) MarkCanceled(task *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task.MarkCanceled() {
		q.notify(task, TaskStatusCanceled)
	}
	delete(q.running, task.ID)
	q.cleanupLocked()
}

// claimRunnable marks every queued task that has a work function as
// running and returns the originals.
func (q *Queue) claimRunnable(limit int) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result []*Task
	for _, task := range q.tasks {
		if limit > 0 && len(result) >= limit {
			break
		}
		if task.GetStatus() != TaskStatusQueued || !task.Runnable() {
			continue
		}
		if task.MarkStarted() {
			q.running[task.ID] = task
			q.notify(task, TaskStatusRunning)
			result = append(result, task)
		}
	}
	return result
}

// =============================================================================
// QUEUE QUERIES
// =============================================================================

// All returns a copy of all tasks.
func (q *Queue) All() []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*Task, len(q.tasks))
	for i, task := range q.tasks {
		result[i] = task.Clone()
	}
	return result
}

// Jobs returns copies of the top-level tasks.
func (q *Queue) Jobs() []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []*Task
	for _, task := range q.tasks {
		if task.ParentID == "" {
			result = append(result, task.Clone())
		}
	}
	return result
}

// Running returns a copy of all running tasks.
func (q *Queue) Running() []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*Task, 0, len(q.running))
	for _, task := range q.running {
		result = append(result, task.Clone())
	}
	return result
}

// Queued returns copies of all tasks not yet started.
func (q *Queue) Queued() []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*Task, 0)
	for _, task := range q.tasks {
		if task.GetStatus() == TaskStatusQueued {
			result = append(result, task.Clone())
		}
	}
	return result
}

// Completed returns all completed tasks (success, failure, or canceled).
func (q *Queue) Completed() []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*Task, 0)
	for _, task := range q.tasks {
		if task.IsComplete() {
			result = append(result, task.Clone())
		}
	}
	return result
}

// Count returns the total number of tasks.
func (q *Queue) Count() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tasks)
}

// RunningCount returns the number of running tasks.
func (q *Queue) RunningCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.running)
}

// Dropped returns how many notifications were discarded because no one
// was reading them.
func (q *Queue) Dropped() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.dropped
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// Notifications returns the notification channel.
func (q *Queue) Notifications() <-chan TaskNotification {
	return q.notifyChan
}

// notify sends a notification (must be called with lock held).
func (q *Queue) notify(task *Task, status TaskStatus) {
	n := TaskNotification{
		TaskID:      task.ID,
		ParentID:    task.ParentID,
		Kind:        task.Kind,
		Description: task.Description,
		Status:      status,
		Error:       task.GetError(),
		Duration:    task.Duration(),
	}
	select {
	case q.notifyChan <- n:
	default:
		q.dropped++
		q.logger.Debug("task notification dropped",
			zap.String("task", n.TaskID),
			zap.String("status", n.Status.String()))
	}
}

// =============================================================================
// CLEANUP
// =============================================================================

// cleanupLocked removes the oldest completed tasks beyond maxHistory, in
// slice order. Must be called with lock held.
func (q *Queue) cleanupLocked() {
	if q.maxHistory <= 0 {
		return
	}

	completedCount := 0
	for _, task := range q.tasks {
		if task.IsComplete() {
			completedCount++
		}
	}

	if completedCount > q.maxHistory {
		toRemove := completedCount - q.maxHistory
		newTasks := make([]*Task, 0, len(q.tasks)-toRemove)

		for _, task := range q.tasks {
			if task.IsComplete() && toRemove > 0 {
				toRemove--
				continue
			}
			newTasks = append(newTasks, task)
		}

		q.tasks = newTasks
	}
}

// Clear removes all completed tasks from the history.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	newTasks := make([]*Task, 0)
	for _, task := range q.tasks {
		if !task.IsComplete() {
			newTasks = append(newTasks, task)
		}
	}
	q.tasks = newTasks
}

// =============================================================================
// FORMATTING
// =============================================================================

// Summary returns a formatted summary of the queue.
func (q *Queue) Summary() string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	running := len(q.running)
	queued, completed, failed, canceled := 0, 0, 0, 0

	for _, task := range q.tasks {
		switch task.GetStatus() {
		case TaskStatusQueued:
			queued++
		case TaskStatusComplete:
			completed++
		case TaskStatusFailed:
			failed++
		case TaskStatusCanceled:
			canceled++
		}
	}

	return fmt.Sprintf("Running: %d | Queued: %d | Completed: %d | Failed: %d | Canceled: %d",
		running, queued, completed, failed, canceled)
}

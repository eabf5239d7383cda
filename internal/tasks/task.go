// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting to be executed
	TaskStatusQueued TaskStatus = "Queued"

	// TaskStatusRunning indicates the task is currently executing
	TaskStatusRunning TaskStatus = "Running"

	// TaskStatusComplete indicates the task finished successfully
	TaskStatusComplete TaskStatus = "Complete"

	// TaskStatusFailed indicates the task encountered an error
	TaskStatusFailed TaskStatus = "Failed"

	// TaskStatusCanceled indicates the task was canceled
	TaskStatusCanceled TaskStatus = "Canceled"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusComplete || s == TaskStatusFailed || s == TaskStatusCanceled
}

// =============================================================================
// TASK STRUCTURE
// =============================================================================

// Work is the body of a task. The returned string becomes the task output.
type Work func(ctx context.Context, t *Task) (string, error)

// Task is one unit of agent work. Top-level jobs carry a Work function and
// are executed by a Runner; subtasks created by a planner carry a Kind and
// are executed by whoever owns the plan.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`

	// Kind names the capability that handles this task, if any.
	Kind string `json:"kind,omitempty"`

	// ParentID links a subtask to the job it was planned from.
	ParentID string `json:"parent_id,omitempty"`

	Status    TaskStatus `json:"status"`
	StartTime time.Time  `json:"start_time,omitempty"`
	EndTime   time.Time  `json:"end_time,omitempty"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`

	// Progress is a percentage (0-100).
	Progress int `json:"progress"`

	// ConversationID is the channel this task was started from.
	ConversationID string `json:"conversation_id,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	work   Work
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// =============================================================================
// TASK CREATION
// =============================================================================

// NewTask creates a queued job that a Runner will execute with work.
func NewTask(description string, work Work) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Description: description,
		Status:      TaskStatusQueued,
		Metadata:    make(map[string]string),
		work:        work,
	}
}

// NewSubtask creates a queued subtask of parentID handled by kind.
func NewSubtask(parentID, kind, description string) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Description: description,
		Kind:        kind,
		ParentID:    parentID,
		Status:      TaskStatusQueued,
		Metadata:    make(map[string]string),
	}
}

// Runnable reports whether the task carries its own work function.
func (t *Task) Runnable() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.work != nil
}

// =============================================================================
// TASK METHODS
// =============================================================================

// SetStatus updates the task status.
// Valid transitions: Queued -> Running -> Complete/Failed/Canceled, and
// Queued -> Canceled.
func (t *Task) SetStatus(status TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !isValidTransition(t.Status, status) {
		return fmt.Errorf("invalid status transition from %s to %s", t.Status, status)
	}

	t.Status = status
	return nil
}

func isValidTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}

	switch from {
	case TaskStatusQueued:
		return to == TaskStatusRunning || to == TaskStatusCanceled
	case TaskStatusRunning:
		return to == TaskStatusComplete || to == TaskStatusFailed || to == TaskStatusCanceled
	default:
		return false
	}
}

// GetStatus returns the current task status.
func (t *Task) GetStatus() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// SetProgress updates the task progress, clamped to 0..100.
func (t *Task) SetProgress(progress int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Progress = min(max(progress, 0), 100)
}

// GetProgress returns the current progress.
func (t *Task) GetProgress() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Progress
}

// GetOutput returns the current output.
func (t *Task) GetOutput() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Output
}

// SetMeta stores a metadata value.
func (t *Task) SetMeta(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}

// GetError returns the error message.
func (t *Task) GetError() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Error
}

// MarkStarted moves a queued task to Running. It returns false if the task
// already left the queue, for example because it was canceled.
func (t *Task) MarkStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status != TaskStatusQueued {
		return false
	}
	t.Status = TaskStatusRunning
	t.StartTime = time.Now()
	return true
}

// MarkComplete records output and moves a running task to Complete.
func (t *Task) MarkComplete(output string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status != TaskStatusRunning {
		return false
	}
	t.Status = TaskStatusComplete
	t.Output += output
	t.EndTime = time.Now()
	t.Progress = 100
	return true
}

// MarkFailed records err and moves a running task to Failed.
func (t *Task) MarkFailed(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status != TaskStatusRunning {
		return false
	}
	t.Status = TaskStatusFailed
	if err != nil {
		t.Error = err.Error()
	}
	t.EndTime = time.Now()
	return true
}

// MarkCanceled moves a queued or running task to Canceled.
func (t *Task) MarkCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelLocked()
}

func (t *Task) cancelLocked() bool {
	if t.Status.IsTerminal() {
		return false
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.Status = TaskStatusCanceled
	t.EndTime = time.Now()
	return true
}

// SetCancelFunc stores the context cancel function for this task. It must be
// called once, before the task body runs.
func (t *Task) SetCancelFunc(cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
}

// Cancel cancels the task if it is queued or running.
func (t *Task) Cancel() bool {
	return t.MarkCanceled()
}

// Duration returns how long the task has been running or took to complete.
func (t *Task) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.StartTime.IsZero() {
		return 0
	}
	if t.EndTime.IsZero() {
		return time.Since(t.StartTime)
	}
	return t.EndTime.Sub(t.StartTime)
}

// IsComplete returns true if the task has finished (success, failure, or canceled).
func (t *Task) IsComplete() bool {
	return t.GetStatus().IsTerminal()
}

// Summary returns a one-line summary of the task.
func (t *Task) Summary() string {
	status := t.GetStatus()
	duration := t.Duration()

	label := t.Description
	if t.Kind != "" {
		label = t.Kind + ": " + label
	}
	summary := fmt.Sprintf("[%s] %s - %s", t.ID[:8], label, status)

	if duration > 0 {
		summary += fmt.Sprintf(" (%.1fs)", duration.Seconds())
	}
	return summary
}

// Clone creates a copy of the task for reading. The clone has no work
// function and cannot cancel the original.
func (t *Task) Clone() *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metadata := make(map[string]string, len(t.Metadata))
	for k, v := range t.Metadata {
		metadata[k] = v
	}

	return &Task{
		ID:             t.ID,
		Description:    t.Description,
		Kind:           t.Kind,
		ParentID:       t.ParentID,
		Status:         t.Status,
		StartTime:      t.StartTime,
		EndTime:        t.EndTime,
		Output:         t.Output,
		Error:          t.Error,
		Progress:       t.Progress,
		ConversationID: t.ConversationID,
		Metadata:       metadata,
	}
}

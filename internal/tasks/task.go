// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
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

// TaskStatus represents the current state of a background task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting for an execution slot
	TaskStatusQueued TaskStatus = "Queued"

	// TaskStatusRunning indicates the task is currently executing
	TaskStatusRunning TaskStatus = "Running"

	// TaskStatusComplete indicates the task finished successfully
	TaskStatusComplete TaskStatus = "Complete"

	// TaskStatusFailed indicates the task returned an error or panicked
	TaskStatusFailed TaskStatus = "Failed"

	// TaskStatusCanceled indicates the task's context was canceled
	TaskStatusCanceled TaskStatus = "Canceled"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusComplete || s == TaskStatusFailed || s == TaskStatusCanceled
}

// =============================================================================
// TASK STRUCTURE
// =============================================================================

// Task is one background operation.
type Task struct {
	// ID is a unique identifier for this task
	ID string

	// Description says what the task does, e.g. "download qwen3-0.6"
	Description string

	status    TaskStatus
	startTime time.Time
	endTime   time.Time
	err       error
	progress  int

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.RWMutex
}

// NewTask creates a queued task.
func NewTask(description string) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Description: description,
		status:      TaskStatusQueued,
		done:        make(chan struct{}),
	}
}

// =============================================================================
// TASK METHODS
// =============================================================================

// SetStatus updates the task status (thread-safe).
// Valid transitions: Queued -> Running -> Complete/Failed/Canceled, and
// Queued -> Canceled.
func (t *Task) SetStatus(status TaskStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !isValidTransition(t.status, status) {
		return fmt.Errorf("invalid status transition from %s to %s", t.status, status)
	}
	t.applyLocked(status)
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
		return to.IsTerminal()
	default:
		return false
	}
}

func (t *Task) applyLocked(status TaskStatus) {
	if t.status == status {
		return
	}
	t.status = status
	now := time.Now()
	switch {
	case status == TaskStatusRunning:
		t.startTime = now
	case status.IsTerminal():
		t.endTime = now
		if status == TaskStatusComplete {
			t.progress = 100
		}
		close(t.done)
	}
}

// Status returns the current task status (thread-safe).
func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// SetProgress updates the task progress, clamped to 0..100.
func (t *Task) SetProgress(progress int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	t.progress = progress
}

// Progress returns the current progress.
func (t *Task) Progress() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

// Err returns the error the task finished with.
func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// finish records the outcome of fn and moves the task to a terminal state.
func (t *Task) finish(err error, ctxErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return
	}
	t.err = err
	switch {
	case err == nil:
		t.applyLocked(TaskStatusComplete)
	case ctxErr != nil:
		t.applyLocked(TaskStatusCanceled)
	default:
		t.applyLocked(TaskStatusFailed)
	}
}

// Cancel cancels the task's context. Returns false if it already finished.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return false
	}
	if t.cancel != nil {
		t.cancel()
	}
	if t.status == TaskStatusQueued {
		t.applyLocked(TaskStatusCanceled)
	}
	return true
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done, and returns its error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Duration returns how long the task has been running or took to complete.
func (t *Task) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.startTime.IsZero() {
		return 0
	}
	if t.endTime.IsZero() {
		return time.Since(t.startTime)
	}
	return t.endTime.Sub(t.startTime)
}

// Summary returns a one-line summary of the task.
func (t *Task) Summary() string {
	status := t.Status()
	duration := t.Duration()

	summary := fmt.Sprintf("[%s] %s - %s", t.ID[:8], t.Description, status)
	if duration > 0 {
		summary += fmt.Sprintf(" (%.1fs)", duration.Seconds())
	}
	if err := t.Err(); err != nil {
		summary += ": " + err.Error()
	}
	return summary
}

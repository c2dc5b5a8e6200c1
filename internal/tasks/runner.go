// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ErrExecutorStopped is returned by tasks submitted after Stop.
var ErrExecutorStopped = errors.New("tasks: executor stopped")

// =============================================================================
// EXECUTOR
// =============================================================================

// Func is the body of a background task.
type Func func(ctx context.Context, t *Task) error

// ExecutorConfig controls concurrency and bookkeeping.
type ExecutorConfig struct {
	// MaxConcurrent caps simultaneously running tasks (default 8).
	MaxConcurrent int

	// TaskTimeout bounds each task; 0 means no timeout.
	TaskTimeout time.Duration

	// MaxHistory is how many finished tasks are kept for inspection.
	MaxHistory int

	// OnFinish, if set, is called after each task completes.
	OnFinish func(t *Task)
}

// DefaultExecutorConfig returns the executor defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent: 8,
		MaxHistory:    50,
	}
}

// Executor runs tasks on background goroutines. Submitting never blocks the
// caller; tasks beyond MaxConcurrent wait in Queued state for a slot.
type Executor struct {
	cfg       ExecutorConfig
	ctx       context.Context
	cancelAll context.CancelFunc
	semaphore chan struct{}
	wg        sync.WaitGroup
	active    atomic.Int64
	stopped   atomic.Bool

	mu      sync.Mutex
	running map[string]*Task
	history []*Task
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.MaxHistory < 0 {
		cfg.MaxHistory = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:       cfg,
		ctx:       ctx,
		cancelAll: cancel,
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		running:   make(map[string]*Task),
	}
}

// Go starts fn as a new task and returns immediately.
func (e *Executor) Go(description string, fn Func) *Task {
	task := NewTask(description)
	if e.stopped.Load() {
		task.finish(ErrExecutorStopped, nil)
		return task
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if e.cfg.TaskTimeout > 0 {
		ctx, cancel = context.WithTimeout(e.ctx, e.cfg.TaskTimeout)
	} else {
		ctx, cancel = context.WithCancel(e.ctx)
	}
	task.cancel = cancel

	e.mu.Lock()
	e.running[task.ID] = task
	e.mu.Unlock()

	e.active.Add(1)
	e.wg.Add(1)
	go e.run(ctx, cancel, task, fn)
	return task
}

func (e *Executor) run(ctx context.Context, cancel context.CancelFunc, task *Task, fn Func) {
	defer e.wg.Done()
	defer e.active.Add(-1)
	defer cancel()

	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		task.finish(ctx.Err(), ctx.Err())
		e.retire(task)
		return
	}

	if err := task.SetStatus(TaskStatusRunning); err != nil {
		// Canceled while queued.
		e.retire(task)
		return
	}

	err := e.call(ctx, task, fn)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("task timeout after %v: %w", e.cfg.TaskTimeout, err)
	}
	task.finish(err, ctx.Err())
	e.retire(task)
}

// call runs fn, converting a panic into a task failure.
func (e *Executor) call(ctx context.Context, task *Task, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v\n%s", task.Description, r, debug.Stack())
		}
	}()
	return fn(ctx, task)
}

func (e *Executor) retire(task *Task) {
	e.mu.Lock()
	delete(e.running, task.ID)
	if e.cfg.MaxHistory > 0 {
		e.history = append(e.history, task)
		if over := len(e.history) - e.cfg.MaxHistory; over > 0 {
			e.history = append([]*Task(nil), e.history[over:]...)
		}
	}
	e.mu.Unlock()

	if e.cfg.OnFinish != nil {
		e.cfg.OnFinish(task)
	}
}

// Active returns the number of tasks not yet finished.
func (e *Executor) Active() int {
	return int(e.active.Load())
}

// Running returns the unfinished tasks.
func (e *Executor) Running() []*Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Task, 0, len(e.running))
	for _, t := range e.running {
		out = append(out, t)
	}
	return out
}

// History returns recently finished tasks, oldest first.
func (e *Executor) History() []*Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Task(nil), e.history...)
}

// Wait blocks until every submitted task has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Stop cancels all running tasks, rejects new ones and waits for the
// running ones to return.
func (e *Executor) Stop() {
	e.stopped.Store(true)
	e.cancelAll()
	e.wg.Wait()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"sync"
)

// =============================================================================
// DELIVERY LOOP
// =============================================================================

// Loop runs posted closures one at a time, in posting order, on a single
// goroutine. Post never blocks: the queue is unbounded so producers such as
// token callbacks cannot stall on a slow consumer.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	busy    bool
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// NewLoop creates a loop and starts its goroutine.
func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post enqueues fn. It returns false if the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do posts fn and waits for it to run. It must not be called from inside a
// closure running on the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return context.Canceled
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until everything posted before the call has run.
func (l *Loop) Flush() {
	_ = l.Do(context.Background(), func() {})
}

// Pending reports how many closures are queued or running.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.queue)
	if l.busy {
		n++
	}
	return n
}

// Stop drains the queue and stops the goroutine. Posts after Stop are dropped.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.busy = false
			if l.stopped {
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			<-l.wake
			continue
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.busy = true
		l.mu.Unlock()

		fn()
	}
}

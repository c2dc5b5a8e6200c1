// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package observe provides latest-value observable streams.
//
// A Value holds one current value. Subscribers receive the current value
// immediately on subscription and then every later value, with intermediate
// values coalesced if the subscriber falls behind. Readers therefore never
// miss the most recent state, only transitions they were too slow to see.
package observe

import (
	"context"
	"sync"
)

// Value is a concurrency-safe observable holding the latest value of T.
type Value[T any] struct {
	mu     sync.Mutex
	cur    T
	subs   map[uint64]chan T
	nextID uint64
}

// NewValue creates a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		cur:  initial,
		subs: make(map[uint64]chan T),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set stores val and publishes it to all subscribers.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = val
	v.publishLocked(val)
}

// Subscribe returns a channel that yields the current value and then every
// update. The returned cancel func unsubscribes and closes the channel.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan T, 1)
	ch <- v.cur
	id := v.nextID
	v.nextID++
	v.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if c, ok := v.subs[id]; ok {
				delete(v.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Watch calls fn for the current value and every update until ctx is done.
// It blocks; run it in its own goroutine.
func (v *Value[T]) Watch(ctx context.Context, fn func(T)) {
	ch, cancel := v.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case val, ok := <-ch:
			if !ok {
				return
			}
			fn(val)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (v *Value[T]) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// publishLocked replaces any undelivered value in each subscriber buffer.
// Set is the only sender and holds mu, so the send after the drain never blocks.
func (v *Value[T]) publishLocked(val T) {
	for _, ch := range v.subs {
		select {
		case <-ch:
		default:
		}
		ch <- val
	}
}

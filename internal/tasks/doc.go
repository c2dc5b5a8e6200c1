// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks provides the two execution contexts a chat session runs on.
//
// # Key Types
//
//   - Task: a tracked background operation with status, progress and cancel
//   - Executor: runs tasks on background goroutines (downloads, loads,
//     generation, audio capture, transcription)
//   - Loop: a single goroutine draining a FIFO of closures; every state
//     mutation that must be linearizable is posted here
//
// # Usage
//
//	exec := tasks.NewExecutor(tasks.DefaultExecutorConfig())
//	loop := tasks.NewLoop()
//	defer loop.Stop()
//
//	exec.Go("load model", func(ctx context.Context, t *tasks.Task) error {
//	    err := engine.Load(ctx)
//	    loop.Post(func() { status.Set(ready) })
//	    return err
//	})
package tasks

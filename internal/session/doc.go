// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates one conversation: it owns the transcript, the
// language model and speech lifecycles, the voice capture state machine and
// the settings currently in effect.
//
// # Threading
//
// Public methods may be called from any goroutine. Long operations run on a
// tasks.Executor; every transcript change is funneled through a tasks.Loop so
// the presentation layer observes a linear sequence of snapshots.
//
// # Usage
//
//	s := session.New(session.Deps{
//		Model:    ollamaEngine,
//		Speech:   whisperEngine,
//		Settings: settingsFile,
//		Logger:   logger,
//	})
//	s.Start(ctx)
//	defer s.Close(context.Background())
//
//	s.SendUserInput("hello", nil)
//	s.Wait()
//	snap := s.Transcript().Get()
package session

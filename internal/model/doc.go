// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the value types shared by the chat session.
//
// # Key Types
//
//   - Message: one transcript entry with a stable ID, role, content and streaming flag
//   - Kind: explicit marker distinguishing pending placeholders from real content
//   - Settings: immutable generation and engine settings
//   - ReloadPlan: which engines a settings change forces to reload
//   - ModelInfo: catalog entry for a language or speech model
//
// # Usage
//
// Create a placeholder for a reply that has not arrived yet:
//
//	ph := model.NewPlaceholder()
//	// ph.Kind == model.KindPlaceholder, ph.Streaming == true
//
// Decide what to reload after a settings change:
//
//	plan := model.Diff(old, updated)
//	if plan.Model {
//	    // unload, then initialize
//	}
package model

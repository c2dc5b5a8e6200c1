// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the Bubble Tea front-end for a conversation session.
//
// The model subscribes to the session's observables (transcript, engine
// statuses, voice state, advisory) and re-renders whenever one changes. All
// writes go back through the session: typed input, the voice button, the
// slash commands and advisory dismissal.
//
// # Layout
//
//	header      model and speech status
//	viewport    transcript, placeholder shown as a spinner
//	advisory    transient notice, if any
//	input       text input, or the recording banner
//	status bar  voice state, usage and key hints
//
// # Slash commands
//
//	/help, /clear, /voice, /copy, /stats, /settings, /set <key> <value>,
//	/reset, /quit
package chat

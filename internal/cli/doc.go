// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the offchat command line.
//
// Running offchat with no command opens the full screen chat. The other
// commands are:
//
//	chat        line-mode chat for terminals without a full screen
//	ask         one prompt, one reply
//	transcribe  speech to text from a WAV file or the microphone
//	serve       the chat over a local HTTP and WebSocket API
//	history     archived conversations: list, show, search, delete
//	models      the model catalog
//	stats       saved usage statistics
//	config      config.toml: show, path, init, get, set, keys
//	version     build information
//
// Every command accepts --json for machine-readable output, printed as a
// JSONResponse envelope.
package cli

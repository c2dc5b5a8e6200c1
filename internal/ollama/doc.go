// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama drives a local Ollama server as the on-device language
// model runtime.
//
// # Key Types
//
//   - Client: HTTP client for the Ollama API (pull, load, chat, unload)
//   - Engine: engine.LanguageModel backed by a Client
//   - StreamReader: NDJSON reader shared by chat and pull streams
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	eng := ollama.NewEngine(client, ollama.EngineConfig{KeepAlive: "30m"}, logger)
//	err := eng.Download(ctx, "gemma3:270m", func(f float64) { ... })
//
// Everything runs against 127.0.0.1; no request leaves the machine except
// model pulls, which Ollama performs itself.
package ollama

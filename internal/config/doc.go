// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config handles offchat configuration.
//
// Two files live under ~/.offchat:
//
//   - config.toml: program configuration (engine endpoints, speech server,
//     storage, server address, logging). Read once at startup.
//   - settings.toml: chat settings (model, sampling, system prompt). Edited
//     from the UI and watched for external edits while the program runs.
//
// # Configuration Format
//
//	[engine]
//	ollama_url = "http://127.0.0.1:11434"
//	keep_alive = "30m"
//	start_if_needed = true
//
//	[speech]
//	server_url = "http://127.0.0.1:8178"
//	language = "en"
//
//	[storage]
//	min_free_mb = 500
//	archive_on_clear = true
//
//	[server]
//	addr = "127.0.0.1:8765"
//
//	[log]
//	level = "info"
//
// # Environment Variables
//
// OFFCHAT_OLLAMA_URL, OFFCHAT_WHISPER_URL, OFFCHAT_DATA_DIR,
// OFFCHAT_SERVER_ADDR, OFFCHAT_LOG_LEVEL and OFFCHAT_LOG_FILE override the
// corresponding keys. OFFCHAT_HOME moves the whole configuration directory.
package config

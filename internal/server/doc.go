// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes a chat session over HTTP and a websocket so that
// browser or remote front-ends can render it.
//
// # Endpoints
//
//   - GET  /health             - liveness and engine status
//   - GET  /api/status         - model info, speech readiness, voice state, stats
//   - GET  /api/stats          - usage statistics
//   - GET  /api/transcript     - current transcript snapshot
//   - POST /api/messages       - send {"text","attachments"}
//   - POST /api/voice          - press the voice button
//   - GET  /api/settings       - current settings
//   - PUT  /api/settings       - partial settings update
//   - POST /api/clear          - clear (and archive) the conversation
//   - POST /api/advisory/ack   - dismiss the advisory
//   - GET  /ws                 - event stream
//
// The websocket sends {"type","data"} events for transcript, status,
// speech, voice and advisory changes, replaying the latest value of each on
// connect. It accepts send, voice, ack and clear commands.
package server

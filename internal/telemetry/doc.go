// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry keeps local usage statistics for a session: how many
// replies were generated, how long they took and how voice input fared.
// Nothing leaves the machine; finished sessions are written as JSON files
// under the data directory.
package telemetry

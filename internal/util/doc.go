// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared across offchat: crash-safe file
// writes and display-width aware truncation for logs and the terminal UI.
package util

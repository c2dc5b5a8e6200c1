// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the color palette and lipgloss styles for the
offchat terminal UI.

All colors are lipgloss.AdaptiveColor values so the UI follows light and
dark terminals. Status colors are paired with ASCII indicators ([OK], [X],
[!]) so states stay readable without color.

# Usage

	theme := styles.NewTheme()
	fmt.Println(theme.UserBubble.Render("hello"))
	fmt.Println(theme.StatusStyle(lifecycle.StatusReady).Render("READY"))
*/
package styles

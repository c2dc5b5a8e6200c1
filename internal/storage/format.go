// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/util"
)

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatList renders conversation metadata as a table.
func FormatList(metas []ConversationMeta) string {
	if len(metas) == 0 {
		return "No archived conversations."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-8s  %-16s  %5s  %s\n", "ID", "Archived", "Msgs", "Title"))
	sb.WriteString(strings.Repeat("-", 60) + "\n")
	for _, m := range metas {
		sb.WriteString(fmt.Sprintf("%-8s  %-16s  %5d  %s\n",
			m.ID[:min(8, len(m.ID))],
			m.ArchivedAt.Format("2006-01-02 15:04"),
			m.MessageCount,
			util.TruncateWidth(m.Title, 40),
		))
	}
	return sb.String()
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders the conversation as Markdown.
func (c *Conversation) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# " + c.Title + "\n\n")
	sb.WriteString("Model: " + c.ModelID + "  \n")
	sb.WriteString("Archived: " + c.ArchivedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")
	for _, m := range c.Messages {
		sb.WriteString("**" + m.Role.DisplayName() + "** (" + m.CreatedAt.Format("15:04") + "):\n\n")
		sb.WriteString(m.Content)
		for _, a := range m.Attachments {
			sb.WriteString("\n\nAttachment: " + a)
		}
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// ExportJSON renders the conversation as indented JSON.
func (c *Conversation) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// UserMessages counts the user turns.
func (c *Conversation) UserMessages() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == model.RoleUser {
			n++
		}
	}
	return n
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// ParseRole maps an engine role string back to a Role.
// Unknown roles are treated as system messages.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s)
	default:
		return RoleSystem
	}
}

// =============================================================================
// KIND
// =============================================================================

// Kind tells the presentation layer how to render a message.
type Kind int

const (
	// KindText is a message with real content.
	KindText Kind = iota

	// KindPlaceholder is an assistant reply whose content has not arrived yet.
	// Renderers show a thinking indicator instead of Content.
	KindPlaceholder
)

// String returns the kind name.
func (k Kind) String() string {
	if k == KindPlaceholder {
		return "placeholder"
	}
	return "text"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	if string(b) == "placeholder" {
		*k = KindPlaceholder
	} else {
		*k = KindText
	}
	return nil
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single transcript entry. Messages are values: the transcript
// replaces them wholesale rather than mutating shared instances.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	Attachments []string  `json:"attachments,omitempty"`
	Streaming   bool      `json:"streaming"`
	Kind        Kind      `json:"kind"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string, attachments ...string) Message {
	msg := NewMessage(RoleUser, content)
	if len(attachments) > 0 {
		msg.Attachments = append([]string(nil), attachments...)
	}
	return msg
}

// NewAssistantMessage creates a completed assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewPlaceholder creates a streaming assistant message with no content yet.
func NewPlaceholder() Message {
	msg := NewMessage(RoleAssistant, "")
	msg.Streaming = true
	msg.Kind = KindPlaceholder
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// IsActivePlaceholder reports whether m is the in-flight assistant reply.
func (m Message) IsActivePlaceholder() bool {
	return m.Role == RoleAssistant && m.Streaming
}

// WithContent returns a copy of m carrying text. A placeholder becomes a
// regular text message once it has content.
func (m Message) WithContent(text string) Message {
	m.Content = text
	m.Kind = KindText
	return m
}

// Completed returns a copy of m with streaming turned off.
func (m Message) Completed() Message {
	m.Streaming = false
	return m
}

// Preview returns a truncated single-rune-safe preview of the content.
func (m Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]string(nil), m.Attachments...)
	}
	return m
}

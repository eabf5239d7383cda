// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/enablerdao/ChirAI/internal/util"
)

// ErrorModelID labels assistant messages that report a failed completion
// instead of a model reply.
const ErrorModelID = "error"

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

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// =============================================================================
// DECORATIONS
// =============================================================================

// Attachment is a file attached to a message. Only its description is kept;
// the bytes live wherever URL points.
type Attachment struct {
	ID           string `json:"id"`
	FileName     string `json:"file_name"`
	FileType     string `json:"file_type"`
	FileSize     int64  `json:"file_size"`
	URL          string `json:"url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Reaction is an emoji left on a message by a user.
type Reaction struct {
	ID        string    `json:"id"`
	Emoji     string    `json:"emoji"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Metadata carries per-reply statistics for assistant messages.
type Metadata struct {
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	TotalTokens      int           `json:"total_tokens,omitempty"`
	ResponseTime     time.Duration `json:"response_time_ns,omitempty"`
	Attempts         int           `json:"attempts,omitempty"`
	Cached           bool          `json:"cached,omitempty"`
	Language         string        `json:"language,omitempty"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single entry in a conversation.
//
// Messages are values. A Conversation never mutates a stored message in
// place; Edit and React replace the slot with a modified copy.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content string `json:"content"`

	// Model that produced an assistant reply; ErrorModelID for error replies.
	Model string `json:"model,omitempty"`

	// Kind of the failure behind an error reply.
	ErrorKind string `json:"error_kind,omitempty"`

	// Edit tracking
	Edited   bool       `json:"edited,omitempty"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	Metadata    *Metadata    `json:"metadata,omitempty"`
}

// NewID returns a fresh time-ordered identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the system random source does.
		return uuid.NewString()
	}
	return id.String()
}

// NewMessage creates a new message with a generated ID and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an assistant reply attributed to modelID.
func NewAssistantMessage(content, modelID string) Message {
	msg := NewMessage(RoleAssistant, content)
	msg.Model = modelID
	return msg
}

// NewErrorMessage creates an assistant message reporting a failed request.
func NewErrorMessage(content, kind string) Message {
	msg := NewAssistantMessage(content, ErrorModelID)
	msg.ErrorKind = kind
	return msg
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// IsError reports whether the message is an error reply.
func (m Message) IsError() bool {
	return m.Role == RoleAssistant && m.Model == ErrorModelID
}

// Preview returns a single-line, rune-safe preview of the content.
func (m Message) Preview(maxLen int) string {
	return util.TruncateRunes(util.OneLine(m.Content), maxLen)
}

// Clone returns a deep copy that shares no memory with m.
func (m Message) Clone() Message {
	out := m
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Reactions != nil {
		out.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	if m.Metadata != nil {
		md := *m.Metadata
		out.Metadata = &md
	}
	return out
}

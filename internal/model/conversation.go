// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/enablerdao/ChirAI/internal/ollama"
	"github.com/enablerdao/ChirAI/internal/util"
)

// DefaultMaxMessages is the transcript cap used when none is configured.
// When exceeded, the oldest messages are evicted from the front.
const DefaultMaxMessages = 1000

// titleMaxRunes bounds the title derived from the first user message.
const titleMaxRunes = 30

// ErrMessageNotFound is returned by Edit and React for an unknown message ID.
var ErrMessageNotFound = errors.New("message not found")

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds an ordered chat transcript and its active model.
//
// Conversation does no locking. The owner must serialize access.
type Conversation struct {
	// Identity
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages in append order
	Messages []Message `json:"messages"`

	// Model used for the next request
	Model string `json:"model"`

	// MaxMessages caps the transcript length; <= 0 means DefaultMaxMessages.
	MaxMessages int `json:"max_messages,omitempty"`

	// Welcome is left behind as a system message by Clear when non-empty.
	Welcome string `json:"welcome,omitempty"`
}

// NewConversation creates an empty conversation using modelID.
func NewConversation(modelID string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:          NewID(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Messages:    make([]Message, 0),
		Model:       modelID,
		MaxMessages: DefaultMaxMessages,
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds msg to the end of the transcript and returns the stored copy.
//
// A timestamp earlier than the previous message's is raised to match it, and
// when the cap is exceeded the oldest messages are dropped.
func (c *Conversation) Append(msg Message) Message {
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if n := len(c.Messages); n > 0 {
		if prev := c.Messages[n-1].Timestamp; msg.Timestamp.Before(prev) {
			msg.Timestamp = prev
		}
	}

	msg = msg.Clone()
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.evict()
	return msg
}

// evict drops messages from the front until the cap holds. The backing array
// is reallocated so snapshots sharing the old one are never overwritten.
func (c *Conversation) evict() {
	limit := c.limit()
	if len(c.Messages) <= limit {
		return
	}
	excess := len(c.Messages) - limit
	kept := make([]Message, limit, limit+1)
	copy(kept, c.Messages[excess:])
	c.Messages = kept
}

func (c *Conversation) limit() int {
	if c.MaxMessages <= 0 {
		return DefaultMaxMessages
	}
	return c.MaxMessages
}

// Len returns the number of messages in the transcript.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// Last returns the most recent message, or false if the transcript is empty.
func (c *Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1].Clone(), true
}

// Get returns the message with the given ID.
func (c *Conversation) Get(id string) (Message, bool) {
	if i := c.indexOf(id); i >= 0 {
		return c.Messages[i].Clone(), true
	}
	return Message{}, false
}

func (c *Conversation) indexOf(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// SetModel changes the model used for future requests. Messages already in
// the transcript keep their attribution.
func (c *Conversation) SetModel(modelID string) {
	c.Model = modelID
	c.UpdatedAt = time.Now()
}

// Clear empties the transcript. If a welcome text is configured, a single
// system message carrying it is left behind. The model is unchanged.
func (c *Conversation) Clear() {
	c.Messages = make([]Message, 0)
	c.UpdatedAt = time.Now()
	if c.Welcome != "" {
		c.Messages = append(c.Messages, NewSystemMessage(c.Welcome))
	}
}

// =============================================================================
// EDITS
// =============================================================================

// Edit replaces the content of message id and marks it edited. The old value
// is not modified, so earlier snapshots still see it.
func (c *Conversation) Edit(id, content string) (Message, error) {
	i := c.indexOf(id)
	if i < 0 {
		return Message{}, ErrMessageNotFound
	}
	now := time.Now()
	updated := c.Messages[i].Clone()
	updated.Content = content
	updated.Edited = true
	updated.EditedAt = &now
	c.replace(i, updated)
	return updated, nil
}

// React adds an emoji reaction from userID to message id. A repeated
// reaction with the same emoji by the same user is ignored.
func (c *Conversation) React(id, emoji, userID string) (Message, error) {
	i := c.indexOf(id)
	if i < 0 {
		return Message{}, ErrMessageNotFound
	}
	updated := c.Messages[i].Clone()
	for _, r := range updated.Reactions {
		if r.Emoji == emoji && r.UserID == userID {
			return updated, nil
		}
	}
	updated.Reactions = append(updated.Reactions, Reaction{
		ID:        NewID(),
		Emoji:     emoji,
		UserID:    userID,
		Timestamp: time.Now(),
	})
	c.replace(i, updated)
	return updated, nil
}

// replace swaps slot i on a fresh backing array so that slices handed out
// earlier keep the previous value.
func (c *Conversation) replace(i int, msg Message) {
	next := make([]Message, len(c.Messages), cap(c.Messages))
	copy(next, c.Messages)
	next[i] = msg
	c.Messages = next
	c.UpdatedAt = time.Now()
}

// =============================================================================
// QUERIES
// =============================================================================

// Search returns messages whose content contains query, ignoring case,
// newest first. An empty query matches nothing.
func (c *Conversation) Search(query string) []Message {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	folder := cases.Fold()
	needle := folder.String(query)

	var results []Message
	for i := len(c.Messages) - 1; i >= 0; i-- {
		folder.Reset()
		if strings.Contains(folder.String(c.Messages[i].Content), needle) {
			results = append(results, c.Messages[i].Clone())
		}
	}
	return results
}

// Snapshot returns a deep copy of the transcript.
func (c *Conversation) Snapshot() []Message {
	out := make([]Message, len(c.Messages))
	for i := range c.Messages {
		out[i] = c.Messages[i].Clone()
	}
	return out
}

// Clone returns a deep copy of the whole conversation.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = c.Snapshot()
	return &out
}

// Title derives a title from the first user message.
func (c *Conversation) Title() string {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser && strings.TrimSpace(msg.Content) != "" {
			return util.TruncateRunesNoEllipsis(util.OneLine(msg.Content), titleMaxRunes)
		}
	}
	return ""
}

// Summary returns a preview of the first user message for history listings.
func (c *Conversation) Summary(maxLen int) string {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return msg.Preview(maxLen)
		}
	}
	return ""
}

// ToOllamaMessages converts the transcript into wire messages. The whole
// transcript is replayed on every request.
func (c *Conversation) ToOllamaMessages() []ollama.Message {
	return ToOllamaMessages(c.Messages)
}

// ToOllamaMessages converts a message slice into wire messages.
func ToOllamaMessages(msgs []Message) []ollama.Message {
	out := make([]ollama.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, ollama.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return out
}

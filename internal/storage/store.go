// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/enablerdao/ChirAI/internal/model"
)

// DefaultMaxConversations is the number of conversations kept by default.
const DefaultMaxConversations = 100

// summaryMaxRunes bounds ConversationMeta.Summary.
const summaryMaxRunes = 50

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists conversations and preferences. Implementations are safe for
// concurrent use.
type Store interface {
	Save(ctx context.Context, conv *model.Conversation) error
	Load(ctx context.Context, id string) (*model.Conversation, error)
	List(ctx context.Context) ([]ConversationMeta, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string) ([]ConversationMeta, error)
	PruneOlderThan(ctx context.Context, days int) (int, error)

	LoadPreferences(ctx context.Context) (Preferences, error)
	SavePreferences(ctx context.Context, prefs Preferences) error

	Close() error
}

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// metaOf builds the listing entry for conv.
func metaOf(conv *model.Conversation) ConversationMeta {
	summary := conv.Summary(summaryMaxRunes)
	if summary == "" {
		summary = "New conversation"
	}
	return ConversationMeta{
		ID:           conv.ID,
		Title:        conv.Title(),
		Summary:      summary,
		Model:        conv.Model,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		MessageCount: conv.Len(),
	}
}

// matchesQuery reports whether any message in conv contains the folded
// needle.
func matchesQuery(conv *model.Conversation, needle string) bool {
	folder := cases.Fold()
	for _, msg := range conv.Messages {
		folder.Reset()
		if strings.Contains(folder.String(msg.Content), needle) {
			return true
		}
	}
	return false
}

// foldQuery normalizes a search query; empty means "match nothing".
func foldQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}
	return cases.Fold().String(query)
}

// validID rejects IDs that could escape the storage directory.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." &&
		filepath.Base(id) == id && !strings.ContainsAny(id, `/\`)
}

// pruneCutoff returns the oldest UpdatedAt kept for a max age in days.
func pruneCutoff(days int) time.Time {
	return time.Now().AddDate(0, 0, -days)
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrInvalidID is returned for IDs that are empty or contain path separators.
var ErrInvalidID = &ConversationError{Message: "invalid conversation id"}

// ConversationError represents a conversation-related error.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

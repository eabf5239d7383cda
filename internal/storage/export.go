// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/util"
)

// archiveVersion is bumped when the Archive layout changes incompatibly.
const archiveVersion = 1

// Archive is the document written by Export and read by Import.
type Archive struct {
	Version       int                   `json:"version"`
	ExportedAt    time.Time             `json:"exported_at"`
	Preferences   *Preferences          `json:"preferences,omitempty"`
	Conversations []*model.Conversation `json:"conversations"`
}

// Export writes every conversation and the preferences in s to w.
func Export(ctx context.Context, s Store, w io.Writer) error {
	metas, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	archive := Archive{
		Version:       archiveVersion,
		ExportedAt:    time.Now().UTC(),
		Conversations: make([]*model.Conversation, 0, len(metas)),
	}
	for _, meta := range metas {
		conv, err := s.Load(ctx, meta.ID)
		if err != nil {
			return fmt.Errorf("load conversation %s: %w", meta.ID, err)
		}
		archive.Conversations = append(archive.Conversations, conv)
	}
	if prefs, err := s.LoadPreferences(ctx); err == nil {
		archive.Preferences = &prefs
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(archive)
}

// Import reads an archive from r and saves its contents into s, replacing
// conversations with the same ID. It returns the number imported.
func Import(ctx context.Context, s Store, r io.Reader) (int, error) {
	var archive Archive
	if err := json.NewDecoder(r).Decode(&archive); err != nil {
		return 0, fmt.Errorf("decode archive: %w", err)
	}
	if archive.Version > archiveVersion {
		return 0, fmt.Errorf("archive version %d is newer than supported version %d", archive.Version, archiveVersion)
	}

	n := 0
	for _, conv := range archive.Conversations {
		if conv == nil {
			continue
		}
		if err := s.Save(ctx, conv); err != nil {
			return n, fmt.Errorf("save conversation %s: %w", conv.ID, err)
		}
		n++
	}
	if archive.Preferences != nil {
		if err := s.SavePreferences(ctx, *archive.Preferences); err != nil {
			return n, fmt.Errorf("save preferences: %w", err)
		}
	}
	return n, nil
}

// ExportMarkdown renders a conversation as Markdown with role labels and
// timestamps.
func ExportMarkdown(conv *model.Conversation) string {
	var sb strings.Builder
	title := conv.Title()
	if title == "" {
		title = conv.ID
	}
	sb.WriteString("# " + title + "\n\n")
	sb.WriteString("Model: " + conv.Model + "  \n")
	sb.WriteString("Created: " + conv.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range conv.Messages {
		label := "**" + msg.Role.DisplayName() + "**"
		if msg.Role == model.RoleAssistant && msg.Model != "" && !msg.IsError() {
			label += " _" + msg.Model + "_"
		}
		sb.WriteString(label + " (" + msg.Timestamp.Format("15:04") + "):\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// FormatSessionList formats conversations as a plain-text table.
func FormatSessionList(metas []ConversationMeta) string {
	if len(metas) == 0 {
		return "No conversations found."
	}

	var sb strings.Builder
	sb.WriteString(pad("ID", 10) + " " + pad("Updated", 16) + " " + pad("Msgs", 5) + " " + pad("Model", 16) + " Summary\n")
	sb.WriteString(strings.Repeat("-", 80) + "\n")
	for _, m := range metas {
		sb.WriteString(pad(shortID(m.ID), 10) + " " +
			pad(m.UpdatedAt.Format("2006-01-02 15:04"), 16) + " " +
			pad(fmt.Sprint(m.MessageCount), 5) + " " +
			pad(util.TruncateWidth(m.Model, 16), 16) + " " +
			util.TruncateWidth(m.Summary, 40) + "\n")
	}
	return sb.String()
}

// shortID returns the random tail of a UUID, which is what distinguishes
// IDs generated close together.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

// pad pads s with spaces to a display width.
func pad(s string, width int) string {
	if w := util.StringWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// ResolveID finds a conversation whose ID equals or ends with ref, so the
// short IDs printed by FormatSessionList can be used on the command line.
func ResolveID(ctx context.Context, s Store, ref string) (string, error) {
	metas, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	var match string
	for _, m := range metas {
		if m.ID == ref {
			return m.ID, nil
		}
		if strings.HasSuffix(m.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("conversation reference %q is ambiguous", ref)
			}
			match = m.ID
		}
	}
	if match == "" {
		return "", ErrConversationNotFound
	}
	return match, nil
}

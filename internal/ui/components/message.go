// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides the visual pieces of the ChirAI chat screen.
package components

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/ui/styles"
)

// =============================================================================
// MESSAGE RENDERER
// =============================================================================

// MessageRenderer draws transcript messages. Assistant replies are rendered
// as markdown through glamour; everything else is wrapped plain text.
type MessageRenderer struct {
	theme *styles.Theme
	width int
	md    *glamour.TermRenderer

	ShowTimestamps bool
}

// NewMessageRenderer creates a renderer for the given terminal width.
func NewMessageRenderer(theme *styles.Theme, width int) *MessageRenderer {
	r := &MessageRenderer{theme: theme, ShowTimestamps: true}
	r.SetWidth(width)
	return r
}

// SetWidth rebuilds the markdown renderer when the width changes.
func (r *MessageRenderer) SetWidth(width int) {
	if width < 20 {
		width = 20
	}
	if width == r.width && r.md != nil {
		return
	}
	r.width = width
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.theme.MarkdownStyle),
		glamour.WithWordWrap(r.contentWidth()),
	)
	if err != nil {
		// Fall back to plain text; Render handles a nil renderer.
		md = nil
	}
	r.md = md
}

// Width returns the current render width.
func (r *MessageRenderer) Width() int {
	return r.width
}

func (r *MessageRenderer) contentWidth() int {
	// Border and padding take four columns.
	return r.width - 4
}

// RenderAll renders a transcript with a blank line between messages.
func (r *MessageRenderer) RenderAll(msgs []model.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		parts = append(parts, r.Render(msg))
	}
	return strings.Join(parts, "\n\n")
}

// Render draws one message.
func (r *MessageRenderer) Render(msg model.Message) string {
	switch {
	case msg.IsError():
		return r.withLabel(msg, "error", r.theme.ErrorBubble.Width(r.contentWidth()).Render(msg.Content))
	case msg.Role == model.RoleUser:
		return r.withLabel(msg, "you", r.theme.UserBubble.Width(r.contentWidth()).Render(msg.Content))
	case msg.Role == model.RoleAssistant:
		return r.withLabel(msg, msg.Model, r.theme.AssistantBubble.Width(r.contentWidth()).Render(r.markdown(msg.Content)))
	default:
		return r.theme.SystemNotice.Width(r.width).Render(msg.Content)
	}
}

func (r *MessageRenderer) markdown(content string) string {
	if r.md == nil {
		return content
	}
	out, err := r.md.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}

func (r *MessageRenderer) withLabel(msg model.Message, label, body string) string {
	header := r.theme.RoleLabel.Render(label)
	if r.ShowTimestamps && !msg.Timestamp.IsZero() {
		header += " " + r.theme.Timestamp.Render(msg.Timestamp.Local().Format("15:04"))
	}
	if msg.Edited {
		header += " " + r.theme.Timestamp.Render("(edited)")
	}
	lines := []string{header, body}
	if rx := FormatReactions(msg.Reactions); rx != "" {
		lines = append(lines, r.theme.Reactions.Render(rx))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// FormatReactions groups reactions by emoji, e.g. "👍 2  🎉 1".
func FormatReactions(reactions []model.Reaction) string {
	if len(reactions) == 0 {
		return ""
	}
	counts := make(map[string]int)
	var order []string
	for _, rx := range reactions {
		if counts[rx.Emoji] == 0 {
			order = append(order, rx.Emoji)
		}
		counts[rx.Emoji]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	parts := make([]string, len(order))
	for i, e := range order {
		parts[i] = fmt.Sprintf("%s %d", e, counts[e])
	}
	return strings.Join(parts, "  ")
}

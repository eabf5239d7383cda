// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/go-cmp/cmp"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/ui/styles"
)

func testTheme() *styles.Theme {
	return styles.NewThemeFor(termenv.Ascii, true)
}

// =============================================================================
// MESSAGE RENDERER TESTS
// =============================================================================

func TestMessageRenderer_Roles(t *testing.T) {
	r := NewMessageRenderer(testTheme(), 60)
	r.ShowTimestamps = false

	user := r.Render(model.NewUserMessage("hello there"))
	assert.Contains(t, user, "you")
	assert.Contains(t, user, "hello there")

	reply := r.Render(model.NewAssistantMessage("a **bold** answer", "gemma3:1b"))
	assert.Contains(t, reply, "gemma3:1b")
	assert.Contains(t, reply, "bold")

	failed := r.Render(model.NewErrorMessage("Could not reach the model server.", "NetworkUnavailable"))
	assert.Contains(t, failed, "error")
	assert.Contains(t, failed, "Could not reach")

	notice := r.Render(model.NewSystemMessage("Switched model"))
	assert.Contains(t, notice, "Switched model")
}

func TestMessageRenderer_WrapsToWidth(t *testing.T) {
	r := NewMessageRenderer(testTheme(), 30)
	out := r.Render(model.NewUserMessage(strings.Repeat("word ", 30)))
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, lipgloss.Width(line), 30)
	}

	r.SetWidth(5)
	assert.Equal(t, 20, r.Width())
}

func TestMessageRenderer_RenderAll(t *testing.T) {
	r := NewMessageRenderer(testTheme(), 60)
	out := r.RenderAll([]model.Message{
		model.NewUserMessage("first"),
		model.NewAssistantMessage("second", "m"),
	})
	assert.Less(t, strings.Index(out, "first"), strings.Index(out, "second"))
	assert.Empty(t, r.RenderAll(nil))
}

func TestFormatReactions(t *testing.T) {
	got := FormatReactions([]model.Reaction{
		{Emoji: "🎉", UserID: "a"},
		{Emoji: "👍", UserID: "a"},
		{Emoji: "👍", UserID: "b"},
	})
	assert.Equal(t, "👍 2  🎉 1", got)
	assert.Empty(t, FormatReactions(nil))
}

// =============================================================================
// STATUS BAR TESTS
// =============================================================================

func TestStatusBar_View(t *testing.T) {
	sb := NewStatusBar(testTheme())
	sb.Width = 80
	sb.ModelName = "gemma3:1b"
	sb.Messages = 3

	out := sb.View()
	assert.Contains(t, out, "Ready")
	assert.Contains(t, out, "gemma3:1b | 3 msgs")
	assert.Equal(t, 80, lipgloss.Width(out))

	sb.Status = StatusAwaiting
	sb.Notice = "Copied!"
	out = sb.View()
	assert.Contains(t, out, "Waiting for reply")
	assert.Contains(t, out, "Copied!")

	sb.Width = 30
	out = sb.View()
	assert.NotContains(t, out, "Copied!")
}

// =============================================================================
// CODE BLOCK TESTS
// =============================================================================

func TestSplitCodeBlocks(t *testing.T) {
	text := "Here:\n```go\nfmt.Println(1)\n```\nDone.\n```\nopen"
	got := SplitCodeBlocks(text)

	want := []Segment{
		{Text: "Here:\n"},
		{Block: &CodeBlock{Language: "go", Code: "fmt.Println(1)\n"}},
		{Text: "Done.\n"},
		{Block: &CodeBlock{Language: "", Code: "open"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SplitCodeBlocks() mismatch (-want +got):\n%s", diff)
	}
}

func TestHighlightBlocks(t *testing.T) {
	out := HighlightBlocks("Run:\n```go\npackage main\n```\n")
	assert.Contains(t, out, "Run:")
	assert.Contains(t, out, "package")
	assert.NotContains(t, out, "```")

	plain := "no code here"
	assert.Equal(t, plain, HighlightBlocks(plain))
}

func TestHighlightCode_UnknownLanguage(t *testing.T) {
	out := HighlightCode("just text", "no-such-language")
	require.NotEmpty(t, out)
	assert.Contains(t, out, "just")
}

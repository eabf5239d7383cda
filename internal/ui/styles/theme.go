// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components for the chat screen.
// It detects the terminal's color capability and adjusts accordingly.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	// MarkdownStyle is the glamour standard style for assistant replies:
	// "dark", "light", or "notty" when color is unavailable.
	MarkdownStyle string

	// ==========================================================================
	// HEADER
	// ==========================================================================

	Header      lipgloss.Style
	HeaderBrand lipgloss.Style
	HeaderModel lipgloss.Style

	// ==========================================================================
	// MESSAGES
	// ==========================================================================

	UserBubble      lipgloss.Style
	AssistantBubble lipgloss.Style
	SystemNotice    lipgloss.Style
	ErrorBubble     lipgloss.Style
	RoleLabel       lipgloss.Style
	Timestamp       lipgloss.Style
	Reactions       lipgloss.Style

	// ==========================================================================
	// INPUT AND STATUS
	// ==========================================================================

	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style
	InputDisabled  lipgloss.Style
	StatusBar      lipgloss.Style
	StatusIdle     lipgloss.Style
	StatusBusy     lipgloss.Style
	StatusError    lipgloss.Style
	Spinner        lipgloss.Style
	HelpText       lipgloss.Style
}

// NewTheme creates a theme for the current terminal.
func NewTheme() *Theme {
	profile := termenv.ColorProfile()
	return NewThemeFor(profile, termenv.HasDarkBackground())
}

// NewThemeFor creates a theme for an explicit color profile.
func NewThemeFor(profile termenv.Profile, isDark bool) *Theme {
	t := &Theme{
		IsDark:       isDark,
		HasTrueColor: profile == termenv.TrueColor,
		ColorProfile: profile,
	}
	switch {
	case profile == termenv.Ascii:
		t.MarkdownStyle = "notty"
	case isDark:
		t.MarkdownStyle = "dark"
	default:
		t.MarkdownStyle = "light"
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)

	t.HeaderBrand = lipgloss.NewStyle().
		Bold(true).
		Foreground(Sakura)

	t.HeaderModel = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Italic(true)

	t.UserBubble = lipgloss.NewStyle().
		Foreground(UserBubbleFg).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(UserBubbleBorder).
		Padding(0, 1)

	t.AssistantBubble = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(AssistantBubbleBorder).
		Padding(0, 1)

	t.SystemNotice = lipgloss.NewStyle().
		Foreground(SystemBubbleFg).
		Italic(true).
		Align(lipgloss.Center)

	t.ErrorBubble = lipgloss.NewStyle().
		Foreground(ErrorBubbleFg).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(Rose).
		BorderLeft(true).
		PaddingLeft(1)

	t.RoleLabel = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)

	t.Timestamp = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.Reactions = lipgloss.NewStyle().
		Foreground(TextSecondary)

	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(Overlay).
		Padding(0, 1)

	t.InputPrompt = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.InputDisabled = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)

	t.StatusBar = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(TextSecondary).
		Padding(0, 1)

	t.StatusIdle = lipgloss.NewStyle().Foreground(Emerald)
	t.StatusBusy = lipgloss.NewStyle().Foreground(Amber)
	t.StatusError = lipgloss.NewStyle().Foreground(Rose)

	t.Spinner = lipgloss.NewStyle().Foreground(Purple)

	t.HelpText = lipgloss.NewStyle().Foreground(TextMuted)
}

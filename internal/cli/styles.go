// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/enablerdao/ChirAI/internal/model"
)

// init configures lipgloss and fatih/color for the terminal. Both respect
// NO_COLOR, FORCE_COLOR and TTY detection.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
	color.NoColor = !ColorsEnabled()
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")) // Sakura

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16)

	// ValueStyle is used for regular values
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	// SuccessStyle is used for OK statuses
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	// ErrorStyle is used for error messages
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// WarningStyle is used for warnings
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// DimStyle is used for hints and secondary information
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	// SeparatorStyle is used for visual separators
	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// RenderSeparator renders a horizontal rule. Default width is 60.
func RenderSeparator(width ...int) string {
	w := 60
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return SeparatorStyle.Render(strings.Repeat("-", w))
}

// RenderField renders "label  value" for status listings.
func RenderField(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

// RenderStatus renders ok/fail markers.
func RenderStatus(ok bool) string {
	if ok {
		return SuccessStyle.Render("[OK]")
	}
	return ErrorStyle.Render("[FAIL]")
}

// =============================================================================
// ROLE COLORS (line chat)
// =============================================================================

var (
	userColor      = color.New(color.FgCyan, color.Bold)
	assistantColor = color.New(color.FgMagenta, color.Bold)
	systemColor    = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed, color.Bold)
)

// roleLabel returns the colored prefix printed before a message.
func roleLabel(msg model.Message) string {
	switch {
	case msg.IsError():
		return errorColor.Sprint("error")
	case msg.Role == model.RoleUser:
		return userColor.Sprint("you")
	case msg.Role == model.RoleAssistant:
		if msg.Model != "" {
			return assistantColor.Sprint(msg.Model)
		}
		return assistantColor.Sprint("assistant")
	default:
		return systemColor.Sprint("system")
	}
}

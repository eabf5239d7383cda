// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/enablerdao/ChirAI/internal/ui/styles"
	"github.com/enablerdao/ChirAI/internal/util"
)

// =============================================================================
// STATUS BAR COMPONENT
// =============================================================================

// Status represents the current application status
type Status int

const (
	StatusReady Status = iota
	StatusAwaiting
	StatusError
)

// String returns the display string for the status
func (s Status) String() string {
	switch s {
	case StatusReady:
		return "Ready"
	case StatusAwaiting:
		return "Waiting for reply..."
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Icon returns an ASCII indicator so the state reads without color.
func (s Status) Icon() string {
	switch s {
	case StatusReady:
		return "[ok]"
	case StatusAwaiting:
		return "[..]"
	case StatusError:
		return "[!!]"
	default:
		return "[?]"
	}
}

// StatusBar is the bottom line of the chat screen.
type StatusBar struct {
	ModelName string
	Channel   string
	Messages  int
	Status    Status
	Notice    string // transient message, e.g. "Copied!"
	Width     int
	theme     *styles.Theme
}

// NewStatusBar creates a new StatusBar component
func NewStatusBar(theme *styles.Theme) *StatusBar {
	return &StatusBar{Width: 80, theme: theme}
}

// View renders the status bar, dropping the notice first when space runs
// out.
func (s *StatusBar) View() string {
	statusStyle := s.theme.StatusIdle
	switch s.Status {
	case StatusAwaiting:
		statusStyle = s.theme.StatusBusy
	case StatusError:
		statusStyle = s.theme.StatusError
	}

	left := statusStyle.Render(s.Status.Icon() + " " + s.Status.String())
	right := fmt.Sprintf("%s | %d msgs", s.ModelName, s.Messages)
	if s.Channel != "" {
		right = s.Channel + " | " + right
	}

	inner := s.Width - 2
	if s.Notice != "" {
		withNotice := left + "  " + s.Notice
		if lipgloss.Width(withNotice)+lipgloss.Width(right)+1 <= inner {
			left = withNotice
		}
	}
	gap := inner - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		right = util.TruncateWidth(right, max(inner-lipgloss.Width(left)-1, 0))
		gap = 1
	}
	return s.theme.StatusBar.Width(s.Width).Render(left + strings.Repeat(" ", gap) + right)
}

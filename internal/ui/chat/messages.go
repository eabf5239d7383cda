// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/enablerdao/ChirAI/internal/session"
)

// =============================================================================
// CONTROLLER EVENTS
// =============================================================================

// EventMsg carries one controller event into the update loop.
type EventMsg struct {
	Event session.Event
}

// eventsClosedMsg reports that the controller closed the subscription.
type eventsClosedMsg struct{}

// waitForEvent blocks on the subscription. The update loop re-arms it after
// every event so at most one read is pending.
func waitForEvent(events <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// =============================================================================
// OLLAMA MESSAGES
// =============================================================================

// ModelsMsg reports the installed models.
type ModelsMsg struct {
	Models []string
	Err    error
}

// ModelSwitchedMsg reports the result of a validated model switch.
type ModelSwitchedMsg struct {
	Model string
	Err   error
}

// =============================================================================
// UI MESSAGES
// =============================================================================

// NoticeMsg shows a transient note in the status bar.
type NoticeMsg struct {
	Text string
}

// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/enablerdao/ChirAI/internal/ui/components"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the chat screen.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	parts := []string{
		m.renderHeader(),
		m.viewport.View(),
		m.renderInput(),
		m.renderStatus(),
	}
	if m.showHelp {
		parts = append(parts, m.help.FullHelpView(m.keyMap.FullHelp()))
	} else {
		parts = append(parts, m.help.ShortHelpView(m.keyMap.ShortHelp()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderHeader() string {
	brand := m.theme.HeaderBrand.Render("ChirAI")
	name := m.theme.HeaderModel.Render(m.modelName)
	return m.theme.Header.Width(m.width).Render(brand + "  " + name)
}

// renderInput shows the input field, or a spinner while a reply is pending
// so the user can see that Enter will not send.
func (m Model) renderInput() string {
	var line string
	if m.busy() {
		line = m.spinner.View() + " " + m.theme.InputDisabled.Render(components.StatusAwaiting.String())
		if v := strings.TrimSpace(m.input.Value()); v != "" {
			line += "  " + m.theme.InputDisabled.Render("(draft kept)")
		}
	} else {
		line = m.input.View()
	}
	return m.theme.InputContainer.Width(m.width).Render(line)
}

func (m Model) renderStatus() string {
	m.status.ModelName = m.modelName
	m.status.Messages = len(m.messages)
	m.status.Notice = m.notice
	switch {
	case m.busy():
		m.status.Status = components.StatusAwaiting
	case m.lastFailed:
		m.status.Status = components.StatusError
	default:
		m.status.Status = components.StatusReady
	}
	return m.status.View()
}

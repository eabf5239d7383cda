// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/session"
	"github.com/enablerdao/ChirAI/internal/ui/components"
)

// Fixed rows around the viewport: header, input (border + line), status
// bar and the short help line.
const chromeHeight = 5

// =============================================================================
// UPDATE
// =============================================================================

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		return m.handleEvent(msg.Event)

	case eventsClosedMsg:
		m.notice = "Session closed"
		return m, nil

	case ModelsMsg:
		if msg.Err != nil {
			m.notice = m.loc.Error(msg.Err)
		} else if len(msg.Models) == 0 {
			m.notice = "No models installed"
		} else {
			m.notice = "Models: " + strings.Join(msg.Models, ", ")
		}
		return m, nil

	case ModelSwitchedMsg:
		if msg.Err != nil {
			m.notice = m.loc.Error(msg.Err)
		} else {
			m.notice = m.loc.ModelSwitched(msg.Model)
		}
		return m, nil

	case NoticeMsg:
		m.notice = msg.Text
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.ready = true
	m.layout()
	m.refreshViewport()
	return m, nil
}

func (m *Model) layout() {
	extra := 0
	if m.showHelp {
		extra = lipgloss.Height(m.help.FullHelpView(m.keyMap.FullHelp())) - 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-chromeHeight-extra, 1)
	m.input.Width = max(m.width-6, 10)
	m.renderer.SetWidth(m.width)
	m.status.Width = m.width
	m.help.Width = m.width
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keyMap.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keyMap.Help):
		m.showHelp = !m.showHelp
		m.layout()
		return m, nil

	case key.Matches(msg, m.keyMap.Submit):
		return m.submit()

	case key.Matches(msg, m.keyMap.Clear):
		return m.clear()

	case key.Matches(msg, m.keyMap.Copy):
		return m.copyLast()

	case key.Matches(msg, m.keyMap.Up),
		key.Matches(msg, m.keyMap.Down),
		key.Matches(msg, m.keyMap.PageUp),
		key.Matches(msg, m.keyMap.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case key.Matches(msg, m.keyMap.Home):
		m.viewport.GotoTop()
		return m, nil

	case key.Matches(msg, m.keyMap.End):
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// ACTIONS
// =============================================================================

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		return m.runCommand(text)
	}
	if m.busy() {
		m.notice = components.StatusAwaiting.String()
		return m, nil
	}

	if _, err := m.ctrl.SendMessage(context.Background(), text); err != nil {
		switch {
		case errors.Is(err, session.ErrBusy):
			m.notice = components.StatusAwaiting.String()
		case errors.Is(err, session.ErrClosed):
			m.notice = "Session closed"
		default:
			m.notice = m.loc.Error(err)
		}
		return m, nil
	}

	m.input.Reset()
	m.notice = ""
	// The controller has already moved to awaiting; mirror it until the
	// event arrives so a second Enter is ignored.
	m.state = session.StateAwaitingResponse
	cmd := m.startSpinner()
	return m, cmd
}

func (m Model) clear() (tea.Model, tea.Cmd) {
	if err := m.ctrl.Clear(); err != nil {
		if errors.Is(err, session.ErrBusy) {
			m.notice = "Cannot clear while waiting for a reply"
		} else {
			m.notice = err.Error()
		}
		return m, nil
	}
	m.searchQuery = ""
	m.searchHits = nil
	return m, nil
}

func (m Model) copyLast() (tea.Model, tea.Cmd) {
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.Role != model.RoleAssistant || msg.IsError() || msg.Content == "" {
			continue
		}
		if err := m.copyFn(msg.Content); err != nil {
			m.logger.Debug("clipboard write failed", zap.Error(err))
			m.notice = "Failed to copy"
			return m, nil
		}
		m.notice = fmt.Sprintf("Copied! (%d chars)", len([]rune(msg.Content)))
		return m, nil
	}
	m.notice = "No response to copy"
	return m, nil
}

func (m *Model) startSpinner() tea.Cmd {
	if m.spinning {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

// =============================================================================
// CONTROLLER EVENTS
// =============================================================================

func (m Model) handleEvent(ev session.Event) (tea.Model, tea.Cmd) {
	next := waitForEvent(m.events)
	if ev.Seq <= m.lastSeq {
		return m, next
	}
	m.lastSeq = ev.Seq
	m.messages = ev.Messages()
	m.state = ev.State
	if ev.Conversation != nil {
		m.modelName = ev.Conversation.Model
	}

	switch ev.Kind {
	case session.EventMessageAppended:
		if ev.Message != nil && ev.Message.Role == model.RoleAssistant {
			m.lastFailed = ev.Message.IsError()
		}
	case session.EventCleared:
		m.lastFailed = false
	}

	m.refreshViewport()
	if m.busy() {
		tick := m.startSpinner()
		return m, tea.Batch(next, tick)
	}
	return m, next
}

func (m *Model) refreshViewport() {
	var content string
	switch {
	case m.searchQuery != "":
		header := m.theme.SystemNotice.Width(m.renderer.Width()).
			Render(fmt.Sprintf("Search: %q (%d matches)", m.searchQuery, len(m.searchHits)))
		content = header + "\n\n" + m.renderer.RenderAll(m.searchHits)
	case len(m.messages) == 0:
		content = m.theme.SystemNotice.Width(m.renderer.Width()).Render("Type a message and press Enter.")
	default:
		content = m.renderer.RenderAll(m.messages)
	}
	m.viewport.SetContent(content)
	if m.searchQuery == "" {
		m.viewport.GotoBottom()
	} else {
		m.viewport.GotoTop()
	}
}

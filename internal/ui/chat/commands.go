// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// commandTimeout bounds /model and /models network calls.
const commandTimeout = 10 * time.Second

// =============================================================================
// COMMAND HANDLER REGISTRY
// =============================================================================

// CommandHandler handles one slash command.
type CommandHandler func(m Model, args []string) (tea.Model, tea.Cmd)

var commandHandlers = map[string]CommandHandler{
	"help":   handleHelpCommand,
	"h":      handleHelpCommand,
	"quit":   handleQuitCommand,
	"q":      handleQuitCommand,
	"exit":   handleQuitCommand,
	"clear":  handleClearCommand,
	"model":  handleModelCommand,
	"m":      handleModelCommand,
	"models": handleModelsCommand,
	"search": handleSearchCommand,
	"copy":   handleCopyCommand,
}

// CommandNames returns the primary name of every slash command.
func CommandNames() []string {
	return []string{"help", "model", "models", "clear", "search", "copy", "quit"}
}

func (m Model) runCommand(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return m, nil
	}
	handler, ok := commandHandlers[strings.ToLower(fields[0])]
	if !ok {
		m.notice = "Unknown command: /" + fields[0] + " (try /help)"
		return m, nil
	}
	return handler(m, fields[1:])
}

// =============================================================================
// HANDLERS
// =============================================================================

func handleHelpCommand(m Model, _ []string) (tea.Model, tea.Cmd) {
	m.showHelp = !m.showHelp
	m.layout()
	m.notice = "Commands: /" + strings.Join(CommandNames(), " /")
	return m, nil
}

func handleQuitCommand(m Model, _ []string) (tea.Model, tea.Cmd) {
	return m, tea.Quit
}

func handleClearCommand(m Model, _ []string) (tea.Model, tea.Cmd) {
	return m.clear()
}

func handleCopyCommand(m Model, _ []string) (tea.Model, tea.Cmd) {
	return m.copyLast()
}

// handleModelCommand shows the current model or switches after checking
// that the new one is installed.
func handleModelCommand(m Model, args []string) (tea.Model, tea.Cmd) {
	if len(args) == 0 {
		m.notice = "Model: " + m.modelName
		return m, nil
	}
	ctrl, id := m.ctrl, args[0]
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := ctrl.SelectModel(ctx, id); err != nil {
			return ModelSwitchedMsg{Model: id, Err: err}
		}
		return ModelSwitchedMsg{Model: id}
	}
}

func handleModelsCommand(m Model, _ []string) (tea.Model, tea.Cmd) {
	if m.backend == nil {
		m.notice = "Model listing is unavailable"
		return m, nil
	}
	backend := m.backend
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		infos, err := backend.ListModels(ctx)
		if err != nil {
			return ModelsMsg{Err: err}
		}
		names := make([]string, len(infos))
		for i, info := range infos {
			names[i] = info.Name
		}
		return ModelsMsg{Models: names}
	}
}

// handleSearchCommand filters the view to matching messages. With no query
// it returns to the full transcript.
func handleSearchCommand(m Model, args []string) (tea.Model, tea.Cmd) {
	query := strings.Join(args, " ")
	if query == "" {
		m.searchQuery = ""
		m.searchHits = nil
		m.notice = ""
	} else {
		m.searchQuery = query
		m.searchHits = m.ctrl.Search(query)
	}
	m.refreshViewport()
	return m, nil
}

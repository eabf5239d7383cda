// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/enablerdao/ChirAI/internal/ui/chat"
	"github.com/enablerdao/ChirAI/internal/ui/styles"
)

// =============================================================================
// TUI COMMAND
// =============================================================================

func newTUICommand(opts *Options) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the full-screen chat",
		Long: `Open the full-screen chat. With --channel the conversation is restored
from history and saved back as it changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), opts, channel)
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "conversation to open or create")
	return cmd
}

// runTUI runs the Bubble Tea chat screen until the user quits.
func runTUI(ctx context.Context, opts *Options, channel string) error {
	a, err := newApp(ctx, opts, appMode{quietLog: true, backend: true, store: true})
	if err != nil {
		return err
	}
	defer a.close()

	mgr := a.newManager()
	defer mgr.Close()

	id := channel
	if id == "" {
		id = uuid.NewString()
	}
	ctrl, err := mgr.Get(ctx, id)
	if err != nil {
		return err
	}

	m := chat.New(chat.Config{
		Controller: ctrl,
		Backend:    a.backend,
		Channel:    channel,
		Theme:      styles.NewThemeFor(GetColorProfile(), lipgloss.HasDarkBackground()),
		Localizer:  a.loc,
		Logger:     a.log.Logger,
	})
	defer m.Close()

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
		tea.WithInput(opts.In),
		tea.WithOutput(opts.Out),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run chat screen: %w", err)
	}
	return nil
}

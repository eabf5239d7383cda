// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the ChirAI chat screen.

All colors use Lip Gloss AdaptiveColor for automatic light/dark terminal
detection.

# Color System (colors.go)

  - Sakura - Brand color for the header
  - Purple - Assistant messages and the spinner
  - Cyan - Input prompt
  - Emerald, Amber, Rose - Idle, awaiting reply, and error states

# Theme System (theme.go)

The Theme detects the terminal through termenv and picks the glamour style
used for assistant markdown:

	theme := styles.NewTheme()
	r, _ := glamour.NewTermRenderer(glamour.WithStandardStyle(theme.MarkdownStyle))

NewThemeFor builds a theme for a fixed profile, which keeps rendering
deterministic in tests.
*/
package styles

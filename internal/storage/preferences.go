// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// Theme values.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
	ThemeAuto  = "auto"
)

// Font sizes.
const (
	FontSmall      = "small"
	FontMedium     = "medium"
	FontLarge      = "large"
	FontExtraLarge = "extraLarge"
)

// Preferences are user settings that persist next to the history.
type Preferences struct {
	PreferredModel   string `json:"preferred_model"`
	Theme            string `json:"theme"`
	FontSize         string `json:"font_size"`
	EnableHaptics    bool   `json:"enable_haptics"`
	EnableAnimations bool   `json:"enable_animations"`
	AutoSave         bool   `json:"auto_save"`
	MaxHistoryDays   int    `json:"max_history_days"`
	Language         string `json:"language"`
	Notifications    bool   `json:"notifications"`
}

// DefaultPreferences returns the preferences used before any are saved.
func DefaultPreferences() Preferences {
	return Preferences{
		PreferredModel:   "gemma3:1b",
		Theme:            ThemeDark,
		FontSize:         FontMedium,
		EnableHaptics:    true,
		EnableAnimations: true,
		AutoSave:         true,
		MaxHistoryDays:   30,
		Language:         "en",
		Notifications:    true,
	}
}

// Normalize replaces unknown or missing values with defaults.
func (p Preferences) Normalize() Preferences {
	def := DefaultPreferences()
	if p.PreferredModel == "" {
		p.PreferredModel = def.PreferredModel
	}
	switch p.Theme {
	case ThemeLight, ThemeDark, ThemeAuto:
	default:
		p.Theme = def.Theme
	}
	switch p.FontSize {
	case FontSmall, FontMedium, FontLarge, FontExtraLarge:
	default:
		p.FontSize = def.FontSize
	}
	if p.MaxHistoryDays < 0 {
		p.MaxHistoryDays = 0
	}
	if p.Language != "en" && p.Language != "ja" {
		p.Language = def.Language
	}
	return p
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// =============================================================================
// COLORS
// =============================================================================

var (
	// Purple - Primary accent, titles, borders
	Purple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

	// Cyan - Spinner, highlighted keys
	Cyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

	// Emerald - Completed runs
	Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

	// Rose - Failed runs
	Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

	// Amber - Canceling and canceled runs
	Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

	// TextSecondary - Status line
	TextSecondary = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A6ADC8"}

	// TextMuted - Hints, durations
	TextMuted = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}
)

// =============================================================================
// THEME
// =============================================================================

// Theme holds the styles used by the dialog and the text presenter.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	renderer *lipgloss.Renderer

	Box      lipgloss.Style
	Title    lipgloss.Style
	Status   lipgloss.Style
	Muted    lipgloss.Style
	Spinner  lipgloss.Style
	Success  lipgloss.Style
	Failure  lipgloss.Style
	Warning  lipgloss.Style
	KeyStyle lipgloss.Style
}

// NewTheme creates a theme rendering to w. name is "dark", "light" or
// "auto"; auto asks the terminal for its background.
func NewTheme(w io.Writer, name string, profile termenv.Profile) *Theme {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(profile)

	switch strings.ToLower(name) {
	case "dark":
		r.SetHasDarkBackground(true)
	case "light":
		r.SetHasDarkBackground(false)
	}

	t := &Theme{
		IsDark:       r.HasDarkBackground(),
		ColorProfile: profile,
		renderer:     r,
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	r := t.renderer

	t.Box = r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Purple).
		Padding(1, 2)

	t.Title = r.NewStyle().
		Foreground(Purple).
		Bold(true)

	t.Status = r.NewStyle().Foreground(TextSecondary)
	t.Muted = r.NewStyle().Foreground(TextMuted)
	t.Spinner = r.NewStyle().Foreground(Cyan)

	t.Success = r.NewStyle().Foreground(Emerald).Bold(true)
	t.Failure = r.NewStyle().Foreground(Rose).Bold(true)
	t.Warning = r.NewStyle().Foreground(Amber)

	t.KeyStyle = r.NewStyle().Foreground(Cyan).Bold(true)
}

// Colors reports whether the theme renders any color at all.
func (t *Theme) Colors() bool {
	return t.ColorProfile != termenv.Ascii
}

package main

import "github.com/charmbracelet/lipgloss"

// Theme defines the colours of the aide dashboard.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Muted     lipgloss.Color
}

// DefaultTheme returns the default theme for aide-dash.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("12"),  // Blue
		Secondary: lipgloss.Color("14"),  // Cyan
		Success:   lipgloss.Color("10"),  // Green
		Warning:   lipgloss.Color("11"),  // Yellow
		Error:     lipgloss.Color("9"),   // Red
		Muted:     lipgloss.Color("240"), // Gray
	}
}

// Styles are the rendered styles derived from a Theme.
type Styles struct {
	Title     lipgloss.Style
	ActiveTab lipgloss.Style
	Tab       lipgloss.Style
	StatusBar lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
}

// NewStyles builds Styles from theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(theme.Primary),
		ActiveTab: lipgloss.NewStyle().Bold(true).Underline(true).Foreground(theme.Secondary).Padding(0, 1),
		Tab:       lipgloss.NewStyle().Foreground(theme.Muted).Padding(0, 1),
		StatusBar: lipgloss.NewStyle().Foreground(theme.Muted).MarginTop(1),
		Muted:     lipgloss.NewStyle().Foreground(theme.Muted),
		Success:   lipgloss.NewStyle().Foreground(theme.Success),
		Warning:   lipgloss.NewStyle().Foreground(theme.Warning),
		Error:     lipgloss.NewStyle().Foreground(theme.Error),
	}
}

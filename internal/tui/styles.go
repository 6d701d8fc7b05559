package tui

import "github.com/charmbracelet/lipgloss"

// Styles holds all the styles used in the TUI.
type Styles struct {
	// Text styles
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Header   lipgloss.Style
	Subtle   lipgloss.Style

	// Status styles
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style

	// Trace output styles
	Output  lipgloss.Style
	Stderr  lipgloss.Style
	Timeout lipgloss.Style

	// RTT styles (color-coded by latency)
	RTTLow  lipgloss.Style // < 50ms
	RTTMed  lipgloss.Style // 50-150ms
	RTTHigh lipgloss.Style // > 150ms

	// Container styles
	Box       lipgloss.Style
	StatusBar lipgloss.Style
}

// DefaultStyles returns the default style set.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		Subtitle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")),

		Subtle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		Success: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("46")), // Green

		Error: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")), // Red

		Warning: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")), // Orange

		Output: lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")),

		Stderr: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")), // Soft red

		Timeout: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		RTTLow: lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")),

		RTTMed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")),

		RTTHigh: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),

		StatusBar: lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1),
	}
}

// LightTheme returns a style set for light terminal backgrounds.
func LightTheme() Styles {
	s := DefaultStyles()

	s.Subtle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	s.Header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0"))
	s.Output = lipgloss.NewStyle().Foreground(lipgloss.Color("0"))

	return s
}

// MinimalTheme returns a minimal style set with fewer colors.
func MinimalTheme() Styles {
	s := DefaultStyles()

	s.Title = lipgloss.NewStyle().Bold(true)
	s.Output = lipgloss.NewStyle()
	s.Stderr = lipgloss.NewStyle().Italic(true)

	return s
}

// Theme returns the style set registered under name, or the default.
func Theme(name string) Styles {
	switch name {
	case "light":
		return LightTheme()
	case "minimal":
		return MinimalTheme()
	default:
		return DefaultStyles()
	}
}

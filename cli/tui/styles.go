// Package tui is the live status board shown by setscout run --tui.
//
// The board is opt-in and read-only: it renders the readiness indicator,
// decision counters and the most recent decisions. It never feeds anything
// back into the engine except a quit request.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/setscout/types"
)

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(12)

	// ValueStyle for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	// SuccessStyle for success states.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// WarningStyle for warning states.
	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// ErrorStyle for error states.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// BoxStyle for bordered containers.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// StatBoxStyle for stat display boxes.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 2).
			Width(20).
			Align(lipgloss.Center)

	// StatLabelStyle for stat labels.
	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Align(lipgloss.Center)

	// StatValueStyle for stat values.
	StatValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Align(lipgloss.Center)
)

// DecisionStyle colors a decision row: matches green, lookup failures amber.
func DecisionStyle(d types.Decision) lipgloss.Style {
	switch {
	case d.IsMatch():
		return SuccessStyle
	case d.Reason == types.ReasonLookupExhausted || d.Reason == types.ReasonNoIdentity:
		return WarningStyle
	case d.Reason == types.ReasonError:
		return ErrorStyle
	default:
		return ValueStyle.Foreground(mutedColor)
	}
}

// OutcomeStyle colors the final session outcome.
func OutcomeStyle(status string) lipgloss.Style {
	switch status {
	case "completed", "canceled":
		return SuccessStyle
	case "":
		return WarningStyle
	default:
		return ErrorStyle
	}
}

package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/B-Whitt/skillwatch/pkg/execution"
)

// Color palette, tuned for dark terminals.
var (
	colorAccent  = lipgloss.Color("#7B68EE") // medium slate blue
	colorSuccess = lipgloss.Color("#50C878") // emerald
	colorWarning = lipgloss.Color("#FFB347") // pastel orange
	colorError   = lipgloss.Color("#FF6961") // pastel red
	colorMuted   = lipgloss.Color("#808080") // gray
	colorBorder  = lipgloss.Color("#3A3A5C") // subtle border
	colorTitle   = lipgloss.Color("#C4B5FD") // light purple
)

var (
	stylePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	stylePanelSelected = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorAccent).
				Padding(0, 1)

	stylePanelTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorTitle).
			Padding(0, 1)

	styleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(colorAccent)

	styleDim    = lipgloss.NewStyle().Foreground(colorMuted)
	styleStatus = lipgloss.NewStyle().
			Foreground(colorTitle).
			BorderTop(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTopForeground(colorBorder)

	styleRunning = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	styleOK      = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleFailed  = lipgloss.NewStyle().Foreground(colorError).Bold(true)
)

func statusStyle(s execution.Status) lipgloss.Style {
	switch s {
	case execution.StatusRunning:
		return styleRunning
	case execution.StatusSuccess:
		return styleOK
	case execution.StatusFailed:
		return styleFailed
	default:
		return styleDim
	}
}

func stepGlyph(s execution.StepStatus) string {
	switch s {
	case execution.StepRunning:
		return styleRunning.Render("▶")
	case execution.StepSuccess:
		return styleOK.Render("✓")
	case execution.StepFailed:
		return styleFailed.Render("✗")
	case execution.StepSkipped:
		return styleDim.Render("↷")
	default:
		return styleDim.Render("·")
	}
}

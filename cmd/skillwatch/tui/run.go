package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/B-Whitt/skillwatch/pkg/tracker"
)

// Run launches the interactive viewer against an already-started tracker.
// It blocks until the user quits.
func Run(trk *tracker.Tracker) error {
	p := tea.NewProgram(
		NewModel(trk),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running viewer: %w", err)
	}
	return nil
}

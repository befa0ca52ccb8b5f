package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/B-Whitt/skillwatch/pkg/bus"
	"github.com/B-Whitt/skillwatch/pkg/store"
	"github.com/B-Whitt/skillwatch/pkg/tracker"
)

// Messages.
type projectionMsg bus.Projection
type busClosedMsg struct{}
type tickMsg time.Time
type actionDoneMsg struct{ note string }

// Model is the root TUI model. It renders whatever the tracker last
// published and forwards selection/clear commands back to it.
type Model struct {
	trk    *tracker.Tracker
	projCh <-chan bus.Projection
	cancel func()

	proj      *bus.Projection
	cursor    int
	spinner   spinner.Model
	lastNote  string
	noteSetAt time.Time

	width  int
	height int
}

func NewModel(trk *tracker.Tracker) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorAccent)

	ch, cancel := trk.Bus().Subscribe()
	return Model{
		trk:     trk,
		projCh:  ch,
		cancel:  cancel,
		spinner: s,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForProjection(m.projCh),
		tickCmd(),
	)
}

func waitForProjection(ch <-chan bus.Projection) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return busClosedMsg{}
		}
		return projectionMsg(p)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case projectionMsg:
		p := bus.Projection(msg)
		m.proj = &p
		m.clampCursor()
		return m, waitForProjection(m.projCh)

	case busClosedMsg:
		return m, tea.Quit

	case tickMsg:
		// Elapsed times in the list advance between publishes.
		return m, tickCmd()

	case actionDoneMsg:
		m.lastNote = msg.note
		m.noteSetAt = time.Now()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.cancel()
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.selectUnderCursor()
		}
		return m, nil

	case "down", "j":
		if m.proj != nil && m.cursor < len(m.proj.Summaries)-1 {
			m.cursor++
			m.selectUnderCursor()
		}
		return m, nil

	case "enter":
		m.selectUnderCursor()
		return m, nil

	case "a":
		// Back to automatic newest-running selection.
		m.trk.SelectExecution("")
		return m, nil

	case "c":
		if sum := m.summaryUnderCursor(); sum != nil {
			id := sum.ID
			return m, func() tea.Msg {
				persisted, err := m.trk.ClearOne(id)
				switch {
				case err != nil:
					return actionDoneMsg{note: "clear failed: " + err.Error()}
				case !persisted:
					return actionDoneMsg{note: "cleared locally; state file busy"}
				default:
					return actionDoneMsg{note: "cleared " + id}
				}
			}
		}
		return m, nil

	case "s":
		return m, func() tea.Msg {
			count, err := m.trk.ClearStale()
			if err != nil {
				return actionDoneMsg{note: "sweep failed: " + err.Error()}
			}
			if count == 0 {
				return actionDoneMsg{note: "no stale executions"}
			}
			return actionDoneMsg{note: "swept stale executions"}
		}
	}
	return m, nil
}

func (m *Model) clampCursor() {
	if m.proj == nil || len(m.proj.Summaries) == 0 {
		m.cursor = 0
		return
	}
	if m.cursor >= len(m.proj.Summaries) {
		m.cursor = len(m.proj.Summaries) - 1
	}
}

func (m *Model) summaryUnderCursor() *store.Summary {
	if m.proj == nil || m.cursor >= len(m.proj.Summaries) {
		return nil
	}
	return &m.proj.Summaries[m.cursor]
}

func (m *Model) selectUnderCursor() {
	if sum := m.summaryUnderCursor(); sum != nil {
		m.trk.SelectExecution(sum.ID)
	}
}

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/B-Whitt/skillwatch/pkg/store"
)

const noteTTL = 5 * time.Second

func (m Model) View() string {
	if m.proj == nil {
		return "\n  " + m.spinner.View() + " waiting for tracker…\n"
	}

	listWidth := m.width/2 - 2
	if listWidth < 30 {
		listWidth = 30
	}
	detailWidth := m.width - listWidth - 6
	if detailWidth < 30 {
		detailWidth = 30
	}

	list := m.renderList(listWidth)
	detail := m.renderDetail(detailWidth)

	body := lipgloss.JoinHorizontal(lipgloss.Top, list, detail)
	status := m.renderStatusBar()
	return lipgloss.JoinVertical(lipgloss.Left, body, status)
}

func (m Model) renderList(width int) string {
	var b strings.Builder
	b.WriteString(stylePanelTitle.Render("Executions") + "\n")

	if len(m.proj.Summaries) == 0 {
		b.WriteString(styleDim.Render("nothing tracked") + "\n")
	}
	for i, s := range m.proj.Summaries {
		line := fmt.Sprintf("%s %s %d/%d %s",
			statusStyle(s.Status).Render("●"),
			s.SkillName,
			s.CurrentStepIndex+1, s.TotalSteps,
			styleDim.Render(humanElapsed(liveElapsedMs(s))),
		)
		if i == m.cursor {
			line = styleSelected.Render("▸ ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}

	return stylePanel.Width(width).Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) renderDetail(width int) string {
	d := m.proj.Detail
	if d == nil {
		return stylePanel.Width(width).Render(styleDim.Render("no execution selected"))
	}

	var b strings.Builder
	title := fmt.Sprintf("%s  %s", d.SkillName, statusStyle(d.Status).Render(string(d.Status)))
	b.WriteString(stylePanelTitle.Render(title) + "\n")
	if d.Source != "" {
		src := string(d.Source)
		if d.SourceDetails != "" {
			src += " · " + d.SourceDetails
		}
		b.WriteString(styleDim.Render(src) + "\n")
	}

	for _, step := range d.Steps {
		line := fmt.Sprintf("%s %s", stepGlyph(step.Status), step.Name)
		if step.DurationMs > 0 {
			line += styleDim.Render(fmt.Sprintf(" (%s)", humanElapsed(step.DurationMs)))
		}
		if step.RetryCount > 0 {
			line += styleRunning.Render(fmt.Sprintf(" retries:%d", step.RetryCount))
		}
		if step.HealingApplied {
			line += styleOK.Render(" healed")
		}
		if step.IsAutoRemediation {
			line += styleDim.Render(" [auto]")
		}
		b.WriteString(line + "\n")
		if step.Error != "" {
			b.WriteString("   " + styleFailed.Render(truncate(step.Error, width-6)) + "\n")
		}
	}

	return stylePanelSelected.Width(width).Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) renderStatusBar() string {
	line := m.proj.StatusLine
	if m.lastNote != "" && time.Since(m.noteSetAt) < noteTTL {
		line += "  ·  " + m.lastNote
	}
	help := styleDim.Render("  ↑/↓ select · enter pin · a auto · c clear · s sweep · q quit")
	return styleStatus.Width(maxInt(m.width-2, 40)).Render(line + help)
}

// liveElapsedMs recomputes elapsed time at render time, so the per-second
// tick advances running entries between tracker publishes. Finished entries
// stay frozen at their final duration.
func liveElapsedMs(s store.Summary) int64 {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime).Milliseconds()
	}
	return time.Since(s.StartTime).Milliseconds()
}

func humanElapsed(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", ms)
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func truncate(s string, n int) string {
	if n < 4 || len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

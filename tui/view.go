package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/filter-runner/internal/drift"
	"github.com/hochfrequenz/filter-runner/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	queuedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("240")).
			Foreground(lipgloss.Color("255"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("205")).
			Padding(1, 2).
			Background(lipgloss.Color("235"))

	modalTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))
)

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	// Header
	metrics := m.observer.GetMetrics()
	header := fmt.Sprintf(" Filter Runner │ Active: %d │ Sessions: %d │ History: %d/%d │ Done: %d ok, %d failed, %d canceled ",
		m.registry.ActiveCount(), len(m.registry.Sessions()), m.history.Len(), m.history.Limit(),
		metrics.TotalSucceeded, metrics.TotalFailed, metrics.TotalCanceled+metrics.TotalKilled)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case TabSessions:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderSessions()))
	case TabHistory:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderHistory()))
	}
	b.WriteString("\n")

	if len(m.outputs) > 0 {
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderOutputs()))
		b.WriteString("\n")
	}

	if m.dialog != nil {
		b.WriteString(m.renderDialog())
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString(queuedStyle.Width(m.width).Render(fmt.Sprintf(" %s ", m.status)))
		b.WriteString("\n")
	}

	var statusBar string
	switch m.activeTab {
	case TabHistory:
		statusBar = " [tab]switch [j/k]navigate [space]mark [enter]run marked [b]efore [f]rom [l]atest [q]uit "
	default:
		statusBar = " [tab]switch [j/k]navigate [s]top [S]top all [d]ispose [q]uit "
	}
	if m.dialog != nil {
		statusBar = " [y]es [n]o "
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(statusBar))

	return b.String()
}

func (m Model) renderTabs() string {
	tabs := []string{"Sessions", "History"}
	var parts []string

	for i, tab := range tabs {
		if Tab(i) == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		} else {
			parts = append(parts, tabInactiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		}
	}

	return strings.Join(parts, "│")
}

func (m Model) renderSessions() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("SESSIONS"))
	b.WriteString("\n")

	sessions := m.registry.Sessions()
	if len(sessions) == 0 {
		b.WriteString(queuedStyle.Render("  No sessions. Replay filters from the History tab."))
		return b.String()
	}

	for i, s := range sessions {
		line := m.formatSessionLine(s)
		switch {
		case i == m.selectedRow:
			line = selectedStyle.Render(line)
		case s.State() == session.Terminating || m.observer.IsLongRunning(s):
			line = warningStyle.Render(line)
		case s.State().Active():
			line = runningStyle.Render(line)
		case s.Outcome() == session.Failed:
			line = errorStyle.Render(line)
		default:
			line = queuedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) formatSessionLine(s *session.Session) string {
	icon := "○"
	switch {
	case s.State().Active():
		icon = "●"
	case s.Succeeded():
		icon = "✓"
	case s.State().Done():
		icon = "✗"
	}

	total := s.Pipeline().Len()
	pos := s.Index() + 1
	if pos > total {
		pos = total
	}
	current := ""
	if rec := s.Current(); rec != nil {
		current = rec.Name()
	}

	end := time.Now()
	if s.State().Done() {
		end = s.FinishedAt()
	}

	line := fmt.Sprintf("  %s %-8s %-11s %-8s %d/%d %-20s %6s",
		icon, shortID(s.ID), s.State(), s.Outcome(), pos, total,
		truncate(current, 20), formatDuration(end.Sub(s.CreatedAt())))
	if m.observer.IsLongRunning(s) {
		line += " ⏱"
	}
	if err := s.Err(); err != nil {
		line += "  " + truncate(err.Error(), 40)
	}
	return line
}

func (m Model) renderHistory() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("HISTORY"))
	b.WriteString("\n")

	rows := m.history.Rows()
	if len(rows) == 0 {
		b.WriteString(queuedStyle.Render("  No filters executed yet. Use 'filter-runner run' to start."))
		return b.String()
	}

	b.WriteString(dimmedStyle.Render(fmt.Sprintf("    %-3s %-20s %-16s %8s %5s  %s", "#", "Filter", "Started", "Elapsed", "Exit", "Arguments")))
	b.WriteString("\n")

	for _, row := range rows {
		mark := " "
		if m.marked[row.Index] {
			mark = "*"
		}
		code, drifted := m.drift[row.Index]
		flag := " "
		if drifted {
			flag = "!"
			if code.Severity() == drift.Warning {
				flag = "~"
			}
		}

		exit := fmt.Sprintf("%d", row.ExitCode)
		if row.UserCanceled {
			exit = "stop"
		}

		line := fmt.Sprintf("  %s%s %-3d %-20s %-16s %8s %5s  %s",
			mark, flag, row.Index+1, truncate(row.Name, 20), humanize.Time(row.StartedAt),
			formatDuration(row.Elapsed), exit, truncate(strings.Join(row.Values, " "), 40))

		switch {
		case row.Index == m.historyRow:
			line = selectedStyle.Render(line)
		case drifted && code.Severity() == drift.Fatal:
			line = errorStyle.Render(line)
		case drifted:
			line = warningStyle.Render(line)
		case !row.Succeeded:
			line = dimmedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if code, ok := m.drift[m.historyRow]; ok {
		b.WriteString(warningStyle.Render(fmt.Sprintf("  └─ %s", code)))
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderOutputs() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("OUTPUTS"))
	for _, o := range m.outputs {
		b.WriteString("\n  ")
		b.WriteString(o)
	}
	return b.String()
}

func (m Model) renderDialog() string {
	var b strings.Builder
	b.WriteString(modalTitleStyle.Render("CONFIRM"))
	b.WriteString("\n\n")
	b.WriteString(m.dialog.prompt.Message)
	for _, d := range m.dialog.prompt.Details {
		b.WriteString("\n  ")
		b.WriteString(queuedStyle.Render(d))
	}
	b.WriteString("\n\n")
	b.WriteString(runningStyle.Render("[y]"))
	b.WriteString(queuedStyle.Render(" yes  "))
	b.WriteString(warningStyle.Render("[n]"))
	b.WriteString(queuedStyle.Render(" no"))

	width := 70
	if m.width < 80 {
		width = m.width - 4
	}
	return modalStyle.Width(width).Render(b.String())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}

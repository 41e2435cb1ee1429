package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/filter-runner/internal/confirm"
	"github.com/hochfrequenz/filter-runner/internal/domain"
	"github.com/hochfrequenz/filter-runner/internal/drift"
	"github.com/hochfrequenz/filter-runner/internal/history"
	"github.com/hochfrequenz/filter-runner/internal/registry"
	"github.com/hochfrequenz/filter-runner/internal/session"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.dialog != nil {
			return m.updateDialog(msg)
		}
		return m.updateKeys(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		if m.quitting {
			return m, nil
		}
		m.registry.Tick()
		m.clampSelection()
		return m, tickCmd(m.pollInterval)

	case EventMsg:
		ev := session.Event(msg)
		m.observer.Observe(ev)
		switch ev.Kind {
		case session.EventFinished:
			m.refreshDrift()
			if ev.Err != nil {
				m.status = fmt.Sprintf("session %s failed: %v", shortID(ev.SessionID), ev.Err)
			} else {
				m.status = fmt.Sprintf("session %s %s", shortID(ev.SessionID), describeEnd(ev))
			}
		case session.EventDisposed:
			m.outputs = ev.Outputs
		}
		return m, waitForEvent(m.events)

	case DefinitionChangedMsg:
		m.refreshDrift()
		m.status = fmt.Sprintf("definition %s changed", domain.NewDefinitionRef(msg.Dir).Name())
	}

	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m.shutdown()
	case "tab":
		m.activeTab = (m.activeTab + 1) % numTabs
	case "j", "down":
		m.moveSelection(1)
	case "k", "up":
		m.moveSelection(-1)
	}

	switch m.activeTab {
	case TabSessions:
		return m.updateSessionKeys(msg)
	case TabHistory:
		return m.updateHistoryKeys(msg)
	}
	return m, nil
}

func (m Model) updateSessionKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	sessions := m.registry.Sessions()
	switch msg.String() {
	case "s":
		if len(sessions) == 0 {
			return m, nil
		}
		ids := []string{sessions[m.selectedRow].ID}
		return m.stop(func(c confirm.Confirmer) { _ = m.registry.StopSelected(ids, c) })
	case "S":
		return m.stop(m.registry.StopAll)
	case "d":
		if len(sessions) == 0 {
			return m, nil
		}
		if err := m.registry.Dispose(sessions[m.selectedRow].ID); err != nil {
			m.status = err.Error()
		}
		m.clampSelection()
	}
	return m, nil
}

func (m Model) updateHistoryKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case " ":
		if m.history.Len() == 0 {
			return m, nil
		}
		if m.marked[m.historyRow] {
			delete(m.marked, m.historyRow)
		} else {
			m.marked[m.historyRow] = true
		}
	case "b":
		return m.replay(m.history.Before(m.historyRow))
	case "f":
		return m.replay(m.history.From(m.historyRow))
	case "l":
		return m.replay(m.history.Latest())
	case "enter":
		rows := make([]int, 0, len(m.marked))
		for r := range m.marked {
			rows = append(rows, r)
		}
		sort.Ints(rows)
		m.marked = make(map[int]bool)
		return m.replay(m.history.Selected(rows))
	}
	return m, nil
}

func (m Model) updateDialog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		d := m.dialog
		m.dialog = nil
		return d.onYes(m)
	case "n", "N", "esc":
		m.dialog = nil
		m.status = "canceled"
	case "ctrl+c":
		m.dialog = nil
	}
	return m, nil
}

// stop runs a stop operation and asks before the kill phase
func (m Model) stop(op func(c confirm.Confirmer)) (Model, tea.Cmd) {
	asked := &confirm.Recorder{Answer: false}
	op(asked)
	if p, ok := asked.Last(); ok {
		m.dialog = &dialog{prompt: p, onYes: func(m Model) (Model, tea.Cmd) {
			op(confirm.Always)
			return m, nil
		}}
	}
	return m, nil
}

// replay validates a pipeline built from history and submits it
func (m Model) replay(p *domain.Pipeline, err error) (Model, tea.Cmd) {
	if err != nil {
		if errors.Is(err, history.ErrNothingSelected) {
			m.status = "nothing selected"
		} else {
			m.status = err.Error()
		}
		return m, nil
	}

	asked := &confirm.Recorder{Answer: false}
	_, err = m.validator.CheckExecutable(p, asked)
	if errors.Is(err, drift.ErrWarningsDeclined) && asked.WasAsked() {
		prompt, _ := asked.Last()
		m.dialog = &dialog{prompt: prompt, onYes: func(m Model) (Model, tea.Cmd) {
			if _, err := m.validator.CheckExecutable(p, confirm.Always); err != nil {
				m.status = err.Error()
				return m, nil
			}
			return m.submit(p)
		}}
		return m, nil
	}
	var blocked *drift.BlockedError
	if errors.As(err, &blocked) {
		m.status = strings.ReplaceAll(blocked.Error(), "\n  ", "; ")
		return m, nil
	}
	if err != nil {
		m.status = err.Error()
		return m, nil
	}
	return m.submit(p)
}

func (m Model) submit(p *domain.Pipeline) (Model, tea.Cmd) {
	s, err := m.registry.Submit(context.Background(), p)
	if err != nil {
		m.status = err.Error()
		return m, nil
	}
	m.status = fmt.Sprintf("session %s started: %s", shortID(s.ID), strings.Join(p.Names(), " → "))
	m.activeTab = TabSessions
	return m, nil
}

// shutdown quits, asking first when sessions are still running
func (m Model) shutdown() (Model, tea.Cmd) {
	asked := &confirm.Recorder{Answer: false}
	err := m.registry.Shutdown(asked)
	if errors.Is(err, registry.ErrShutdownVetoed) {
		prompt, _ := asked.Last()
		m.dialog = &dialog{prompt: prompt, onYes: func(m Model) (Model, tea.Cmd) {
			if err := m.registry.Shutdown(confirm.Always); err != nil {
				m.status = err.Error()
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		}}
		return m, nil
	}
	m.quitting = true
	return m, tea.Quit
}

func (m *Model) moveSelection(delta int) {
	switch m.activeTab {
	case TabSessions:
		m.selectedRow += delta
	case TabHistory:
		m.historyRow += delta
	}
	m.clampSelection()
}

func (m *Model) clampSelection() {
	m.selectedRow = clamp(m.selectedRow, len(m.registry.Sessions()))
	m.historyRow = clamp(m.historyRow, m.history.Len())
}

func clamp(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func describeEnd(ev session.Event) string {
	switch ev.State {
	case session.Killed:
		return "killed"
	case session.Terminated:
		return "terminated"
	}
	return ev.Outcome.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/filter-runner/internal/confirm"
	"github.com/hochfrequenz/filter-runner/internal/drift"
	"github.com/hochfrequenz/filter-runner/internal/history"
	"github.com/hochfrequenz/filter-runner/internal/observer"
	"github.com/hochfrequenz/filter-runner/internal/registry"
	"github.com/hochfrequenz/filter-runner/internal/session"
)

// Tab identifies a dashboard tab
type Tab int

const (
	TabSessions Tab = iota
	TabHistory
	numTabs
)

// Model is the dashboard. Its Update loop is the control thread of the
// registry: every session is advanced and stopped from here.
type Model struct {
	// Engine
	registry  *registry.Registry
	history   *history.Store
	validator *drift.Validator
	observer  *observer.Observer
	events    <-chan session.Event

	// Drift findings per history row, refreshed when definitions change
	drift map[int]drift.Code

	// UI state
	width       int
	height      int
	activeTab   Tab
	selectedRow int
	historyRow  int
	marked      map[int]bool
	dialog      *dialog
	status      string
	outputs     []string
	quitting    bool

	pollInterval time.Duration
}

// dialog is a pending yes/no question. onYes repeats the operation that asked.
type dialog struct {
	prompt confirm.Prompt
	onYes  func(m Model) (Model, tea.Cmd)
}

// ModelConfig holds the collaborators of the dashboard
type ModelConfig struct {
	Registry     *registry.Registry
	History      *history.Store
	Validator    *drift.Validator
	Observer     *observer.Observer
	PollInterval time.Duration
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	obs := cfg.Observer
	if obs == nil {
		obs = observer.New(0)
	}
	m := Model{
		registry:     cfg.Registry,
		history:      cfg.History,
		validator:    cfg.Validator,
		observer:     obs,
		events:       cfg.Registry.Subscribe(),
		marked:       make(map[int]bool),
		pollInterval: interval,
	}
	m.refreshDrift()
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(m.pollInterval),
		waitForEvent(m.events),
	)
}

// TickMsg drives the registry
type TickMsg time.Time

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// EventMsg carries a session event to the update loop
type EventMsg session.Event

func waitForEvent(ch <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return EventMsg(ev)
	}
}

// DefinitionChangedMsg is sent by the definition watcher
type DefinitionChangedMsg struct {
	Dir   string
	Files []string
}

// refreshDrift inspects the whole history against the current definitions
func (m *Model) refreshDrift() {
	m.drift = make(map[int]drift.Code)
	if m.validator == nil || m.history == nil || m.history.Len() == 0 {
		return
	}
	p, err := m.history.From(0)
	if err != nil {
		return
	}
	for _, f := range m.validator.Inspect(p).Findings {
		m.drift[f.Index] = f.Code
	}
}

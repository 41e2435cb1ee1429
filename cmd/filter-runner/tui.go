package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/filter-runner/internal/observer"
	"github.com/hochfrequenz/filter-runner/tui"
)

func runTUI(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	model := tui.NewModel(tui.ModelConfig{
		Registry:     a.registry,
		History:      a.history,
		Validator:    a.validator,
		Observer:     a.observer,
		PollInterval: a.cfg.Execution.PollInterval(),
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	// Definition changes re-evaluate the drift markers of the history tab
	dw, err := observer.NewDefinitionWatcher(func(defDir string, files []string) {
		p.Send(tui.DefinitionChangedMsg{Dir: defDir, Files: files})
	}, a.log)
	if err != nil {
		a.log.Warn("definition watcher unavailable", "error", err)
	} else {
		for _, dir := range historyDefinitionDirs(a.history) {
			if err := dw.AddDefinition(dir); err != nil {
				a.log.Warn("cannot watch definition", "dir", dir, "error", err)
			}
		}
		dw.Start(ctx)
		defer dw.Stop()
	}

	_, err = p.Run()
	return err
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/hochfrequenz/filter-runner/internal/argvalues"
	"github.com/hochfrequenz/filter-runner/internal/config"
	"github.com/hochfrequenz/filter-runner/internal/confirm"
	"github.com/hochfrequenz/filter-runner/internal/definition"
	"github.com/hochfrequenz/filter-runner/internal/domain"
	"github.com/hochfrequenz/filter-runner/internal/drift"
	"github.com/hochfrequenz/filter-runner/internal/executor"
	"github.com/hochfrequenz/filter-runner/internal/history"
	"github.com/hochfrequenz/filter-runner/internal/logging"
	"github.com/hochfrequenz/filter-runner/internal/notify"
	"github.com/hochfrequenz/filter-runner/internal/observer"
	"github.com/hochfrequenz/filter-runner/internal/registry"
	"github.com/hochfrequenz/filter-runner/internal/runstore"
	"github.com/hochfrequenz/filter-runner/internal/session"
)

// app holds the wired components shared by all commands
type app struct {
	cfg       *config.Config
	log       hclog.Logger
	logCloser io.Closer

	fs        domain.FileSystem
	defs      *definition.Store
	argValues *argvalues.Store
	store     *runstore.Store
	history   *history.Store
	validator *drift.Validator
	runner    *executor.Runner
	registry  *registry.Registry
	observer  *observer.Observer

	notifyWG sync.WaitGroup
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithLocalFallback(configPath)
}

// newApp loads the configuration and wires every component
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		logCloser: closer,
		fs:        domain.OSFileSystem{},
	}
	a.defs = definition.NewStore(cfg.General.DefinitionsDir, a.fs)

	a.argValues, err = argvalues.Open(cfg.Arguments.HistoryFile, cfg.Arguments.HistoryLength)
	if err != nil {
		a.log.Warn("argument value history unreadable, starting empty", "error", err)
		a.argValues = argvalues.New(cfg.Arguments.HistoryFile, cfg.Arguments.HistoryLength)
	}

	var persister history.Persister
	if cfg.History.Persist {
		if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0755); err != nil {
			a.Close()
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		a.store, err = runstore.New(cfg.General.DatabasePath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		persister = a.store
	}

	a.history = history.New(cfg.History.Limit, persister, log)
	if err := a.history.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.validator = drift.New(a.defs, a.fs, log)
	a.runner = executor.NewRunner(cfg.Execution, log)
	a.observer = observer.New(0)

	opts := registry.Options{
		AutoDispose:    cfg.Console.AutoClose,
		CancelExitCode: cfg.Execution.CancelExitCode,
		PollInterval:   cfg.Execution.PollInterval(),
		FS:             a.fs,
		TempPath:       a.runner.TempPath,
		Log:            log,
	}
	if cfg.History.Record {
		opts.History = a.history
	}
	if a.store != nil {
		opts.SessionLog = a.store
	}
	a.registry = registry.New(a.runner, opts)
	a.startNotifications(ctx)

	return a, nil
}

// startNotifications forwards finished sessions to the configured notifiers
func (a *app) startNotifications(ctx context.Context) {
	var notifiers []notify.Notifier
	if a.cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if a.cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(a.cfg.Notifications.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return
	}

	events := a.registry.Subscribe()
	a.notifyWG.Add(1)
	go func() {
		defer a.notifyWG.Done()
		notify.Forward(ctx, events, notify.NewMultiNotifier(notifiers...), a.log)
	}()
}

// Close shuts the registry down, killing whatever still runs, and releases resources
func (a *app) Close() {
	if a.registry != nil {
		if err := a.registry.Shutdown(confirm.Always); err != nil {
			a.log.Warn("shutdown failed", "error", err)
		}
		a.notifyWG.Wait()
	}
	if a.argValues != nil {
		if err := a.argValues.Save(); err != nil {
			a.log.Warn("saving argument values", "error", err)
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

// rememberValues stores the user-editable argument values of p for future defaults
func (a *app) rememberValues(p *domain.Pipeline) {
	for _, rec := range p.Records() {
		for i, arg := range rec.Args() {
			if arg.Fixed || arg.Value == "" || arg.IsTempFile() {
				continue
			}
			a.argValues.Append(rec.Definition().Dir, i, arg.Value)
		}
	}
}

// execute runs p headless until it ends. The first interrupt asks the running
// filter to terminate; a second one kills it.
func (a *app) execute(ctx context.Context, p *domain.Pipeline, out io.Writer) error {
	var console <-chan session.Event
	if a.cfg.Console.Show {
		console = a.registry.Subscribe()
	}

	a.rememberValues(p)
	s, err := a.registry.Submit(ctx, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s: %s\n", s.ID[:8], strings.Join(p.Names(), " → "))

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	done := make(chan struct{})
	defer close(done)
	go func() {
		interrupts := 0
		for {
			select {
			case <-done:
				return
			case <-sigs:
				interrupts++
				if interrupts == 1 {
					fmt.Fprintln(os.Stderr, "Stopping... press Ctrl-C again to kill")
					a.registry.Post(func() { a.registry.StopAll(confirm.Never) })
				} else {
					a.registry.Post(func() { a.registry.StopAll(confirm.Always) })
				}
			}
		}
	}()

	if console != nil {
		ctxConsole, cancel := context.WithCancel(ctx)
		defer cancel()
		go printConsole(ctxConsole, console, out)
	}

	if err := a.registry.RunUntilIdle(ctx); err != nil {
		return err
	}
	a.observer.RecordCompletion(s.ID, s.State(), s.Outcome(), s.FinishedAt().Sub(s.CreatedAt()), len(s.Executed()))

	for _, rec := range s.Executed() {
		fmt.Fprintf(out, "  #%d %-20s exit %-4d %s\n", rec.RunNo(), rec.Name(), rec.ExitCode(), formatElapsed(rec.Elapsed()))
	}
	if s.Succeeded() {
		for _, o := range p.OutputsToShow() {
			fmt.Fprintf(out, "  output: %s\n", o)
		}
		return nil
	}
	if s.Err() != nil {
		return s.Err()
	}
	return fmt.Errorf("session %s %s (%s)", s.ID[:8], s.State(), s.Outcome())
}

// printConsole echoes which filter a session is running
func printConsole(ctx context.Context, events <-chan session.Event, out io.Writer) {
	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Record == nil || ev.Kind == session.EventFinished {
				continue
			}
			if ev.Index != last {
				last = ev.Index
				fmt.Fprintf(out, "  ▶ %s (%d/%d)\n", ev.Record.Name(), ev.Index+1, ev.Total)
			}
		}
	}
}

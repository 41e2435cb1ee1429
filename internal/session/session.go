// Package session runs one pipeline item by item as child processes.
//
// A Session is not safe for concurrent use. It is driven from a single control
// thread: Start launches the first item, Tick polls the owned process and
// advances the pipeline, Stop and Kill end it early.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/hochfrequenz/filter-runner/internal/domain"
	"github.com/hochfrequenz/filter-runner/internal/executor"
	"github.com/hochfrequenz/filter-runner/internal/logging"
)

// DefaultCancelExitCode is the exit code a filter uses to report that the user canceled it
const DefaultCancelExitCode = 130

// killedExitCode is recorded for an item that was force-killed before it exited
const killedExitCode = 137

var (
	// ErrInvalidState is returned when an operation is not legal in the current state
	ErrInvalidState = errors.New("invalid session state")
	// ErrEmptyPipeline is returned when starting a session without items
	ErrEmptyPipeline = errors.New("pipeline has no records")
)

// State of a session
type State int

const (
	Created State = iota
	Running
	Terminating
	Finished
	Terminated
	Killed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Terminating:
		return "terminating"
	case Finished:
		return "finished"
	case Terminated:
		return "terminated"
	case Killed:
		return "killed"
	default:
		return "unknown"
	}
}

// Active reports whether a child process may still be running
func (s State) Active() bool { return s == Running || s == Terminating }

// Done reports whether the session reached an end state
func (s State) Done() bool { return s == Finished || s == Terminated || s == Killed }

// Outcome of a session that is done
type Outcome int

const (
	OutcomeNone Outcome = iota
	Success
	Failed
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	default:
		return "none"
	}
}

// Launcher starts the child process of one record
type Launcher interface {
	Launch(ctx context.Context, rec *domain.RuntimeRecord) (executor.Handle, error)
}

// Options configure a Session
type Options struct {
	// CancelExitCode marks an item as canceled by the user; zero means DefaultCancelExitCode
	CancelExitCode int
	// FS is used to fingerprint backing files at execution; nil skips fingerprinting
	FS domain.FileSystem
	// TempPath allocates intermediate files for unbound temp-file outputs; nil leaves them empty
	TempPath domain.TempPathFunc
	Log      hclog.Logger
}

// Session executes one Pipeline sequentially
type Session struct {
	ID string

	pipeline *domain.Pipeline
	launcher Launcher
	events   chan<- Event
	opts     Options
	log      hclog.Logger

	ctx      context.Context
	state    State
	outcome  Outcome
	current  int
	proc     executor.Handle
	modTime  time.Time
	executed []*domain.RuntimeRecord
	err      error

	createdAt  time.Time
	finishedAt time.Time
}

// New creates a session for p. Events are sent on events, which may be nil.
func New(p *domain.Pipeline, launcher Launcher, events chan<- Event, opts Options) *Session {
	if opts.CancelExitCode == 0 {
		opts.CancelExitCode = DefaultCancelExitCode
	}
	id := uuid.NewString()
	return &Session{
		ID:        id,
		pipeline:  p,
		launcher:  launcher,
		events:    events,
		opts:      opts,
		log:       logging.OrNull(opts.Log).Named("session").With("session", id[:8]),
		state:     Created,
		createdAt: time.Now(),
	}
}

// State returns the current state
func (s *Session) State() State { return s.state }

// Outcome returns the outcome once the session is done
func (s *Session) Outcome() Outcome { return s.outcome }

// Err returns the error that failed the session, if any
func (s *Session) Err() error { return s.err }

// Pipeline returns the owned pipeline
func (s *Session) Pipeline() *domain.Pipeline { return s.pipeline }

// Index returns the position of the current item
func (s *Session) Index() int { return s.current }

// Current returns the item being executed, or the item that stopped the pipeline
func (s *Session) Current() *domain.RuntimeRecord {
	if s.current >= s.pipeline.Len() {
		return s.pipeline.Last()
	}
	return s.pipeline.At(s.current)
}

// Executed returns the records whose process ran to an exit, in order
func (s *Session) Executed() []*domain.RuntimeRecord {
	out := make([]*domain.RuntimeRecord, len(s.executed))
	copy(out, s.executed)
	return out
}

// CreatedAt returns when the session was created
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// FinishedAt returns when the session reached an end state
func (s *Session) FinishedAt() time.Time { return s.finishedAt }

// Succeeded reports a session that finished every item successfully
func (s *Session) Succeeded() bool { return s.state == Finished && s.outcome == Success }

// Start launches the first item. Only legal from Created.
func (s *Session) Start(ctx context.Context) error {
	if s.state != Created {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, s.state)
	}
	if s.pipeline.Len() == 0 {
		return ErrEmptyPipeline
	}
	if s.opts.TempPath != nil {
		if err := s.pipeline.AllocateTempFiles(s.opts.TempPath); err != nil {
			return err
		}
	}
	s.ctx = ctx
	s.pipeline.UpdateRelations()
	s.state = Running
	s.log.Info("session started", "records", s.pipeline.Len())
	s.emit(Event{Kind: EventStarted, Record: s.Current()})
	s.launchCurrent()
	return nil
}

// Tick polls the owned process and advances the pipeline when it exited
func (s *Session) Tick() {
	if !s.state.Active() || s.proc == nil {
		return
	}
	st := s.proc.Poll()
	if st.Running {
		s.emitProgress(Event{Kind: EventProgress, Record: s.Current(), Elapsed: st.Elapsed})
		return
	}

	rec := s.Current()
	canceled := s.state == Terminating || st.ExitCode == s.opts.CancelExitCode
	s.completeCurrent(st.StartedAt, st.Elapsed, st.ExitCode, canceled)
	s.proc = nil

	switch {
	case s.state == Terminating:
		s.finish(Terminated, Canceled, nil)
	case st.Err != nil:
		s.finish(Finished, Failed, fmt.Errorf("%s: %w", rec.Name(), st.Err))
	case canceled:
		s.finish(Finished, Canceled, nil)
	case st.ExitCode != 0:
		s.finish(Finished, Failed, nil)
	default:
		s.current++
		if s.current >= s.pipeline.Len() {
			s.finish(Finished, Success, nil)
			return
		}
		s.launchCurrent()
	}
}

// Stop asks the running item to terminate. Only legal from Running.
func (s *Session) Stop() error {
	if s.state != Running {
		return fmt.Errorf("%w: stop from %s", ErrInvalidState, s.state)
	}
	s.state = Terminating
	s.log.Info("termination requested", "filter", s.Current().Name())
	if err := s.proc.RequestTerminate(); err != nil && !errors.Is(err, executor.ErrNotRunning) {
		s.log.Warn("termination request failed", "error", err)
	}
	return nil
}

// Kill ends the item of a terminating session immediately
func (s *Session) Kill() error {
	if s.state != Terminating {
		return fmt.Errorf("%w: kill from %s", ErrInvalidState, s.state)
	}
	s.kill()
	return nil
}

// ForceKill ends the running or terminating item immediately
func (s *Session) ForceKill() error {
	if !s.state.Active() {
		return fmt.Errorf("%w: force kill from %s", ErrInvalidState, s.state)
	}
	s.kill()
	return nil
}

func (s *Session) kill() {
	if err := s.proc.Kill(); err != nil && !errors.Is(err, executor.ErrNotRunning) {
		s.log.Warn("kill failed", "error", err)
	}
	st := s.proc.Poll()
	code := killedExitCode
	if !st.Running {
		code = st.ExitCode
	}
	s.completeCurrent(st.StartedAt, st.Elapsed, code, true)
	s.proc = nil
	s.log.Warn("session killed", "filter", s.Current().Name())
	s.finish(Killed, Canceled, nil)
}

func (s *Session) launchCurrent() {
	rec := s.Current()
	if s.opts.FS != nil {
		s.modTime, _ = s.opts.FS.ModTime(rec.BackingFilePath())
	}
	proc, err := s.launcher.Launch(s.ctx, rec)
	if err != nil {
		if cerr := rec.Complete(domain.Result{StartedAt: time.Now(), ExitCode: domain.NotRunExitCode}); cerr != nil {
			s.log.Warn("recording spawn failure", "error", cerr)
		}
		s.finish(Finished, Failed, fmt.Errorf("starting %s: %w", rec.Name(), err))
		return
	}
	s.proc = proc
	s.log.Debug("item started", "filter", rec.Name(), "run", rec.RunNo())
}

func (s *Session) completeCurrent(startedAt time.Time, elapsed time.Duration, exitCode int, canceled bool) {
	rec := s.Current()
	err := rec.Complete(domain.Result{
		StartedAt:     startedAt,
		Elapsed:       elapsed,
		ExitCode:      exitCode,
		UserCanceled:  canceled,
		ModuleModTime: s.modTime,
	})
	if err != nil {
		s.log.Warn("recording result", "filter", rec.Name(), "error", err)
		return
	}
	s.executed = append(s.executed, rec)
	s.log.Debug("item exited", "filter", rec.Name(), "run", rec.RunNo(), "exit_code", exitCode, "canceled", canceled)
}

func (s *Session) finish(state State, outcome Outcome, err error) {
	s.state = state
	s.outcome = outcome
	s.err = err
	s.finishedAt = time.Now()
	if err != nil {
		s.log.Error("session failed", "error", err)
	} else {
		s.log.Info("session done", "state", state, "outcome", outcome)
	}
	s.emit(Event{Kind: EventFinished, Record: s.Current(), Pipeline: s.pipeline, Err: err})
}

// DisposedEvent builds the notification for the session being disposed
func (s *Session) DisposedEvent() Event {
	ev := s.stamp(Event{Kind: EventDisposed, Pipeline: s.pipeline})
	if s.Succeeded() {
		ev.Outputs = s.pipeline.OutputsToShow()
	}
	return ev
}

func (s *Session) stamp(ev Event) Event {
	ev.SessionID = s.ID
	ev.State = s.state
	ev.Outcome = s.outcome
	ev.Index = s.current
	ev.Total = s.pipeline.Len()
	ev.At = time.Now()
	return ev
}

func (s *Session) emit(ev Event) {
	if s.events == nil {
		return
	}
	s.events <- s.stamp(ev)
}

// emitProgress drops the event when the channel is full
func (s *Session) emitProgress(ev Event) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- s.stamp(ev):
	default:
	}
}

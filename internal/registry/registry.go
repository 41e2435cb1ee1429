// Package registry manages every execution session of the application.
//
// All methods must be called from one control thread: the dashboard's update
// loop or Run. Other goroutines hand work to that thread with Post.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hochfrequenz/filter-runner/internal/confirm"
	"github.com/hochfrequenz/filter-runner/internal/domain"
	"github.com/hochfrequenz/filter-runner/internal/logging"
	"github.com/hochfrequenz/filter-runner/internal/runstore"
	"github.com/hochfrequenz/filter-runner/internal/session"
)

const (
	eventBuffer      = 64
	subscriberBuffer = 256
)

var (
	// ErrShutdownVetoed is returned when the user declines to kill active sessions
	ErrShutdownVetoed = errors.New("shutdown canceled: sessions are still running")
	// ErrClosed is returned by Submit after Shutdown
	ErrClosed = errors.New("registry is shut down")
	// ErrUnknownSession is returned for an id that is not registered
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionActive is returned when disposing a session that still owns a process
	ErrSessionActive = errors.New("session is still active")
)

// HistoryRecorder receives the records a session executed
type HistoryRecorder interface {
	Add(ctx context.Context, rec *domain.RuntimeRecord) error
}

// SessionLog persists finished session summaries
type SessionLog interface {
	SaveSessionRun(ctx context.Context, run runstore.SessionRun) error
}

// Options configure a Registry
type Options struct {
	// AutoDispose removes sessions as soon as they are done
	AutoDispose bool
	// History receives executed records; nil disables recording
	History        HistoryRecorder
	SessionLog     SessionLog
	CancelExitCode int
	PollInterval   time.Duration
	FS             domain.FileSystem
	// TempPath allocates intermediate files for chained filters
	TempPath domain.TempPathFunc
	Log      hclog.Logger
}

// Registry owns all sessions and pumps their events
type Registry struct {
	launcher session.Launcher
	opts     Options
	log      hclog.Logger
	ctx      context.Context

	sessions    []*session.Session
	recorded    map[string]bool
	events      chan session.Event
	subscribers []chan session.Event

	postMu sync.Mutex
	posts  []func()
	closed      bool
}

// New creates an empty Registry
func New(launcher session.Launcher, opts Options) *Registry {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	return &Registry{
		launcher: launcher,
		opts:     opts,
		log:      logging.OrNull(opts.Log).Named("registry"),
		ctx:      context.Background(),
		recorded: make(map[string]bool),
		events:   make(chan session.Event, eventBuffer),
	}
}

// NewSession creates a session wired to this registry without registering it
func (r *Registry) NewSession(p *domain.Pipeline) *session.Session {
	return session.New(p, r.launcher, r.events, session.Options{
		CancelExitCode: r.opts.CancelExitCode,
		FS:             r.opts.FS,
		TempPath:       r.opts.TempPath,
		Log:            r.opts.Log,
	})
}

// Add registers a session. Several sessions may run at the same time.
func (r *Registry) Add(s *session.Session) error {
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.Get(s.ID); ok {
		return fmt.Errorf("session %s already registered", s.ID)
	}
	r.sessions = append(r.sessions, s)
	return nil
}

// Submit creates, registers and starts a session for p. It returns as soon as
// the first item was launched.
func (r *Registry) Submit(ctx context.Context, p *domain.Pipeline) (*session.Session, error) {
	if r.closed {
		return nil, ErrClosed
	}
	s := r.NewSession(p)
	if err := r.Add(s); err != nil {
		return nil, err
	}
	err := s.Start(ctx)
	r.pump()
	if err != nil {
		r.remove(s.ID)
		return nil, err
	}
	r.log.Info("session submitted", "session", s.ID, "filters", p.Names())
	return s, nil
}

// Get looks up a session by id
func (r *Registry) Get(id string) (*session.Session, bool) {
	for _, s := range r.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Sessions returns the registered sessions in submission order
func (r *Registry) Sessions() []*session.Session {
	out := make([]*session.Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// ActiveCount returns how many sessions own a process
func (r *Registry) ActiveCount() int {
	n := 0
	for _, s := range r.sessions {
		if s.State().Active() {
			n++
		}
	}
	return n
}

// Closed reports whether Shutdown completed
func (r *Registry) Closed() bool { return r.closed }

// StopSelected stops the sessions with the given ids.
//
// Running sessions are asked to terminate. Only when none of them was running
// and at least one is already terminating, c is asked once whether to kill the
// terminating ones. Declining leaves every session as it was.
func (r *Registry) StopSelected(ids []string, c confirm.Confirmer) error {
	var targets []*session.Session
	for _, id := range ids {
		s, ok := r.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSession, id)
		}
		targets = append(targets, s)
	}
	r.stop(targets, c)
	return nil
}

// StopAll stops every registered session the way StopSelected does
func (r *Registry) StopAll(c confirm.Confirmer) {
	r.stop(r.Sessions(), c)
}

func (r *Registry) stop(targets []*session.Session, c confirm.Confirmer) {
	defer r.pump()

	stopped := 0
	var terminating []*session.Session
	for _, s := range targets {
		switch s.State() {
		case session.Running:
			if err := s.Stop(); err != nil {
				r.log.Warn("stop failed", "session", s.ID, "error", err)
				continue
			}
			stopped++
		case session.Terminating:
			terminating = append(terminating, s)
		}
	}
	if stopped > 0 || len(terminating) == 0 {
		return
	}

	prompt := confirm.Prompt{
		Kind:    confirm.KillTerminating,
		Message: fmt.Sprintf("%d session(s) did not react to the stop request. Kill them?", len(terminating)),
		Details: describe(terminating),
	}
	if !c.Confirm(prompt) {
		return
	}
	for _, s := range terminating {
		if err := s.Kill(); err != nil {
			r.log.Warn("kill failed", "session", s.ID, "error", err)
			continue
		}
		r.log.Warn("session killed", "session", s.ID, "filter", s.Current().Name())
		// every kill emits a Finished event; drain before the buffer fills
		r.pump()
	}
}

// Shutdown ends every session. Active sessions are force-killed after one
// confirmation; declining returns ErrShutdownVetoed and changes nothing.
// Afterwards all sessions are disposed and Submit fails with ErrClosed.
func (r *Registry) Shutdown(c confirm.Confirmer) error {
	if r.closed {
		return nil
	}

	var active []*session.Session
	for _, s := range r.sessions {
		if s.State().Active() {
			active = append(active, s)
		}
	}
	if len(active) > 0 {
		prompt := confirm.Prompt{
			Kind:    confirm.KillOnShutdown,
			Message: fmt.Sprintf("%d session(s) are still running. Kill them and quit?", len(active)),
			Details: describe(active),
		}
		if !c.Confirm(prompt) {
			return ErrShutdownVetoed
		}
		for _, s := range active {
			if err := s.ForceKill(); err != nil {
				r.log.Warn("kill failed", "session", s.ID, "error", err)
				continue
			}
			r.log.Warn("session killed on shutdown", "session", s.ID, "filter", s.Current().Name())
			r.pump()
		}
	}
	r.pump()

	for _, s := range r.Sessions() {
		if err := r.Dispose(s.ID); err != nil {
			r.log.Warn("dispose on shutdown failed", "session", s.ID, "error", err)
		}
	}
	r.closed = true
	r.log.Info("registry shut down")
	for _, ch := range r.subscribers {
		close(ch)
	}
	r.subscribers = nil
	return nil
}

// Dispose removes a session that is no longer active
func (r *Registry) Dispose(id string) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if s.State().Active() {
		return fmt.Errorf("%w: %s", ErrSessionActive, id)
	}
	r.remove(id)
	r.publish(s.DisposedEvent())
	return nil
}

// Tick runs posted work, advances every active session and pumps events
func (r *Registry) Tick() {
	r.runPosted()
	for _, s := range r.Sessions() {
		if s.State().Active() {
			s.Tick()
			r.pump()
		}
	}
}

// Post queues fn to run on the control thread during the next Tick. It never
// blocks and may be called from any goroutine, including from a posted fn.
func (r *Registry) Post(fn func()) {
	r.postMu.Lock()
	r.posts = append(r.posts, fn)
	r.postMu.Unlock()
}

func (r *Registry) pendingPosts() int {
	r.postMu.Lock()
	defer r.postMu.Unlock()
	return len(r.posts)
}

// Subscribe returns a channel receiving every session event. Slow subscribers
// miss progress events; the channel is closed on Shutdown.
func (r *Registry) Subscribe() <-chan session.Event {
	ch := make(chan session.Event, subscriberBuffer)
	r.subscribers = append(r.subscribers, ch)
	return ch
}

// Run is the headless control loop. It ticks until ctx is done or the registry
// is shut down.
func (r *Registry) Run(ctx context.Context) error {
	return r.run(ctx, false)
}

// RunUntilIdle ticks until no session is active anymore
func (r *Registry) RunUntilIdle(ctx context.Context) error {
	return r.run(ctx, true)
}

func (r *Registry) run(ctx context.Context, untilIdle bool) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		if r.closed || (untilIdle && r.ActiveCount() == 0 && r.pendingPosts() == 0) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Tick()
		}
	}
}

// runPosted runs the work queued so far. Work posted while it runs waits for
// the next Tick.
func (r *Registry) runPosted() {
	r.postMu.Lock()
	queued := r.posts
	r.posts = nil
	r.postMu.Unlock()

	for _, fn := range queued {
		fn()
	}
}

// pump drains session events, records finished sessions and fans events out
func (r *Registry) pump() {
	for {
		select {
		case ev := <-r.events:
			if ev.Kind == session.EventFinished {
				r.onFinished(ev.SessionID)
			}
			r.publish(ev)
			if ev.Kind == session.EventFinished && r.opts.AutoDispose {
				if err := r.Dispose(ev.SessionID); err != nil {
					r.log.Debug("auto dispose skipped", "session", ev.SessionID, "error", err)
				}
			}
		default:
			return
		}
	}
}

func (r *Registry) onFinished(id string) {
	s, ok := r.Get(id)
	if !ok || r.recorded[id] {
		return
	}
	r.recorded[id] = true

	if r.opts.History != nil {
		for _, rec := range s.Executed() {
			if err := r.opts.History.Add(r.ctx, rec); err != nil {
				r.log.Error("recording history", "session", id, "error", err)
			}
		}
	}
	if r.opts.SessionLog != nil {
		run := runstore.SessionRun{
			ID:         s.ID,
			State:      s.State().String(),
			Outcome:    s.Outcome().String(),
			Records:    s.Pipeline().Len(),
			Executed:   len(s.Executed()),
			StartedAt:  s.CreatedAt(),
			FinishedAt: s.FinishedAt(),
		}
		if err := s.Err(); err != nil {
			run.ErrorMessage = err.Error()
		}
		if err := r.opts.SessionLog.SaveSessionRun(r.ctx, run); err != nil {
			r.log.Error("saving session run", "session", id, "error", err)
		}
	}
}

func (r *Registry) publish(ev session.Event) {
	for _, ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
			if ev.Kind != session.EventProgress {
				r.log.Warn("subscriber full, event dropped", "kind", ev.Kind, "session", ev.SessionID)
			}
		}
	}
}

func (r *Registry) remove(id string) {
	for i, s := range r.sessions {
		if s.ID == id {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			delete(r.recorded, id)
			return
		}
	}
}

func describe(sessions []*session.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = fmt.Sprintf("%s: %s (%d/%d)", s.ID[:8], s.Current().Name(), s.Index()+1, s.Pipeline().Len())
	}
	return out
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/filter-runner/internal/confirm"
	"github.com/hochfrequenz/filter-runner/internal/domain"
	"github.com/hochfrequenz/filter-runner/internal/executor"
	"github.com/hochfrequenz/filter-runner/internal/history"
	"github.com/hochfrequenz/filter-runner/internal/runstore"
	"github.com/hochfrequenz/filter-runner/internal/session"
)

type fakeProc struct {
	running  bool
	exitCode int
	killed   bool
}

func (p *fakeProc) Poll() executor.Status {
	return executor.Status{Running: p.running, ExitCode: p.exitCode, Elapsed: time.Second}
}

func (p *fakeProc) RequestTerminate() error { return nil }

func (p *fakeProc) Kill() error {
	p.killed = true
	p.running = false
	p.exitCode = 137
	return nil
}

type fakeLauncher struct {
	procs map[string]*fakeProc
	fail  error
}

func newLauncher() *fakeLauncher {
	return &fakeLauncher{procs: make(map[string]*fakeProc)}
}

func (l *fakeLauncher) Launch(_ context.Context, rec *domain.RuntimeRecord) (executor.Handle, error) {
	if l.fail != nil {
		return nil, l.fail
	}
	p := &fakeProc{running: true}
	l.procs[rec.Name()] = p
	return p, nil
}

func (l *fakeLauncher) exit(name string, code int) {
	l.procs[name].running = false
	l.procs[name].exitCode = code
}

func pipeline(names ...string) *domain.Pipeline {
	p := domain.NewPipeline()
	for _, n := range names {
		args := []domain.Argument{{Type: domain.ArgOut, Value: "/out/" + n, ShowAfterRun: true}}
		p.Add(domain.NewRecord(domain.NewDefinitionRef("/defs/"+n), domain.ModuleFile{Type: domain.ModuleExec, Path: n}, time.Time{}, args))
	}
	return p
}

func submit(t *testing.T, r *Registry, names ...string) *session.Session {
	t.Helper()
	s, err := r.Submit(context.Background(), pipeline(names...))
	require.NoError(t, err)
	return s
}

func TestRegistry_ConcurrentSessions(t *testing.T) {
	l := newLauncher()
	r := New(l, Options{})

	a := submit(t, r, "a")
	b := submit(t, r, "b")
	assert.Equal(t, 2, r.ActiveCount())

	l.exit("a", 0)
	r.Tick()
	assert.Equal(t, session.Finished, a.State())
	assert.Equal(t, session.Running, b.State())
	assert.Len(t, r.Sessions(), 2)
}

func TestRegistry_StopAllTwoPhase(t *testing.T) {
	l := newLauncher()
	r := New(l, Options{})
	a := submit(t, r, "a")
	b := submit(t, r, "b")

	phase1 := &confirm.Recorder{Answer: true}
	r.StopAll(phase1)
	assert.False(t, phase1.WasAsked(), "stopping running sessions needs no confirmation")
	assert.Equal(t, session.Terminating, a.State())
	assert.Equal(t, session.Terminating, b.State())

	declined := &confirm.Recorder{Answer: false}
	r.StopAll(declined)
	require.Len(t, declined.Asked, 1)
	assert.Equal(t, confirm.KillTerminating, declined.Asked[0].Kind)
	assert.Equal(t, session.Terminating, a.State())
	assert.Equal(t, session.Terminating, b.State())
	assert.False(t, l.procs["a"].killed)

	r.StopAll(confirm.Always)
	assert.Equal(t, session.Killed, a.State())
	assert.Equal(t, session.Killed, b.State())
	assert.True(t, l.procs["a"].killed)
	assert.True(t, l.procs["b"].killed)
}

func TestRegistry_StopAllMixedDoesNotKill(t *testing.T) {
	l := newLauncher()
	r := New(l, Options{})
	a := submit(t, r, "a")
	require.NoError(t, r.StopSelected([]string{a.ID}, confirm.Never))
	b := submit(t, r, "b")

	asked := &confirm.Recorder{Answer: true}
	r.StopAll(asked)
	assert.False(t, asked.WasAsked(), "phase 2 only runs when phase 1 changed nothing")
	assert.Equal(t, session.Terminating, a.State())
	assert.Equal(t, session.Terminating, b.State())
}

func TestRegistry_StopSelected(t *testing.T) {
	l := newLauncher()
	r := New(l, Options{})
	a := submit(t, r, "a")
	b := submit(t, r, "b")

	require.NoError(t, r.StopSelected([]string{b.ID}, confirm.Never))
	assert.Equal(t, session.Running, a.State())
	assert.Equal(t, session.Terminating, b.State())

	err := r.StopSelected([]string{"nope"}, confirm.Never)
	assert.ErrorIs(t, err, ErrUnknownSession)

	l.exit("b", 143)
	r.Tick()
	assert.Equal(t, session.Terminated, b.State())
}

func TestRegistry_ShutdownVetoed(t *testing.T) {
	l := newLauncher()
	r := New(l, Options{})
	a := submit(t, r, "a")

	err := r.Shutdown(confirm.Never)
	assert.ErrorIs(t, err, ErrShutdownVetoed)
	assert.Equal(t, session.Running, a.State())
	assert.Len(t, r.Sessions(), 1)
	assert.False(t, r.Closed())
}

func TestRegistry_ShutdownKillsAndDisposes(t *testing.T) {
	l := newLauncher()
	r := New(l, Options{})
	events := r.Subscribe()

	done := submit(t, r, "done")
	l.exit("done", 0)
	r.Tick()
	require.Equal(t, session.Finished, done.State())

	running := submit(t, r, "running")

	asked := &confirm.Recorder{Answer: true}
	require.NoError(t, r.Shutdown(asked))
	assert.Len(t, asked.Asked, 1, "one confirmation for all active sessions")
	assert.Equal(t, confirm.KillOnShutdown, asked.Asked[0].Kind)
	assert.Equal(t, session.Killed, running.State())
	assert.Empty(t, r.Sessions())
	assert.True(t, r.Closed())

	_, err := r.Submit(context.Background(), pipeline("late"))
	assert.ErrorIs(t, err, ErrClosed)

	disposed := 0
	for ev := range events {
		if ev.Kind == session.EventDisposed {
			disposed++
		}
	}
	assert.Equal(t, 2, disposed)
}

func TestRegistry_ShutdownIdleDoesNotAsk(t *testing.T) {
	r := New(newLauncher(), Options{})
	asked := &confirm.Recorder{}
	require.NoError(t, r.Shutdown(asked))
	assert.False(t, asked.WasAsked())
}

func TestRegistry_DisposeCarriesOutputs(t *testing.T) {
	l := newLauncher()
	r := New(l, Options{})
	events := r.Subscribe()
	s := submit(t, r, "a", "b")

	assert.ErrorIs(t, r.Dispose(s.ID), ErrSessionActive)

	l.exit("a", 0)
	r.Tick()
	l.exit("b", 0)
	r.Tick()
	require.NoError(t, r.Dispose(s.ID))
	assert.Empty(t, r.Sessions())

	var disposed *session.Event
	for len(events) > 0 {
		ev := <-events
		if ev.Kind == session.EventDisposed {
			disposed = &ev
		}
	}
	require.NotNil(t, disposed)
	assert.Equal(t, []string{"/out/b"}, disposed.Outputs)
}

func TestRegistry_RecordsExecutedIntoHistory(t *testing.T) {
	l := newLauncher()
	h := history.New(10, nil, nil)
	r := New(l, Options{History: h})

	s := submit(t, r, "a", "b", "c")
	l.exit("a", 0)
	r.Tick()
	l.exit("b", 4)
	r.Tick()

	require.Equal(t, session.Failed, s.Outcome())
	rows := h.Rows()
	require.Len(t, rows, 2, "only executed records are recorded")
	assert.Equal(t, "a", rows[0].Name)
	assert.Equal(t, 4, rows[1].ExitCode)

	r.Tick()
	assert.Equal(t, 2, h.Len(), "a session is recorded once")
}

func TestRegistry_AutoDispose(t *testing.T) {
	l := newLauncher()
	r := New(l, Options{AutoDispose: true})
	submit(t, r, "a")
	l.exit("a", 0)
	r.Tick()
	assert.Empty(t, r.Sessions())
}

func TestRegistry_SpawnFailureFinishesSession(t *testing.T) {
	l := newLauncher()
	l.fail = errors.New("exec format error")
	r := New(l, Options{})

	s := submit(t, r, "a")
	assert.Equal(t, session.Finished, s.State())
	assert.Equal(t, session.Failed, s.Outcome())
	assert.Equal(t, 0, r.ActiveCount())
}

type memSessionLog struct{ runs []runstore.SessionRun }

func (m *memSessionLog) SaveSessionRun(_ context.Context, run runstore.SessionRun) error {
	m.runs = append(m.runs, run)
	return nil
}

func TestRegistry_SessionLog(t *testing.T) {
	l := newLauncher()
	log := &memSessionLog{}
	r := New(l, Options{SessionLog: log})

	s := submit(t, r, "a")
	r.StopAll(confirm.Never)
	r.StopAll(confirm.Always)

	require.Len(t, log.runs, 1)
	assert.Equal(t, s.ID, log.runs[0].ID)
	assert.Equal(t, "killed", log.runs[0].State)
	assert.Equal(t, "canceled", log.runs[0].Outcome)
}

func TestRegistry_PostRunsOnTick(t *testing.T) {
	r := New(newLauncher(), Options{})
	ran := false
	r.Post(func() { ran = true })
	assert.False(t, ran)
	r.Tick()
	assert.True(t, ran)
}

func TestRegistry_PostFromPostedWork(t *testing.T) {
	r := New(newLauncher(), Options{})
	ran := 0
	r.Post(func() {
		for i := 0; i < 2*eventBuffer; i++ {
			r.Post(func() { ran++ })
		}
	})

	r.Tick()
	assert.Equal(t, 0, ran, "work posted during a tick runs on the next one")
	r.Tick()
	assert.Equal(t, 2*eventBuffer, ran)
}

// submitMany starts more sessions than the event buffer holds
func submitMany(t *testing.T, r *Registry) []*session.Session {
	t.Helper()
	sessions := make([]*session.Session, eventBuffer+6)
	for i := range sessions {
		sessions[i] = submit(t, r, fmt.Sprintf("f%03d", i))
	}
	return sessions
}

// withinTimeout fails the test when fn does not return in time
func withinTimeout(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s blocked", what)
	}
}

func TestRegistry_ShutdownManySessions(t *testing.T) {
	l := newLauncher()
	r := New(l, Options{})
	sessions := submitMany(t, r)

	var err error
	withinTimeout(t, "Shutdown", func() { err = r.Shutdown(confirm.Always) })
	require.NoError(t, err)
	assert.True(t, r.Closed())
	assert.Empty(t, r.Sessions())
	for _, s := range sessions {
		assert.Equal(t, session.Killed, s.State())
	}
	for name, p := range l.procs {
		assert.True(t, p.killed, name)
	}
}

func TestRegistry_StopAllKillManySessions(t *testing.T) {
	l := newLauncher()
	h := history.New(100, nil, nil)
	r := New(l, Options{History: h})
	sessions := submitMany(t, r)

	r.StopAll(confirm.Never)
	withinTimeout(t, "StopAll", func() { r.StopAll(confirm.Always) })
	for _, s := range sessions {
		assert.Equal(t, session.Killed, s.State())
	}
	assert.Equal(t, len(sessions), h.Len(), "every killed session is recorded")
	assert.Equal(t, 0, r.ActiveCount())
}

func TestRegistry_RunUntilIdle(t *testing.T) {
	l := newLauncher()
	r := New(l, Options{PollInterval: time.Millisecond})
	s := submit(t, r, "a")
	l.exit("a", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.RunUntilIdle(ctx))
	assert.Equal(t, session.Finished, s.State())
}

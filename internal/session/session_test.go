package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/filter-runner/internal/domain"
	"github.com/hochfrequenz/filter-runner/internal/executor"
)

type fakeProc struct {
	running     bool
	exitCode    int
	err         error
	terminateRq int
	killed      bool
}

func (p *fakeProc) Poll() executor.Status {
	return executor.Status{Running: p.running, ExitCode: p.exitCode, Elapsed: time.Second, Err: p.err}
}

func (p *fakeProc) RequestTerminate() error {
	p.terminateRq++
	return nil
}

func (p *fakeProc) Kill() error {
	p.killed = true
	p.running = false
	p.exitCode = 137
	return nil
}

func (p *fakeProc) exit(code int) {
	p.running = false
	p.exitCode = code
}

type fakeLauncher struct {
	procs    []*fakeProc
	launched []string
	fail     map[string]error
}

func (l *fakeLauncher) Launch(_ context.Context, rec *domain.RuntimeRecord) (executor.Handle, error) {
	if err := l.fail[rec.Name()]; err != nil {
		return nil, err
	}
	p := &fakeProc{running: true}
	l.procs = append(l.procs, p)
	l.launched = append(l.launched, rec.Name())
	return p, nil
}

func (l *fakeLauncher) last() *fakeProc { return l.procs[len(l.procs)-1] }

func record(name string) *domain.RuntimeRecord {
	module := domain.ModuleFile{Type: domain.ModuleExec, Path: name}
	args := []domain.Argument{
		{Type: domain.ArgIn, Param: domain.ParamTempFile},
		{Type: domain.ArgOut, Param: domain.ParamTempFile, ShowAfterRun: true, Value: "/tmp/" + name + ".out"},
	}
	return domain.NewRecord(domain.NewDefinitionRef("/defs/"+name), module, time.Time{}, args)
}

func newSession(launcher Launcher, names ...string) (*Session, chan Event) {
	p := domain.NewPipeline()
	for _, n := range names {
		p.Add(record(n))
	}
	events := make(chan Event, 64)
	return New(p, launcher, events, Options{}), events
}

func drain(ch chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func kinds(evs []Event) []EventKind {
	out := make([]EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func TestSession_RunsItemsInOrder(t *testing.T) {
	l := &fakeLauncher{}
	s, events := newSession(l, "a", "b", "c")

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, Running, s.State())
	assert.Equal(t, []string{"a"}, l.launched)

	s.Tick()
	assert.Equal(t, []string{"a"}, l.launched, "next item must wait for exit")

	l.last().exit(0)
	s.Tick()
	assert.Equal(t, []string{"a", "b"}, l.launched)
	assert.Equal(t, 1, s.Index())

	l.last().exit(0)
	s.Tick()
	l.last().exit(0)
	s.Tick()

	assert.Equal(t, Finished, s.State())
	assert.Equal(t, Success, s.Outcome())
	assert.True(t, s.Succeeded())
	assert.Len(t, s.Executed(), 3)
	for i, rec := range s.Pipeline().Records() {
		assert.Equal(t, i+1, rec.RunNo())
		assert.True(t, rec.Succeeded())
	}

	evs := drain(events)
	assert.Equal(t, []EventKind{EventStarted, EventProgress, EventFinished}, kinds(evs))
	assert.Equal(t, s.ID, evs[0].SessionID)
	assert.Equal(t, 3, evs[2].Total)
}

func TestSession_FailureStopsPipeline(t *testing.T) {
	l := &fakeLauncher{}
	s, _ := newSession(l, "a", "b", "c")
	require.NoError(t, s.Start(context.Background()))

	l.last().exit(0)
	s.Tick()
	l.last().exit(2)
	s.Tick()

	assert.Equal(t, Finished, s.State())
	assert.Equal(t, Failed, s.Outcome())
	assert.Equal(t, []string{"a", "b"}, l.launched)
	assert.Equal(t, "b", s.Current().Name())
	assert.Equal(t, 2, s.Current().ExitCode())
	assert.False(t, s.Pipeline().At(2).Completed())
	assert.Len(t, s.Executed(), 2)
}

func TestSession_CancelExitCode(t *testing.T) {
	l := &fakeLauncher{}
	s, _ := newSession(l, "a", "b")
	require.NoError(t, s.Start(context.Background()))

	l.last().exit(DefaultCancelExitCode)
	s.Tick()

	assert.Equal(t, Finished, s.State())
	assert.Equal(t, Canceled, s.Outcome())
	assert.True(t, s.Current().UserCanceled())
	assert.False(t, s.Current().Succeeded())
	assert.Nil(t, s.Err(), "cancellation is not an error")
}

func TestSession_SpawnFailure(t *testing.T) {
	l := &fakeLauncher{fail: map[string]error{"b": errors.New("no such file")}}
	s, events := newSession(l, "a", "b")
	require.NoError(t, s.Start(context.Background()))

	l.last().exit(0)
	s.Tick()

	assert.Equal(t, Finished, s.State())
	assert.Equal(t, Failed, s.Outcome())
	require.Error(t, s.Err())
	assert.Contains(t, s.Err().Error(), "no such file")
	assert.Equal(t, domain.NotRunExitCode, s.Pipeline().At(1).ExitCode())
	assert.Len(t, s.Executed(), 1, "a record that never started is not executed")

	evs := drain(events)
	last := evs[len(evs)-1]
	assert.Equal(t, EventFinished, last.Kind)
	assert.Error(t, last.Err)
}

func TestSession_StopThenExit(t *testing.T) {
	l := &fakeLauncher{}
	s, _ := newSession(l, "a", "b")
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop())
	assert.Equal(t, Terminating, s.State())
	assert.Equal(t, 1, l.last().terminateRq)
	assert.True(t, l.last().running, "stop must not end the process")

	err := s.Stop()
	assert.ErrorIs(t, err, ErrInvalidState)

	s.Tick()
	assert.Equal(t, Terminating, s.State())

	l.last().exit(143)
	s.Tick()
	assert.Equal(t, Terminated, s.State())
	assert.Equal(t, Canceled, s.Outcome())
	assert.True(t, s.Current().UserCanceled())
	assert.Equal(t, []string{"a"}, l.launched)
}

func TestSession_KillOnlyFromTerminating(t *testing.T) {
	l := &fakeLauncher{}
	s, events := newSession(l, "a")
	require.NoError(t, s.Start(context.Background()))

	assert.ErrorIs(t, s.Kill(), ErrInvalidState)
	assert.Equal(t, Running, s.State())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Kill())
	assert.Equal(t, Killed, s.State())
	assert.True(t, l.last().killed)
	assert.True(t, s.Current().UserCanceled())

	evs := drain(events)
	assert.Equal(t, EventFinished, evs[len(evs)-1].Kind)
	assert.Equal(t, Killed, evs[len(evs)-1].State)
}

func TestSession_ForceKillFromRunning(t *testing.T) {
	l := &fakeLauncher{}
	s, _ := newSession(l, "a", "b")
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.ForceKill())
	assert.Equal(t, Killed, s.State())
	assert.Equal(t, []string{"a"}, l.launched)
	assert.ErrorIs(t, s.ForceKill(), ErrInvalidState)
}

func TestSession_StartTwice(t *testing.T) {
	l := &fakeLauncher{}
	s, _ := newSession(l, "a")
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrInvalidState)

	empty, _ := newSession(l)
	assert.ErrorIs(t, empty.Start(context.Background()), ErrEmptyPipeline)
}

func TestSession_DisposedEventOutputs(t *testing.T) {
	l := &fakeLauncher{}
	s, _ := newSession(l, "a", "b")
	require.NoError(t, s.Start(context.Background()))
	l.last().exit(0)
	s.Tick()
	l.last().exit(0)
	s.Tick()

	ev := s.DisposedEvent()
	assert.Equal(t, EventDisposed, ev.Kind)
	assert.Equal(t, []string{"/tmp/b.out"}, ev.Outputs)

	failed, _ := newSession(l, "c")
	require.NoError(t, failed.Start(context.Background()))
	l.last().exit(1)
	failed.Tick()
	assert.Empty(t, failed.DisposedEvent().Outputs)
}

func chainedPipeline() *domain.Pipeline {
	exec := func(name string) domain.ModuleFile { return domain.ModuleFile{Type: domain.ModuleExec, Path: name} }
	a := domain.NewRecord(domain.NewDefinitionRef("/defs/a"), exec("a"), time.Time{}, []domain.Argument{
		{Type: domain.ArgIn, Value: "/data/in.csv"},
		{Type: domain.ArgOut, Param: domain.ParamTempFile},
	})
	b := domain.NewRecord(domain.NewDefinitionRef("/defs/b"), exec("b"), time.Time{}, []domain.Argument{
		{Type: domain.ArgIn, Param: domain.ParamTempFile},
		{Type: domain.ArgOut, Value: "/data/out.csv", ShowAfterRun: true},
	})
	return domain.NewPipeline(a, b)
}

func TestSession_StartAllocatesTempFiles(t *testing.T) {
	l := &fakeLauncher{}
	p := chainedPipeline()
	s := New(p, l, nil, Options{TempPath: func(rec *domain.RuntimeRecord, arg int) (string, error) {
		return "/scratch/" + rec.Name() + ".tmp", nil
	}})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"/data/in.csv", "/scratch/a.tmp"}, p.At(0).Values())
	assert.Equal(t, []string{"/scratch/a.tmp", "/data/out.csv"}, p.At(1).Values())
	assert.Equal(t, []string{"/data/out.csv"}, p.OutputsToShow())
}

func TestSession_TempAllocationFailureDoesNotStart(t *testing.T) {
	l := &fakeLauncher{}
	boom := errors.New("read-only filesystem")
	s := New(chainedPipeline(), l, nil, Options{TempPath: func(*domain.RuntimeRecord, int) (string, error) {
		return "", boom
	}})

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Created, s.State())
	assert.Empty(t, l.launched)
}

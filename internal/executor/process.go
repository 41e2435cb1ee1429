package executor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxOutputLines bounds the in-memory output tail of one process
const maxOutputLines = 200

// ErrNotRunning is returned when signalling a process that already exited
var ErrNotRunning = errors.New("process is not running")

// Status is a snapshot of a process as seen by Poll
type Status struct {
	Running   bool
	ExitCode  int
	StartedAt time.Time
	Elapsed   time.Duration
	// Err is set when waiting for the process failed for a reason other than a non-zero exit
	Err error
}

// Process is one running filter child process
type Process struct {
	ID      string
	Name    string
	PID     int
	LogPath string

	cmd       *exec.Cmd
	logFile   *os.File
	startedAt time.Time
	done      chan struct{}

	mu         sync.Mutex
	output     []string
	finishedAt time.Time
	exitCode   int
	err        error
	exited     bool
}

// Poll returns the current state without blocking
func (p *Process) Poll() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.exited {
		return Status{Running: true, StartedAt: p.startedAt, Elapsed: time.Since(p.startedAt)}
	}
	return Status{
		ExitCode:  p.exitCode,
		StartedAt: p.startedAt,
		Elapsed:   p.finishedAt.Sub(p.startedAt),
		Err:       p.err,
	}
}

// Done is closed once the process exited and its output was drained
func (p *Process) Done() <-chan struct{} { return p.done }

// RequestTerminate asks the process group to shut down. It does not wait.
func (p *Process) RequestTerminate() error {
	if p.hasExited() {
		return ErrNotRunning
	}
	return terminateProcessGroup(p.cmd)
}

// Kill ends the process group immediately
func (p *Process) Kill() error {
	if p.hasExited() {
		return ErrNotRunning
	}
	return killProcessGroup(p.cmd)
}

// Output returns a copy of the most recent output lines
func (p *Process) Output() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.output))
	copy(out, p.output)
	return out
}

func (p *Process) hasExited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// streamOutput copies stdout and stderr to the log file and the output tail,
// then waits for the process and records its exit.
func (p *Process) streamOutput(stdout, stderr io.Reader) {
	var g errgroup.Group
	readLines := func(r io.Reader) func() error {
		return func() error {
			scanner := bufio.NewScanner(r)
			buf := make([]byte, 0, 64*1024)
			scanner.Buffer(buf, 1024*1024)
			for scanner.Scan() {
				p.appendLine(scanner.Text())
			}
			return scanner.Err()
		}
	}
	g.Go(readLines(stdout))
	g.Go(readLines(stderr))
	streamErr := g.Wait()

	waitErr := p.cmd.Wait()

	p.mu.Lock()
	p.finishedAt = time.Now()
	p.exitCode = exitCodeOf(p.cmd.ProcessState)
	var exitErr *exec.ExitError
	switch {
	case waitErr != nil && !errors.As(waitErr, &exitErr):
		p.err = waitErr
	case streamErr != nil:
		p.err = fmt.Errorf("reading output: %w", streamErr)
	}
	if p.logFile != nil {
		p.logFile.Close()
		p.logFile = nil
	}
	p.exited = true
	p.mu.Unlock()

	close(p.done)
}

func (p *Process) appendLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = append(p.output, line)
	if len(p.output) > maxOutputLines {
		p.output = p.output[len(p.output)-maxOutputLines:]
	}
	if p.logFile != nil {
		p.logFile.WriteString(line + "\n")
	}
}

// Package executor launches filter programs as child processes and exposes
// them through a non-blocking poll interface.
package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/hochfrequenz/filter-runner/internal/config"
	"github.com/hochfrequenz/filter-runner/internal/domain"
	"github.com/hochfrequenz/filter-runner/internal/logging"
)

// Handle is the view of a running process used by execution sessions
type Handle interface {
	Poll() Status
	RequestTerminate() error
	Kill() error
}

// Runner builds and starts filter processes
type Runner struct {
	javaCommand string
	logDir      string
	tempDir     string
	log         hclog.Logger
}

// NewRunner creates a Runner from the execution settings
func NewRunner(cfg config.ExecutionConfig, log hclog.Logger) *Runner {
	java := cfg.JavaCommand
	if java == "" {
		java = "java"
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "filter-runner")
	}
	return &Runner{
		javaCommand: java,
		logDir:      cfg.LogDir,
		tempDir:     tempDir,
		log:         logging.OrNull(log).Named("executor"),
	}
}

// TempPath returns a fresh path for the intermediate file written by argument
// arg of rec. The directory is created; the file is left to the filter.
func (r *Runner) TempPath(rec *domain.RuntimeRecord, arg int) (string, error) {
	if err := os.MkdirAll(r.tempDir, 0755); err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	name := fmt.Sprintf("%s-%d-%s.tmp", rec.Name(), arg+1, uuid.NewString()[:8])
	return filepath.Join(r.tempDir, name), nil
}

// CommandLine returns the program and arguments that run rec
func (r *Runner) CommandLine(rec *domain.RuntimeRecord) (string, []string, error) {
	module := rec.Module()
	path := rec.BackingFilePath()
	if path == "" {
		return "", nil, fmt.Errorf("%s has no backing file", rec.Name())
	}
	values := rec.Values()

	switch module.Type {
	case domain.ModuleJar, domain.ModuleClass:
		if module.MainClass == "" {
			return "", nil, fmt.Errorf("%s: module type %s requires a main class", rec.Name(), module.Type)
		}
		args := append([]string{"-cp", path, module.MainClass}, values...)
		return r.javaCommand, args, nil
	case domain.ModuleExec:
		return path, values, nil
	default:
		return "", nil, fmt.Errorf("%s: unknown module type %q", rec.Name(), module.Type)
	}
}

// Spawn starts the child process for rec. Canceling ctx kills the process group.
func (r *Runner) Spawn(ctx context.Context, rec *domain.RuntimeRecord) (*Process, error) {
	name, args, err := r.CommandLine(rec)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = rec.Definition().Dir
	configureProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	p := &Process{
		ID:   uuid.NewString(),
		Name: rec.Name(),
		cmd:  cmd,
		done: make(chan struct{}),
	}

	if r.logDir != "" {
		if err := os.MkdirAll(r.logDir, 0755); err != nil {
			return nil, fmt.Errorf("creating log dir: %w", err)
		}
		p.LogPath = filepath.Join(r.logDir, fmt.Sprintf("%s-%d-%s.log", rec.Name(), rec.RunNo(), p.ID[:8]))
		logFile, err := os.Create(p.LogPath)
		if err != nil {
			return nil, fmt.Errorf("creating log file: %w", err)
		}
		p.logFile = logFile
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.closeLog()
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.closeLog()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		p.closeLog()
		return nil, fmt.Errorf("starting %s: %w", rec.Name(), err)
	}
	p.PID = cmd.Process.Pid
	p.startedAt = time.Now()

	r.log.Debug("process started", "filter", rec.Name(), "run", rec.RunNo(), "pid", p.PID, "cmd", name)

	go p.streamOutput(stdout, stderr)
	return p, nil
}

// Launch is Spawn returning the session-facing Handle
func (r *Runner) Launch(ctx context.Context, rec *domain.RuntimeRecord) (Handle, error) {
	p, err := r.Spawn(ctx, rec)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Process) closeLog() {
	if p.logFile != nil {
		p.logFile.Close()
		p.logFile = nil
	}
}

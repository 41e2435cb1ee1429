//go:build windows

package executor

import (
	"os"
	"os/exec"

	"github.com/hochfrequenz/filter-runner/internal/domain"
)

func configureProcessGroup(cmd *exec.Cmd) {}

// Windows has no SIGTERM for console children; termination kills.
func terminateProcessGroup(cmd *exec.Cmd) error {
	return killProcessGroup(cmd)
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return ErrNotRunning
	}
	return cmd.Process.Kill()
}

func exitCodeOf(state *os.ProcessState) int {
	if state == nil {
		return domain.NotRunExitCode
	}
	return state.ExitCode()
}

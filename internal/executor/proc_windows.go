//go:build windows

package executor

import (
	"errors"
	"os"
	"os/exec"
)

// Windows has no SIGTERM for child processes; both signals kill.
var (
	termSignal = os.Kill
	killSignal = os.Kill
)

func configureCommand(_ *exec.Cmd) {}

func signalProcess(cmd *exec.Cmd, _ os.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func exitStatus(state *os.ProcessState) int {
	return state.ExitCode()
}

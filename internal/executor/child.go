package executor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"time"
)

// Child wraps the OS process running a script.
type Child struct {
	cmd      *exec.Cmd
	stdout   *os.File
	stdoutW  *os.File
	started  atomic.Bool
	exited   atomic.Bool
	exitCode atomic.Int64
	// readGrace bounds each stdout read once the child has been reaped.
	readGrace atomic.Int64
}

func newChild(argv []string, dir string, env []string, stderr io.Writer, waitDelay time.Duration) (*Child, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	configureCommand(cmd)

	// The child writes straight into the pipe so Wait never depends on the
	// read side reaching EOF.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stdout = pw
	c := &Child{cmd: cmd, stdout: pr, stdoutW: pw}
	c.exitCode.Store(-1)
	return c, nil
}

// Stdout is the child's standard output. It reaches EOF once the child and
// everything holding the pipe have exited. After LimitStdout a read that
// waits longer than the grace period fails with os.ErrDeadlineExceeded.
func (c *Child) Stdout() io.Reader { return stdoutReader{c} }

// LimitStdout bounds every further stdout read, including one in progress,
// to grace. Where the pipe has no deadline support reads stay unbounded and
// the error is returned.
func (c *Child) LimitStdout(grace time.Duration) error {
	if err := c.stdout.SetReadDeadline(time.Now().Add(grace)); err != nil {
		return err
	}
	c.readGrace.Store(int64(grace))
	return nil
}

func (c *Child) closeStdout() error { return c.stdout.Close() }

type stdoutReader struct{ c *Child }

func (r stdoutReader) Read(p []byte) (int, error) {
	if grace := time.Duration(r.c.readGrace.Load()); grace > 0 {
		if err := r.c.stdout.SetReadDeadline(time.Now().Add(grace)); err != nil {
			return 0, err
		}
	}
	return r.c.stdout.Read(p)
}

// Start launches the process.
func (c *Child) Start() error {
	err := c.cmd.Start()
	_ = c.stdoutW.Close()
	if err != nil {
		_ = c.stdout.Close()
		return err
	}
	c.started.Store(true)
	return nil
}

// Pid returns the process id, or 0 before Start.
func (c *Child) Pid() int {
	if !c.started.Load() {
		return 0
	}
	return c.cmd.Process.Pid
}

// Running reports whether the child was started and has not been reaped.
func (c *Child) Running() bool {
	return c.started.Load() && !c.exited.Load()
}

// Signal delivers sig to the child. On Unix the whole process group receives
// it. Signalling a child that is not running is a no-op.
func (c *Child) Signal(sig os.Signal) error {
	if !c.Running() {
		return nil
	}
	return signalProcess(c.cmd, sig)
}

// ExitCode returns the exit status recorded by Wait, or -1.
func (c *Child) ExitCode() int {
	return int(c.exitCode.Load())
}

// Wait reaps the child and returns its exit status. It does not wait for
// stdout to drain. Stderr gets the wait delay to finish after the child
// exits.
func (c *Child) Wait() (int, error) {
	err := c.cmd.Wait()
	c.exited.Store(true)
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
			return -1, fmt.Errorf("wait for process: %w", err)
		}
	}
	if c.cmd.ProcessState == nil {
		return -1, fmt.Errorf("wait for process: no process state")
	}
	code := exitStatus(c.cmd.ProcessState)
	c.exitCode.Store(int64(code))
	return code, nil
}

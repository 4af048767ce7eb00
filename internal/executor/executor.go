package executor

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/analyst/internal/cluster"
	"github.com/mattjoyce/analyst/internal/log"
	"github.com/mattjoyce/analyst/internal/plugin"
	"github.com/mattjoyce/analyst/internal/protocol"
	"github.com/mattjoyce/analyst/internal/workspace"
)

const (
	// DefaultKillGrace is the time we wait after SIGTERM before sending SIGKILL.
	DefaultKillGrace = 5 * time.Second

	// DefaultMaxStderrBytes caps the amount of stderr kept in memory per run.
	DefaultMaxStderrBytes = 64 * 1024

	// KilledExitStatus is reported for a run that was killed before it started.
	KilledExitStatus = 128 + 15
)

// ErrKilled is returned by Execute when the run was killed before the child
// could be started.
var ErrKilled = errors.New("killed before start")

// ReactionHandler consumes one reaction. Handlers run synchronously on the
// stream reader, in registration order.
type ReactionHandler func(ctx context.Context, r *protocol.Reaction) error

// Config configures an Executor.
type Config struct {
	// Command is the interpreter invocation; the script path is appended.
	Command []string
	// SharedDir is used when a task does not carry its own.
	SharedDir string
	// PathVar is extended with plugin site-packages directories.
	PathVar        string
	KillGrace      time.Duration
	MaxStderrBytes int
	MaxLineBytes   int
	// Workspaces creates working directories for tasks without a WorkDir.
	Workspaces workspace.Manager
}

// Executor prepares runs for tasks.
type Executor struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Executor, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, fmt.Errorf("executor command is required")
	}
	if cfg.PathVar == "" {
		cfg.PathVar = DefaultPathVar
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.MaxStderrBytes <= 0 {
		cfg.MaxStderrBytes = DefaultMaxStderrBytes
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = protocol.DefaultMaxLineBytes
	}
	return &Executor{cfg: cfg, logger: log.WithComponent("executor")}, nil
}

// Prepare lays out everything the task needs on disk and returns a Run that
// has not been started.
func (e *Executor) Prepare(ctx context.Context, task cluster.TaskStart) (*Run, error) {
	logger := e.logger.With("task_id", task.ID)

	sharedDir := task.SharedDir
	if sharedDir == "" {
		sharedDir = e.cfg.SharedDir
	}

	workDir, err := e.workDir(ctx, task)
	if err != nil {
		return nil, err
	}

	scriptPath := filepath.Join(workDir, fmt.Sprintf("task-%d.script", task.ID))
	if err := os.WriteFile(scriptPath, task.Script, 0o600); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	sum := blake3.Sum256(task.Script)

	plugins, err := plugin.Discover(sharedDir, func(level, msg string, args ...any) {
		switch level {
		case "warn":
			logger.Warn(msg, args...)
		case "error":
			logger.Error(msg, args...)
		default:
			logger.Debug(msg, args...)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("discover plugins: %w", err)
	}

	env, err := BuildEnv(os.Environ(), task, workDir, sharedDir, plugins.SitePackages(), e.cfg.PathVar)
	if err != nil {
		return nil, fmt.Errorf("build environment: %w", err)
	}

	argv := append(slices.Clone(e.cfg.Command), scriptPath)
	return &Run{
		task:       task,
		argv:       argv,
		env:        env,
		workDir:    workDir,
		scriptPath: scriptPath,
		digest:     hex.EncodeToString(sum[:]),
		killGrace:  e.cfg.KillGrace,
		maxLine:    e.cfg.MaxLineBytes,
		maxStderr:  e.cfg.MaxStderrBytes,
		logger:     logger,
	}, nil
}

func (e *Executor) workDir(ctx context.Context, task cluster.TaskStart) (string, error) {
	if task.WorkDir != "" {
		if err := os.MkdirAll(task.WorkDir, 0o755); err != nil {
			return "", fmt.Errorf("create work dir: %w", err)
		}
		return task.WorkDir, nil
	}
	if e.cfg.Workspaces == nil {
		return "", fmt.Errorf("task %d has no work dir and no workspace manager is configured", task.ID)
	}
	ws, err := e.cfg.Workspaces.Create(ctx, task.ID)
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return ws.Dir, nil
}

// Run is one execution of a task's script.
type Run struct {
	task       cluster.TaskStart
	argv       []string
	env        []string
	workDir    string
	scriptPath string
	digest     string
	killGrace  time.Duration
	maxLine    int
	maxStderr  int
	logger     *slog.Logger

	mu          sync.Mutex
	handlers    []ReactionHandler
	child       *Child
	stderr      *cappedBuffer
	started     bool
	killed      bool
	terminating bool
	killTimer   *time.Timer
}

// AddReactionHandler appends h to the handler list. Handlers added after
// Execute has started are not called.
func (r *Run) AddReactionHandler(h ReactionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// Digest is the hex BLAKE3 digest of the script.
func (r *Run) Digest() string { return r.digest }

// WorkDir is the directory the child runs in.
func (r *Run) WorkDir() string { return r.workDir }

// ScriptPath is where the script was written.
func (r *Run) ScriptPath() string { return r.scriptPath }

// Env returns the child's environment.
func (r *Run) Env() []string { return slices.Clone(r.env) }

// Pid returns the child's process id, or 0 when it is not running.
func (r *Run) Pid() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.child == nil {
		return 0
	}
	return r.child.Pid()
}

// Killed reports whether Kill was called.
func (r *Run) Killed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.killed
}

// Stderr returns the captured head of the child's stderr.
func (r *Run) Stderr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stderr == nil {
		return ""
	}
	return r.stderr.String()
}

// Execute starts the child, feeds every reaction to the handlers and returns
// the exit status once the child has exited. A run can be executed once.
// Cancelling ctx kills the child.
func (r *Run) Execute(ctx context.Context) (int, error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return -1, fmt.Errorf("run already executed")
	}
	r.started = true
	if r.killed {
		r.mu.Unlock()
		r.logger.Info("run killed before start, not spawning script")
		return KilledExitStatus, ErrKilled
	}

	taskLog, err := openTaskLog(r.task.LogPath)
	if err != nil {
		r.mu.Unlock()
		return -1, err
	}
	stderr := newCappedBuffer(r.maxStderr)
	var stderrW io.Writer = stderr
	var rawW io.Writer = io.Discard
	if taskLog != nil {
		defer taskLog.Close()
		stderrW = io.MultiWriter(stderr, taskLog)
		rawW = taskLog
	}

	child, err := newChild(r.argv, r.workDir, r.env, stderrW, r.killGrace)
	if err != nil {
		r.mu.Unlock()
		return -1, err
	}
	if err := child.Start(); err != nil {
		r.mu.Unlock()
		return -1, fmt.Errorf("start %s: %w", r.argv[0], err)
	}
	r.child = child
	r.stderr = stderr
	handlers := slices.Clone(r.handlers)
	r.mu.Unlock()

	started := time.Now()
	r.logger.Info("script started", "pid", child.Pid(), "digest", r.digest, "work_dir", r.workDir)

	stop := context.AfterFunc(ctx, func() {
		if err := r.Kill(); err != nil {
			r.logger.Error("failed to kill script on cancel", "error", err)
		}
	})
	defer stop()

	streamed := make(chan struct{})
	go func() {
		defer close(streamed)
		r.stream(ctx, child.Stdout(), handlers, rawW)
	}()

	code, err := child.Wait()
	r.stopKillTimer()
	r.drain(streamed, child)
	if err != nil {
		return -1, err
	}

	attrs := []any{"exit_status", code, "duration", time.Since(started).String()}
	if code != 0 {
		if tail := stderr.String(); tail != "" {
			attrs = append(attrs, "stderr", tail)
		}
		r.logger.Warn("script exited", attrs...)
	} else {
		r.logger.Info("script exited", attrs...)
	}
	return code, nil
}

// drain waits for the stream reader after the child has exited. Processes the
// script left behind may still hold stdout open, so from here on a read that
// sees no output for the grace period ends the stream. Slow handlers are not
// cut short.
func (r *Run) drain(streamed <-chan struct{}, child *Child) {
	if err := child.LimitStdout(r.killGrace); err != nil {
		r.logger.Warn("failed to bound script stdout", "error", err)
	}
	<-streamed
	if err := child.closeStdout(); err != nil && !errors.Is(err, os.ErrClosed) {
		r.logger.Debug("close script stdout", "error", err)
	}
}

// stream reads stdout to EOF. It never stops early, so the child cannot block
// on a full pipe.
func (r *Run) stream(ctx context.Context, stdout io.Reader, handlers []ReactionHandler, raw io.Writer) {
	dec := protocol.NewDecoder(stdout, r.maxLine)
	for {
		reaction, line, err := dec.Next()
		switch {
		case errors.Is(err, io.EOF):
			return
		case errors.Is(err, os.ErrDeadlineExceeded):
			r.logger.Warn("script exited but its stdout is still held open, stopped reading", "grace", r.killGrace.String())
			return
		case errors.Is(err, protocol.ErrInvalidReaction):
			r.logger.Warn("skipping invalid reaction", "error", err)
			continue
		case errors.Is(err, protocol.ErrLineTooLong):
			r.logger.Warn("skipping oversized output line", "error", err)
			continue
		case err != nil:
			r.logger.Error("reaction stream failed, discarding remaining output", "error", err)
			_, _ = io.Copy(raw, stdout)
			return
		}

		if reaction == nil {
			_, _ = raw.Write(append(line, '\n'))
			continue
		}
		for i, h := range handlers {
			if err := h(ctx, reaction); err != nil {
				r.logger.Warn("reaction handler failed", "handler", i, "type", reaction.Type, "error", err)
			}
		}
	}
}

// Kill asks the child to stop: SIGTERM first, SIGKILL once the grace period
// expires. Killing a run before Execute prevents it from starting. Kill is
// idempotent.
func (r *Run) Kill() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killed = true
	if r.terminating || r.child == nil || !r.child.Running() {
		return nil
	}

	r.logger.Info("terminating script", "pid", r.child.Pid(), "grace", r.killGrace.String())
	if err := r.child.Signal(termSignal); err != nil {
		return fmt.Errorf("signal script: %w", err)
	}
	r.terminating = true

	child := r.child
	r.killTimer = time.AfterFunc(r.killGrace, func() {
		if !child.Running() {
			return
		}
		r.logger.Warn("script did not exit after SIGTERM, sending SIGKILL", "pid", child.Pid())
		if err := child.Signal(killSignal); err != nil {
			r.logger.Error("failed to send SIGKILL", "error", err)
		}
	})
	return nil
}

func (r *Run) stopKillTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.killTimer != nil {
		r.killTimer.Stop()
	}
}

func openTaskLog(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create task log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open task log: %w", err)
	}
	return f, nil
}

// cappedBuffer keeps the first max bytes written to it and drops the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.max - b.buf.Len()
	if room >= len(p) {
		b.buf.Write(p)
		return len(p), nil
	}
	if room > 0 {
		b.buf.Write(p[:room])
	}
	b.truncated = true
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "...[truncated]"
	}
	return b.buf.String()
}

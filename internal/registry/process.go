// Package registry tracks the cluster processes a worker is running.
//
// A ClusterProcess moves through
//
//	PENDING -> RUNNING -> KILLING -> TERMINATED
//
// KILLING is only entered from RUNNING. TERMINATED is reached from RUNNING,
// KILLING, or from PENDING when a kill arrives before the script starts.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mattjoyce/analyst/internal/cluster"
	"github.com/mattjoyce/analyst/internal/protocol"
)

// State is the lifecycle state of a ClusterProcess.
type State string

const (
	StatePending    State = "PENDING"
	StateRunning    State = "RUNNING"
	StateKilling    State = "KILLING"
	StateTerminated State = "TERMINATED"
)

var (
	// ErrDuplicate is returned when a live process already owns the task id.
	ErrDuplicate = errors.New("task already registered")
	// ErrClosed is returned by Register once the registry is shutting down.
	ErrClosed = errors.New("registry closed")
	// ErrKilled is returned by Start when the process was killed while pending.
	ErrKilled = errors.New("process was killed before start")
)

// Runner is the running script behind a process.
type Runner interface {
	Kill() error
	Pid() int
	Digest() string
}

// ClusterProcess is the worker's record of one task execution.
type ClusterProcess struct {
	Task cluster.TaskStart

	mu           sync.Mutex
	state        State
	exitStatus   int
	killed       bool
	run          Runner
	cancel       context.CancelFunc
	client       io.Closer
	stats        *protocol.Stats
	registeredAt time.Time
	startedAt    time.Time
	finishedAt   time.Time
}

func newClusterProcess(task cluster.TaskStart) *ClusterProcess {
	return &ClusterProcess{
		Task:         task,
		state:        StatePending,
		exitStatus:   -1,
		registeredAt: time.Now(),
	}
}

// ID is the task id.
func (p *ClusterProcess) ID() int64 { return p.Task.ID }

// Start moves the process to RUNNING. cancel is called when the process is
// killed so that blocked master calls give up.
func (p *ClusterProcess) Start(run Runner, cancel context.CancelFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return ErrKilled
	}
	if p.state != StatePending {
		return fmt.Errorf("cannot start process in state %s", p.state)
	}
	p.state = StateRunning
	p.run = run
	p.cancel = cancel
	p.startedAt = time.Now()
	return nil
}

// Kill marks the process killed. A running process moves to KILLING, its
// context is cancelled and its script is signalled. Killing a process that
// is pending or already finished only sets the flag.
func (p *ClusterProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	if p.state != StateRunning {
		return nil
	}
	p.state = StateKilling
	if p.cancel != nil {
		p.cancel()
	}
	if p.run != nil {
		if err := p.run.Kill(); err != nil {
			return fmt.Errorf("kill task %d: %w", p.Task.ID, err)
		}
	}
	return nil
}

// Finish records the exit status and moves the process to TERMINATED.
func (p *ClusterProcess) Finish(exitStatus int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateTerminated
	p.exitStatus = exitStatus
	p.finishedAt = time.Now()
}

// State returns the current state.
func (p *ClusterProcess) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitStatus returns the exit status, or -1 while the process has not finished.
func (p *ClusterProcess) ExitStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitStatus
}

// Killed reports whether a kill was requested.
func (p *ClusterProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// SetClient attaches the master client owned by this process.
func (p *ClusterProcess) SetClient(c io.Closer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = c
}

// Client returns the attached master client, if any.
func (p *ClusterProcess) Client() io.Closer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// RecordStats keeps the latest counters reported by the script.
func (p *ClusterProcess) RecordStats(s protocol.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = &s
}

// ProcessInfo is a point-in-time view of a ClusterProcess.
type ProcessInfo struct {
	TaskID       int64           `json:"task_id"`
	JobID        int64           `json:"job_id"`
	Name         string          `json:"name,omitempty"`
	MasterHost   string          `json:"master_host,omitempty"`
	State        State           `json:"state"`
	ExitStatus   int             `json:"exit_status"`
	Killed       bool            `json:"killed"`
	Pid          int             `json:"pid,omitempty"`
	ScriptDigest string          `json:"script_digest,omitempty"`
	Stats        *protocol.Stats `json:"stats,omitempty"`
	RegisteredAt time.Time       `json:"registered_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// Snapshot returns a copy of the process state.
func (p *ClusterProcess) Snapshot() ProcessInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := ProcessInfo{
		TaskID:       p.Task.ID,
		JobID:        p.Task.JobID,
		Name:         p.Task.Name,
		MasterHost:   p.Task.MasterHost,
		State:        p.state,
		ExitStatus:   p.exitStatus,
		Killed:       p.killed,
		RegisteredAt: p.registeredAt,
	}
	if p.run != nil {
		info.Pid = p.run.Pid()
		info.ScriptDigest = p.run.Digest()
	}
	if p.stats != nil {
		s := *p.stats
		info.Stats = &s
	}
	if !p.startedAt.IsZero() {
		t := p.startedAt
		info.StartedAt = &t
	}
	if !p.finishedAt.IsZero() {
		t := p.finishedAt
		info.FinishedAt = &t
	}
	return info
}

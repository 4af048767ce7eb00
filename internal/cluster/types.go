// Package cluster holds the records exchanged between the master and its
// workers, and the single error type allowed to cross that boundary.
package cluster

import (
	"encoding/json"

	"github.com/mattjoyce/analyst/internal/protocol"
)

// RootTaskID is the synthetic task used for local, ad-hoc runs. Its responses
// and errors are kept in the TaskResult instead of being reported to a master.
const RootTaskID int64 = 0

// Worker surface.
const (
	MethodExecuteTask = "executeTask"
	MethodKillTask    = "killTask"
	MethodKillAll     = "killAll"
)

// Master surface.
const (
	MethodReportTaskErrors = "reportTaskErrors"
	MethodExpand           = "expand"
	MethodReportTaskStats  = "reportTaskStats"
)

// TaskStart is the immutable descriptor the master sends to start a task.
type TaskStart struct {
	ID         int64  `json:"id"`
	JobID      int64  `json:"job_id"`
	Name       string `json:"name,omitempty"`
	MasterHost string `json:"master_host,omitempty"`
	// Script is opaque to the worker; only the pipeline process interprets it.
	Script    []byte            `json:"script"`
	Args      map[string]any    `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	WorkDir   string            `json:"work_dir,omitempty"`
	SharedDir string            `json:"shared_dir,omitempty"`
	LogPath   string            `json:"log_path,omitempty"`
}

// TaskKill asks the worker to terminate a running task.
type TaskKill struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// TaskResult summarises a finished task.
type TaskResult struct {
	ID         int64 `json:"id"`
	ExitStatus int   `json:"exit_status"`
	Killed     bool  `json:"killed"`

	// Populated only for the root task, or when no master is attached.
	Responses []json.RawMessage    `json:"responses,omitempty"`
	Errors    []protocol.TaskError `json:"errors,omitempty"`
	Expands   []Expand             `json:"expands,omitempty"`
	Stats     *protocol.Stats      `json:"stats,omitempty"`
}

// Expand is the master-bound form of an expand reaction.
type Expand struct {
	Name   string `json:"name"`
	Script []byte `json:"script"`
}

// TaskErrors is the reportTaskErrors request.
type TaskErrors struct {
	TaskID int64                `json:"task_id"`
	Errors []protocol.TaskError `json:"errors"`
}

// TaskExpand is the expand request.
type TaskExpand struct {
	TaskID int64  `json:"task_id"`
	Expand Expand `json:"expand"`
}

// TaskStats is the reportTaskStats request.
type TaskStats struct {
	TaskID int64          `json:"task_id"`
	Stats  protocol.Stats `json:"stats"`
}

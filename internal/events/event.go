// Package events is the worker's in-memory lifecycle feed. The admin API
// streams it to operators; nothing else depends on it.
package events

import (
	"encoding/json"
	"time"
)

// Task lifecycle event types.
const (
	TaskRegistered = "task.registered"
	TaskStarted    = "task.started"
	TaskKilling    = "task.killing"
	TaskFinished   = "task.finished"
	TaskRejected   = "task.rejected"
)

// Event is one published lifecycle change. IDs start at 1 and increase by one
// per Publish.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// TaskEvent is the payload of every task.* event.
type TaskEvent struct {
	TaskID     int64  `json:"task_id"`
	JobID      int64  `json:"job_id,omitempty"`
	Name       string `json:"name,omitempty"`
	ExitStatus *int   `json:"exit_status,omitempty"`
	Killed     bool   `json:"killed,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Task decodes the TaskEvent payload. ok is false for events that carry none.
func (e Event) Task() (te TaskEvent, ok bool) {
	if err := json.Unmarshal(e.Data, &te); err != nil {
		return TaskEvent{}, false
	}
	return te, true
}

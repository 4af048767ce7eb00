// Package protocol defines the reaction stream a pipeline script writes to its
// stdout while it runs.
//
// Each reaction is a single line of JSON with a type discriminator:
//
//	{"type":"stats","stats":{"success_count":1}}
//	{"type":"error","error":{"message":"bad frame","skipped":false}}
//	{"type":"expand","expand":{"name":"frames","script":{...}}}
//	{"type":"response","response":{...}}
//
// Lines that are not JSON objects are passed through as plain script output.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates the populated payload of a Reaction.
type Type string

const (
	TypeResponse Type = "response"
	TypeError    Type = "error"
	TypeExpand   Type = "expand"
	TypeStats    Type = "stats"
)

// Reaction is one structured event emitted by a running script.
// Exactly one payload field is populated, and it matches Type.
type Reaction struct {
	Type     Type            `json:"type"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    *TaskError      `json:"error,omitempty"`
	Expand   *Expand         `json:"expand,omitempty"`
	Stats    *Stats          `json:"stats,omitempty"`
}

// TaskError describes a failure the script hit while processing an asset.
type TaskError struct {
	Message    string      `json:"message"`
	Phase      string      `json:"phase,omitempty"`
	Processor  string      `json:"processor,omitempty"`
	StackFrame *StackFrame `json:"stack_frame,omitempty"`
	// Skipped is true when the asset was skipped rather than hard-failed.
	Skipped   bool       `json:"skipped"`
	Timestamp *time.Time `json:"timestamp,omitempty"`

	ID            string `json:"id,omitempty"`
	OriginService string `json:"origin_service,omitempty"`
	OriginPath    string `json:"origin_path,omitempty"`
	Path          string `json:"path,omitempty"`
}

// StackFrame is the single frame where a TaskError was raised.
type StackFrame struct {
	ClassName  string `json:"class_name,omitempty"`
	File       string `json:"file,omitempty"`
	LineNumber int    `json:"line_number,omitempty"`
	Method     string `json:"method,omitempty"`
}

// Expand asks the master to schedule Script as an additional task.
type Expand struct {
	Name   string          `json:"name"`
	Script json.RawMessage `json:"script"`
}

// Stats carries the counters of one task run. Counters never decrease.
type Stats struct {
	ErrorCount   int `json:"error_count"`
	SuccessCount int `json:"success_count"`
	WarningCount int `json:"warning_count"`
}

// Validate checks that exactly the payload named by Type is populated.
func (r *Reaction) Validate() error {
	populated := 0
	if len(r.Response) > 0 {
		populated++
	}
	if r.Error != nil {
		populated++
	}
	if r.Expand != nil {
		populated++
	}
	if r.Stats != nil {
		populated++
	}
	if populated != 1 {
		return fmt.Errorf("reaction %q must carry exactly one payload, got %d", r.Type, populated)
	}

	switch r.Type {
	case TypeResponse:
		if len(r.Response) == 0 {
			return fmt.Errorf("response reaction has no response payload")
		}
	case TypeError:
		if r.Error == nil {
			return fmt.Errorf("error reaction has no error payload")
		}
	case TypeExpand:
		if r.Expand == nil {
			return fmt.Errorf("expand reaction has no expand payload")
		}
		if len(r.Expand.Script) == 0 {
			return fmt.Errorf("expand reaction %q has no script", r.Expand.Name)
		}
	case TypeStats:
		if r.Stats == nil {
			return fmt.Errorf("stats reaction has no stats payload")
		}
	default:
		return fmt.Errorf("unknown reaction type %q", r.Type)
	}
	return nil
}

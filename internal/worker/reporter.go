package worker

import (
	"context"

	"github.com/mattjoyce/analyst/internal/cluster"
	"github.com/mattjoyce/analyst/internal/master"
	"github.com/mattjoyce/analyst/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_reporter.go -package=mocks github.com/mattjoyce/analyst/internal/worker MasterReporter

// MasterReporter forwards a task's reactions to its master.
type MasterReporter interface {
	ReportTaskErrors(ctx context.Context, taskID int64, errs []protocol.TaskError) error
	Expand(ctx context.Context, taskID int64, expand cluster.Expand) error
	ReportTaskStats(ctx context.Context, taskID int64, stats protocol.Stats) error
	Close() error
}

// ReporterFactory creates the reporter owned by one task.
type ReporterFactory func(masterHost string, taskID int64) MasterReporter

// NewMasterReporter returns a retrying master client for the task.
func NewMasterReporter(masterHost string, taskID int64) MasterReporter {
	return master.New(masterHost, taskID)
}

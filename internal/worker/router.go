package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/analyst/internal/cluster"
	"github.com/mattjoyce/analyst/internal/metrics"
	"github.com/mattjoyce/analyst/internal/protocol"
	"github.com/mattjoyce/analyst/internal/registry"
)

// router sends one task's reactions where they belong. The root task keeps
// responses and errors in its result; other tasks report to the master.
// Expand and stats go to the master whenever there is one.
//
// It is called from the executor's reader goroutine only, and result is read
// after Execute returns.
type router struct {
	taskID   int64
	reporter MasterReporter
	proc     *registry.ClusterProcess
	result   *cluster.TaskResult
	logger   *slog.Logger
}

func (r *router) handle(ctx context.Context, reaction *protocol.Reaction) error {
	metrics.Reactions.WithLabelValues(string(reaction.Type)).Inc()

	switch reaction.Type {
	case protocol.TypeResponse:
		if r.taskID != cluster.RootTaskID {
			r.logger.Debug("dropping response of non-root task", "bytes", len(reaction.Response))
			return nil
		}
		r.result.Responses = append(r.result.Responses, reaction.Response)

	case protocol.TypeError:
		if r.taskID == cluster.RootTaskID || r.reporter == nil {
			r.result.Errors = append(r.result.Errors, *reaction.Error)
			return nil
		}
		if err := r.reporter.ReportTaskErrors(ctx, r.taskID, []protocol.TaskError{*reaction.Error}); err != nil {
			return fmt.Errorf("report task error: %w", err)
		}

	case protocol.TypeExpand:
		expand := cluster.Expand{Name: reaction.Expand.Name, Script: []byte(reaction.Expand.Script)}
		if r.reporter == nil {
			r.result.Expands = append(r.result.Expands, expand)
			return nil
		}
		if err := r.reporter.Expand(ctx, r.taskID, expand); err != nil {
			return fmt.Errorf("expand %q: %w", expand.Name, err)
		}

	case protocol.TypeStats:
		stats := *reaction.Stats
		r.result.Stats = &stats
		r.proc.RecordStats(stats)
		if r.reporter == nil {
			return nil
		}
		if err := r.reporter.ReportTaskStats(ctx, r.taskID, stats); err != nil {
			return fmt.Errorf("report task stats: %w", err)
		}

	default:
		return fmt.Errorf("unhandled reaction type %q", reaction.Type)
	}
	return nil
}

package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/mattjoyce/analyst/internal/cluster"
	"github.com/mattjoyce/analyst/internal/events"
	"github.com/mattjoyce/analyst/internal/executor"
	"github.com/mattjoyce/analyst/internal/log"
	"github.com/mattjoyce/analyst/internal/metrics"
	"github.com/mattjoyce/analyst/internal/registry"
	"github.com/mattjoyce/analyst/internal/rpc"
)

// Executor prepares a run for a task.
type Executor interface {
	Prepare(ctx context.Context, task cluster.TaskStart) (*executor.Run, error)
}

// Service executes tasks on behalf of a master.
type Service struct {
	exec        Executor
	registry    *registry.Registry
	hub         *events.Hub
	newReporter ReporterFactory
	logger      *slog.Logger
}

// New creates a Service. hub may be nil. A nil newReporter uses
// NewMasterReporter.
func New(exec Executor, reg *registry.Registry, hub *events.Hub, newReporter ReporterFactory) *Service {
	if newReporter == nil {
		newReporter = NewMasterReporter
	}
	return &Service{
		exec:        exec,
		registry:    reg,
		hub:         hub,
		newReporter: newReporter,
		logger:      log.WithComponent("worker"),
	}
}

// Register binds the service to srv. executeTask holds a pool slot; the kill
// methods do not. Duplicate ids are refused before queueing for a slot.
func (s *Service) Register(srv *rpc.Server) {
	srv.HandlePooled(cluster.MethodExecuteTask, rpc.HandlerFor(s.ExecuteTask),
		rpc.WithAdmission(rpc.HandlerFor(func(_ context.Context, task cluster.TaskStart) (struct{}, error) {
			return struct{}{}, s.admit(task)
		})))
	srv.Handle(cluster.MethodKillTask, rpc.HandlerFor(func(ctx context.Context, kill cluster.TaskKill) (struct{}, error) {
		return struct{}{}, s.KillTask(ctx, kill)
	}))
	srv.Handle(cluster.MethodKillAll, rpc.HandlerFor(func(ctx context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, s.KillAll(ctx)
	}))
}

// Registry returns the registry the service records processes in.
func (s *Service) Registry() *registry.Registry { return s.registry }

// ExecuteTask runs task to completion and returns its result. A task id that
// is already live is rejected with CodeDuplicateTask and the running task is
// left alone.
//
// The task outlives ctx: a master that drops the connection does not kill the
// task. Only KillTask and KillAll do.
func (s *Service) ExecuteTask(ctx context.Context, task cluster.TaskStart) (cluster.TaskResult, error) {
	logger := log.WithTask(task.ID).With("component", "worker")

	if task.ID < 0 {
		return cluster.TaskResult{}, cluster.NewException(cluster.CodeBadRequest, "invalid task id %d", task.ID)
	}
	if task.ID != cluster.RootTaskID && task.MasterHost == "" {
		return cluster.TaskResult{}, cluster.NewException(cluster.CodeBadRequest, "task %d has no master host", task.ID)
	}

	proc, err := s.registry.Register(task)
	if err != nil {
		return cluster.TaskResult{}, s.reject(task, err)
	}
	metrics.TasksRunning.Inc()
	defer func() {
		s.registry.Remove(task.ID, proc)
		metrics.TasksRunning.Dec()
	}()
	s.hub.Publish(events.TaskRegistered, events.TaskEvent{TaskID: task.ID, JobID: task.JobID, Name: task.Name})
	logger.Info("task registered", "job_id", task.JobID, "name", task.Name, "master", task.MasterHost)

	result, outcome, err := s.execute(ctx, proc, logger)
	metrics.TasksTotal.WithLabelValues(outcome).Inc()

	exit := proc.ExitStatus()
	s.hub.Publish(events.TaskFinished, events.TaskEvent{
		TaskID:     task.ID,
		JobID:      task.JobID,
		Name:       task.Name,
		ExitStatus: &exit,
		Killed:     proc.Killed(),
	})
	if err != nil {
		logger.Error("task failed", "error", err)
		return cluster.TaskResult{}, cluster.Wrap(cluster.CodeExecution, err)
	}
	logger.Info("task finished", "exit_status", result.ExitStatus, "killed", result.Killed, "outcome", outcome)
	return result, nil
}

func (s *Service) execute(ctx context.Context, proc *registry.ClusterProcess, logger *slog.Logger) (cluster.TaskResult, string, error) {
	task := proc.Task
	result := cluster.TaskResult{ID: task.ID, ExitStatus: -1}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	var reporter MasterReporter
	if task.MasterHost != "" {
		reporter = s.newReporter(task.MasterHost, task.ID)
		proc.SetClient(reporter)
		defer func() {
			if err := reporter.Close(); err != nil {
				logger.Debug("failed to close master client", "error", err)
			}
		}()
	}

	run, err := s.exec.Prepare(taskCtx, task)
	if err != nil {
		proc.Finish(-1)
		return result, metrics.OutcomeError, cluster.NewException(cluster.CodeExecution, "prepare task %d: %v", task.ID, err)
	}
	run.AddReactionHandler((&router{
		taskID:   task.ID,
		reporter: reporter,
		proc:     proc,
		result:   &result,
		logger:   logger,
	}).handle)

	if err := proc.Start(run, cancel); err != nil {
		if !errors.Is(err, registry.ErrKilled) {
			proc.Finish(-1)
			return result, metrics.OutcomeError, cluster.NewException(cluster.CodeExecution, "start task %d: %v", task.ID, err)
		}
		logger.Info("task killed before start")
		proc.Finish(executor.KilledExitStatus)
		result.ExitStatus = executor.KilledExitStatus
		result.Killed = true
		return result, metrics.OutcomeKilled, nil
	}
	s.hub.Publish(events.TaskStarted, events.TaskEvent{TaskID: task.ID, JobID: task.JobID, Name: task.Name})

	code, err := run.Execute(taskCtx)
	if err != nil && !errors.Is(err, executor.ErrKilled) {
		proc.Finish(-1)
		return result, metrics.OutcomeError, cluster.NewException(cluster.CodeExecution, "execute task %d: %v", task.ID, err)
	}
	proc.Finish(code)

	result.ExitStatus = code
	result.Killed = proc.Killed()

	outcome := metrics.OutcomeSucceeded
	switch {
	case result.Killed:
		outcome = metrics.OutcomeKilled
	case code != 0:
		outcome = metrics.OutcomeFailed
	}
	return result, outcome, nil
}

// admit refuses a task whose id is already live without taking a pool slot.
func (s *Service) admit(task cluster.TaskStart) error {
	if err := s.registry.Admit(task.ID); err != nil {
		return s.reject(task, err)
	}
	return nil
}

func (s *Service) reject(task cluster.TaskStart, err error) error {
	log.WithTask(task.ID).With("component", "worker").Warn("rejected task", "error", err)
	metrics.TasksTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
	s.hub.Publish(events.TaskRejected, events.TaskEvent{TaskID: task.ID, JobID: task.JobID, Name: task.Name, Reason: err.Error()})
	if errors.Is(err, registry.ErrDuplicate) {
		return cluster.NewException(cluster.CodeDuplicateTask, "%v", err)
	}
	return cluster.Wrap(cluster.CodeExecution, err)
}

// Shutdown stops the service taking new tasks and kills the ones it has.
// A task that was already past admission when Shutdown began is refused at
// registration, so nothing survives the sweep.
func (s *Service) Shutdown(ctx context.Context) error {
	s.registry.Close()
	return s.KillAll(ctx)
}

// KillTask kills the task if it is registered. Unknown ids are ignored.
func (s *Service) KillTask(ctx context.Context, kill cluster.TaskKill) error {
	proc, ok := s.registry.Lookup(kill.ID)
	if !ok {
		s.logger.Debug("kill for unknown task ignored", "task_id", kill.ID)
		return nil
	}
	if err := s.kill(proc, kill.Reason); err != nil {
		return cluster.Wrap(cluster.CodeKill, err)
	}
	return nil
}

// KillAll kills every registered task. Tasks registering while the sweep
// runs wait for it to finish and are left to the next kill. Failures are
// collected and returned together.
func (s *Service) KillAll(ctx context.Context) error {
	var errs *multierror.Error
	killed := 0
	s.registry.ForEach(func(proc *registry.ClusterProcess) {
		killed++
		if err := s.kill(proc, "kill all"); err != nil {
			errs = multierror.Append(errs, err)
		}
	})
	s.logger.Info("kill all", "tasks", killed)
	if err := errs.ErrorOrNil(); err != nil {
		return cluster.NewException(cluster.CodeKill, "%v", err)
	}
	return nil
}

func (s *Service) kill(proc *registry.ClusterProcess, reason string) error {
	logger := log.WithTask(proc.ID()).With("component", "worker")
	if proc.State() == registry.StateRunning {
		s.hub.Publish(events.TaskKilling, events.TaskEvent{TaskID: proc.ID(), JobID: proc.Task.JobID, Name: proc.Task.Name, Reason: reason})
	}
	logger.Info("killing task", "state", proc.State(), "reason", reason)
	return proc.Kill()
}

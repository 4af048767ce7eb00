package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/analyst/internal/cluster"
	"github.com/mattjoyce/analyst/internal/config"
	"github.com/mattjoyce/analyst/internal/log"
)

type runOptions struct {
	configPath string
	taskFile   string
	sharedDir  string
	archivist  string
	command    []string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a single task locally and print its result",
		Long: `run reads a task description from --taskFile and executes it in-process,
exactly as if a master had called executeTask. The task result is printed as
JSON and the command exits with the task's exit status.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTask(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to configuration file or directory")
	cmd.Flags().StringVar(&opts.taskFile, "taskFile", "", "Path to the task description (JSON)")
	cmd.Flags().StringVar(&opts.sharedDir, "sharedDir", "", "Shared directory (overrides config)")
	cmd.Flags().StringVar(&opts.archivist, "archivist", "", "Master host to report to (host:port)")
	cmd.Flags().StringSliceVar(&opts.command, "command", nil, "Interpreter command (overrides config)")
	_ = cmd.MarkFlagRequired("taskFile")
	return cmd
}

func readTask(path string) (cluster.TaskStart, error) {
	var task cluster.TaskStart
	data, err := os.ReadFile(path)
	if err != nil {
		return task, fmt.Errorf("read task file: %w", err)
	}
	if err := json.Unmarshal(data, &task); err != nil {
		return task, fmt.Errorf("parse task file %s: %w", path, err)
	}
	return task, nil
}

func runTask(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.sharedDir != "" {
		cfg.SharedDir = opts.sharedDir
	}
	if len(opts.command) > 0 {
		cfg.Executor.Command = opts.command
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")

	task, err := readTask(opts.taskFile)
	if err != nil {
		return err
	}
	if opts.archivist != "" {
		task.MasterHost = opts.archivist
	}
	if task.SharedDir == "" {
		task.SharedDir = cfg.SharedDir
	}

	c, err := buildComponents(cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		if err := c.service.KillTask(context.Background(), cluster.TaskKill{ID: task.ID, Reason: "interrupted"}); err != nil {
			logger.Warn("failed to kill task on interrupt", "error", err)
		}
	}()

	logger.Info("running task", "task_id", task.ID, "master", task.MasterHost)
	result, err := c.service.ExecuteTask(ctx, task)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if result.ExitStatus != 0 {
		return &exitError{code: result.ExitStatus}
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/analyst/internal/cluster"
	"github.com/mattjoyce/analyst/internal/config"
	"github.com/mattjoyce/analyst/internal/lock"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// quietConfig writes a config that keeps test output free of logs.
func quietConfig(t *testing.T, dir string) string {
	t.Helper()
	return writeFile(t, filepath.Join(dir, "config.yaml"), `
service:
  log_level: error
executor:
  command: ["/bin/sh"]
`)
}

func writeTask(t *testing.T, dir string, task cluster.TaskStart) string {
	t.Helper()
	data, err := json.Marshal(task)
	require.NoError(t, err)
	return writeFile(t, filepath.Join(dir, "task.json"), string(data))
}

func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunRootTaskPrintsResult(t *testing.T) {
	dir := t.TempDir()
	cfgPath := quietConfig(t, dir)
	taskPath := writeTask(t, dir, cluster.TaskStart{
		ID: cluster.RootTaskID,
		Script: []byte(`echo '{"type":"response","response":{"answer":42}}'
echo '{"type":"error","error":{"message":"frame 7 unreadable","skipped":true}}'
`),
	})

	out, err := executeCmd(t, "run", "--config", cfgPath, "--taskFile", taskPath, "--sharedDir", filepath.Join(dir, "shared"))
	require.NoError(t, err)

	var result cluster.TaskResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, int64(0), result.ID)
	assert.Equal(t, 0, result.ExitStatus)
	assert.False(t, result.Killed)
	require.Len(t, result.Responses, 1)
	assert.JSONEq(t, `{"answer":42}`, string(result.Responses[0]))
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "frame 7 unreadable", result.Errors[0].Message)

	_, err = os.Stat(filepath.Join(dir, "shared", "tasks"))
	assert.NoError(t, err, "workspace should be created under the shared dir")
}

func TestRunPropagatesExitStatus(t *testing.T) {
	dir := t.TempDir()
	cfgPath := quietConfig(t, dir)
	taskPath := writeTask(t, dir, cluster.TaskStart{Script: []byte("exit 4\n")})

	out, err := executeCmd(t, "run", "--config", cfgPath, "--taskFile", taskPath, "--sharedDir", dir)
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 4, exit.code)
	assert.Contains(t, out, `"exit_status": 4`)
}

func TestRunCommandFlagOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, filepath.Join(dir, "config.yaml"), `
service:
  log_level: error
executor:
  command: ["/nonexistent/interpreter"]
`)
	taskPath := writeTask(t, dir, cluster.TaskStart{Script: []byte("exit 0\n")})

	_, err := executeCmd(t, "run", "--config", cfgPath, "--taskFile", taskPath, "--sharedDir", dir, "--command", "/bin/sh")
	require.NoError(t, err)
}

func TestRunNonRootTaskNeedsArchivist(t *testing.T) {
	dir := t.TempDir()
	cfgPath := quietConfig(t, dir)
	taskPath := writeTask(t, dir, cluster.TaskStart{ID: 9, Script: []byte("exit 0\n")})

	_, err := executeCmd(t, "run", "--config", cfgPath, "--taskFile", taskPath, "--sharedDir", dir)
	var ce *cluster.ClusterException
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cluster.CodeBadRequest, ce.Code)
}

func TestRunTaskFileErrors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := quietConfig(t, dir)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing flag",
			args:    []string{"run", "--config", cfgPath},
			wantErr: "taskFile",
		},
		{
			name:    "missing file",
			args:    []string{"run", "--config", cfgPath, "--taskFile", filepath.Join(dir, "nope.json")},
			wantErr: "read task file",
		},
		{
			name:    "invalid json",
			args:    []string{"run", "--config", cfgPath, "--taskFile", writeFile(t, filepath.Join(dir, "bad.json"), "{not json")},
			wantErr: "parse task file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCmd(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCmd(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "analyst dev\n", out)
}

func TestServeHoldsLockUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.SharedDir = dir
	cfg.Worker.Listen = "127.0.0.1:0"
	cfg.Executor.Command = []string{"/bin/sh"}
	cfg.Service.LogLevel = "error"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg) }()

	require.Eventually(t, func() bool {
		_, err := lock.HolderPID(cfg.LockPath())
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	_, err := lock.AcquirePIDLock(cfg.LockPath())
	assert.ErrorIs(t, err, lock.ErrLocked)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}

	l, err := lock.AcquirePIDLock(cfg.LockPath())
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestCleanupInterval(t *testing.T) {
	assert.Equal(t, time.Minute, cleanupInterval(time.Minute))
	assert.Equal(t, 15*time.Minute, cleanupInterval(time.Hour))
	assert.Equal(t, time.Hour, cleanupInterval(48*time.Hour))
}

func TestDoctorCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, filepath.Join(dir, "config.yaml"), `
shared_dir: `+dir+`
service:
  log_level: error
executor:
  command: ["sh"]
`)

	out, err := executeCmd(t, "doctor", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")

	out, err = executeCmd(t, "doctor", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)
	var result struct {
		Valid bool `json:"valid"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Valid)
}

func TestDoctorCommandInvalid(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, filepath.Join(dir, "config.yaml"), `
shared_dir: `+dir+`
executor:
  command: ["/nonexistent/interpreter"]
`)

	out, err := executeCmd(t, "doctor", "--config", cfgPath)
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.code)
	assert.Contains(t, out, "executor.command")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
shared_dir: /mnt/shared
worker:
  listen: ":6000"
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.SharedDir != "/mnt/shared" {
					t.Error("shared_dir not parsed")
				}
				if cfg.Worker.Listen != ":6000" {
					t.Error("worker.listen not parsed")
				}
				// Check defaults applied
				if cfg.Worker.Workers != 4 {
					t.Errorf("default workers not applied, got %d", cfg.Worker.Workers)
				}
				if cfg.Executor.KillGrace != 5*time.Second {
					t.Error("default kill_grace not applied")
				}
				if cfg.Executor.PathVar != "PYTHONPATH" {
					t.Error("default path_var not applied")
				}
			},
		},
		{
			name: "full config",
			yaml: `
shared_dir: /data
worker:
  listen: "0.0.0.0:5500"
  workers: 8
  max_frame_bytes: 2097152
executor:
  command: ["/usr/bin/python3", "-u"]
  path_var: NODE_PATH
  kill_grace: 2s
  max_stderr_bytes: 1024
workspace:
  retention: 1h
api:
  enabled: true
  listen: "127.0.0.1:9000"
service:
  log_level: debug
  log_format: text
  lock_path: /run/analyst.lock
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8, cfg.Worker.Workers)
				assert.Equal(t, 2097152, cfg.Worker.MaxFrameBytes)
				assert.Equal(t, []string{"/usr/bin/python3", "-u"}, cfg.Executor.Command)
				assert.Equal(t, "NODE_PATH", cfg.Executor.PathVar)
				assert.Equal(t, 2*time.Second, cfg.Executor.KillGrace)
				assert.Equal(t, time.Hour, cfg.Workspace.Retention)
				assert.True(t, cfg.API.Enabled)
				assert.Equal(t, "text", cfg.Service.LogFormat)
				assert.Equal(t, "/run/analyst.lock", cfg.LockPath())
			},
		},
		{
			name: "env var interpolation",
			yaml: `
shared_dir: ${ANALYST_TEST_SHARED}
executor:
  command: ["${ANALYST_TEST_PY}"]
`,
			env: map[string]string{
				"ANALYST_TEST_SHARED": "/srv/shared",
				"ANALYST_TEST_PY":     "/opt/py/bin/python",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/srv/shared", cfg.SharedDir)
				assert.Equal(t, []string{"/opt/py/bin/python"}, cfg.Executor.Command)
				assert.Equal(t, filepath.Join("/srv/shared", "tasks"), cfg.TasksDir())
				assert.Equal(t, filepath.Join("/srv/shared", "analyst.lock"), cfg.LockPath())
			},
		},
		{
			name: "environment overrides win over file",
			yaml: `
shared_dir: /from/file
worker:
  workers: 2
`,
			env: map[string]string{
				"ANALYST_SHARED_DIR":             "/from/env",
				"ANALYST_WORKER_WORKERS":         "6",
				"ANALYST_EXECUTOR_KILL_GRACE":    "750ms",
				"ANALYST_EXECUTOR_COMMAND":       "python3,-X,dev",
				"ANALYST_API_ENABLED":            "true",
				"ANALYST_WORKER_MAX_FRAME_BYTES": "4096",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/from/env", cfg.SharedDir)
				assert.Equal(t, 6, cfg.Worker.Workers)
				assert.Equal(t, 4096, cfg.Worker.MaxFrameBytes)
				assert.Equal(t, 750*time.Millisecond, cfg.Executor.KillGrace)
				assert.Equal(t, []string{"python3", "-X", "dev"}, cfg.Executor.Command)
				assert.True(t, cfg.API.Enabled)
			},
		},
		{
			name:    "unresolved env var",
			yaml:    "shared_dir: ${ANALYST_TEST_MISSING_VAR}\n",
			wantErr: true,
		},
		{
			name:    "invalid log level",
			yaml:    "service:\n  log_level: verbose\n",
			wantErr: true,
		},
		{
			name:    "zero workers",
			yaml:    "worker:\n  workers: -1\n",
			wantErr: true,
		},
		{
			name:    "empty command",
			yaml:    "executor:\n  command: []\n",
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			yaml:    "worker: [unclosed\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeFile(t, t.TempDir(), "config.yaml", tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Worker, cfg.Worker)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "shared_dir: /dir/shared\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/dir/shared", cfg.SharedDir)
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "conf.d"), 0o755))
	writeFile(t, dir, "conf.d/executor.yaml", `
executor:
  command: ["/venv/bin/python"]
  kill_grace: 10s
`)
	writeFile(t, dir, "conf.d/api.yaml", `
api:
  enabled: true
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  - conf.d/executor.yaml
  - conf.d/api.yaml
shared_dir: /root/shared
executor:
  kill_grace: 1s
  path_var: MYPATH
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/root/shared", cfg.SharedDir)
	assert.Equal(t, []string{"/venv/bin/python"}, cfg.Executor.Command)
	// Includes override the including file for the keys they set.
	assert.Equal(t, 10*time.Second, cfg.Executor.KillGrace)
	assert.Equal(t, "MYPATH", cfg.Executor.PathVar)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:8081", cfg.API.Listen)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular include")
}

func TestLoadIncludeMissing(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "include: [missing.yaml]\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}

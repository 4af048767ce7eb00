package config

import "time"

// EnvPrefix prefixes every environment override, e.g. ANALYST_WORKER_LISTEN.
const EnvPrefix = "ANALYST"

// Config represents the complete analyst worker configuration.
type Config struct {
	Include   []string        `yaml:"include,omitempty" ignored:"true"`
	SharedDir string          `yaml:"shared_dir" split_words:"true"`
	Worker    WorkerConfig    `yaml:"worker"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	API       APIConfig       `yaml:"api"`
	Service   ServiceConfig   `yaml:"service"`
}

// WorkerConfig defines the RPC endpoint the master calls.
type WorkerConfig struct {
	Listen string `yaml:"listen"`
	// Workers bounds concurrently executing tasks.
	Workers       int `yaml:"workers"`
	MaxFrameBytes int `yaml:"max_frame_bytes" split_words:"true"`
}

// ExecutorConfig defines how pipeline scripts are launched.
type ExecutorConfig struct {
	// Command is the interpreter; the script path is appended as the last argument.
	Command        []string      `yaml:"command"`
	PathVar        string        `yaml:"path_var" split_words:"true"`
	KillGrace      time.Duration `yaml:"kill_grace" split_words:"true"`
	MaxStderrBytes int           `yaml:"max_stderr_bytes" split_words:"true"`
}

// WorkspaceConfig defines task working directory housekeeping.
type WorkspaceConfig struct {
	// Retention is how long finished task directories are kept. 0 disables cleanup.
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines the admin HTTP server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level" split_words:"true"`
	LogFormat string `yaml:"log_format" split_words:"true"`
	LockPath  string `yaml:"lock_path" split_words:"true"`
}

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		SharedDir: "./shared",
		Worker: WorkerConfig{
			Listen:        ":5500",
			Workers:       4,
			MaxFrameBytes: 10 * 1024 * 1024,
		},
		Executor: ExecutorConfig{
			Command:        []string{"python3"},
			PathVar:        "PYTHONPATH",
			KillGrace:      5 * time.Second,
			MaxStderrBytes: 64 * 1024,
		},
		Workspace: WorkspaceConfig{
			Retention: 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8081",
		},
		Service: ServiceConfig{
			Name:      "analyst",
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

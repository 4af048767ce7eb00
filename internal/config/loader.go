package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load builds the configuration in layers: defaults, then the YAML file at
// configPath (if any) and its includes, then ANALYST_* environment
// overrides. The result is validated.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		if info.IsDir() {
			absPath = filepath.Join(absPath, "config.yaml")
		}
		if err := loadFile(cfg, absPath, make(map[string]bool)); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFile decodes path over cfg, then each of its includes in order. Later
// files override only the keys they set.
func loadFile(cfg *Config, path string, visited map[string]bool) error {
	if visited[path] {
		return fmt.Errorf("circular include detected: %s", path)
	}
	visited[path] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.Include = nil
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}

	includes := cfg.Include
	cfg.Include = nil
	for i, include := range includes {
		includePath := interpolateEnv(include)
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(filepath.Dir(path), includePath)
		}
		if _, err := os.Stat(includePath); err != nil {
			return fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s", i, includePath, path)
		}
		if err := loadFile(cfg, includePath, visited); err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, include, err)
		}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.SharedDir == "" {
		return fmt.Errorf("shared_dir is required")
	}
	if err := unresolved("shared_dir", cfg.SharedDir); err != nil {
		return err
	}

	if cfg.Worker.Listen == "" {
		return fmt.Errorf("worker.listen is required")
	}
	if cfg.Worker.Workers <= 0 {
		return fmt.Errorf("worker.workers must be positive (got %d)", cfg.Worker.Workers)
	}
	if cfg.Worker.MaxFrameBytes < 1024 {
		return fmt.Errorf("worker.max_frame_bytes must be at least 1024 (got %d)", cfg.Worker.MaxFrameBytes)
	}

	if len(cfg.Executor.Command) == 0 || strings.TrimSpace(cfg.Executor.Command[0]) == "" {
		return fmt.Errorf("executor.command is required")
	}
	for i, arg := range cfg.Executor.Command {
		if err := unresolved(fmt.Sprintf("executor.command[%d]", i), arg); err != nil {
			return err
		}
	}
	if cfg.Executor.PathVar == "" {
		return fmt.Errorf("executor.path_var is required")
	}
	if cfg.Executor.KillGrace <= 0 {
		return fmt.Errorf("executor.kill_grace must be positive")
	}
	if cfg.Executor.MaxStderrBytes <= 0 {
		return fmt.Errorf("executor.max_stderr_bytes must be positive")
	}

	if cfg.Workspace.Retention < 0 {
		return fmt.Errorf("workspace.retention must not be negative")
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the api is enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	return nil
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// LockPath returns the PID lock path, defaulting to <shared_dir>/analyst.lock.
func (c *Config) LockPath() string {
	if c.Service.LockPath != "" {
		return c.Service.LockPath
	}
	return filepath.Join(c.SharedDir, c.Service.Name+".lock")
}

// TasksDir is where task working directories live.
func (c *Config) TasksDir() string {
	return filepath.Join(c.SharedDir, "tasks")
}

package api

import "github.com/mattjoyce/analyst/internal/registry"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	TasksRunning  int    `json:"tasks_running"`
}

// ProcessListResponse is returned by GET /processes.
type ProcessListResponse struct {
	Processes []registry.ProcessInfo `json:"processes"`
}

// KillRequest is the optional JSON body of POST /processes/{taskID}/kill.
type KillRequest struct {
	Reason string `json:"reason,omitempty"`
}

// KillResponse is returned when a kill was delivered.
type KillResponse struct {
	TaskID int64          `json:"task_id"`
	Status registry.State `json:"status"`
	Killed bool           `json:"killed"`
}

// PluginInfo describes one plugin found under the shared directory.
type PluginInfo struct {
	Name         string `json:"name"`
	Version      string `json:"version,omitempty"`
	Description  string `json:"description,omitempty"`
	Path         string `json:"path"`
	SitePackages string `json:"site_packages,omitempty"`
}

// PluginListResponse is returned by GET /plugins.
type PluginListResponse struct {
	Plugins []PluginInfo `json:"plugins"`
}

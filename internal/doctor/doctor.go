// Package doctor checks that a worker's configuration and host environment can
// actually run tasks: the interpreter resolves, the shared directory is usable,
// and the installed plugins load.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/analyst/internal/config"
	"github.com/mattjoyce/analyst/internal/plugin"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []Issue  `json:"errors,omitempty"`
	Warnings []Issue  `json:"warnings,omitempty"`
	Plugins  []string `json:"plugins,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the host.
type Doctor struct {
	cfg *config.Config

	lookPath func(string) (string, error)
	statFS   func(string) (mount, error)
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, statFS: statMount}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateCommand(r)
	d.validateSharedDir(r)
	d.validateListeners(r)
	d.validatePlugins(r)
	d.warnTimings(r)
	d.warnExposedAPI(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateCommand checks that the interpreter resolves on PATH.
func (d *Doctor) validateCommand(r *Result) {
	if len(d.cfg.Executor.Command) == 0 {
		d.addError(r, "executor", "executor.command", "executor.command is required")
		return
	}
	name := d.cfg.Executor.Command[0]
	if _, err := d.lookPath(name); err != nil {
		d.addError(r, "executor", "executor.command",
			fmt.Sprintf("interpreter %q not found: %v", name, err))
	}
}

// validateSharedDir checks the shared directory is a writable local directory.
func (d *Doctor) validateSharedDir(r *Result) {
	dir := d.cfg.SharedDir
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		d.addWarning(r, "shared_dir", "shared_dir",
			fmt.Sprintf("%s does not exist yet; it will be created on first task", dir))
	case err != nil:
		d.addError(r, "shared_dir", "shared_dir", fmt.Sprintf("stat %s: %v", dir, err))
		return
	case !info.IsDir():
		d.addError(r, "shared_dir", "shared_dir", fmt.Sprintf("%s is not a directory", dir))
		return
	default:
		probe, err := os.CreateTemp(dir, ".doctor-*")
		if err != nil {
			d.addError(r, "shared_dir", "shared_dir", fmt.Sprintf("%s is not writable: %v", dir, err))
			return
		}
		_ = probe.Close()
		_ = os.Remove(probe.Name())
	}

	lockPath := d.cfg.LockPath()
	_, m, err := statNearest(lockPath, d.statFS)
	if err != nil {
		d.addWarning(r, "shared_dir", "service.lock_path", fmt.Sprintf("detect filesystem: %v", err))
		return
	}
	if m.Remote {
		d.addWarning(r, "shared_dir", "service.lock_path",
			fmt.Sprintf("lock file %s is on network filesystem %q; the PID lock may not stop a second worker. Set service.lock_path to a local path",
				lockPath, m.FSType))
	}
}

// validateListeners checks listen addresses parse.
func (d *Doctor) validateListeners(r *Result) {
	if _, _, err := net.SplitHostPort(d.cfg.Worker.Listen); err != nil {
		d.addError(r, "worker", "worker.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.Worker.Listen, err))
	}
	if d.cfg.API.Enabled {
		if _, _, err := net.SplitHostPort(d.cfg.API.Listen); err != nil {
			d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		}
		if d.cfg.API.Listen == d.cfg.Worker.Listen {
			d.addError(r, "api", "api.listen", "api.listen must differ from worker.listen")
		}
	}
}

// validatePlugins loads every plugin under the shared directory the same way
// the executor does and reports the ones that would be skipped.
func (d *Doctor) validatePlugins(r *Result) {
	reg, err := plugin.Discover(d.cfg.SharedDir, func(level, msg string, args ...any) {
		if level != "warn" {
			return
		}
		d.addWarning(r, "plugins", "", fmt.Sprintf("%s %s", msg, formatArgs(args)))
	})
	if err != nil {
		d.addError(r, "plugins", "", err.Error())
		return
	}

	for name, p := range reg.All() {
		r.Plugins = append(r.Plugins, name)
		if p.SitePackages == "" {
			d.addWarning(r, "plugins", "",
				fmt.Sprintf("plugin %q has no site-packages directory and adds nothing to %s",
					name, d.cfg.Executor.PathVar))
		}
	}
	sort.Strings(r.Plugins)
}

func (d *Doctor) warnTimings(r *Result) {
	if d.cfg.Executor.KillGrace > time.Minute {
		d.addWarning(r, "executor", "executor.kill_grace",
			fmt.Sprintf("kill_grace %s is long; killAll waits this long for stubborn scripts", d.cfg.Executor.KillGrace))
	}
	if ret := d.cfg.Workspace.Retention; ret > 0 && ret < time.Hour {
		d.addWarning(r, "workspace", "workspace.retention",
			fmt.Sprintf("retention %s is short; task output may be removed before it is collected", ret))
	}
}

// warnExposedAPI flags an admin API reachable beyond loopback. The API can
// kill tasks and has no authentication.
func (d *Doctor) warnExposedAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		return
	}
	if ip := net.ParseIP(host); host == "localhost" || (ip != nil && ip.IsLoopback()) {
		return
	}
	d.addWarning(r, "api", "api.listen",
		fmt.Sprintf("admin API on %s is reachable off-host and has no authentication", d.cfg.API.Listen))
}

func formatArgs(args []any) string {
	parts := make([]string, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		parts = append(parts, fmt.Sprintf("%v=%v", args[i], args[i+1]))
	}
	return strings.Join(parts, " ")
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}
	if len(r.Plugins) > 0 {
		fmt.Fprintf(&b, "Plugins: %s\n", strings.Join(r.Plugins, ", "))
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

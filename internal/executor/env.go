package executor

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/mattjoyce/analyst/internal/cluster"
)

// DefaultPathVar is the module search path variable extended with plugin
// site-packages directories.
const DefaultPathVar = "PYTHONPATH"

// Environment variables set for every script.
const (
	EnvTaskID    = "ANALYST_TASK_ID"
	EnvJobID     = "ANALYST_JOB_ID"
	EnvSharedDir = "ANALYST_SHARED_DIR"
	EnvWorkDir   = "ANALYST_WORK_DIR"
	EnvArchivist = "ANALYST_ARCHIVIST"
	EnvArgs      = "ANALYST_ARGS"
)

// envList is an ordered KEY=VALUE list where later sets replace earlier ones
// in place.
type envList struct {
	entries []string
	index   map[string]int
}

func newEnvList(base []string) *envList {
	e := &envList{index: make(map[string]int, len(base))}
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		e.set(k, v)
	}
	return e
}

func (e *envList) set(key, value string) {
	kv := key + "=" + value
	if i, ok := e.index[key]; ok {
		e.entries[i] = kv
		return
	}
	e.index[key] = len(e.entries)
	e.entries = append(e.entries, kv)
}

func (e *envList) get(key string) string {
	i, ok := e.index[key]
	if !ok {
		return ""
	}
	_, v, _ := strings.Cut(e.entries[i], "=")
	return v
}

// BuildEnv returns the environment for the child running task.
//
// Later sources win: base (normally os.Environ()), then task.Env, then the
// ANALYST_* variables. sitePackages are appended to pathVar, keeping whatever
// value it already had in front.
func BuildEnv(base []string, task cluster.TaskStart, workDir, sharedDir string, sitePackages []string, pathVar string) ([]string, error) {
	if pathVar == "" {
		pathVar = DefaultPathVar
	}
	env := newEnvList(base)
	for _, k := range slices.Sorted(maps.Keys(task.Env)) {
		if k == "" || strings.Contains(k, "=") {
			return nil, fmt.Errorf("invalid environment variable name %q", k)
		}
		env.set(k, task.Env[k])
	}

	args := []byte("{}")
	if len(task.Args) > 0 {
		var err error
		args, err = json.Marshal(task.Args)
		if err != nil {
			return nil, fmt.Errorf("encode task args: %w", err)
		}
	}

	env.set(EnvTaskID, strconv.FormatInt(task.ID, 10))
	env.set(EnvJobID, strconv.FormatInt(task.JobID, 10))
	env.set(EnvSharedDir, sharedDir)
	env.set(EnvWorkDir, workDir)
	env.set(EnvArchivist, task.MasterHost)
	env.set(EnvArgs, string(args))

	if len(sitePackages) > 0 {
		parts := make([]string, 0, len(sitePackages)+1)
		if cur := env.get(pathVar); cur != "" {
			parts = append(parts, cur)
		}
		parts = append(parts, sitePackages...)
		env.set(pathVar, strings.Join(parts, string(os.PathListSeparator)))
	}
	return env.entries, nil
}

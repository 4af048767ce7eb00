package executor

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/analyst/internal/cluster"
)

func envMap(entries []string) map[string]string {
	m := make(map[string]string, len(entries))
	for _, kv := range entries {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

func TestBuildEnv(t *testing.T) {
	sep := string(os.PathListSeparator)
	base := []string{"HOME=/home/worker", "PYTHONPATH=/opt/lib", "ANALYST_TASK_ID=stale", "garbage"}
	task := cluster.TaskStart{
		ID:         42,
		JobID:      7,
		MasterHost: "master.local:5501",
		Env:        map[string]string{"HOME": "/tmp/task-home", "EXTRA": "1"},
		Args:       map[string]any{"quality": 3},
	}

	env, err := BuildEnv(base, task, "/shared/tasks/42", "/shared", []string{"/shared/plugins/a/site-packages", "/shared/plugins/b/site-packages"}, "")
	require.NoError(t, err)

	m := envMap(env)
	assert.Equal(t, "/tmp/task-home", m["HOME"])
	assert.Equal(t, "1", m["EXTRA"])
	assert.Equal(t, "42", m[EnvTaskID])
	assert.Equal(t, "7", m[EnvJobID])
	assert.Equal(t, "/shared", m[EnvSharedDir])
	assert.Equal(t, "/shared/tasks/42", m[EnvWorkDir])
	assert.Equal(t, "master.local:5501", m[EnvArchivist])
	assert.JSONEq(t, `{"quality":3}`, m[EnvArgs])
	assert.Equal(t, "/opt/lib"+sep+"/shared/plugins/a/site-packages"+sep+"/shared/plugins/b/site-packages", m["PYTHONPATH"])
	assert.NotContains(t, m, "garbage")

	// Overridden keys keep their original position.
	assert.True(t, strings.HasPrefix(env[0], "HOME="))
}

func TestBuildEnvCustomPathVar(t *testing.T) {
	env, err := BuildEnv(nil, cluster.TaskStart{ID: 1}, "/w", "/s", []string{"/s/plugins/x/site-packages"}, "NODE_PATH")
	require.NoError(t, err)

	m := envMap(env)
	assert.Equal(t, "/s/plugins/x/site-packages", m["NODE_PATH"])
	assert.NotContains(t, m, "PYTHONPATH")
	assert.Equal(t, "{}", m[EnvArgs])
}

func TestBuildEnvNoSitePackagesLeavesPathAlone(t *testing.T) {
	env, err := BuildEnv([]string{"PYTHONPATH=/opt/lib"}, cluster.TaskStart{ID: 1}, "/w", "/s", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "/opt/lib", envMap(env)["PYTHONPATH"])
}

func TestBuildEnvRejectsBadName(t *testing.T) {
	_, err := BuildEnv(nil, cluster.TaskStart{ID: 1, Env: map[string]string{"A=B": "x"}}, "/w", "/s", nil, "")
	assert.Error(t, err)
}

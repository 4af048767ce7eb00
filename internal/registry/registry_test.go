package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/analyst/internal/cluster"
	"github.com/mattjoyce/analyst/internal/protocol"
)

type fakeRun struct {
	kills   atomic.Int32
	killErr error
}

func (f *fakeRun) Kill() error {
	f.kills.Add(1)
	return f.killErr
}
func (f *fakeRun) Pid() int       { return 4242 }
func (f *fakeRun) Digest() string { return "abc123" }

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := New()
	p, err := r.Register(cluster.TaskStart{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, StatePending, p.State())
	assert.Equal(t, -1, p.ExitStatus())

	_, err = r.Register(cluster.TaskStart{ID: 1})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, p, got)
}

func TestRegisterAfterRemove(t *testing.T) {
	r := New()
	p, err := r.Register(cluster.TaskStart{ID: 1})
	require.NoError(t, err)
	p.Finish(0)
	assert.True(t, r.Remove(1, p))
	assert.False(t, r.Contains(1))

	_, err = r.Register(cluster.TaskStart{ID: 1})
	assert.NoError(t, err)
}

func TestAdmit(t *testing.T) {
	r := New()
	assert.NoError(t, r.Admit(2))

	_, err := r.Register(cluster.TaskStart{ID: 2})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Admit(2), ErrDuplicate)
	assert.NoError(t, r.Admit(3))
}

func TestCloseRefusesRegister(t *testing.T) {
	r := New()
	p, err := r.Register(cluster.TaskStart{ID: 1})
	require.NoError(t, err)

	r.Close()
	_, err = r.Register(cluster.TaskStart{ID: 2})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, r.Admit(2), ErrClosed)

	// Existing entries stay until their owner removes them.
	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.True(t, r.Remove(1, p))
}

func TestRemoveOnlyOwnEntry(t *testing.T) {
	r := New()
	first, err := r.Register(cluster.TaskStart{ID: 5})
	require.NoError(t, err)
	require.True(t, r.Remove(5, first))

	second, err := r.Register(cluster.TaskStart{ID: 5})
	require.NoError(t, err)

	assert.False(t, r.Remove(5, first))
	got, ok := r.Lookup(5)
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestConcurrentRegisterSingleWinner(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Register(cluster.TaskStart{ID: 9}); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestProcessLifecycle(t *testing.T) {
	r := New()
	p, err := r.Register(cluster.TaskStart{ID: 2, JobID: 11, Name: "ingest"})
	require.NoError(t, err)

	run := &fakeRun{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(run, cancel))
	assert.Equal(t, StateRunning, p.State())
	assert.Error(t, p.Start(run, cancel))

	p.RecordStats(protocol.Stats{SuccessCount: 3})

	require.NoError(t, p.Kill())
	assert.Equal(t, StateKilling, p.State())
	assert.True(t, p.Killed())
	assert.Equal(t, int32(1), run.kills.Load())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	// Kill is idempotent once killing.
	require.NoError(t, p.Kill())
	assert.Equal(t, int32(1), run.kills.Load())

	p.Finish(143)
	assert.Equal(t, StateTerminated, p.State())
	assert.Equal(t, 143, p.ExitStatus())

	info := p.Snapshot()
	assert.Equal(t, int64(2), info.TaskID)
	assert.Equal(t, int64(11), info.JobID)
	assert.Equal(t, StateTerminated, info.State)
	assert.True(t, info.Killed)
	assert.Equal(t, 4242, info.Pid)
	assert.Equal(t, "abc123", info.ScriptDigest)
	require.NotNil(t, info.Stats)
	assert.Equal(t, 3, info.Stats.SuccessCount)
	assert.NotNil(t, info.StartedAt)
	assert.NotNil(t, info.FinishedAt)
}

func TestKillPendingPreventsStart(t *testing.T) {
	r := New()
	p, err := r.Register(cluster.TaskStart{ID: 3})
	require.NoError(t, err)

	require.NoError(t, p.Kill())
	assert.Equal(t, StatePending, p.State())
	assert.True(t, p.Killed())

	err = p.Start(&fakeRun{}, func() {})
	assert.ErrorIs(t, err, ErrKilled)
}

func TestKillReportsRunnerFailure(t *testing.T) {
	r := New()
	p, err := r.Register(cluster.TaskStart{ID: 4})
	require.NoError(t, err)
	require.NoError(t, p.Start(&fakeRun{killErr: errors.New("no such process")}, nil))

	err = p.Kill()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such process")
	assert.True(t, p.Killed())
}

func TestForEachBlocksRegistration(t *testing.T) {
	r := New()
	_, err := r.Register(cluster.TaskStart{ID: 1})
	require.NoError(t, err)

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ForEach(func(*ClusterProcess) {
			close(inside)
			<-release
		})
	}()
	<-inside

	registered := make(chan struct{})
	go func() {
		_, _ = r.Register(cluster.TaskStart{ID: 2})
		close(registered)
	}()

	select {
	case <-registered:
		t.Fatal("register completed during ForEach")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-done
	<-registered
	assert.Equal(t, 2, r.Len())
}

func TestSnapshotOrdered(t *testing.T) {
	r := New()
	for _, id := range []int64{30, 10, 20} {
		_, err := r.Register(cluster.TaskStart{ID: id})
		require.NoError(t, err)
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []int64{10, 20, 30}, []int64{snap[0].TaskID, snap[1].TaskID, snap[2].TaskID})
	assert.Nil(t, snap[0].StartedAt)
}

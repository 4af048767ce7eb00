package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/analyst/internal/cluster"
)

// Registry maps task ids to their live ClusterProcess. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	procs  map[int64]*ClusterProcess
	closed bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{procs: make(map[int64]*ClusterProcess)}
}

// Register creates a PENDING process for task. It fails with ErrDuplicate if
// the id is already registered and with ErrClosed after Close.
func (r *Registry) Register(task cluster.TaskStart) (*ClusterProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.admitLocked(task.ID); err != nil {
		return nil, err
	}
	p := newClusterProcess(task)
	r.procs[task.ID] = p
	return p, nil
}

// Admit reports whether Register would currently accept id. It is advisory:
// Register still makes the final decision.
func (r *Registry) Admit(id int64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admitLocked(id)
}

func (r *Registry) admitLocked(id int64) error {
	if r.closed {
		return fmt.Errorf("%w: task %d refused", ErrClosed, id)
	}
	if existing, ok := r.procs[id]; ok {
		return fmt.Errorf("%w: task %d is %s", ErrDuplicate, id, existing.State())
	}
	return nil
}

// Close makes every later Register fail with ErrClosed. Processes already
// registered are unaffected.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Lookup returns the process registered for id.
func (r *Registry) Lookup(id int64) (*ClusterProcess, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[id]
	return p, ok
}

// Remove drops id from the registry if it still maps to p. It reports whether
// an entry was removed.
func (r *Registry) Remove(id int64, p *ClusterProcess) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.procs[id]; !ok || cur != p {
		return false
	}
	delete(r.procs, id)
	return true
}

// ForEach calls fn for every registered process. The registry is read-locked
// for the whole iteration: Register blocks until it returns, so fn sees every
// process registered before the call and none registered during it.
func (r *Registry) ForEach(fn func(*ClusterProcess)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.procs {
		fn(p)
	}
}

// Len returns the number of registered processes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.procs)
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id int64) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Snapshot returns the state of every process, ordered by task id.
func (r *Registry) Snapshot() []ProcessInfo {
	r.mu.RLock()
	out := make([]ProcessInfo, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

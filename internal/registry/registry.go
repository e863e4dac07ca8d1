// Package registry tracks specialist workers, their capability tags, and
// their availability state. Workers self-report health via periodic liveness
// signals; a worker that misses too many in a row is marked unavailable and
// any task it held is returned to the ready queue.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/omen4impact/noode/internal/config"
	"github.com/omen4impact/noode/pkg/models"
)

// ErrUnknownWorker indicates an operation referenced a worker that is not
// registered.
var ErrUnknownWorker = errors.New("unknown worker")

// RequeueFunc is invoked with the task a lost worker was holding, so the
// scheduler can return it to the ready queue.
type RequeueFunc func(taskID string)

// Registry is the worker pool. It is one of the two globally shared mutable
// structures in the system; all access goes through these methods.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*models.Worker

	compat         *config.CompatTable
	maxMissedBeats int
	requeue        RequeueFunc

	nowFn func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithCompatTable installs the external capability compatibility table.
// Without one, matching is strictly exact-tag.
func WithCompatTable(t *config.CompatTable) Option {
	return func(r *Registry) { r.compat = t }
}

// WithMaxMissedBeats overrides the liveness threshold.
func WithMaxMissedBeats(n int) Option {
	return func(r *Registry) { r.maxMissedBeats = n }
}

// WithRequeue installs the callback invoked with the held task of a worker
// declared unavailable.
func WithRequeue(fn RequeueFunc) Option {
	return func(r *Registry) { r.requeue = fn }
}

// withNow overrides the clock, for tests.
func withNow(fn func() time.Time) Option {
	return func(r *Registry) { r.nowFn = fn }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		workers:        make(map[string]*models.Worker),
		compat:         config.NewCompatTable(),
		maxMissedBeats: 3,
		nowFn:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetRequeue installs the requeue callback after construction. The scheduler
// wires itself in here; it cannot exist before the registry does.
func (r *Registry) SetRequeue(fn RequeueFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requeue = fn
}

// Register adds a worker to the pool in the idle state. Re-registering an
// existing ID is not an error: a crashed worker rejoins under its own name,
// its capability set is replaced, its liveness resets, and any task its
// previous incarnation held is requeued.
func (r *Registry) Register(w *models.Worker) error {
	if w.ID == "" {
		return errors.New("worker id required")
	}
	if len(w.Capabilities) == 0 {
		return fmt.Errorf("worker %s: at least one capability required", w.ID)
	}

	r.mu.Lock()
	now := r.nowFn()
	w.Status = models.WorkerStatusIdle
	w.TaskID = ""
	w.MissedBeats = 0
	w.RegisteredAt = now
	w.LastSeen = now

	var heldTask string
	if prev, exists := r.workers[w.ID]; exists {
		heldTask = prev.TaskID
		w.RegisteredAt = prev.RegisteredAt
	}
	r.workers[w.ID] = w
	requeue := r.requeue
	r.mu.Unlock()

	if heldTask != "" && requeue != nil {
		requeue(heldTask)
	}
	return nil
}

// Release removes a worker from the pool. The task it held, if any, is
// handed to the requeue callback.
func (r *Registry) Release(workerID string) error {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownWorker
	}
	heldTask := w.TaskID
	delete(r.workers, workerID)
	requeue := r.requeue
	r.mu.Unlock()

	if heldTask != "" && requeue != nil {
		requeue(heldTask)
	}
	return nil
}

// Find returns an idle worker able to serve the capability, or nil if none
// is available. Matching is exact-tag; the compatibility table may admit a
// substitute, except for security-class requests, which never accept
// substitution. Exact matches are preferred over substitutes.
func (r *Registry) Find(cap models.Capability, priority models.PriorityClass) *models.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var substitute *models.Worker
	for _, id := range r.sortedIDsLocked() {
		w := r.workers[id]
		if w.Status != models.WorkerStatusIdle {
			continue
		}
		if w.Has(cap) {
			return w
		}
		if substitute != nil || priority == models.PrioritySecurity {
			continue
		}
		for _, offered := range w.Capabilities {
			if r.compat.Compatible(cap, offered) {
				substitute = w
				break
			}
		}
	}
	return substitute
}

// Assign marks a worker busy with the given task.
func (r *Registry) Assign(workerID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return ErrUnknownWorker
	}
	if w.Status != models.WorkerStatusIdle {
		return fmt.Errorf("worker %s is %s, not idle", workerID, w.Status)
	}
	w.Status = models.WorkerStatusBusy
	w.TaskID = taskID
	return nil
}

// Done returns a worker to the idle pool after its task completes. Workers
// are leased, never owned: every completion path must end here.
func (r *Registry) Done(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return ErrUnknownWorker
	}
	w.TaskID = ""
	if w.Status == models.WorkerStatusBusy {
		w.Status = models.WorkerStatusIdle
	}
	return nil
}

// Heartbeat records a liveness signal. A previously unavailable worker that
// reports in returns to the idle pool.
func (r *Registry) Heartbeat(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return ErrUnknownWorker
	}
	w.LastSeen = r.nowFn()
	w.MissedBeats = 0
	if w.Status == models.WorkerStatusUnavailable {
		w.Status = models.WorkerStatusIdle
	}
	return nil
}

// Sweep checks liveness against the heartbeat interval, incrementing missed
// counts and marking workers unavailable past the threshold. Held tasks of
// newly unavailable workers are requeued. Returns IDs of workers marked
// unavailable by this sweep.
func (r *Registry) Sweep(interval time.Duration) []string {
	now := r.nowFn()

	r.mu.Lock()
	var lost []string
	var requeued []string
	for _, w := range r.workers {
		if w.Status == models.WorkerStatusUnavailable {
			continue
		}
		missed := int(now.Sub(w.LastSeen) / interval)
		if missed <= w.MissedBeats {
			continue
		}
		w.MissedBeats = missed
		if w.MissedBeats >= r.maxMissedBeats {
			w.Status = models.WorkerStatusUnavailable
			lost = append(lost, w.ID)
			if w.TaskID != "" {
				requeued = append(requeued, w.TaskID)
				w.TaskID = ""
			}
		}
	}
	requeue := r.requeue
	r.mu.Unlock()

	if requeue != nil {
		for _, taskID := range requeued {
			requeue(taskID)
		}
	}
	sort.Strings(lost)
	return lost
}

// Monitor runs Sweep on a ticker until the context is cancelled.
func (r *Registry) Monitor(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.Sweep(interval)
		}
	}
}

// Get returns a copy of the worker's current record.
func (r *Registry) Get(workerID string) (models.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	if !ok {
		return models.Worker{}, ErrUnknownWorker
	}
	return *w, nil
}

// List returns copies of all registered workers, sorted by ID.
func (r *Registry) List() []models.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Worker, 0, len(r.workers))
	for _, id := range r.sortedIDsLocked() {
		out = append(out, *r.workers[id])
	}
	return out
}

// HasCapability reports whether any registered worker (regardless of current
// availability) carries the capability. The decomposer uses this to reject
// unsatisfiable work requests.
func (r *Registry) HasCapability(cap models.Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, w := range r.workers {
		if w.Has(cap) {
			return true
		}
		for _, offered := range w.Capabilities {
			if r.compat.Compatible(cap, offered) {
				return true
			}
		}
	}
	return false
}

// sortedIDsLocked returns worker IDs in stable order. Caller must hold r.mu.
func (r *Registry) sortedIDsLocked() []string {
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

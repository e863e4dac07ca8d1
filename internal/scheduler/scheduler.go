// Package scheduler dispatches ready tasks to capability-matched workers.
// It maintains one priority queue per capability tag, retries transient
// failures with exponential backoff, and abandons the dependent subtree of a
// terminal failure.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/omen4impact/noode/internal/config"
	"github.com/omen4impact/noode/internal/graph"
	"github.com/omen4impact/noode/internal/registry"
	"github.com/omen4impact/noode/pkg/models"
)

// Worker is the narrow interface every specialist implements. The scheduler
// depends only on this; worker internals are opaque to the coordination core.
type Worker interface {
	ID() string
	Capabilities() []models.Capability
	Execute(ctx context.Context, task *models.Task) (string, error)
}

// Observer receives task lifecycle notifications. All methods are called
// from scheduler goroutines and must not block.
type Observer interface {
	TaskStarted(task models.Task)
	TaskCompleted(task models.Task)
	TaskFailed(task models.Task, err error)
	TaskAbandoned(task models.Task)
}

// TaskFailure is the structured error surfaced when a task exhausts its
// retry budget.
type TaskFailure struct {
	TaskID   string
	Attempts int
	Err      error
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("task %s failed after %d attempts: %v", e.TaskID, e.Attempts, e.Err)
}

func (e *TaskFailure) Unwrap() error { return e.Err }

// Scheduler owns task status transitions. Queue operations are short and
// atomic under one mutex; execution happens in per-task goroutines that hold
// no locks.
type Scheduler struct {
	mu        sync.Mutex
	queues    map[models.Capability]*taskQueue
	queued    map[string]bool
	executors map[string]Worker
	cancels   map[string]context.CancelFunc

	graph *graph.DependencyGraph
	reg   *registry.Registry

	retryBudget int
	backoff     time.Duration
	poll        time.Duration
	seq         uint64

	trigger  chan struct{}
	observer Observer

	wg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithObserver installs the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// withPollInterval overrides the dispatch backstop ticker, for tests.
func withPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.poll = d }
}

// New creates a Scheduler over a shared dependency graph and worker pool.
func New(g *graph.DependencyGraph, reg *registry.Registry, cfg config.SchedulerConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		queues:      make(map[models.Capability]*taskQueue),
		queued:      make(map[string]bool),
		executors:   make(map[string]Worker),
		cancels:     make(map[string]context.CancelFunc),
		graph:       g,
		reg:         reg,
		retryBudget: cfg.RetryBudget,
		backoff:     cfg.RetryBackoff,
		poll:        250 * time.Millisecond,
		trigger:     make(chan struct{}, 1),
		observer:    nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	// Tasks held by workers the registry declares lost come back here.
	reg.SetRequeue(s.Requeue)
	return s
}

// AttachWorker registers a worker's pool record and keeps its executor for
// dispatch.
func (s *Scheduler) AttachWorker(w Worker) error {
	record := &models.Worker{
		ID:           w.ID(),
		Capabilities: w.Capabilities(),
	}
	if err := s.reg.Register(record); err != nil {
		return err
	}

	s.mu.Lock()
	s.executors[w.ID()] = w
	s.mu.Unlock()

	s.kick()
	return nil
}

// DetachWorker removes a worker from the pool. Its held task, if any, is
// requeued through the registry's release path.
func (s *Scheduler) DetachWorker(workerID string) error {
	s.mu.Lock()
	delete(s.executors, workerID)
	s.mu.Unlock()
	return s.reg.Release(workerID)
}

// Submit adds a decomposed task set to the graph and queues the ready ones.
func (s *Scheduler) Submit(tasks []*models.Task) error {
	if err := s.graph.Build(tasks); err != nil {
		return err
	}

	now := time.Now()
	s.mu.Lock()
	for _, t := range tasks {
		t.SubmittedAt = now
		// Global submission sequence; the FIFO tie-breaker must hold across
		// requests, not just within one.
		s.seq++
		t.Seq = s.seq
	}
	s.enqueueReadyLocked()
	s.mu.Unlock()

	s.kick()
	return nil
}

// Requeue returns a task to the ready queue after its worker was lost. The
// registry calls this for tasks held by workers declared unavailable.
func (s *Scheduler) Requeue(taskID string) {
	s.mu.Lock()
	t := s.graph.Task(taskID)
	if t == nil || t.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	if cancel, ok := s.cancels[taskID]; ok {
		cancel()
		delete(s.cancels, taskID)
	}
	t.Status = models.TaskStatusPending
	t.AssignedTo = ""
	s.enqueueLocked(t)
	s.mu.Unlock()

	s.kick()
}

// CancelRequest abandons every non-terminal task of a work request,
// cancelling in-flight executions.
func (s *Scheduler) CancelRequest(requestID, reason string) {
	s.mu.Lock()
	var abandoned []models.Task
	for _, t := range s.graph.Tasks() {
		if t.RequestID != requestID || t.Status.Terminal() {
			continue
		}
		s.abandonLocked(t, reason)
		abandoned = append(abandoned, *t)
	}
	s.mu.Unlock()

	for _, t := range abandoned {
		s.observer.TaskAbandoned(t)
	}
	s.kick()
}

// Run dispatches until done closes, then cancels in-flight executions and
// waits for their goroutines to drain.
func (s *Scheduler) Run(done <-chan struct{}) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			s.mu.Lock()
			for id, cancel := range s.cancels {
				cancel()
				delete(s.cancels, id)
			}
			s.mu.Unlock()
			s.wg.Wait()
			return
		case <-s.trigger:
			s.dispatch()
		case <-ticker.C:
			s.dispatch()
		}
	}
}

// Task returns a copy of the task's current record.
func (s *Scheduler) Task(taskID string) (models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.graph.Task(taskID)
	if t == nil {
		return models.Task{}, false
	}
	return *t, true
}

// RequestTasks returns copies of every task belonging to a work request,
// sorted by submission sequence.
func (s *Scheduler) RequestTasks(requestID string) []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Task
	for _, t := range s.graph.Tasks() {
		if t.RequestID == requestID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Refresh re-scans the graph for ready tasks. Recovery calls this after
// marking pre-crash completions, which happens outside the completion path.
func (s *Scheduler) Refresh() {
	s.mu.Lock()
	s.enqueueReadyLocked()
	s.mu.Unlock()
	s.kick()
}

// kick nudges the dispatch loop without blocking.
func (s *Scheduler) kick() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// dispatch pairs queued tasks with idle workers, highest priority first.
func (s *Scheduler) dispatch() {
	for {
		s.mu.Lock()
		task, worker := s.matchLocked()
		if task == nil {
			s.mu.Unlock()
			return
		}

		if err := s.reg.Assign(worker.ID(), task.ID); err != nil {
			// Lost the race for this worker; put the task back.
			s.enqueueLocked(task)
			s.mu.Unlock()
			continue
		}
		task.Status = models.TaskStatusInProgress
		task.AssignedTo = worker.ID()

		ctx, cancel := context.WithCancel(context.Background())
		s.cancels[task.ID] = cancel
		started := *task
		s.mu.Unlock()

		s.observer.TaskStarted(started)
		s.wg.Add(1)
		go s.execute(ctx, task, worker)
	}
}

// matchLocked pops the first dispatchable (task, worker) pair. Capabilities
// are scanned in sorted order for determinism. Caller must hold s.mu.
func (s *Scheduler) matchLocked() (*models.Task, Worker) {
	caps := make([]models.Capability, 0, len(s.queues))
	for c := range s.queues {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })

	for _, c := range caps {
		q := s.queues[c]
		head := q.peek()
		if head == nil {
			continue
		}
		record := s.reg.Find(c, head.Priority)
		if record == nil {
			continue
		}
		w, ok := s.executors[record.ID]
		if !ok {
			continue
		}
		task := q.pop()
		delete(s.queued, task.ID)
		return task, w
	}
	return nil, nil
}

// execute runs one task to a terminal state, retrying transient failures.
func (s *Scheduler) execute(ctx context.Context, task *models.Task, w Worker) {
	defer s.wg.Done()

	for {
		result, err := w.Execute(ctx, task)
		if err == nil {
			s.complete(task, w.ID(), result)
			return
		}

		s.mu.Lock()
		// An abandon or requeue may have raced with the execution; its
		// verdict stands and this attempt's outcome is dropped.
		if task.Status != models.TaskStatusInProgress || ctx.Err() != nil {
			s.mu.Unlock()
			s.reg.Done(w.ID())
			return
		}
		task.RetryCount++
		retries := task.RetryCount
		s.mu.Unlock()

		if retries > s.retryBudget {
			s.fail(task, w.ID(), err)
			return
		}

		// Exponential backoff: base, 2x base, 4x base, ...
		delay := s.backoff << (retries - 1)
		select {
		case <-ctx.Done():
			s.reg.Done(w.ID())
			return
		case <-time.After(delay):
		}
	}
}

// complete records a task's success and unblocks its dependents.
func (s *Scheduler) complete(task *models.Task, workerID, result string) {
	now := time.Now()

	s.mu.Lock()
	if task.Status != models.TaskStatusInProgress {
		s.mu.Unlock()
		s.reg.Done(workerID)
		return
	}
	task.Status = models.TaskStatusDone
	task.Result = result
	task.CompletedAt = &now
	delete(s.cancels, task.ID)
	done := *task
	s.mu.Unlock()

	s.reg.Done(workerID)
	s.graph.MarkComplete(task.ID)

	s.mu.Lock()
	s.enqueueReadyLocked()
	s.mu.Unlock()

	s.observer.TaskCompleted(done)
	s.kick()
}

// fail records a terminal failure and abandons the dependent subtree.
func (s *Scheduler) fail(task *models.Task, workerID string, cause error) {
	now := time.Now()
	failure := &TaskFailure{TaskID: task.ID, Attempts: task.RetryCount + 1, Err: cause}

	s.mu.Lock()
	task.Status = models.TaskStatusFailed
	task.Error = cause.Error()
	task.CompletedAt = &now
	delete(s.cancels, task.ID)
	failed := *task

	var abandoned []models.Task
	for _, depID := range s.graph.TransitiveDependents(task.ID) {
		dep := s.graph.Task(depID)
		if dep == nil || dep.Status.Terminal() {
			continue
		}
		s.abandonLocked(dep, fmt.Sprintf("dependency %s failed", task.ID))
		abandoned = append(abandoned, *dep)
	}
	s.mu.Unlock()

	s.reg.Done(workerID)
	s.observer.TaskFailed(failed, failure)
	for _, t := range abandoned {
		s.observer.TaskAbandoned(t)
	}
	s.kick()
}

// abandonLocked marks a task abandoned, removing it from its queue and
// cancelling any in-flight execution. Caller must hold s.mu.
func (s *Scheduler) abandonLocked(t *models.Task, reason string) {
	if q, ok := s.queues[t.Capability]; ok && s.queued[t.ID] {
		q.remove(t.ID)
		delete(s.queued, t.ID)
	}
	if cancel, ok := s.cancels[t.ID]; ok {
		cancel()
		delete(s.cancels, t.ID)
	}
	now := time.Now()
	t.Status = models.TaskStatusAbandoned
	t.AbandonReason = reason
	t.CompletedAt = &now
}

// enqueueReadyLocked queues every pending task whose dependencies are all
// complete. Caller must hold s.mu.
func (s *Scheduler) enqueueReadyLocked() {
	for _, id := range s.graph.Ready() {
		if s.queued[id] {
			continue
		}
		if t := s.graph.Task(id); t != nil {
			s.enqueueLocked(t)
		}
	}
}

// enqueueLocked places a task on its capability queue. Caller must hold s.mu.
func (s *Scheduler) enqueueLocked(t *models.Task) {
	q, ok := s.queues[t.Capability]
	if !ok {
		q = newTaskQueue()
		s.queues[t.Capability] = q
	}
	q.push(t)
	s.queued[t.ID] = true
}

type nopObserver struct{}

func (nopObserver) TaskStarted(models.Task)       {}
func (nopObserver) TaskCompleted(models.Task)     {}
func (nopObserver) TaskFailed(models.Task, error) {}
func (nopObserver) TaskAbandoned(models.Task)     {}

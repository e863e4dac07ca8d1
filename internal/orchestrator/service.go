package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omen4impact/noode/internal/audit"
	"github.com/omen4impact/noode/internal/config"
	"github.com/omen4impact/noode/internal/consensus"
	"github.com/omen4impact/noode/internal/decompose"
	"github.com/omen4impact/noode/internal/gate"
	"github.com/omen4impact/noode/internal/graph"
	"github.com/omen4impact/noode/internal/lease"
	"github.com/omen4impact/noode/internal/registry"
	"github.com/omen4impact/noode/internal/review"
	"github.com/omen4impact/noode/internal/scheduler"
	"github.com/omen4impact/noode/pkg/models"
)

// ErrNotApproved indicates a deployment lease was requested for a change that
// has not passed review.
var ErrNotApproved = errors.New("change is not approved")

// ErrDuplicateRequest indicates a work request ID was submitted twice.
var ErrDuplicateRequest = errors.New("duplicate work request")

// Service is the coordination core. It owns the dependency graph, the worker
// pool, and the change lifecycle; collaborators drive it through the HTTP API
// or the CLI.
type Service struct {
	cfg *config.Config
	log *DebugLogger

	graph      *graph.DependencyGraph
	registry   *registry.Registry
	scheduler  *scheduler.Scheduler
	decomposer *decompose.Decomposer
	classifier *gate.Classifier
	reviews    *review.Coordinator
	resolver   *consensus.Resolver
	leases     *lease.Manager
	store      *audit.Store
	compat     *config.CompatTable

	events chan Event

	runCtx    context.Context
	runCancel context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup

	mu       sync.Mutex
	requests map[string]*requestState
}

// requestState tracks a work request until its change is assembled.
type requestState struct {
	id       string
	metadata models.ChangeMetadata
	total    int
	terminal int
	failed   bool
	closed   bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger installs the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(s *Service) { s.log = l }
}

// WithTaxonomy replaces the default capability taxonomy.
func WithTaxonomy(t decompose.Taxonomy) Option {
	return func(s *Service) { s.decomposer = decompose.New(t, s.registry) }
}

// New assembles a Service from configuration and an open audit store.
func New(cfg *config.Config, store *audit.Store, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		log:      NopLogger(),
		store:    store,
		events:   make(chan Event, 256),
		requests: make(map[string]*requestState),
	}

	s.compat = config.NewCompatTable()
	if path := cfg.Registry.CompatTable; path != "" {
		table, err := config.LoadCompatTable(path)
		if err != nil {
			return nil, fmt.Errorf("load compat table: %w", err)
		}
		if err := table.Watch(path); err != nil {
			return nil, fmt.Errorf("watch compat table: %w", err)
		}
		s.compat = table
	}

	s.graph = graph.New()
	s.registry = registry.New(
		registry.WithCompatTable(s.compat),
		registry.WithMaxMissedBeats(cfg.Registry.MaxMissedBeats),
	)
	s.scheduler = scheduler.New(s.graph, s.registry, cfg.Scheduler, scheduler.WithObserver(s))
	s.decomposer = decompose.New(decompose.DefaultTaxonomy(), s.registry)
	s.classifier = gate.New(cfg.Gate, gate.WithFindingLookup(store))
	s.reviews = review.New(cfg.Review)
	s.resolver = consensus.New(cfg.Review.IterationLimit)
	s.leases = lease.NewManager()

	for _, opt := range opts {
		opt(s)
	}
	setPackageLogger(s.log)
	return s, nil
}

// Start launches the dispatch, liveness, and lease-sweep loops.
func (s *Service) Start() {
	s.done = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scheduler.Run(s.done)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Registry.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				for _, id := range s.registry.Sweep(s.cfg.Registry.HeartbeatInterval) {
					debugLog("worker %s marked unavailable", id)
					s.emit(Event{Type: EventWorkerLost, WorkerID: id})
				}
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.leases.Run(s.done, s.cfg.Lease.SweepInterval)
	}()
}

// Stop shuts the coordination loops down and waits for in-flight work to
// drain. The audit store stays open; the caller owns it.
func (s *Service) Stop() {
	if s.done == nil {
		return
	}
	s.runCancel()
	close(s.done)
	s.wg.Wait()
	s.compat.Close()
}

// Events returns the coordination event stream.
func (s *Service) Events() <-chan Event {
	return s.events
}

// AttachWorker adds a specialist to the pool.
func (s *Service) AttachWorker(w scheduler.Worker) error {
	debugLog("worker %s attached with capabilities %v", w.ID(), w.Capabilities())
	return s.scheduler.AttachWorker(w)
}

// DetachWorker removes a specialist from the pool, requeueing its held task.
func (s *Service) DetachWorker(workerID string) error {
	return s.scheduler.DetachWorker(workerID)
}

// Heartbeat records a worker liveness signal.
func (s *Service) Heartbeat(workerID string) error {
	return s.registry.Heartbeat(workerID)
}

// Workers returns the current pool state.
func (s *Service) Workers() []models.Worker {
	return s.registry.List()
}

// RegisterReviewer installs a reviewer for its capability.
func (s *Service) RegisterReviewer(r review.Reviewer) {
	s.reviews.Register(r)
}

// UnregisterReviewer removes the reviewer for a capability.
func (s *Service) UnregisterReviewer(cap models.Capability) {
	s.reviews.Unregister(cap)
}

// SubmitWorkRequest decomposes and queues a work request. The metadata
// describes the change the request will produce, for later classification.
// Returns the created tasks.
func (s *Service) SubmitWorkRequest(req *decompose.WorkRequest, meta models.ChangeMetadata) ([]models.Task, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	tasks, err := s.decomposer.Decompose(req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, dup := s.requests[req.ID]; dup {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.ID)
	}
	s.requests[req.ID] = &requestState{
		id:       req.ID,
		metadata: meta,
		total:    len(tasks),
	}
	s.mu.Unlock()

	// Metadata is persisted first so a change assembled after a crash can
	// still be classified.
	if err := s.store.SaveRequest(req.ID, meta); err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if err := s.store.SaveTask(t); err != nil {
			return nil, err
		}
	}
	if err := s.scheduler.Submit(tasks); err != nil {
		return nil, err
	}

	debugLog("request %s accepted: %d tasks", req.ID, len(tasks))
	s.emit(Event{Type: EventRequestAccepted, RequestID: req.ID,
		Message: fmt.Sprintf("%d tasks queued", len(tasks))})

	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, *t)
	}
	return out, nil
}

// CancelRequest abandons all remaining tasks of a request.
func (s *Service) CancelRequest(requestID, reason string) {
	s.scheduler.CancelRequest(requestID, reason)
}

// RequestTasks returns the current state of a request's tasks.
func (s *Service) RequestTasks(requestID string) []models.Task {
	if tasks := s.scheduler.RequestTasks(requestID); len(tasks) > 0 {
		return tasks
	}
	// Not in memory; fall back to the store for finished or pre-crash work.
	tasks, err := s.store.RequestTasks(requestID)
	if err != nil {
		return nil
	}
	return tasks
}

// TaskStarted implements scheduler.Observer.
func (s *Service) TaskStarted(t models.Task) {
	s.store.SaveTask(&t)
	s.store.RecordTransition(t.ID, models.TaskStatusPending, models.TaskStatusInProgress, t.AssignedTo)
	debugLog("task %s started on %s", t.ID, t.AssignedTo)
	s.emit(Event{Type: EventTaskStarted, RequestID: t.RequestID, TaskID: t.ID, WorkerID: t.AssignedTo})
}

// TaskCompleted implements scheduler.Observer.
func (s *Service) TaskCompleted(t models.Task) {
	s.store.SaveTask(&t)
	s.store.RecordTransition(t.ID, models.TaskStatusInProgress, models.TaskStatusDone, t.AssignedTo)
	debugLog("task %s completed", t.ID)
	s.emit(Event{Type: EventTaskCompleted, RequestID: t.RequestID, TaskID: t.ID, WorkerID: t.AssignedTo})
	s.onTerminal(t.RequestID, false)
}

// TaskFailed implements scheduler.Observer.
func (s *Service) TaskFailed(t models.Task, err error) {
	s.store.SaveTask(&t)
	s.store.RecordTransition(t.ID, models.TaskStatusInProgress, models.TaskStatusFailed, t.AssignedTo)
	debugLog("task %s failed: %v", t.ID, err)
	s.emit(Event{Type: EventTaskFailed, RequestID: t.RequestID, TaskID: t.ID, Message: err.Error()})
	s.onTerminal(t.RequestID, true)
}

// TaskAbandoned implements scheduler.Observer.
func (s *Service) TaskAbandoned(t models.Task) {
	s.store.SaveTask(&t)
	s.store.RecordTransition(t.ID, models.TaskStatusPending, models.TaskStatusAbandoned, "scheduler")
	debugLog("task %s abandoned: %s", t.ID, t.AbandonReason)
	s.emit(Event{Type: EventTaskAbandoned, RequestID: t.RequestID, TaskID: t.ID, Message: t.AbandonReason})
	s.onTerminal(t.RequestID, true)
}

// onTerminal counts a request's terminal tasks and assembles the change once
// every task is done. A request with any failure assembles nothing.
func (s *Service) onTerminal(requestID string, failed bool) {
	s.mu.Lock()
	st, ok := s.requests[requestID]
	if !ok || st.closed {
		s.mu.Unlock()
		return
	}
	st.terminal++
	if failed {
		st.failed = true
	}
	finished := st.terminal >= st.total
	if finished {
		st.closed = true
	}
	meta := st.metadata
	anyFailed := st.failed
	s.mu.Unlock()

	if !finished {
		return
	}
	if anyFailed {
		debugLog("request %s finished with failures", requestID)
		s.emit(Event{Type: EventRequestFailed, RequestID: requestID})
		return
	}
	s.assembleChange(requestID, meta)
}

// assembleChange turns a fully completed request into a classified change and
// launches its first review round.
func (s *Service) assembleChange(requestID string, meta models.ChangeMetadata) {
	// Recovered requests may live only in the store, not the scheduler.
	tasks := s.RequestTasks(requestID)
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}

	lineage := uuid.NewString()
	change := &models.Change{
		ID:        changeID(lineage, 1),
		LineageID: lineage,
		TaskIDs:   ids,
		State:     models.ChangeStateProposed,
		Iteration: 1,
		Metadata:  meta,
		CreatedAt: time.Now(),
	}
	tier, err := s.classifier.Classify(meta)
	if err != nil {
		tier = s.classifier.Base(meta)
	}
	change.Tier = tier

	for _, t := range tasks {
		t.ChangeID = change.ID
		s.store.SaveTask(&t)
	}
	s.store.SaveChange(change)

	debugLog("change %s assembled from %s at %s", change.ID, requestID, tier)
	s.emit(Event{Type: EventChangeAssembled, RequestID: requestID,
		ChangeID: change.ID, LineageID: lineage, Tier: tier.String()})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reviewLoop(change)
	}()
}

// reviewLoop runs one review round for a change iteration and applies the
// consensus decision. Rejected and conditional changes stop here and wait for
// a revision via Resubmit.
func (s *Service) reviewLoop(change *models.Change) {
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	change.State = models.ChangeStateUnderReview
	s.store.SaveChange(change)
	s.emit(Event{Type: EventReviewStarted, ChangeID: change.ID,
		LineageID: change.LineageID, Tier: change.Tier.String()})

	results, err := s.reviews.Run(ctx, change)
	if err != nil {
		// An incomplete round never aggregates; it goes to a human.
		s.escalate(change, fmt.Sprintf("review round failed: %v", err))
		return
	}

	var decision models.ConsensusDecision
	if len(results) == 0 {
		decision = models.ConsensusDecision{
			ChangeID:  change.ID,
			LineageID: change.LineageID,
			Iteration: change.Iteration,
			Outcome:   models.OutcomeApproved,
			Reason:    fmt.Sprintf("%s requires no review", change.Tier),
			DecidedAt: time.Now(),
		}
	} else {
		for _, r := range results {
			s.store.RecordReviewResult(r)
		}
		decision, err = s.resolver.Resolve(change, results)
		if err != nil {
			s.escalate(change, fmt.Sprintf("consensus failed: %v", err))
			return
		}
	}

	s.store.RecordDecision(decision)
	debugLog("change %s iteration %d: %s (%s)", change.LineageID, change.Iteration, decision.Outcome, decision.Reason)
	s.emit(Event{Type: EventDecisionRecorded, ChangeID: change.ID,
		LineageID: change.LineageID, Outcome: decision.Outcome, Message: decision.Reason})

	switch decision.Outcome {
	case models.OutcomeApproved:
		if decision.Conditional {
			change.State = models.ChangeStateConditional
		} else {
			change.State = models.ChangeStateApproved
		}
	case models.OutcomeRejected:
		change.State = models.ChangeStateRejected
	case models.OutcomeEscalated:
		change.State = models.ChangeStateEscalated
	}
	s.store.SaveChange(change)

	if change.State == models.ChangeStateEscalated {
		s.emit(Event{Type: EventChangeEscalated, ChangeID: change.ID,
			LineageID: change.LineageID, Message: decision.Reason})
	}
}

// escalate records a forced escalation outside the normal decision rules.
func (s *Service) escalate(change *models.Change, reason string) {
	decision := models.ConsensusDecision{
		ChangeID:  change.ID,
		LineageID: change.LineageID,
		Iteration: change.Iteration,
		Outcome:   models.OutcomeEscalated,
		Reason:    reason,
		DecidedAt: time.Now(),
	}
	s.store.RecordDecision(decision)

	change.State = models.ChangeStateEscalated
	s.store.SaveChange(change)

	debugLog("change %s escalated: %s", change.ID, reason)
	s.emit(Event{Type: EventChangeEscalated, ChangeID: change.ID,
		LineageID: change.LineageID, Message: reason})
}

// Resubmit attaches a revision to a rejected or conditionally approved
// lineage, producing the next iteration and a fresh review round. Metadata may
// be updated when the revision changed the change's footprint; the iteration
// is reclassified either way.
func (s *Service) Resubmit(lineageID string, meta *models.ChangeMetadata) (models.Change, error) {
	iterations, err := s.store.LineageChanges(lineageID)
	if err != nil {
		return models.Change{}, err
	}
	if len(iterations) == 0 {
		return models.Change{}, fmt.Errorf("lineage %s: %w", lineageID, audit.ErrNotFound)
	}

	last := iterations[len(iterations)-1]
	if last.State != models.ChangeStateRejected && last.State != models.ChangeStateConditional {
		return models.Change{}, fmt.Errorf("lineage %s is %s; only rejected or conditional changes accept revisions", lineageID, last.State)
	}

	next := last
	next.Iteration = last.Iteration + 1
	next.ID = changeID(lineageID, next.Iteration)
	next.State = models.ChangeStateProposed
	next.CreatedAt = time.Now()
	if meta != nil {
		next.Metadata = *meta
	}
	tier, err := s.classifier.Classify(next.Metadata)
	if err != nil {
		tier = s.classifier.Base(next.Metadata)
	}
	next.Tier = tier

	if err := s.store.SaveChange(&next); err != nil {
		return models.Change{}, err
	}

	debugLog("lineage %s resubmitted as iteration %d", lineageID, next.Iteration)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reviewLoop(&next)
	}()
	return next, nil
}

// Change returns a change iteration from the store.
func (s *Service) Change(changeID string) (models.Change, error) {
	return s.store.Change(changeID)
}

// ChangeResults returns the recorded review results for a change iteration.
func (s *Service) ChangeResults(changeID string) ([]models.ReviewResult, error) {
	return s.store.ReviewResults(changeID)
}

// LineageAudit is the full recorded history of a change lineage.
type LineageAudit struct {
	Changes   []models.Change                  `json:"changes"`
	Results   map[string][]models.ReviewResult `json:"results"`
	Decisions []models.ConsensusDecision       `json:"decisions"`
}

// Audit reconstructs the decision history of a lineage from the store.
func (s *Service) Audit(lineageID string) (LineageAudit, error) {
	changes, err := s.store.LineageChanges(lineageID)
	if err != nil {
		return LineageAudit{}, err
	}
	if len(changes) == 0 {
		return LineageAudit{}, fmt.Errorf("lineage %s: %w", lineageID, audit.ErrNotFound)
	}

	out := LineageAudit{Changes: changes, Results: make(map[string][]models.ReviewResult)}
	for _, c := range changes {
		results, err := s.store.ReviewResults(c.ID)
		if err != nil {
			return LineageAudit{}, err
		}
		if len(results) > 0 {
			out.Results[c.ID] = results
		}
	}
	out.Decisions, err = s.store.Decisions(lineageID)
	if err != nil {
		return LineageAudit{}, err
	}
	return out, nil
}

// AcquireDeployLease grants the deployment lease for an approved change.
func (s *Service) AcquireDeployLease(changeID, holder string) (models.Lease, error) {
	c, err := s.store.Change(changeID)
	if err != nil {
		return models.Lease{}, err
	}
	if c.State != models.ChangeStateApproved {
		return models.Lease{}, fmt.Errorf("change %s is %s: %w", changeID, c.State, ErrNotApproved)
	}
	return s.leases.Acquire(lease.DeployResource, holder, s.cfg.Lease.DeployTTL)
}

// RenewDeployLease extends the holder's deployment lease.
func (s *Service) RenewDeployLease(holder string) (models.Lease, error) {
	return s.leases.Renew(lease.DeployResource, holder, s.cfg.Lease.DeployTTL)
}

// ReleaseDeployLease releases the deployment lease.
func (s *Service) ReleaseDeployLease(holder string) error {
	return s.leases.Release(lease.DeployResource, holder)
}

// Recover rebuilds in-memory coordination state from the audit store after a
// restart. In-flight tasks return to pending; open review rounds restart.
func (s *Service) Recover() error {
	unfinished, err := s.store.UnfinishedTasks()
	if err != nil {
		return fmt.Errorf("load unfinished tasks: %w", err)
	}

	byRequest := map[string]bool{}
	for _, t := range unfinished {
		byRequest[t.RequestID] = true
	}

	for requestID := range byRequest {
		full, err := s.store.RequestTasks(requestID)
		if err != nil {
			return fmt.Errorf("load request %s: %w", requestID, err)
		}

		st := &requestState{id: requestID, total: len(full)}
		if meta, err := s.store.RequestMetadata(requestID); err == nil {
			st.metadata = meta
		}
		tasks := make([]*models.Task, 0, len(full))
		for i := range full {
			t := &full[i]
			if t.Status == models.TaskStatusInProgress {
				// The worker is gone with the process; the attempt is lost.
				s.store.RecordTransition(t.ID, models.TaskStatusInProgress, models.TaskStatusPending, "recovery")
				t.Status = models.TaskStatusPending
				t.AssignedTo = ""
				s.store.SaveTask(t)
			}
			if t.Status.Terminal() {
				st.terminal++
				if t.Status != models.TaskStatusDone {
					st.failed = true
				}
			}
			tasks = append(tasks, t)
		}

		s.mu.Lock()
		s.requests[requestID] = st
		s.mu.Unlock()

		if err := s.scheduler.Submit(tasks); err != nil {
			return fmt.Errorf("requeue request %s: %w", requestID, err)
		}
		for _, t := range tasks {
			if t.Status == models.TaskStatusDone {
				s.graph.MarkComplete(t.ID)
			}
		}
		debugLog("recovered request %s: %d tasks, %d terminal", requestID, len(full), st.terminal)
	}
	s.scheduler.Refresh()

	// A crash between the final task completion and the change write leaves
	// a fully completed request with no change row. Assemble it now; the
	// audit trail must not drop a change on the floor.
	unassembled, err := s.store.UnassembledRequests()
	if err != nil {
		return fmt.Errorf("load unassembled requests: %w", err)
	}
	for _, requestID := range unassembled {
		meta, err := s.store.RequestMetadata(requestID)
		if err != nil && !errors.Is(err, audit.ErrNotFound) {
			return fmt.Errorf("load request %s metadata: %w", requestID, err)
		}
		debugLog("recovered completed request %s with no change; assembling", requestID)
		s.assembleChange(requestID, meta)
	}

	open, err := s.store.OpenChanges()
	if err != nil {
		return fmt.Errorf("load open changes: %w", err)
	}
	for i := range open {
		c := open[i]
		if c.State != models.ChangeStateProposed && c.State != models.ChangeStateUnderReview {
			// Rejected and conditional changes wait for a revision.
			continue
		}
		debugLog("recovered change %s in %s; restarting review", c.ID, c.State)
		s.wg.Add(1)
		go func(c models.Change) {
			defer s.wg.Done()
			s.reviewLoop(&c)
		}(c)
	}
	return nil
}

// changeID derives the iteration-scoped change ID from its lineage.
func changeID(lineageID string, iteration int) string {
	return fmt.Sprintf("%s.%d", lineageID, iteration)
}

// emit publishes an event without blocking; slow consumers lose events.
func (s *Service) emit(ev Event) {
	ev.Timestamp = time.Now()
	select {
	case s.events <- ev:
	default:
	}
}

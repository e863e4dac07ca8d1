// Package server exposes the coordination core to external collaborators
// over HTTP: work submission, worker enrolment, change status, deployment
// leases, audit history, and a live event stream.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/omen4impact/noode/internal/audit"
	"github.com/omen4impact/noode/internal/decompose"
	"github.com/omen4impact/noode/internal/lease"
	"github.com/omen4impact/noode/internal/orchestrator"
	"github.com/omen4impact/noode/internal/registry"
	"github.com/omen4impact/noode/pkg/models"
)

// Server is the HTTP front of a running coordination service.
type Server struct {
	svc *orchestrator.Service

	mu          sync.Mutex
	remotes     map[string]*remoteWorker
	pending     map[string]*pendingTask
	reviewers   map[string]*remoteReviewer
	openReviews map[string]*pendingReview
	subs        map[chan orchestrator.Event]struct{}
}

// New creates a Server over a started Service.
func New(svc *orchestrator.Service) *Server {
	return &Server{
		svc:         svc,
		remotes:     make(map[string]*remoteWorker),
		pending:     make(map[string]*pendingTask),
		reviewers:   make(map[string]*remoteReviewer),
		openReviews: make(map[string]*pendingReview),
		subs:        make(map[chan orchestrator.Event]struct{}),
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/work-requests", s.handleSubmit)
		r.Get("/work-requests/{id}", s.handleRequestStatus)
		r.Delete("/work-requests/{id}", s.handleCancelRequest)

		r.Get("/workers", s.handleListWorkers)
		r.Post("/workers", s.handleEnrolWorker)
		r.Delete("/workers/{id}", s.handleWithdrawWorker)
		r.Post("/workers/{id}/heartbeat", s.handleHeartbeat)
		r.Get("/workers/{id}/tasks", s.handleNextTask)
		r.Post("/tasks/{id}/result", s.handleTaskResult)

		r.Post("/reviewers", s.handleEnrolReviewer)
		r.Delete("/reviewers/{id}", s.handleWithdrawReviewer)
		r.Get("/reviewers/{id}/assignments", s.handleNextReview)
		r.Post("/changes/{id}/verdict", s.handleVerdict)

		r.Get("/changes/{id}", s.handleChange)
		r.Get("/changes/{id}/results", s.handleChangeResults)
		r.Post("/changes/{id}/deploy-lease", s.handleAcquireLease)
		r.Put("/changes/{id}/deploy-lease", s.handleRenewLease)
		r.Delete("/changes/{id}/deploy-lease", s.handleReleaseLease)
		r.Post("/lineages/{id}/revisions", s.handleResubmit)
		r.Get("/audit/{id}", s.handleAudit)

		r.Get("/events", s.handleEvents)
	})
	return r
}

// Broadcast fans service events out to connected event-stream clients until
// done closes.
func (s *Server) Broadcast(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-s.svc.Events():
			s.mu.Lock()
			for sub := range s.subs {
				select {
				case sub <- ev:
				default:
					// Slow client; it catches up from the audit trail.
				}
			}
			s.mu.Unlock()
		}
	}
}

type submitRequest struct {
	ID          string                  `json:"id,omitempty"`
	Description string                  `json:"description,omitempty"`
	Priority    models.PriorityClass    `json:"priority"`
	Subtasks    []decompose.SubtaskSpec `json:"subtasks"`
	Metadata    models.ChangeMetadata   `json:"metadata"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tasks, err := s.svc.SubmitWorkRequest(&decompose.WorkRequest{
		ID:          req.ID,
		Description: req.Description,
		Priority:    req.Priority,
		Subtasks:    req.Subtasks,
	}, req.Metadata)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id": tasks[0].RequestID,
		"tasks":      tasks,
	})
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tasks := s.svc.RequestTasks(id)
	if len(tasks) == 0 {
		writeError(w, http.StatusNotFound, errors.New("unknown work request"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "tasks": tasks})
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.svc.CancelRequest(id, "cancelled by collaborator")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workers": s.svc.Workers()})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Heartbeat(chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChange(w http.ResponseWriter, r *http.Request) {
	change, err := s.svc.Change(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (s *Server) handleChangeResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.svc.Change(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	results, err := s.svc.ChangeResults(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"change_id": id, "results": results})
}

type leaseRequest struct {
	Holder string `json:"holder"`
}

func (s *Server) handleAcquireLease(w http.ResponseWriter, r *http.Request) {
	var req leaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Holder == "" {
		writeError(w, http.StatusBadRequest, errors.New("holder is required"))
		return
	}
	granted, err := s.svc.AcquireDeployLease(chi.URLParam(r, "id"), req.Holder)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, granted)
}

func (s *Server) handleRenewLease(w http.ResponseWriter, r *http.Request) {
	var req leaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Holder == "" {
		writeError(w, http.StatusBadRequest, errors.New("holder is required"))
		return
	}
	renewed, err := s.svc.RenewDeployLease(req.Holder)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, renewed)
}

func (s *Server) handleReleaseLease(w http.ResponseWriter, r *http.Request) {
	var req leaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Holder == "" {
		writeError(w, http.StatusBadRequest, errors.New("holder is required"))
		return
	}
	if err := s.svc.ReleaseDeployLease(req.Holder); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resubmitRequest struct {
	Metadata *models.ChangeMetadata `json:"metadata,omitempty"`
}

func (s *Server) handleResubmit(w http.ResponseWriter, r *http.Request) {
	var req resubmitRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	next, err := s.svc.Resubmit(chi.URLParam(r, "id"), req.Metadata)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, next)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	history, err := s.svc.Audit(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// handleEvents streams coordination events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	sub := make(chan orchestrator.Event, 64)
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		case ev := <-sub:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			w.Write([]byte("event: " + string(ev.Type) + "\ndata: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	var derr *decompose.DecompositionError
	switch {
	case errors.As(err, &derr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, audit.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrUnknownWorker):
		return http.StatusNotFound
	case errors.Is(err, lease.ErrLeaseUnavailable):
		return http.StatusConflict
	case errors.Is(err, lease.ErrLeaseExpired), errors.Is(err, lease.ErrNotHolder):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNotApproved):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrDuplicateRequest):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/omen4impact/noode/pkg/models"
)

// pollTimeout bounds a worker's long-poll for its next task.
const pollTimeout = 25 * time.Second

// remoteWorker bridges the scheduler's in-process Worker interface to a
// specialist living behind HTTP. Execute parks the task in an inbox; the
// remote process long-polls it out and posts the outcome back.
type remoteWorker struct {
	id    string
	caps  []models.Capability
	inbox chan *pendingTask
}

type pendingTask struct {
	task    models.Task
	outcome chan taskOutcome
}

type taskOutcome struct {
	result string
	err    error
}

func newRemoteWorker(id string, caps []models.Capability) *remoteWorker {
	return &remoteWorker{id: id, caps: caps, inbox: make(chan *pendingTask, 1)}
}

func (w *remoteWorker) ID() string                        { return w.id }
func (w *remoteWorker) Capabilities() []models.Capability { return w.caps }

func (w *remoteWorker) Execute(ctx context.Context, task *models.Task) (string, error) {
	p := &pendingTask{task: *task, outcome: make(chan taskOutcome, 1)}

	select {
	case w.inbox <- p:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case out := <-p.outcome:
		return out.result, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type enrolRequest struct {
	ID           string              `json:"id"`
	Capabilities []models.Capability `json:"capabilities"`
}

func (s *Server) handleEnrolWorker(w http.ResponseWriter, r *http.Request) {
	var req enrolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	remote := newRemoteWorker(req.ID, req.Capabilities)
	if err := s.svc.AttachWorker(remote); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	s.remotes[req.ID] = remote
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"worker_id": req.ID})
}

func (s *Server) handleWithdrawWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	delete(s.remotes, id)
	s.mu.Unlock()

	if err := s.svc.DetachWorker(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleNextTask hands the worker its assigned task, long-polling until one
// arrives. A 204 means nothing was assigned within the window; poll again.
// Each poll counts as a liveness signal.
func (s *Server) handleNextTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	remote, ok := s.remotes[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("worker %s not enrolled here", id))
		return
	}
	s.svc.Heartbeat(id)

	timer := time.NewTimer(pollTimeout)
	defer timer.Stop()

	select {
	case <-r.Context().Done():
		return
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
	case p := <-remote.inbox:
		s.mu.Lock()
		s.pending[p.task.ID] = p
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, p.task)
	}
}

type resultRequest struct {
	WorkerID string `json:"worker_id"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleTaskResult records a remote worker's outcome for its assigned task.
func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	p, ok := s.pending[taskID]
	if ok {
		delete(s.pending, taskID)
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no pending execution for task %s", taskID))
		return
	}

	out := taskOutcome{result: req.Result}
	if req.Error != "" {
		out.err = errors.New(req.Error)
	}
	p.outcome <- out
	w.WriteHeader(http.StatusNoContent)
}

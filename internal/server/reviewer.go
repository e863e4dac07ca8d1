package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/omen4impact/noode/pkg/models"
)

// remoteReviewer bridges the review coordinator's in-process Reviewer
// interface to a specialist behind HTTP, mirroring remoteWorker: Review
// parks the change in an inbox, the remote long-polls it out and posts its
// verdict back.
type remoteReviewer struct {
	id    string
	cap   models.Capability
	inbox chan *pendingReview
}

type pendingReview struct {
	change  models.Change
	verdict chan models.ReviewResult
}

func newRemoteReviewer(id string, cap models.Capability) *remoteReviewer {
	return &remoteReviewer{id: id, cap: cap, inbox: make(chan *pendingReview, 1)}
}

func (r *remoteReviewer) Capability() models.Capability { return r.cap }

func (r *remoteReviewer) Review(ctx context.Context, change *models.Change) (models.ReviewResult, error) {
	p := &pendingReview{change: *change, verdict: make(chan models.ReviewResult, 1)}

	select {
	case r.inbox <- p:
	case <-ctx.Done():
		return models.ReviewResult{}, ctx.Err()
	}

	select {
	case res := <-p.verdict:
		return res, nil
	case <-ctx.Done():
		return models.ReviewResult{}, ctx.Err()
	}
}

type enrolReviewerRequest struct {
	ID         string            `json:"id"`
	Capability models.Capability `json:"capability"`
}

func (s *Server) handleEnrolReviewer(w http.ResponseWriter, r *http.Request) {
	var req enrolReviewerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.Capability == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("id and capability are required"))
		return
	}

	remote := newRemoteReviewer(req.ID, req.Capability)
	s.svc.RegisterReviewer(remote)

	s.mu.Lock()
	s.reviewers[req.ID] = remote
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"reviewer_id": req.ID})
}

func (s *Server) handleWithdrawReviewer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	remote, ok := s.reviewers[id]
	if ok {
		delete(s.reviewers, id)
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("reviewer %s not enrolled here", id))
		return
	}

	s.svc.UnregisterReviewer(remote.cap)
	w.WriteHeader(http.StatusNoContent)
}

// handleNextReview hands the reviewer its assigned change, long-polling
// until a round needs it. A 204 means nothing within the window.
func (s *Server) handleNextReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	remote, ok := s.reviewers[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("reviewer %s not enrolled here", id))
		return
	}

	timer := time.NewTimer(pollTimeout)
	defer timer.Stop()

	select {
	case <-r.Context().Done():
		return
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
	case p := <-remote.inbox:
		s.mu.Lock()
		s.openReviews[reviewKey(remote.cap, p.change.ID)] = p
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, p.change)
	}
}

type verdictRequest struct {
	ReviewerID    string         `json:"reviewer_id"`
	Verdict       models.Verdict `json:"verdict"`
	Justification string         `json:"justification,omitempty"`
	Condition     string         `json:"condition,omitempty"`
}

// handleVerdict records a remote reviewer's verdict for its assigned change.
func (s *Server) handleVerdict(w http.ResponseWriter, r *http.Request) {
	changeID := chi.URLParam(r, "id")

	var req verdictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Verdict.Valid() {
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("invalid verdict %q", req.Verdict))
		return
	}

	s.mu.Lock()
	remote, enrolled := s.reviewers[req.ReviewerID]
	var p *pendingReview
	if enrolled {
		key := reviewKey(remote.cap, changeID)
		p = s.openReviews[key]
		delete(s.openReviews, key)
	}
	s.mu.Unlock()
	if p == nil {
		writeError(w, http.StatusNotFound,
			fmt.Errorf("no open review of change %s for reviewer %s", changeID, req.ReviewerID))
		return
	}

	p.verdict <- models.ReviewResult{
		Verdict:       req.Verdict,
		Justification: req.Justification,
		Condition:     req.Condition,
	}
	w.WriteHeader(http.StatusNoContent)
}

func reviewKey(cap models.Capability, changeID string) string {
	return string(cap) + "/" + changeID
}

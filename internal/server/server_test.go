package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/omen4impact/noode/internal/audit"
	"github.com/omen4impact/noode/internal/config"
	"github.com/omen4impact/noode/internal/orchestrator"
	"github.com/omen4impact/noode/pkg/models"
)

type localWorker struct {
	id   string
	caps []models.Capability
}

func (w *localWorker) ID() string                        { return w.id }
func (w *localWorker) Capabilities() []models.Capability { return w.caps }

func (w *localWorker) Execute(ctx context.Context, task *models.Task) (string, error) {
	return "done:" + task.ID, nil
}

type approveReviewer struct {
	cap models.Capability
}

func (r *approveReviewer) Capability() models.Capability { return r.cap }

func (r *approveReviewer) Review(ctx context.Context, change *models.Change) (models.ReviewResult, error) {
	return models.ReviewResult{Verdict: models.VerdictApprove}, nil
}

func newTestServer(t *testing.T) (*orchestrator.Service, *httptest.Server) {
	t.Helper()

	store, err := audit.Open(filepath.Join(t.TempDir(), "noode.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.Scheduler.RetryBackoff = time.Millisecond
	svc, err := orchestrator.New(cfg, store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.Start()
	t.Cleanup(svc.Stop)

	for _, cap := range []models.Capability{"architecture", "testing", "dependency", "security"} {
		svc.RegisterReviewer(&approveReviewer{cap: cap})
	}

	srv := New(svc)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return svc, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func submitBody(id string) map[string]any {
	return map[string]any{
		"id":       id,
		"priority": "active-development",
		"subtasks": []map[string]any{
			{"name": "api", "title": "Build API", "capability": "backend"},
		},
		"metadata": map[string]any{
			"domains":         []string{"backend"},
			"files_touched":   10,
			"modules_touched": 1,
		},
	}
}

func TestSubmitThroughApproval(t *testing.T) {
	svc, ts := newTestServer(t)
	if err := svc.AttachWorker(&localWorker{id: "w1", caps: []models.Capability{"backend"}}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	resp := postJSON(t, ts.URL+"/api/work-requests", submitBody("req-http"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var accepted struct {
		RequestID string        `json:"request_id"`
		Tasks     []models.Task `json:"tasks"`
	}
	decode(t, resp, &accepted)
	if accepted.RequestID != "req-http" || len(accepted.Tasks) != 1 {
		t.Fatalf("unexpected acceptance payload: %+v", accepted)
	}

	changeID := waitForChange(t, ts, "req-http")

	change := waitForState(t, ts, changeID, models.ChangeStateApproved)
	if change.Tier != models.Tier2 {
		t.Errorf("expected tier-2, got %s", change.Tier)
	}

	// Review results are exposed per change.
	resp, err := http.Get(ts.URL + "/api/changes/" + changeID + "/results")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	var results struct {
		Results []models.ReviewResult `json:"results"`
	}
	decode(t, resp, &results)
	if len(results.Results) != 3 {
		t.Errorf("expected 3 tier-2 results, got %d", len(results.Results))
	}

	// Deployment lease: first holder wins, second conflicts.
	resp = postJSON(t, ts.URL+"/api/changes/"+changeID+"/deploy-lease", map[string]string{"holder": "cd-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for lease, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = postJSON(t, ts.URL+"/api/changes/"+changeID+"/deploy-lease", map[string]string{"holder": "cd-2"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for contested lease, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Full lineage history.
	lineage := change.LineageID
	resp, err = http.Get(ts.URL + "/api/audit/" + lineage)
	if err != nil {
		t.Fatalf("get audit: %v", err)
	}
	var history orchestrator.LineageAudit
	decode(t, resp, &history)
	if len(history.Changes) != 1 || len(history.Decisions) != 1 {
		t.Errorf("unexpected audit payload: %+v", history)
	}
}

func TestRemoteWorkerFlow(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/workers", map[string]any{
		"id":           "remote-1",
		"capabilities": []string{"backend"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/work-requests", submitBody("req-remote"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The worker polls its task out and posts the result back.
	resp, err := http.Get(ts.URL + "/api/workers/remote-1/tasks")
	if err != nil {
		t.Fatalf("poll task: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected a task, got %d", resp.StatusCode)
	}
	var task models.Task
	decode(t, resp, &task)
	if task.ID != "req-remote/api" {
		t.Fatalf("expected req-remote/api, got %s", task.ID)
	}

	resp = postJSON(t, ts.URL+"/api/tasks/"+task.ID+"/result", map[string]string{
		"worker_id": "remote-1",
		"result":    "implemented",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	changeID := waitForChange(t, ts, "req-remote")
	waitForState(t, ts, changeID, models.ChangeStateApproved)
}

func TestRemoteReviewerFlow(t *testing.T) {
	svc, ts := newTestServer(t)
	if err := svc.AttachWorker(&localWorker{id: "w1", caps: []models.Capability{"backend"}}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	// An enrolled remote reviewer replaces the in-process one for its
	// capability.
	resp := postJSON(t, ts.URL+"/api/reviewers", map[string]string{
		"id":         "rev-1",
		"capability": "testing",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// A small single-module change classifies to tier 1, reviewed by
	// testing alone.
	body := submitBody("req-review")
	body["metadata"] = map[string]any{
		"domains":         []string{"backend"},
		"files_touched":   2,
		"modules_touched": 1,
	}
	resp = postJSON(t, ts.URL+"/api/work-requests", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The reviewer polls its assignment out and posts a verdict back.
	resp, err := http.Get(ts.URL + "/api/reviewers/rev-1/assignments")
	if err != nil {
		t.Fatalf("poll assignment: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected an assignment, got %d", resp.StatusCode)
	}
	var change models.Change
	decode(t, resp, &change)
	if change.Tier != models.Tier1 {
		t.Fatalf("expected tier-1 assignment, got %s", change.Tier)
	}

	resp = postJSON(t, ts.URL+"/api/changes/"+change.ID+"/verdict", map[string]string{
		"reviewer_id":   "rev-1",
		"verdict":       "approve",
		"justification": "covered by the burst suite",
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	approved := waitForState(t, ts, change.ID, models.ChangeStateApproved)
	if approved.Tier != models.Tier1 {
		t.Errorf("expected tier-1, got %s", approved.Tier)
	}

	resp, err = http.Get(ts.URL + "/api/changes/" + change.ID + "/results")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	var results struct {
		Results []models.ReviewResult `json:"results"`
	}
	decode(t, resp, &results)
	if len(results.Results) != 1 || results.Results[0].Reviewer != "testing" {
		t.Errorf("unexpected results: %+v", results.Results)
	}
}

func TestValidationAndNotFound(t *testing.T) {
	svc, ts := newTestServer(t)
	if err := svc.AttachWorker(&localWorker{id: "w1", caps: []models.Capability{"backend"}}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	// Unknown capability is rejected at submission.
	bad := submitBody("req-bad")
	bad["subtasks"] = []map[string]any{{"name": "x", "capability": "quantum"}}
	resp := postJSON(t, ts.URL+"/api/work-requests", bad)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for bad request, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/changes/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown change, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/work-requests/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown request, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// waitForChange polls request status until its tasks link to a change.
func waitForChange(t *testing.T, ts *httptest.Server, requestID string) string {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/work-requests/" + requestID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		var status struct {
			Tasks []models.Task `json:"tasks"`
		}
		decode(t, resp, &status)
		for _, task := range status.Tasks {
			if task.ChangeID != "" {
				return task.ChangeID
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("request %s never assembled a change", requestID)
	return ""
}

// waitForState polls a change until it reaches the wanted state.
func waitForState(t *testing.T, ts *httptest.Server, changeID string, want models.ChangeState) models.Change {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var last models.Change
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/changes/" + changeID)
		if err != nil {
			t.Fatalf("get change: %v", err)
		}
		decode(t, resp, &last)
		if last.State == want {
			return last
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("change %s never reached %s, last state %s", changeID, want, last.State)
	return models.Change{}
}

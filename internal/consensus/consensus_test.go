package consensus

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/omen4impact/noode/pkg/models"
)

func change(iteration int) *models.Change {
	return &models.Change{
		ID:        fmt.Sprintf("chg-1.%d", iteration),
		LineageID: "lin-1",
		Tier:      models.Tier3,
		State:     models.ChangeStateUnderReview,
		Iteration: iteration,
	}
}

func result(reviewer models.Capability, verdict models.Verdict) models.ReviewResult {
	return models.ReviewResult{Reviewer: reviewer, Verdict: verdict, Iteration: 1}
}

func TestAllApprove(t *testing.T) {
	r := New(3)
	d, err := r.Resolve(change(1), []models.ReviewResult{
		result("architecture", models.VerdictApprove),
		result("testing", models.VerdictApprove),
		result("security", models.VerdictApprove),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Outcome != models.OutcomeApproved {
		t.Errorf("expected approved, got %s", d.Outcome)
	}
	if d.Conditional {
		t.Error("expected unconditional approval")
	}
}

func TestSecurityVetoOverridesAnyApprovalCount(t *testing.T) {
	r := New(3)

	results := []models.ReviewResult{result("security", models.VerdictReject)}
	for i := 0; i < 10; i++ {
		results = append(results, result(models.Capability(fmt.Sprintf("approver-%d", i)), models.VerdictApprove))
	}

	d, err := r.Resolve(change(1), results)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Outcome != models.OutcomeRejected {
		t.Errorf("expected rejected, got %s", d.Outcome)
	}
	if !strings.Contains(d.Reason, "security") {
		t.Errorf("expected security named in reason, got %q", d.Reason)
	}
}

func TestRankedRejectorWins(t *testing.T) {
	r := New(3)
	d, err := r.Resolve(change(1), []models.ReviewResult{
		result("testing", models.VerdictReject),
		result("architecture", models.VerdictApprove),
		result("docs", models.VerdictApprove),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Outcome != models.OutcomeRejected {
		t.Errorf("expected rejected, got %s", d.Outcome)
	}
	if !strings.Contains(d.Reason, "testing") {
		t.Errorf("expected testing named in reason, got %q", d.Reason)
	}
}

func TestUnrankedConflictEscalates(t *testing.T) {
	r := New(3)
	d, err := r.Resolve(change(1), []models.ReviewResult{
		result("frontend", models.VerdictReject),
		result("architecture", models.VerdictApprove),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Outcome != models.OutcomeEscalated {
		t.Errorf("expected escalated, got %s", d.Outcome)
	}
	if !strings.Contains(d.Reason, "frontend") {
		t.Errorf("expected conflicting reviewer named, got %q", d.Reason)
	}
}

func TestUnanimousUnrankedRejection(t *testing.T) {
	r := New(3)
	d, err := r.Resolve(change(1), []models.ReviewResult{
		result("frontend", models.VerdictReject),
		result("backend", models.VerdictReject),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Outcome != models.OutcomeRejected {
		t.Errorf("expected unanimous rejection, got %s", d.Outcome)
	}
}

func TestConditionalApproval(t *testing.T) {
	r := New(3)
	res := result("architecture", models.VerdictConditional)
	res.Condition = "add an index on lineage_id"
	d, err := r.Resolve(change(1), []models.ReviewResult{
		res,
		result("testing", models.VerdictApprove),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Outcome != models.OutcomeApproved || !d.Conditional {
		t.Fatalf("expected conditional approval, got %+v", d)
	}
	if len(d.Conditions) != 1 || d.Conditions[0] != "add an index on lineage_id" {
		t.Errorf("expected condition carried into decision, got %v", d.Conditions)
	}
}

func TestWarningsNeverBlock(t *testing.T) {
	r := New(3)
	d, err := r.Resolve(change(1), []models.ReviewResult{
		result("security", models.VerdictApproveWithWarning),
		result("testing", models.VerdictApproveWithWarning),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Outcome != models.OutcomeApproved {
		t.Errorf("expected approved despite warnings, got %s", d.Outcome)
	}
}

func TestIterationLimitForcesEscalation(t *testing.T) {
	r := New(3)

	// Limit 3: iterations 1 through 3 may cycle, so a rejection at the
	// limit itself still resolves as a rejection.
	d, err := r.Resolve(change(3), []models.ReviewResult{result("testing", models.VerdictReject)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Outcome != models.OutcomeRejected {
		t.Fatalf("expected rejection at the limit, got %s", d.Outcome)
	}

	// Iteration 4 is past the budget and escalates, whatever the verdicts.
	d, err = r.Resolve(change(4), []models.ReviewResult{result("security", models.VerdictReject)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Outcome != models.OutcomeEscalated {
		t.Errorf("expected escalation past the limit, got %s", d.Outcome)
	}
	if !strings.Contains(d.Reason, ErrIterationLimitExceeded.Error()) {
		t.Errorf("expected limit named in reason, got %q", d.Reason)
	}
}

func TestPastLimitEscalatesCleanApprovals(t *testing.T) {
	r := New(3)

	// Even a unanimous approval cannot rescue an iteration past the budget.
	d, err := r.Resolve(change(4), []models.ReviewResult{
		result("architecture", models.VerdictApprove),
		result("testing", models.VerdictApprove),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Outcome != models.OutcomeEscalated {
		t.Errorf("expected iteration 4 forced to escalate, got %s", d.Outcome)
	}
}

func TestApprovalAtLimitApproves(t *testing.T) {
	r := New(3)
	d, err := r.Resolve(change(3), []models.ReviewResult{result("testing", models.VerdictApprove)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Outcome != models.OutcomeApproved {
		t.Errorf("expected approval at the limit, got %s", d.Outcome)
	}
}

func TestEmptyResults(t *testing.T) {
	r := New(3)
	if _, err := r.Resolve(change(1), nil); !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestInvalidVerdict(t *testing.T) {
	r := New(3)
	_, err := r.Resolve(change(1), []models.ReviewResult{result("testing", "maybe")})
	if err == nil {
		t.Fatal("expected error for invalid verdict")
	}
}

package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/omen4impact/noode/internal/config"
	"github.com/omen4impact/noode/pkg/models"
)

type fakeReviewer struct {
	cap models.Capability
	fn  func(ctx context.Context, change *models.Change) (models.ReviewResult, error)
}

func (r *fakeReviewer) Capability() models.Capability { return r.cap }

func (r *fakeReviewer) Review(ctx context.Context, change *models.Change) (models.ReviewResult, error) {
	if r.fn != nil {
		return r.fn(ctx, change)
	}
	return models.ReviewResult{Verdict: models.VerdictApprove}, nil
}

func approve(cap models.Capability) *fakeReviewer {
	return &fakeReviewer{cap: cap}
}

func testChange(tier models.Tier) *models.Change {
	return &models.Change{
		ID:        "chg-1.1",
		LineageID: "lin-1",
		Tier:      tier,
		State:     models.ChangeStateUnderReview,
		Iteration: 1,
	}
}

func TestTierZeroHasNoRound(t *testing.T) {
	c := New(config.Default().Review)
	results, err := c.Run(context.Background(), testChange(models.Tier0))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty round for tier-0, got %d results", len(results))
	}
}

func TestFullRound(t *testing.T) {
	c := New(config.Default().Review)
	for _, cap := range []models.Capability{"architecture", "testing", "dependency"} {
		c.Register(approve(cap))
	}

	results, err := c.Run(context.Background(), testChange(models.Tier2))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, res := range results {
		if res.ChangeID != "chg-1.1" || res.Iteration != 1 {
			t.Errorf("result %s: missing round attribution: %+v", res.Reviewer, res)
		}
		if res.RecordedAt.IsZero() {
			t.Errorf("result %s: missing timestamp", res.Reviewer)
		}
	}
}

func TestMissingReviewerFailsRound(t *testing.T) {
	c := New(config.Default().Review)
	c.Register(approve("architecture"))
	c.Register(approve("testing"))
	// No dependency reviewer registered.

	_, err := c.Run(context.Background(), testChange(models.Tier2))
	var ri *RoundIncomplete
	if !errors.As(err, &ri) {
		t.Fatalf("expected RoundIncomplete, got %v", err)
	}
	if len(ri.Missing) != 1 || ri.Missing[0] != "dependency" {
		t.Errorf("expected dependency missing, got %v", ri.Missing)
	}
}

func TestReviewerErrorFailsWholeRound(t *testing.T) {
	c := New(config.Default().Review)
	c.Register(approve("architecture"))
	c.Register(approve("dependency"))
	c.Register(&fakeReviewer{
		cap: "testing",
		fn: func(ctx context.Context, change *models.Change) (models.ReviewResult, error) {
			return models.ReviewResult{}, errors.New("harness crashed")
		},
	})

	results, err := c.Run(context.Background(), testChange(models.Tier2))
	var ri *RoundIncomplete
	if !errors.As(err, &ri) {
		t.Fatalf("expected RoundIncomplete, got %v", err)
	}
	if results != nil {
		t.Error("partial results must never be returned")
	}
}

func TestSecurityReviewsAfterArchitecture(t *testing.T) {
	c := New(config.Default().Review)

	var mu sync.Mutex
	var order []models.Capability
	record := func(cap models.Capability) *fakeReviewer {
		return &fakeReviewer{
			cap: cap,
			fn: func(ctx context.Context, change *models.Change) (models.ReviewResult, error) {
				mu.Lock()
				order = append(order, cap)
				mu.Unlock()
				return models.ReviewResult{Verdict: models.VerdictApprove}, nil
			},
		}
	}
	for _, cap := range []models.Capability{"architecture", "testing", "dependency", "security"} {
		c.Register(record(cap))
	}

	if _, err := c.Run(context.Background(), testChange(models.Tier3)); err != nil {
		t.Fatalf("run: %v", err)
	}

	archAt, secAt := -1, -1
	for i, cap := range order {
		switch cap {
		case "architecture":
			archAt = i
		case "security":
			secAt = i
		}
	}
	if archAt == -1 || secAt == -1 || secAt < archAt {
		t.Errorf("expected security after architecture, got order %v", order)
	}
}

func TestTierBudgetTimesOutReviewers(t *testing.T) {
	cfg := config.ReviewConfig{
		IterationLimit: 3,
		TierBudgets:    map[string]string{"tier-2": "20ms"},
	}
	c := New(cfg)
	c.Register(approve("architecture"))
	c.Register(approve("dependency"))
	c.Register(&fakeReviewer{
		cap: "testing",
		fn: func(ctx context.Context, change *models.Change) (models.ReviewResult, error) {
			<-ctx.Done()
			return models.ReviewResult{}, ctx.Err()
		},
	})

	_, err := c.Run(context.Background(), testChange(models.Tier2))
	var ri *RoundIncomplete
	if !errors.As(err, &ri) {
		t.Fatalf("expected RoundIncomplete on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded in chain, got %v", err)
	}
}

func TestSecurityExemptFromTierBudget(t *testing.T) {
	cfg := config.ReviewConfig{
		IterationLimit: 3,
		TierBudgets:    map[string]string{"tier-3": "20ms"},
	}
	c := New(cfg)
	for _, cap := range []models.Capability{"architecture", "testing", "dependency"} {
		c.Register(approve(cap))
	}
	c.Register(&fakeReviewer{
		cap: "security",
		fn: func(ctx context.Context, change *models.Change) (models.ReviewResult, error) {
			if _, hasDeadline := ctx.Deadline(); hasDeadline {
				return models.ReviewResult{}, errors.New("security review must not carry a deadline")
			}
			time.Sleep(50 * time.Millisecond)
			return models.ReviewResult{Verdict: models.VerdictApprove}, nil
		},
	})

	results, err := c.Run(context.Background(), testChange(models.Tier3))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
}

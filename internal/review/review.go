// Package review coordinates one review round for a change: select the
// reviewer set for the change's tier, fan the change out, and hold the round
// open until every reviewer has answered. Aggregation on partial results is
// forbidden; a round that cannot complete fails as a whole.
package review

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/omen4impact/noode/internal/config"
	"github.com/omen4impact/noode/pkg/models"
)

// Reviewer produces a verdict on a change iteration.
type Reviewer interface {
	Capability() models.Capability
	Review(ctx context.Context, change *models.Change) (models.ReviewResult, error)
}

// SetTable maps a tier to the reviewer capabilities it requires.
type SetTable map[models.Tier][]models.Capability

// DefaultSets is the shipped tier-to-reviewer mapping. Tier 0 has no
// reviewers; tier 1 runs automated checks only; tiers 3 and 4 add security.
func DefaultSets() SetTable {
	return SetTable{
		models.Tier0: nil,
		models.Tier1: {"testing"},
		models.Tier2: {"architecture", "testing", "dependency"},
		models.Tier3: {"architecture", "testing", "dependency", "security"},
		models.Tier4: {"architecture", "testing", "dependency", "security"},
	}
}

// DefaultOrdering sequences reviewers that consume each other's output.
// Security reviews after architecture so structural findings are on record
// first.
func DefaultOrdering() map[models.Capability][]models.Capability {
	return map[models.Capability][]models.Capability{
		"security": {"architecture"},
	}
}

// RoundIncomplete reports a round that ended without a full result set.
type RoundIncomplete struct {
	ChangeID string
	Missing  []models.Capability
	Err      error
}

func (e *RoundIncomplete) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		names = append(names, string(m))
	}
	return fmt.Sprintf("change %s: review round incomplete, missing %s: %v",
		e.ChangeID, strings.Join(names, ", "), e.Err)
}

func (e *RoundIncomplete) Unwrap() error { return e.Err }

// Coordinator runs review rounds.
type Coordinator struct {
	mu        sync.RWMutex
	reviewers map[models.Capability]Reviewer

	sets     SetTable
	ordering map[models.Capability][]models.Capability
	cfg      config.ReviewConfig
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSets replaces the tier-to-reviewer table.
func WithSets(s SetTable) Option {
	return func(c *Coordinator) { c.sets = s }
}

// WithOrdering replaces the reviewer sequencing table.
func WithOrdering(o map[models.Capability][]models.Capability) Option {
	return func(c *Coordinator) { c.ordering = o }
}

// New creates a Coordinator.
func New(cfg config.ReviewConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		reviewers: make(map[models.Capability]Reviewer),
		sets:      DefaultSets(),
		ordering:  DefaultOrdering(),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register installs a reviewer implementation for its capability, replacing
// any previous one.
func (c *Coordinator) Register(r Reviewer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reviewers[r.Capability()] = r
}

// Unregister removes the reviewer for a capability, if one is installed.
func (c *Coordinator) Unregister(cap models.Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reviewers, cap)
}

// Reviewers returns the capabilities required for a tier, in a stable order.
func (c *Coordinator) Reviewers(tier models.Tier) []models.Capability {
	out := append([]models.Capability(nil), c.sets[tier]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run executes one full review round. It returns every reviewer's result or
// a *RoundIncomplete; it never returns a partial set. Tier 0 rounds are empty
// and succeed immediately.
//
// The tier's latency budget bounds each reviewer, with one exemption: at
// tiers 3 and 4 the security reviewer is never timed out. Thoroughness there
// beats latency by policy.
func (c *Coordinator) Run(ctx context.Context, change *models.Change) ([]models.ReviewResult, error) {
	required := c.sets[change.Tier]
	if len(required) == 0 {
		return nil, nil
	}

	c.mu.RLock()
	assigned := make(map[models.Capability]Reviewer, len(required))
	for _, cap := range required {
		r, ok := c.reviewers[cap]
		if !ok {
			c.mu.RUnlock()
			return nil, &RoundIncomplete{
				ChangeID: change.ID,
				Missing:  []models.Capability{cap},
				Err:      fmt.Errorf("no reviewer registered for %s", cap),
			}
		}
		assigned[cap] = r
	}
	c.mu.RUnlock()

	budget, err := c.cfg.TierBudget(change.Tier)
	if err != nil {
		return nil, fmt.Errorf("change %s: %w", change.ID, err)
	}

	results := make(map[models.Capability]models.ReviewResult, len(required))
	errs := make(map[models.Capability]error)

	remaining := append([]models.Capability(nil), required...)
	for len(remaining) > 0 {
		wave := c.nextWave(remaining)
		if len(wave) == 0 {
			// Ordering cycle or dependency outside the set; run the rest
			// unordered rather than deadlock.
			wave = remaining
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, cap := range wave {
			wg.Add(1)
			go func(cap models.Capability, r Reviewer) {
				defer wg.Done()
				res, err := c.reviewOne(ctx, change, cap, r, budget)
				mu.Lock()
				if err != nil {
					errs[cap] = err
				} else {
					results[cap] = res
				}
				mu.Unlock()
			}(cap, assigned[cap])
		}
		wg.Wait()

		if len(errs) > 0 {
			return nil, c.incomplete(change, errs)
		}
		remaining = subtract(remaining, wave)
	}

	out := make([]models.ReviewResult, 0, len(required))
	for _, cap := range required {
		out = append(out, results[cap])
	}
	return out, nil
}

// reviewOne runs a single reviewer under the tier budget.
func (c *Coordinator) reviewOne(ctx context.Context, change *models.Change, cap models.Capability, r Reviewer, budget config.Budget) (models.ReviewResult, error) {
	rctx := ctx
	exempt := change.Tier >= models.Tier3 && cap == "security"
	if !budget.Unlimited && !exempt {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, budget.Duration)
		defer cancel()
	}

	res, err := r.Review(rctx, change)
	if err != nil {
		return models.ReviewResult{}, fmt.Errorf("reviewer %s: %w", cap, err)
	}

	res.ChangeID = change.ID
	res.Iteration = change.Iteration
	res.Reviewer = cap
	if res.RecordedAt.IsZero() {
		res.RecordedAt = time.Now()
	}
	if !res.Verdict.Valid() {
		return models.ReviewResult{}, fmt.Errorf("reviewer %s: invalid verdict %q", cap, res.Verdict)
	}
	return res, nil
}

// nextWave returns the capabilities whose ordering dependencies are not
// still waiting in this round. A dependency outside the round, or already
// reviewed in an earlier wave, does not hold anyone back.
func (c *Coordinator) nextWave(remaining []models.Capability) []models.Capability {
	pending := make(map[models.Capability]bool, len(remaining))
	for _, cap := range remaining {
		pending[cap] = true
	}

	var wave []models.Capability
	for _, cap := range remaining {
		ready := true
		for _, dep := range c.ordering[cap] {
			if pending[dep] && dep != cap {
				ready = false
				break
			}
		}
		if ready {
			wave = append(wave, cap)
		}
	}
	return wave
}

func (c *Coordinator) incomplete(change *models.Change, errs map[models.Capability]error) error {
	missing := make([]models.Capability, 0, len(errs))
	var first error
	for cap, err := range errs {
		missing = append(missing, cap)
		if first == nil {
			first = err
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return &RoundIncomplete{ChangeID: change.ID, Missing: missing, Err: first}
}

func subtract(all, done []models.Capability) []models.Capability {
	inDone := make(map[models.Capability]bool, len(done))
	for _, cap := range done {
		inDone[cap] = true
	}
	var out []models.Capability
	for _, cap := range all {
		if !inDone[cap] {
			out = append(out, cap)
		}
	}
	return out
}

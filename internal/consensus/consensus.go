// Package consensus resolves a complete set of review results into a single
// decision by fixed rules. There is no voting and no weighting: a security
// rejection is absolute, ranked concerns beat unranked ones, and conflicts the
// rules cannot order are escalated to a human rather than guessed at.
package consensus

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/omen4impact/noode/pkg/models"
)

// ErrNoResults indicates resolution was attempted before any review result
// was recorded. The review coordinator must hold aggregation until every
// expected result is in.
var ErrNoResults = errors.New("no review results to resolve")

// ErrIterationLimitExceeded indicates a change lineage was resubmitted past
// its revision budget.
var ErrIterationLimitExceeded = errors.New("iteration limit exceeded")

// UnresolvedConflict reports a rejection the priority rules cannot order
// against the round's approvals. It always escalates.
type UnresolvedConflict struct {
	ChangeID  string
	Rejectors []models.Capability
}

func (e *UnresolvedConflict) Error() string {
	names := make([]string, 0, len(e.Rejectors))
	for _, r := range e.Rejectors {
		names = append(names, string(r))
	}
	return fmt.Sprintf("change %s: unranked rejection from %s conflicts with approvals",
		e.ChangeID, strings.Join(names, ", "))
}

// Resolver applies the decision rules. The priority table maps reviewer
// capabilities to concern ranks; lower outranks higher. Capabilities absent
// from the table are unranked.
type Resolver struct {
	priorities     map[models.Capability]int
	iterationLimit int

	nowFn func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPriorities replaces the default concern-priority table.
func WithPriorities(p map[models.Capability]int) Option {
	return func(r *Resolver) { r.priorities = p }
}

// withNow overrides the clock, for tests.
func withNow(fn func() time.Time) Option {
	return func(r *Resolver) { r.nowFn = fn }
}

// DefaultPriorities orders reviewer concerns: security above correctness
// above architecture above convenience.
func DefaultPriorities() map[models.Capability]int {
	return map[models.Capability]int{
		"security":     0,
		"testing":      1,
		"architecture": 2,
		"dependency":   3,
		"performance":  3,
		"docs":         3,
	}
}

// New creates a Resolver. iterationLimit caps rejected-revised-reviewed
// cycles per lineage: iterations 1 through the limit resolve normally, and
// any iteration past it escalates regardless of the verdicts.
func New(iterationLimit int, opts ...Option) *Resolver {
	r := &Resolver{
		priorities:     DefaultPriorities(),
		iterationLimit: iterationLimit,
		nowFn:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve produces the decision for one complete review round. The caller
// guarantees results covers every reviewer in the change's tier set; partial
// rounds are a coordinator bug, not a resolver input.
func (r *Resolver) Resolve(change *models.Change, results []models.ReviewResult) (models.ConsensusDecision, error) {
	if len(results) == 0 {
		return models.ConsensusDecision{}, ErrNoResults
	}
	for _, res := range results {
		if !res.Verdict.Valid() {
			return models.ConsensusDecision{}, fmt.Errorf("reviewer %s: invalid verdict %q", res.Reviewer, res.Verdict)
		}
	}

	decision := models.ConsensusDecision{
		ChangeID:  change.ID,
		LineageID: change.LineageID,
		Iteration: change.Iteration,
		Results:   append([]models.ReviewResult(nil), results...),
		DecidedAt: r.nowFn(),
	}

	// The revision budget outranks the verdicts: a lineage past its limit
	// goes to a human even when the round is a clean approval.
	if r.iterationLimit > 0 && change.Iteration > r.iterationLimit {
		decision.Outcome = models.OutcomeEscalated
		decision.Reason = fmt.Sprintf("%v: iteration %d past limit %d", ErrIterationLimitExceeded, change.Iteration, r.iterationLimit)
		return decision, nil
	}

	var rejects []models.ReviewResult
	var conditions []string
	warnings := 0
	for _, res := range results {
		switch res.Verdict {
		case models.VerdictReject:
			rejects = append(rejects, res)
		case models.VerdictConditional:
			conditions = append(conditions, res.Condition)
		case models.VerdictApproveWithWarning:
			warnings++
		}
	}

	if len(rejects) > 0 {
		return r.resolveRejection(change, decision, rejects, len(results)), nil
	}

	if len(conditions) > 0 {
		decision.Outcome = models.OutcomeApproved
		decision.Conditional = true
		decision.Conditions = conditions
		decision.Reason = fmt.Sprintf("approved pending %d condition(s)", len(conditions))
		return decision, nil
	}

	decision.Outcome = models.OutcomeApproved
	decision.Reason = "all reviewers approved"
	if warnings > 0 {
		// Warnings are recorded but never block.
		decision.Reason = fmt.Sprintf("all reviewers approved (%d warning(s) recorded)", warnings)
	}
	return decision, nil
}

// resolveRejection orders a rejecting round. A ranked rejector wins outright;
// a round that is pure rejection needs no ordering; an unranked rejector
// against approvals is a conflict the rules refuse to decide.
func (r *Resolver) resolveRejection(change *models.Change, decision models.ConsensusDecision, rejects []models.ReviewResult, total int) models.ConsensusDecision {
	ranked := r.topRejector(rejects)
	switch {
	case ranked != "":
		decision.Outcome = models.OutcomeRejected
		decision.Reason = fmt.Sprintf("rejected by %s", ranked)
		if ranked == "security" {
			decision.Reason = "security rejection is absolute"
		}
	case len(rejects) == total:
		decision.Outcome = models.OutcomeRejected
		decision.Reason = "rejected unanimously"
	default:
		conflict := &UnresolvedConflict{ChangeID: change.ID, Rejectors: rejectors(rejects)}
		decision.Outcome = models.OutcomeEscalated
		decision.Reason = conflict.Error()
	}
	return decision
}

// topRejector returns the highest-ranked rejecting capability, or "" if no
// rejector appears in the priority table.
func (r *Resolver) topRejector(rejects []models.ReviewResult) models.Capability {
	best := models.Capability("")
	bestRank := 0
	for _, res := range rejects {
		rank, ok := r.priorities[res.Reviewer]
		if !ok {
			continue
		}
		if best == "" || rank < bestRank {
			best, bestRank = res.Reviewer, rank
		}
	}
	return best
}

func rejectors(rejects []models.ReviewResult) []models.Capability {
	out := make([]models.Capability, 0, len(rejects))
	for _, res := range rejects {
		out = append(out, res.Reviewer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

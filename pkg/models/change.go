package models

import "time"

// ChangeState is the lifecycle state of a change within the review subsystem.
type ChangeState string

const (
	// ChangeStateProposed indicates the change is assembled and awaiting
	// classification and review.
	ChangeStateProposed ChangeState = "proposed"
	// ChangeStateUnderReview indicates reviewers are working on the change.
	ChangeStateUnderReview ChangeState = "under_review"
	// ChangeStateApproved is terminal for this subsystem; control passes to
	// the deployment collaborator.
	ChangeStateApproved ChangeState = "approved"
	// ChangeStateRejected sends the change back for revision.
	ChangeStateRejected ChangeState = "rejected"
	// ChangeStateConditional approves pending a stated condition; the next
	// iteration must address it.
	ChangeStateConditional ChangeState = "conditional_approval"
	// ChangeStateEscalated is terminal pending human decision.
	ChangeStateEscalated ChangeState = "escalated"
)

// Valid returns true if the state is a known value.
func (s ChangeState) Valid() bool {
	switch s {
	case ChangeStateProposed, ChangeStateUnderReview, ChangeStateApproved,
		ChangeStateRejected, ChangeStateConditional, ChangeStateEscalated:
		return true
	default:
		return false
	}
}

// Terminal returns true if the subsystem takes no further action on the
// change. Rejected and conditional states are not terminal: they loop back to
// proposed once a revision is attached.
func (s ChangeState) Terminal() bool {
	return s == ChangeStateApproved || s == ChangeStateEscalated
}

// ChangeMetadata describes what a change touches. The classifier maps this
// to a tier.
type ChangeMetadata struct {
	// Domains lists the capability domains the change touches.
	Domains []Capability `json:"domains"`
	// FilesTouched is the number of files the change spans.
	FilesTouched int `json:"files_touched"`
	// ModulesTouched is the number of modules the change spans.
	ModulesTouched int `json:"modules_touched"`
	// FormattingOnly is true when the change contains no logic change.
	FormattingOnly bool `json:"formatting_only,omitempty"`
	// StagedRollout marks the change for a post-deployment monitoring window.
	StagedRollout bool `json:"staged_rollout,omitempty"`
}

// Change is the artifact assembled from completed tasks, subject to tiered
// review. A change exclusively owns its review results; a revision produces a
// new iteration with a fresh result set rather than mutating history.
type Change struct {
	// ID is the unique identifier for this change.
	ID string `json:"id"`
	// LineageID groups all iterations of the same change.
	LineageID string `json:"lineage_id"`
	// TaskIDs are the completed tasks that assembled this change.
	TaskIDs []string `json:"task_ids"`
	// Tier is the validation tier assigned by the classifier.
	Tier Tier `json:"tier"`
	// State is the current lifecycle state.
	State ChangeState `json:"state"`
	// Iteration counts review rounds for this lineage. Strictly increasing;
	// it starts at 1 and bumps on every revision.
	Iteration int `json:"iteration"`
	// Metadata describes what the change touches.
	Metadata ChangeMetadata `json:"metadata"`
	// CreatedAt is when this iteration was assembled.
	CreatedAt time.Time `json:"created_at"`
}

// Verdict is a single reviewer's judgement on a change iteration.
type Verdict string

const (
	// VerdictApprove accepts the change as-is.
	VerdictApprove Verdict = "approve"
	// VerdictApproveWithWarning accepts the change but records a concern.
	// Warnings never block approval.
	VerdictApproveWithWarning Verdict = "approve-with-warning"
	// VerdictReject blocks the change.
	VerdictReject Verdict = "reject"
	// VerdictConditional approves pending a stated condition.
	VerdictConditional Verdict = "conditional"
)

// Valid returns true if the verdict is a known value.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictApprove, VerdictApproveWithWarning, VerdictReject, VerdictConditional:
		return true
	default:
		return false
	}
}

// ReviewResult is one reviewer's verdict on a change iteration. Immutable
// once recorded; later iterations supersede it with fresh results.
type ReviewResult struct {
	// ChangeID is the change iteration this result belongs to.
	ChangeID string `json:"change_id"`
	// Iteration is the review round the result was produced in.
	Iteration int `json:"iteration"`
	// Reviewer is the capability that produced the verdict.
	Reviewer Capability `json:"reviewer"`
	// Verdict is the reviewer's judgement.
	Verdict Verdict `json:"verdict"`
	// Justification explains the verdict.
	Justification string `json:"justification,omitempty"`
	// Condition is the requirement attached to a conditional verdict.
	Condition string `json:"condition,omitempty"`
	// RecordedAt is when the verdict was recorded.
	RecordedAt time.Time `json:"recorded_at"`
}

// DecisionOutcome is the resolved outcome for a change iteration.
type DecisionOutcome string

const (
	// OutcomeApproved accepts the change iteration.
	OutcomeApproved DecisionOutcome = "approved"
	// OutcomeRejected sends the change back for revision.
	OutcomeRejected DecisionOutcome = "rejected"
	// OutcomeEscalated hands the change to human judgement.
	OutcomeEscalated DecisionOutcome = "escalated"
)

// Valid returns true if the outcome is a known value.
func (o DecisionOutcome) Valid() bool {
	switch o {
	case OutcomeApproved, OutcomeRejected, OutcomeEscalated:
		return true
	default:
		return false
	}
}

// ConsensusDecision is the rule-resolved outcome of a review round, together
// with the results that drove it.
type ConsensusDecision struct {
	// ChangeID is the change iteration decided on.
	ChangeID string `json:"change_id"`
	// LineageID groups the decision with its change lineage.
	LineageID string `json:"lineage_id"`
	// Iteration is the review round decided on.
	Iteration int `json:"iteration"`
	// Outcome is the resolved outcome.
	Outcome DecisionOutcome `json:"outcome"`
	// Conditional is true when the outcome is approval pending conditions.
	Conditional bool `json:"conditional,omitempty"`
	// Conditions lists the conditions attached to a conditional approval.
	Conditions []string `json:"conditions,omitempty"`
	// Reason summarises why the outcome was chosen.
	Reason string `json:"reason"`
	// Results are the review results that drove the decision.
	Results []ReviewResult `json:"results"`
	// DecidedAt is when the decision was produced.
	DecidedAt time.Time `json:"decided_at"`
}

// Package orchestrator wires the coordination core together: decomposition,
// scheduling, change assembly, tiered review, consensus, and the audit trail.
package orchestrator

import (
	"time"

	"github.com/omen4impact/noode/pkg/models"
)

// EventType represents the type of coordination event.
type EventType string

const (
	// EventRequestAccepted indicates a work request was decomposed and queued.
	EventRequestAccepted EventType = "request_accepted"
	// EventTaskStarted indicates a worker began executing a task.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task exhausted its retry budget.
	EventTaskFailed EventType = "task_failed"
	// EventTaskAbandoned indicates a task was abandoned after a dependency
	// failed terminally.
	EventTaskAbandoned EventType = "task_abandoned"
	// EventRequestFailed indicates a request finished with failures and no
	// change was assembled.
	EventRequestFailed EventType = "request_failed"
	// EventChangeAssembled indicates completed tasks were assembled into a
	// classified change.
	EventChangeAssembled EventType = "change_assembled"
	// EventReviewStarted indicates a review round began.
	EventReviewStarted EventType = "review_started"
	// EventDecisionRecorded indicates consensus resolved a review round.
	EventDecisionRecorded EventType = "decision_recorded"
	// EventChangeEscalated indicates a change was handed to human judgement.
	EventChangeEscalated EventType = "change_escalated"
	// EventWorkerLost indicates a worker was marked unavailable.
	EventWorkerLost EventType = "worker_lost"
)

// Event is emitted by the orchestrator as coordination progresses. Consumers
// that fall behind lose events; the audit store, not the event stream, is the
// system of record.
type Event struct {
	// Type is the kind of event.
	Type EventType `json:"type"`
	// RequestID is the related work request, if applicable.
	RequestID string `json:"request_id,omitempty"`
	// TaskID is the related task, if applicable.
	TaskID string `json:"task_id,omitempty"`
	// ChangeID is the related change iteration, if applicable.
	ChangeID string `json:"change_id,omitempty"`
	// LineageID is the related change lineage, if applicable.
	LineageID string `json:"lineage_id,omitempty"`
	// WorkerID is the related worker, if applicable.
	WorkerID string `json:"worker_id,omitempty"`
	// Tier is the change's validation tier, for change events.
	Tier string `json:"tier,omitempty"`
	// Outcome is the decision outcome, for decision events.
	Outcome models.DecisionOutcome `json:"outcome,omitempty"`
	// Message provides additional context.
	Message string `json:"message,omitempty"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}

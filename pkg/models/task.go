package models

import "time"

// Capability is an exact-match tag naming a specialist skill, such as
// "backend", "frontend", "security" or "testing". Matching between tasks
// and workers is exact; substitution is only permitted through the external
// compatibility table.
type Capability string

// PriorityClass orders tasks within a capability queue.
type PriorityClass string

const (
	// PrioritySecurity is for security-critical work. Highest priority.
	PrioritySecurity PriorityClass = "security"
	// PriorityIncident is for production-incident remediation.
	PriorityIncident PriorityClass = "production-incident"
	// PriorityDevelopment is for active feature development.
	PriorityDevelopment PriorityClass = "active-development"
	// PriorityBackground is for deferrable work. Lowest priority.
	PriorityBackground PriorityClass = "background"
)

// Rank returns the numeric precedence of the class; lower is more urgent.
func (p PriorityClass) Rank() int {
	switch p {
	case PrioritySecurity:
		return 0
	case PriorityIncident:
		return 1
	case PriorityDevelopment:
		return 2
	case PriorityBackground:
		return 3
	default:
		// Unknown classes sort behind everything known.
		return 4
	}
}

// Valid returns true if the class is a known value.
func (p PriorityClass) Valid() bool {
	switch p {
	case PrioritySecurity, PriorityIncident, PriorityDevelopment, PriorityBackground:
		return true
	default:
		return false
	}
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates a worker is executing the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusFailed indicates the task exhausted its retry budget.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusAbandoned indicates a dependency failed terminally and the
	// task will never be scheduled.
	TaskStatusAbandoned TaskStatus = "abandoned"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusDone,
		TaskStatusFailed, TaskStatusAbandoned:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed || s == TaskStatusAbandoned
}

// Task is an atomic unit of requested work. Tasks are created by the
// decomposer, status transitions belong to the scheduler, and the assigned
// worker attaches the result.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// RequestID is the work request this task was decomposed from.
	RequestID string `json:"request_id"`
	// ChangeID is the change this task belongs to, once assembled.
	ChangeID string `json:"change_id,omitempty"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Capability is the specialist tag required to execute the task.
	Capability Capability `json:"capability"`
	// Priority is the scheduling class.
	Priority PriorityClass `json:"priority"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AssignedTo is the ID of the worker executing this task, if any.
	AssignedTo string `json:"assigned_to,omitempty"`
	// SubmittedAt is when the task entered the scheduler.
	SubmittedAt time.Time `json:"submitted_at"`
	// Seq is the FIFO tie-breaker within a priority class.
	Seq uint64 `json:"seq"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result is the output attached by the worker on success.
	Result string `json:"result,omitempty"`
	// Error contains the last execution error if the task failed.
	Error string `json:"error,omitempty"`
	// RetryCount is the number of times this task has been retried.
	RetryCount int `json:"retry_count,omitempty"`
	// AbandonReason records which failed dependency abandoned this task.
	AbandonReason string `json:"abandon_reason,omitempty"`
}

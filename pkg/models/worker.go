package models

import "time"

// WorkerStatus represents the current state of a worker in the pool.
type WorkerStatus string

const (
	// WorkerStatusIdle indicates the worker is available for dispatch.
	WorkerStatusIdle WorkerStatus = "idle"
	// WorkerStatusBusy indicates the worker holds exactly one task.
	WorkerStatusBusy WorkerStatus = "busy"
	// WorkerStatusUnavailable indicates the worker missed too many
	// liveness signals and is excluded from dispatch.
	WorkerStatusUnavailable WorkerStatus = "unavailable"
)

// Valid returns true if the status is a known value.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerStatusIdle, WorkerStatusBusy, WorkerStatusUnavailable:
		return true
	default:
		return false
	}
}

// Worker is a specialist execution slot registered with the pool.
// Workers are leased to tasks, never owned: a worker returns to the pool on
// completion or timeout.
type Worker struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id"`
	// Capabilities is the set of tags this worker can serve.
	Capabilities []Capability `json:"capabilities"`
	// Status is the current availability state.
	Status WorkerStatus `json:"status"`
	// TaskID is the task currently held, if busy.
	TaskID string `json:"task_id,omitempty"`
	// RegisteredAt is when the worker joined the pool.
	RegisteredAt time.Time `json:"registered_at"`
	// LastSeen is the time of the most recent liveness signal.
	LastSeen time.Time `json:"last_seen"`
	// MissedBeats counts consecutive missed liveness signals.
	MissedBeats int `json:"missed_beats,omitempty"`
}

// Has returns true if the worker carries the given capability tag.
func (w *Worker) Has(cap Capability) bool {
	for _, c := range w.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

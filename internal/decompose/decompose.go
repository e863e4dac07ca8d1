// Package decompose turns an incoming work request into a dependency-ordered
// set of capability-tagged tasks. Decomposition is deterministic for
// identical input and taxonomy, so a retry after transient failure
// reproduces the same subtask set.
package decompose

import (
	"fmt"
	"strings"

	"github.com/omen4impact/noode/pkg/models"
)

// SubtaskSpec declares one subtask of a work request.
type SubtaskSpec struct {
	// Name is unique within the request; task IDs derive from it.
	Name string `json:"name" yaml:"name"`
	// Title is the human-readable description.
	Title string `json:"title" yaml:"title"`
	// Capability is the specialist tag required to execute the subtask.
	Capability models.Capability `json:"capability" yaml:"capability"`
	// Priority overrides the request's priority class, if set.
	Priority models.PriorityClass `json:"priority,omitempty" yaml:"priority,omitempty"`
	// DependsOn lists names of sibling subtasks that must complete first.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// WorkRequest is a unit of work submitted by an external collaborator.
type WorkRequest struct {
	// ID identifies the request; task IDs derive from it.
	ID string `json:"id"`
	// Description is the overall goal.
	Description string `json:"description"`
	// Priority is the default priority class for all subtasks.
	Priority models.PriorityClass `json:"priority"`
	// Subtasks declares the decomposition.
	Subtasks []SubtaskSpec `json:"subtasks"`
}

// DecompositionError reports a malformed or unsatisfiable work request.
// It is surfaced to the submitter and never retried.
type DecompositionError struct {
	RequestID string
	Problems  []string
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("work request %s cannot be decomposed: %s",
		e.RequestID, strings.Join(e.Problems, "; "))
}

// CapabilitySet answers whether any registered worker type can satisfy a
// capability. The worker pool registry implements it.
type CapabilitySet interface {
	HasCapability(cap models.Capability) bool
}

// Decomposer validates work requests against the capability taxonomy and the
// registered worker pool, and produces the task set.
type Decomposer struct {
	taxonomy Taxonomy
	pool     CapabilitySet
}

// New creates a Decomposer. The pool may be nil, which skips the
// satisfiability check (used when workers register after submission).
func New(taxonomy Taxonomy, pool CapabilitySet) *Decomposer {
	return &Decomposer{taxonomy: taxonomy, pool: pool}
}

// Decompose produces the dependency-ordered task set for a request.
// A cyclic or unsatisfiable request yields a *DecompositionError.
func (d *Decomposer) Decompose(req *WorkRequest) ([]*models.Task, error) {
	result := d.Validate(req)
	if !result.Valid {
		return nil, &DecompositionError{RequestID: req.ID, Problems: result.Errors}
	}

	priority := req.Priority
	if !priority.Valid() {
		priority = models.PriorityDevelopment
	}

	tasks := make([]*models.Task, 0, len(req.Subtasks))
	for i, spec := range req.Subtasks {
		p := spec.Priority
		if !p.Valid() {
			p = priority
		}

		deps := make([]string, 0, len(spec.DependsOn))
		for _, depName := range spec.DependsOn {
			deps = append(deps, TaskID(req.ID, depName))
		}

		tasks = append(tasks, &models.Task{
			// IDs derive from request id and subtask name; no randomness,
			// so retries reproduce the same set.
			ID:         TaskID(req.ID, spec.Name),
			RequestID:  req.ID,
			Title:      spec.Title,
			Capability: spec.Capability,
			Priority:   p,
			DependsOn:  deps,
			Status:     models.TaskStatusPending,
			Seq:        uint64(i),
		})
	}
	return tasks, nil
}

// TaskID returns the deterministic task id for a subtask of a request.
func TaskID(requestID, subtaskName string) string {
	return requestID + "/" + subtaskName
}

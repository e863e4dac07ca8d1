package decompose

import (
	"fmt"

	"github.com/omen4impact/noode/internal/graph"
	"github.com/omen4impact/noode/pkg/models"
)

// ValidationResult contains the results of validating a work request.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Validate checks a work request for structural problems. Errors make the
// request undecomposable; warnings are advisory.
func (d *Decomposer) Validate(req *WorkRequest) ValidationResult {
	result := ValidationResult{Valid: true}

	fail := func(format string, args ...any) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	if req.ID == "" {
		fail("request id is required")
	}
	if len(req.Subtasks) == 0 {
		fail("request declares no subtasks")
	}

	// 1. Structure: unique names, known capabilities, satisfiable pool.
	names := make(map[string]bool, len(req.Subtasks))
	for _, spec := range req.Subtasks {
		if spec.Name == "" {
			fail("subtask with empty name")
			continue
		}
		if names[spec.Name] {
			fail("duplicate subtask name %q", spec.Name)
		}
		names[spec.Name] = true

		if spec.Title == "" {
			warn("subtask %q: missing title", spec.Name)
		}
		if !d.taxonomy.Knows(spec.Capability) {
			fail("subtask %q: capability %q not in taxonomy", spec.Name, spec.Capability)
			continue
		}
		if d.pool != nil && !d.pool.HasCapability(spec.Capability) {
			fail("subtask %q: no registered worker can satisfy capability %q", spec.Name, spec.Capability)
		}
	}

	// 2. References: all dependencies name sibling subtasks.
	for _, spec := range req.Subtasks {
		for _, dep := range spec.DependsOn {
			if !names[dep] {
				fail("subtask %q: depends on unknown subtask %q", spec.Name, dep)
			}
		}
	}
	if !result.Valid {
		return result
	}

	// 3. Cycles, via a throwaway graph build.
	scratch := make([]*models.Task, 0, len(req.Subtasks))
	for _, spec := range req.Subtasks {
		deps := make([]string, 0, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			deps = append(deps, TaskID(req.ID, dep))
		}
		scratch = append(scratch, &models.Task{
			ID:        TaskID(req.ID, spec.Name),
			Status:    models.TaskStatusPending,
			DependsOn: deps,
		})
	}
	if err := graph.New().Build(scratch); err != nil {
		fail("dependency cycle: %v", err)
		return result
	}

	// 4. Anti-pattern: a pure chain gains nothing from the worker pool.
	if len(req.Subtasks) > 3 {
		roots := 0
		for _, spec := range req.Subtasks {
			if len(spec.DependsOn) == 0 {
				roots++
			}
		}
		if roots <= 1 {
			warn("decomposition has minimal parallelism: most subtasks form a dependency chain")
		}
	}

	return result
}

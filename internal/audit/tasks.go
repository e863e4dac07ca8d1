package audit

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/omen4impact/noode/pkg/models"
)

// Transition is one recorded task status change.
type Transition struct {
	TaskID string
	From   models.TaskStatus
	To     models.TaskStatus
	Actor  string
	At     time.Time
}

// SaveTask upserts a task's current record.
func (s *Store) SaveTask(t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	completedAt := ""
	if t.CompletedAt != nil {
		completedAt = formatTime(*t.CompletedAt)
	}

	_, err := s.conn.Exec(`
		INSERT INTO tasks (id, request_id, change_id, title, capability, priority,
			depends_on, status, assigned_to, submitted_at, seq, completed_at,
			result, error, retry_count, abandon_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			change_id = excluded.change_id,
			status = excluded.status,
			assigned_to = excluded.assigned_to,
			completed_at = excluded.completed_at,
			result = excluded.result,
			error = excluded.error,
			retry_count = excluded.retry_count,
			abandon_reason = excluded.abandon_reason`,
		t.ID, t.RequestID, t.ChangeID, t.Title, string(t.Capability), string(t.Priority),
		strings.Join(t.DependsOn, ","), string(t.Status), t.AssignedTo,
		formatTime(t.SubmittedAt), t.Seq, completedAt,
		t.Result, t.Error, t.RetryCount, t.AbandonReason)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// RecordTransition appends a task status change to the audit trail.
func (s *Store) RecordTransition(taskID string, from, to models.TaskStatus, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO task_transitions (task_id, from_status, to_status, actor, at)
		VALUES (?, ?, ?, ?, ?)`,
		taskID, string(from), string(to), actor, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record transition for %s: %w", taskID, err)
	}
	return nil
}

// Task returns a task by ID.
func (s *Store) Task(id string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`
		SELECT id, request_id, change_id, title, capability, priority, depends_on,
			status, assigned_to, submitted_at, seq, completed_at, result, error,
			retry_count, abandon_reason
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// RequestTasks returns every task of a work request, ordered by sequence.
func (s *Store) RequestTasks(requestID string) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, request_id, change_id, title, capability, priority, depends_on,
			status, assigned_to, submitted_at, seq, completed_at, result, error,
			retry_count, abandon_reason
		FROM tasks WHERE request_id = ? ORDER BY seq`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query request tasks: %w", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UnfinishedTasks returns tasks that never reached a terminal state. Used by
// crash recovery to rebuild the scheduler's graph.
func (s *Store) UnfinishedTasks() ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, request_id, change_id, title, capability, priority, depends_on,
			status, assigned_to, submitted_at, seq, completed_at, result, error,
			retry_count, abandon_reason
		FROM tasks WHERE status IN ('pending', 'in_progress') ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query unfinished tasks: %w", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Transitions returns the recorded status history of a task, oldest first.
func (s *Store) Transitions(taskID string) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT task_id, from_status, to_status, actor, at
		FROM task_transitions WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		var from, to, at string
		if err := rows.Scan(&tr.TaskID, &from, &to, &tr.Actor, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.From = models.TaskStatus(from)
		tr.To = models.TaskStatus(to)
		tr.At = parseTime(at)
		out = append(out, tr)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.Task, error) {
	var t models.Task
	var capability, priority, dependsOn, status, submittedAt, completedAt string
	err := row.Scan(&t.ID, &t.RequestID, &t.ChangeID, &t.Title, &capability,
		&priority, &dependsOn, &status, &t.AssignedTo, &submittedAt, &t.Seq,
		&completedAt, &t.Result, &t.Error, &t.RetryCount, &t.AbandonReason)
	if err == sql.ErrNoRows {
		return models.Task{}, ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("scan task: %w", err)
	}

	t.Capability = models.Capability(capability)
	t.Priority = models.PriorityClass(priority)
	t.Status = models.TaskStatus(status)
	t.SubmittedAt = parseTime(submittedAt)
	if dependsOn != "" {
		t.DependsOn = strings.Split(dependsOn, ",")
	}
	if completedAt != "" {
		at := parseTime(completedAt)
		t.CompletedAt = &at
	}
	return t, nil
}

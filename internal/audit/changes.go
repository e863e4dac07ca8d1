package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/omen4impact/noode/pkg/models"
)

// SaveChange upserts a change iteration.
func (s *Store) SaveChange(c *models.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal change metadata: %w", err)
	}

	domains := make([]string, 0, len(c.Metadata.Domains))
	for _, d := range c.Metadata.Domains {
		domains = append(domains, string(d))
	}

	_, err = s.conn.Exec(`
		INSERT INTO changes (id, lineage_id, tier, state, iteration, task_ids,
			domains, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tier = excluded.tier,
			state = excluded.state,
			metadata = excluded.metadata`,
		c.ID, c.LineageID, int(c.Tier), string(c.State), c.Iteration,
		strings.Join(c.TaskIDs, ","), strings.Join(domains, ","),
		string(meta), formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("save change %s: %w", c.ID, err)
	}
	return nil
}

// Change returns a change iteration by ID.
func (s *Store) Change(id string) (models.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`
		SELECT id, lineage_id, tier, state, iteration, task_ids, metadata, created_at
		FROM changes WHERE id = ?`, id)
	return scanChange(row)
}

// LineageChanges returns every iteration of a lineage, oldest first.
func (s *Store) LineageChanges(lineageID string) ([]models.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, lineage_id, tier, state, iteration, task_ids, metadata, created_at
		FROM changes WHERE lineage_id = ? ORDER BY iteration`, lineageID)
	if err != nil {
		return nil, fmt.Errorf("query lineage changes: %w", err)
	}
	defer rows.Close()
	return collectChanges(rows)
}

// OpenChanges returns changes whose state is not terminal. Used by crash
// recovery to resume interrupted review rounds.
func (s *Store) OpenChanges() ([]models.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, lineage_id, tier, state, iteration, task_ids, metadata, created_at
		FROM changes WHERE state NOT IN ('approved', 'escalated') ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query open changes: %w", err)
	}
	defer rows.Close()
	return collectChanges(rows)
}

// RecordReviewResult appends a reviewer verdict. Results are append-only;
// a revision records fresh rows under the new iteration rather than
// rewriting old ones.
func (s *Store) RecordReviewResult(r models.ReviewResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO review_results (change_id, iteration, reviewer, verdict,
			justification, condition, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ChangeID, r.Iteration, string(r.Reviewer), string(r.Verdict),
		r.Justification, r.Condition, formatTime(r.RecordedAt))
	if err != nil {
		return fmt.Errorf("record review result: %w", err)
	}
	return nil
}

// ReviewResults returns the recorded verdicts for a change iteration.
func (s *Store) ReviewResults(changeID string) ([]models.ReviewResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT change_id, iteration, reviewer, verdict, justification, condition, recorded_at
		FROM review_results WHERE change_id = ? ORDER BY id`, changeID)
	if err != nil {
		return nil, fmt.Errorf("query review results: %w", err)
	}
	defer rows.Close()

	var out []models.ReviewResult
	for rows.Next() {
		var r models.ReviewResult
		var reviewer, verdict, recordedAt string
		if err := rows.Scan(&r.ChangeID, &r.Iteration, &reviewer, &verdict,
			&r.Justification, &r.Condition, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan review result: %w", err)
		}
		r.Reviewer = models.Capability(reviewer)
		r.Verdict = models.Verdict(verdict)
		r.RecordedAt = parseTime(recordedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordDecision appends a consensus decision.
func (s *Store) RecordDecision(d models.ConsensusDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	results, err := json.Marshal(d.Results)
	if err != nil {
		return fmt.Errorf("marshal decision results: %w", err)
	}
	conditions, err := json.Marshal(d.Conditions)
	if err != nil {
		return fmt.Errorf("marshal decision conditions: %w", err)
	}

	conditional := 0
	if d.Conditional {
		conditional = 1
	}

	_, err = s.conn.Exec(`
		INSERT INTO decisions (change_id, lineage_id, iteration, outcome,
			conditional, conditions, reason, results, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ChangeID, d.LineageID, d.Iteration, string(d.Outcome),
		conditional, string(conditions), d.Reason, string(results),
		formatTime(d.DecidedAt))
	if err != nil {
		return fmt.Errorf("record decision for %s: %w", d.ChangeID, err)
	}
	return nil
}

// Decisions returns every decision recorded against a lineage, oldest first.
func (s *Store) Decisions(lineageID string) ([]models.ConsensusDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT change_id, lineage_id, iteration, outcome, conditional,
			conditions, reason, results, decided_at
		FROM decisions WHERE lineage_id = ? ORDER BY id`, lineageID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []models.ConsensusDecision
	for rows.Next() {
		var d models.ConsensusDecision
		var outcome, conditions, results, decidedAt string
		var conditional int
		if err := rows.Scan(&d.ChangeID, &d.LineageID, &d.Iteration, &outcome,
			&conditional, &conditions, &d.Reason, &results, &decidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Outcome = models.DecisionOutcome(outcome)
		d.Conditional = conditional != 0
		d.DecidedAt = parseTime(decidedAt)
		if conditions != "" && conditions != "null" {
			if err := json.Unmarshal([]byte(conditions), &d.Conditions); err != nil {
				return nil, fmt.Errorf("unmarshal decision conditions: %w", err)
			}
		}
		if results != "" && results != "null" {
			if err := json.Unmarshal([]byte(results), &d.Results); err != nil {
				return nil, fmt.Errorf("unmarshal decision results: %w", err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecentFindings counts adverse decisions (rejections and escalations) on
// tier-3+ changes touching any of the given domains since the cutoff. The
// quality gate uses this for history-aware escalation.
func (s *Store) RecentFindings(domains []models.Capability, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT c.domains
		FROM decisions d JOIN changes c ON c.id = d.change_id
		WHERE d.outcome IN ('rejected', 'escalated')
			AND c.tier >= 3
			AND d.decided_at >= ?`, formatTime(since))
	if err != nil {
		return 0, fmt.Errorf("query recent findings: %w", err)
	}
	defer rows.Close()

	asked := make(map[string]bool, len(domains))
	for _, d := range domains {
		asked[string(d)] = true
	}

	count := 0
	for rows.Next() {
		var stored string
		if err := rows.Scan(&stored); err != nil {
			return 0, fmt.Errorf("scan finding domains: %w", err)
		}
		for _, d := range strings.Split(stored, ",") {
			if asked[d] {
				count++
				break
			}
		}
	}
	return count, rows.Err()
}

func collectChanges(rows *sql.Rows) ([]models.Change, error) {
	var out []models.Change
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChange(row rowScanner) (models.Change, error) {
	var c models.Change
	var tier int
	var state, taskIDs, meta, createdAt string
	err := row.Scan(&c.ID, &c.LineageID, &tier, &state, &c.Iteration,
		&taskIDs, &meta, &createdAt)
	if err == sql.ErrNoRows {
		return models.Change{}, ErrNotFound
	}
	if err != nil {
		return models.Change{}, fmt.Errorf("scan change: %w", err)
	}

	c.Tier = models.Tier(tier)
	c.State = models.ChangeState(state)
	c.CreatedAt = parseTime(createdAt)
	if taskIDs != "" {
		c.TaskIDs = strings.Split(taskIDs, ",")
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return models.Change{}, fmt.Errorf("unmarshal change metadata: %w", err)
		}
	}
	return c, nil
}

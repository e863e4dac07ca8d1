package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/omen4impact/noode/pkg/models"
)

// SaveRequest records a work request's change metadata at submission time.
// Recovery needs it to classify a change assembled after a restart.
func (s *Store) SaveRequest(requestID string, meta models.ChangeMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal request metadata: %w", err)
	}

	_, err = s.conn.Exec(`
		INSERT INTO work_requests (id, metadata, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET metadata = excluded.metadata`,
		requestID, string(metaJSON), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save request %s: %w", requestID, err)
	}
	return nil
}

// RequestMetadata returns the change metadata recorded for a work request.
func (s *Store) RequestMetadata(requestID string) (models.ChangeMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var metaJSON string
	err := s.conn.QueryRow(`SELECT metadata FROM work_requests WHERE id = ?`, requestID).Scan(&metaJSON)
	if err == sql.ErrNoRows {
		return models.ChangeMetadata{}, ErrNotFound
	}
	if err != nil {
		return models.ChangeMetadata{}, fmt.Errorf("load request %s: %w", requestID, err)
	}

	var meta models.ChangeMetadata
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return models.ChangeMetadata{}, fmt.Errorf("decode request metadata: %w", err)
		}
	}
	return meta, nil
}

// UnassembledRequests returns IDs of requests whose every task completed
// successfully but which never linked to a change. A crash between the last
// task completion and the change write leaves a request in this state.
func (s *Store) UnassembledRequests() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT request_id FROM tasks
		GROUP BY request_id
		HAVING SUM(CASE WHEN status != 'done' THEN 1 ELSE 0 END) = 0
		   AND SUM(CASE WHEN COALESCE(change_id, '') != '' THEN 1 ELSE 0 END) = 0
		ORDER BY request_id`)
	if err != nil {
		return nil, fmt.Errorf("query unassembled requests: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan request id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

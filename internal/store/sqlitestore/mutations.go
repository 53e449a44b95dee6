package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/offlog/internal/models"
)

// AddMutation inserts a mutation and writes the assigned id back into m.
func (s *Store) AddMutation(ctx context.Context, m *models.QueuedMutation) (int64, error) {
	headers, err := json.Marshal(m.Headers)
	if err != nil {
		return 0, fmt.Errorf("marshal headers: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO mutations (url, headers, body, queued_at, request_id) VALUES (?, ?, ?, ?, ?)
	`, m.URL, string(headers), m.Body, formatTimestamp(m.QueuedAt), m.RequestID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert mutation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

// ListMutations returns every queued mutation in ascending id order.
func (s *Store) ListMutations(ctx context.Context) ([]*models.QueuedMutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, headers, body, queued_at, request_id FROM mutations ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.QueuedMutation
	for rows.Next() {
		var m models.QueuedMutation
		var headers, queuedAt string
		if err := rows.Scan(&m.ID, &m.URL, &headers, &m.Body, &queuedAt, &m.RequestID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(headers), &m.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers of mutation %d: %w", m.ID, err)
		}
		m.QueuedAt = parseTimestamp(queuedAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteMutation removes a mutation. Deleting a missing id is not an error.
func (s *Store) DeleteMutation(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM mutations WHERE id = ?", id)
	return err
}

// CountMutations returns the number of queued mutations.
func (s *Store) CountMutations(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mutations").Scan(&n)
	return n, err
}

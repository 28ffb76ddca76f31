// ABOUTME: Request log persistence for published messages
// ABOUTME: Records who called what and how many nodes answered

package store

import (
	"context"
	"fmt"
	"time"
)

// RecordRequest appends a request to the log.
func (s *SQLiteStore) RecordRequest(ctx context.Context, r *RequestRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	query := `
		INSERT OR REPLACE INTO requests (request_id, agent, action, caller, type, targets, responses, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.RequestID, r.Agent, r.Action, r.Caller, r.Type, r.Targets, r.Responses,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting request: %w", err)
	}
	return nil
}

// ListRequests returns the newest requests first. If limit is 0 or
// negative, a default limit of 100 is used.
func (s *SQLiteStore) ListRequests(ctx context.Context, limit int) ([]*RequestRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, agent, action, caller, type, targets, responses, created_at
		FROM requests
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying requests: %w", err)
	}
	defer rows.Close()

	var out []*RequestRecord
	for rows.Next() {
		var r RequestRecord
		var created string
		if err := rows.Scan(&r.RequestID, &r.Agent, &r.Action, &r.Caller, &r.Type, &r.Targets, &r.Responses, &created); err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

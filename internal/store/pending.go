package store

import (
	"context"
	"fmt"
)

// PendingProgress is one not-yet-acknowledged progress update. At most
// one row exists per item: a fresher update for the same item replaces
// the old one and resets its attempt bookkeeping.
type PendingProgress struct {
	ID            int64
	ItemID        int
	Percent       int
	CreatedAt     int64
	AttemptCount  int
	LastAttemptAt *int64
	LastError     *string
}

// UpsertPendingProgress queues a progress update for an item, replacing
// any prior entry for the same item.
func (s *Store) UpsertPendingProgress(ctx context.Context, itemID, percent int, createdAt int64) error {
	if createdAt == 0 {
		createdAt = nowMillis()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_progress (item_id, percent, created_at, attempt_count, last_attempt_at, last_error)
		VALUES (?, ?, ?, 0, NULL, NULL)
		ON CONFLICT(item_id) DO UPDATE SET
			percent = excluded.percent,
			created_at = excluded.created_at,
			attempt_count = 0,
			last_attempt_at = NULL,
			last_error = NULL`,
		itemID, percent, createdAt)
	if err != nil {
		return fmt.Errorf("upsert pending progress for item %d: %w", itemID, err)
	}
	return nil
}

// ListPendingProgress returns all queued updates in (created_at, id)
// order.
func (s *Store) ListPendingProgress(ctx context.Context) ([]PendingProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, percent, created_at, attempt_count, last_attempt_at, last_error
		FROM pending_progress
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending progress: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []PendingProgress
	for rows.Next() {
		var e PendingProgress
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Percent, &e.CreatedAt,
			&e.AttemptCount, &e.LastAttemptAt, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan pending progress: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordPendingAttempt stores the outcome of one delivery attempt.
func (s *Store) RecordPendingAttempt(ctx context.Context, id int64, attemptCount int, lastAttemptAt int64, lastError string) error {
	var lastErrValue any
	if lastError != "" {
		lastErrValue = lastError
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_progress
		SET attempt_count = ?, last_attempt_at = ?, last_error = ?
		WHERE id = ?`,
		attemptCount, lastAttemptAt, lastErrValue, id)
	if err != nil {
		return fmt.Errorf("record pending attempt %d: %w", id, err)
	}
	return nil
}

// DeletePendingProgress removes a delivered entry.
func (s *Store) DeletePendingProgress(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_progress WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete pending progress %d: %w", id, err)
	}
	return nil
}

// CountPendingProgress returns the number of queued updates.
func (s *Store) CountPendingProgress(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_progress`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending progress: %w", err)
	}
	return count, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// NowPlayingRow is the single persisted playback session row. The item
// list is stored as an opaque JSON payload owned by the session package;
// the store only guarantees durability of the row.
type NowPlayingRow struct {
	QueueJSON    string
	CurrentIndex int
	UpdatedAt    int64
}

// GetNowPlaying loads the session row, or ErrNotFound when no session
// has been started.
func (s *Store) GetNowPlaying(ctx context.Context) (*NowPlayingRow, error) {
	var row NowPlayingRow
	err := s.db.QueryRowContext(ctx, `
		SELECT queue_json, current_index, updated_at
		FROM now_playing WHERE id = 1`).
		Scan(&row.QueueJSON, &row.CurrentIndex, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query now playing: %w", err)
	}
	return &row, nil
}

// PutNowPlaying upserts the session row.
func (s *Store) PutNowPlaying(ctx context.Context, row NowPlayingRow) error {
	updatedAt := row.UpdatedAt
	if updatedAt == 0 {
		updatedAt = nowMillis()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO now_playing (id, queue_json, current_index, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			queue_json = excluded.queue_json,
			current_index = excluded.current_index,
			updated_at = excluded.updated_at`,
		row.QueueJSON, row.CurrentIndex, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert now playing: %w", err)
	}
	return nil
}

// ClearNowPlaying deletes the session row.
func (s *Store) ClearNowPlaying(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM now_playing WHERE id = 1`); err != nil {
		return fmt.Errorf("clear now playing: %w", err)
	}
	return nil
}

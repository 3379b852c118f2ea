package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// CachedItem is a locally stored copy of an item's readable text, used
// as the last-resort read path when the network fetch fails. One row per
// item id, last write wins.
type CachedItem struct {
	ItemID                 int
	ActiveContentVersionID *int
	Title                  string
	URL                    string
	Host                   string
	Status                 string
	WordCount              *int
	Text                   string
	Paragraphs             []string
	CachedAt               int64
}

// PutCachedItem upserts a cached copy by item id.
func (s *Store) PutCachedItem(ctx context.Context, item CachedItem) error {
	paragraphs := item.Paragraphs
	if paragraphs == nil {
		paragraphs = []string{}
	}
	paragraphsJSON, err := json.Marshal(paragraphs)
	if err != nil {
		return fmt.Errorf("marshal paragraphs: %w", err)
	}

	cachedAt := item.CachedAt
	if cachedAt == 0 {
		cachedAt = nowMillis()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cached_items (
			item_id, active_content_version_id, title, url, host, status,
			word_count, text, text_chars, paragraphs, cached_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			active_content_version_id = excluded.active_content_version_id,
			title = excluded.title,
			url = excluded.url,
			host = excluded.host,
			status = excluded.status,
			word_count = excluded.word_count,
			text = excluded.text,
			text_chars = excluded.text_chars,
			paragraphs = excluded.paragraphs,
			cached_at = excluded.cached_at`,
		item.ItemID, item.ActiveContentVersionID, item.Title, item.URL,
		item.Host, item.Status, item.WordCount, s.compress(item.Text),
		len(item.Text), string(paragraphsJSON), cachedAt)
	if err != nil {
		return fmt.Errorf("upsert cached item %d: %w", item.ItemID, err)
	}
	return nil
}

// GetCachedItem loads the cached copy for an item id, or ErrNotFound.
func (s *Store) GetCachedItem(ctx context.Context, itemID int) (*CachedItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_id, active_content_version_id, title, url, host, status,
		       word_count, text, paragraphs, cached_at
		FROM cached_items WHERE item_id = ?`, itemID)

	var (
		item           CachedItem
		title          sql.NullString
		host           sql.NullString
		status         sql.NullString
		blob           []byte
		paragraphsJSON string
	)
	err := row.Scan(&item.ItemID, &item.ActiveContentVersionID, &title,
		&item.URL, &host, &status, &item.WordCount, &blob,
		&paragraphsJSON, &item.CachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cached item %d: %w", itemID, err)
	}

	item.Title = title.String
	item.Host = host.String
	item.Status = status.String

	if item.Text, err = s.decompress(blob); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paragraphsJSON), &item.Paragraphs); err != nil {
		// A mangled paragraph list is recoverable; the text still reads.
		s.logger.Warn("dropping corrupt cached paragraphs", "item", itemID, "err", err)
		item.Paragraphs = nil
	}
	return &item, nil
}

// CachedItemIDs lists the ids of all locally cached items.
func (s *Store) CachedItemIDs(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id FROM cached_items ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("query cached item ids: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cached item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearCachedItems drops every cached copy.
func (s *Store) ClearCachedItems(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cached_items`); err != nil {
		return fmt.Errorf("clear cached items: %w", err)
	}
	return nil
}

// CacheStats summarizes the local text cache.
type CacheStats struct {
	Items           int
	CompressedBytes int64
	OriginalChars   int64
}

// CachedStats reports cache size on disk and in original characters.
func (s *Store) CachedStats(ctx context.Context) (CacheStats, error) {
	var stats CacheStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(LENGTH(text)), 0),
		       COALESCE(SUM(text_chars), 0)
		FROM cached_items`).
		Scan(&stats.Items, &stats.CompressedBytes, &stats.OriginalChars)
	if err != nil {
		return CacheStats{}, fmt.Errorf("query cache stats: %w", err)
	}
	return stats, nil
}

// Package session owns the durable now-playing session: the ordered
// playlist being read aloud plus each item's exact resume position. The
// session survives process death; at most one exists at a time.
package session

import (
	"time"

	"github.com/mimeoapp/mimeo/internal/chunk"
)

// Item is one entry in the now-playing playlist.
type Item struct {
	ItemID                 int    `json:"item_id"`
	Title                  string `json:"title,omitempty"`
	URL                    string `json:"url"`
	Host                   string `json:"host,omitempty"`
	Status                 string `json:"status,omitempty"`
	ActiveContentVersionID *int   `json:"active_content_version_id,omitempty"`
	LastReadPercent        int    `json:"last_read_percent"`
	ChunkIndex             int    `json:"chunk_index"`
	OffsetChars            int    `json:"offset_chars"`
}

// Position returns the item's saved resume position.
func (i Item) Position() chunk.Position {
	return chunk.Position{ChunkIndex: i.ChunkIndex, OffsetChars: i.OffsetChars}
}

// Session is the active playlist with a cursor. Items is never empty for
// a live session; CurrentIndex is always within bounds.
type Session struct {
	Items        []Item
	CurrentIndex int
	UpdatedAt    time.Time
}

// CurrentItem returns the item under the cursor, or nil for an empty
// session.
func (s *Session) CurrentItem() *Item {
	if s == nil || len(s.Items) == 0 {
		return nil
	}
	return &s.Items[clampIndex(s.CurrentIndex, len(s.Items))]
}

// ItemByID returns the session item with the given id, or nil.
func (s *Session) ItemByID(itemID int) *Item {
	if s == nil {
		return nil
	}
	for idx := range s.Items {
		if s.Items[idx].ItemID == itemID {
			return &s.Items[idx]
		}
	}
	return nil
}

// IndexOf returns the position of an item id in the playlist, or -1.
func (s *Session) IndexOf(itemID int) int {
	if s == nil {
		return -1
	}
	for idx, item := range s.Items {
		if item.ItemID == itemID {
			return idx
		}
	}
	return -1
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	items := make([]Item, len(s.Items))
	copy(items, s.Items)
	return &Session{Items: items, CurrentIndex: s.CurrentIndex, UpdatedAt: s.UpdatedAt}
}

func clampIndex(idx, length int) int {
	if length <= 0 {
		return 0
	}
	if idx < 0 {
		return 0
	}
	if idx > length-1 {
		return length - 1
	}
	return idx
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

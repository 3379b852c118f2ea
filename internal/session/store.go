package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mimeoapp/mimeo/internal/api"
	"github.com/mimeoapp/mimeo/internal/store"
)

// ErrEmptyQueue is returned when a session is started from an empty
// queue.
var ErrEmptyQueue = errors.New("session: cannot start from an empty queue")

// Store persists the single now-playing session. All mutators are
// serialized read-modify-write operations against one row; concurrent
// callers are last-write-wins.
type Store struct {
	db     *store.Store
	logger *log.Logger

	// Serializes read-modify-write cycles within this process.
	mu sync.Mutex

	clock func() time.Time
}

// NewStore creates a session store backed by the local database.
func NewStore(db *store.Store, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{db: db, logger: logger, clock: time.Now}
}

// LoadResult is the outcome of loading the persisted session. WasCorrupt
// reports that a malformed payload was found and cleared, so the caller
// can surface a warning instead of an error.
type LoadResult struct {
	Session    *Session
	WasCorrupt bool
}

// Start snapshots the given queue into a fresh session, with every item
// positioned at the start. The cursor points at startItemID when
// present, otherwise at the first item.
func (s *Store) Start(ctx context.Context, queueItems []api.QueueItem, startItemID int) (*Session, error) {
	if len(queueItems) == 0 {
		return nil, ErrEmptyQueue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Item, 0, len(queueItems))
	currentIndex := 0
	for idx, q := range queueItems {
		if q.ItemID == startItemID {
			currentIndex = idx
		}
		items = append(items, Item{
			ItemID:                 q.ItemID,
			Title:                  q.Title,
			URL:                    q.URL,
			Host:                   q.Host,
			Status:                 q.Status,
			ActiveContentVersionID: q.ActiveContentVersionID,
			LastReadPercent:        q.FurthestPercent(),
		})
	}

	sess := &Session{Items: items, CurrentIndex: currentIndex, UpdatedAt: s.clock()}
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Debug("started now-playing session", "items", len(items), "start", startItemID)
	return sess, nil
}

// Load reads the persisted session. A missing row yields a nil session;
// a malformed payload clears the row and sets WasCorrupt.
func (s *Store) Load(ctx context.Context) (LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// Restart resets every item to the start of its text and moves the
// cursor to the first item. Returns nil when no session exists.
func (s *Store) Restart(ctx context.Context) (*Session, error) {
	return s.mutate(ctx, func(sess *Session) {
		for idx := range sess.Items {
			sess.Items[idx].ChunkIndex = 0
			sess.Items[idx].OffsetChars = 0
		}
		sess.CurrentIndex = 0
	})
}

// SetCurrentIndex moves the cursor, clamped into bounds.
func (s *Store) SetCurrentIndex(ctx context.Context, index int) (*Session, error) {
	return s.mutate(ctx, func(sess *Session) {
		sess.CurrentIndex = clampIndex(index, len(sess.Items))
	})
}

// SetCurrentItem moves the cursor to the item with the given id, if it
// is part of the session.
func (s *Store) SetCurrentItem(ctx context.Context, itemID int) (*Session, error) {
	return s.mutate(ctx, func(sess *Session) {
		if idx := sess.IndexOf(itemID); idx >= 0 {
			sess.CurrentIndex = idx
		}
	})
}

// SetPosition updates one item's resume position. Other items and the
// cursor are untouched; an unknown item id leaves the session unchanged.
func (s *Store) SetPosition(ctx context.Context, itemID, chunkIndex, offsetChars int) (*Session, error) {
	return s.mutate(ctx, func(sess *Session) {
		item := sess.ItemByID(itemID)
		if item == nil {
			return
		}
		item.ChunkIndex = chunkIndex
		item.OffsetChars = offsetChars
	})
}

// SetItemProgress records a reading percentage for an item. Progress
// never regresses once recorded locally: the stored value is the max of
// the existing and the new clamped percent.
func (s *Store) SetItemProgress(ctx context.Context, itemID, percent int) (*Session, error) {
	return s.mutate(ctx, func(sess *Session) {
		item := sess.ItemByID(itemID)
		if item == nil {
			return
		}
		if clamped := clampPercent(percent); clamped > item.LastReadPercent {
			item.LastReadPercent = clamped
		}
	})
}

// Next advances the cursor to the following item, clamped at the end.
func (s *Store) Next(ctx context.Context) (*Session, error) {
	return s.mutate(ctx, func(sess *Session) {
		sess.CurrentIndex = clampIndex(sess.CurrentIndex+1, len(sess.Items))
	})
}

// Prev moves the cursor to the previous item, clamped at the start.
func (s *Store) Prev(ctx context.Context) (*Session, error) {
	return s.mutate(ctx, func(sess *Session) {
		sess.CurrentIndex = clampIndex(sess.CurrentIndex-1, len(sess.Items))
	})
}

// Clear deletes the persisted session entirely.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.ClearNowPlaying(ctx)
}

// mutate runs a read-modify-write cycle. It returns (nil, nil) when no
// session exists.
func (s *Store) mutate(ctx context.Context, apply func(*Session)) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, err := s.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	if loaded.Session == nil {
		return nil, nil
	}

	sess := loaded.Session.clone()
	apply(sess)
	sess.CurrentIndex = clampIndex(sess.CurrentIndex, len(sess.Items))
	sess.UpdatedAt = s.clock()
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) loadLocked(ctx context.Context) (LoadResult, error) {
	row, err := s.db.GetNowPlaying(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return LoadResult{}, nil
	}
	if err != nil {
		return LoadResult{}, err
	}

	var items []Item
	if err := json.Unmarshal([]byte(row.QueueJSON), &items); err != nil || len(items) == 0 {
		// Corrupt or empty payload: clear the row and report it so the
		// caller can warn instead of crash.
		s.logger.Warn("clearing corrupt now-playing session", "err", err)
		if clearErr := s.db.ClearNowPlaying(ctx); clearErr != nil {
			return LoadResult{}, clearErr
		}
		return LoadResult{WasCorrupt: true}, nil
	}

	return LoadResult{Session: &Session{
		Items:        items,
		CurrentIndex: clampIndex(row.CurrentIndex, len(items)),
		UpdatedAt:    time.UnixMilli(row.UpdatedAt),
	}}, nil
}

func (s *Store) persist(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess.Items)
	if err != nil {
		return fmt.Errorf("marshal session items: %w", err)
	}
	return s.db.PutNowPlaying(ctx, store.NowPlayingRow{
		QueueJSON:    string(payload),
		CurrentIndex: sess.CurrentIndex,
		UpdatedAt:    sess.UpdatedAt.UnixMilli(),
	})
}

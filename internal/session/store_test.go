package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mimeoapp/mimeo/internal/api"
	"github.com/mimeoapp/mimeo/internal/store"
)

func openTestStore(t *testing.T) (*Store, *store.Store) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "mimeo.db"), nil)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, nil), db
}

func intPtr(v int) *int { return &v }

func testQueue() []api.QueueItem {
	return []api.QueueItem{
		{ItemID: 10, URL: "https://example.com/a", Title: "A", RawFurthestPercent: intPtr(15)},
		{ItemID: 20, URL: "https://example.com/b", Title: "B"},
		{ItemID: 30, URL: "https://example.com/c", Title: "C", ActiveContentVersionID: intPtr(4)},
	}
}

func TestStartSession(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	sess, err := s.Start(ctx, testQueue(), 20)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if len(sess.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(sess.Items))
	}
	if sess.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %d, want 1", sess.CurrentIndex)
	}
	for _, item := range sess.Items {
		if item.ChunkIndex != 0 || item.OffsetChars != 0 {
			t.Errorf("item %d position = (%d,%d), want (0,0)", item.ItemID, item.ChunkIndex, item.OffsetChars)
		}
	}
	if sess.Items[0].LastReadPercent != 15 {
		t.Errorf("item 10 progress = %d, want snapshot of server furthest", sess.Items[0].LastReadPercent)
	}
	if sess.Items[2].ActiveContentVersionID == nil || *sess.Items[2].ActiveContentVersionID != 4 {
		t.Error("item 30 lost its content version")
	}
}

func TestStartSessionUnknownStartItem(t *testing.T) {
	s, _ := openTestStore(t)
	sess, err := s.Start(context.Background(), testQueue(), 999)
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if sess.CurrentIndex != 0 {
		t.Errorf("CurrentIndex = %d, want fallback to 0", sess.CurrentIndex)
	}
}

func TestStartSessionEmptyQueue(t *testing.T) {
	s, _ := openTestStore(t)
	if _, err := s.Start(context.Background(), nil, 1); !errors.Is(err, ErrEmptyQueue) {
		t.Errorf("Start() error = %v, want ErrEmptyQueue", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Start(ctx, testQueue(), 30); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.WasCorrupt {
		t.Error("WasCorrupt = true for a healthy session")
	}
	if loaded.Session == nil {
		t.Fatal("Load() returned nil session")
	}
	if loaded.Session.CurrentIndex != 2 {
		t.Errorf("CurrentIndex = %d, want 2", loaded.Session.CurrentIndex)
	}
}

func TestLoadMissingSession(t *testing.T) {
	s, _ := openTestStore(t)
	loaded, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Session != nil || loaded.WasCorrupt {
		t.Errorf("Load() on empty store = %+v, want empty result", loaded)
	}
}

func TestLoadCorruptSessionClearsAndFlags(t *testing.T) {
	s, db := openTestStore(t)
	ctx := context.Background()

	if err := db.PutNowPlaying(ctx, store.NowPlayingRow{QueueJSON: "{not json", CurrentIndex: 0}); err != nil {
		t.Fatalf("PutNowPlaying() failed: %v", err)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !loaded.WasCorrupt {
		t.Error("WasCorrupt = false for malformed payload")
	}
	if loaded.Session != nil {
		t.Error("Load() returned a session from a malformed payload")
	}

	// The corrupt row is gone: a second load is a clean miss.
	loaded, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("second Load() failed: %v", err)
	}
	if loaded.WasCorrupt || loaded.Session != nil {
		t.Errorf("second Load() = %+v, want empty result", loaded)
	}
}

func TestLoadEmptyItemListIsCorrupt(t *testing.T) {
	s, db := openTestStore(t)
	ctx := context.Background()

	if err := db.PutNowPlaying(ctx, store.NowPlayingRow{QueueJSON: "[]", CurrentIndex: 0}); err != nil {
		t.Fatalf("PutNowPlaying() failed: %v", err)
	}
	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !loaded.WasCorrupt {
		t.Error("WasCorrupt = false for empty item list")
	}
}

func TestLoadClampsStaleCurrentIndex(t *testing.T) {
	s, db := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Start(ctx, testQueue(), 10); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	row, err := db.GetNowPlaying(ctx)
	if err != nil {
		t.Fatalf("GetNowPlaying() failed: %v", err)
	}
	row.CurrentIndex = 99
	if err := db.PutNowPlaying(ctx, *row); err != nil {
		t.Fatalf("PutNowPlaying() failed: %v", err)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Session.CurrentIndex != 2 {
		t.Errorf("CurrentIndex = %d, want clamp to last item", loaded.Session.CurrentIndex)
	}
}

func TestRestart(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Start(ctx, testQueue(), 30); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if _, err := s.SetPosition(ctx, 20, 3, 57); err != nil {
		t.Fatalf("SetPosition() failed: %v", err)
	}

	sess, err := s.Restart(ctx)
	if err != nil {
		t.Fatalf("Restart() failed: %v", err)
	}
	if sess.CurrentIndex != 0 {
		t.Errorf("CurrentIndex = %d, want 0", sess.CurrentIndex)
	}
	for _, item := range sess.Items {
		if item.ChunkIndex != 0 || item.OffsetChars != 0 {
			t.Errorf("item %d position = (%d,%d), want reset", item.ItemID, item.ChunkIndex, item.OffsetChars)
		}
	}
}

func TestRestartWithoutSession(t *testing.T) {
	s, _ := openTestStore(t)
	sess, err := s.Restart(context.Background())
	if err != nil {
		t.Fatalf("Restart() failed: %v", err)
	}
	if sess != nil {
		t.Errorf("Restart() = %+v, want nil without a session", sess)
	}
}

func TestSetPositionOnlyTouchesOneItem(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Start(ctx, testQueue(), 20); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	sess, err := s.SetPosition(ctx, 30, 2, 41)
	if err != nil {
		t.Fatalf("SetPosition() failed: %v", err)
	}

	if got := sess.ItemByID(30); got.ChunkIndex != 2 || got.OffsetChars != 41 {
		t.Errorf("item 30 position = (%d,%d), want (2,41)", got.ChunkIndex, got.OffsetChars)
	}
	if got := sess.ItemByID(10); got.ChunkIndex != 0 || got.OffsetChars != 0 {
		t.Error("item 10 position changed")
	}
	if sess.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %d, want untouched", sess.CurrentIndex)
	}
}

func TestSetPositionUnknownItem(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Start(ctx, testQueue(), 10); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	sess, err := s.SetPosition(ctx, 999, 5, 5)
	if err != nil {
		t.Fatalf("SetPosition() failed: %v", err)
	}
	for _, item := range sess.Items {
		if item.ChunkIndex != 0 || item.OffsetChars != 0 {
			t.Errorf("unknown item id mutated item %d", item.ItemID)
		}
	}
}

func TestSetItemProgressNeverRegresses(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Start(ctx, testQueue(), 10); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	sess, err := s.SetItemProgress(ctx, 20, 60)
	if err != nil {
		t.Fatalf("SetItemProgress() failed: %v", err)
	}
	if got := sess.ItemByID(20).LastReadPercent; got != 60 {
		t.Fatalf("progress = %d, want 60", got)
	}

	sess, err = s.SetItemProgress(ctx, 20, 45)
	if err != nil {
		t.Fatalf("SetItemProgress() failed: %v", err)
	}
	if got := sess.ItemByID(20).LastReadPercent; got != 60 {
		t.Errorf("progress = %d, want max-merge to keep 60", got)
	}

	sess, err = s.SetItemProgress(ctx, 20, 250)
	if err != nil {
		t.Fatalf("SetItemProgress() failed: %v", err)
	}
	if got := sess.ItemByID(20).LastReadPercent; got != 100 {
		t.Errorf("progress = %d, want clamp to 100", got)
	}
}

func TestSetCurrentItemJumpsCursor(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Start(ctx, testQueue(), 10); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	sess, err := s.SetCurrentItem(ctx, 30)
	if err != nil {
		t.Fatalf("SetCurrentItem() failed: %v", err)
	}
	if sess.CurrentIndex != 2 {
		t.Errorf("CurrentIndex = %d, want 2", sess.CurrentIndex)
	}

	// Jumping to an unknown item leaves the cursor where it was.
	sess, err = s.SetCurrentItem(ctx, 999)
	if err != nil {
		t.Fatalf("SetCurrentItem() with unknown id failed: %v", err)
	}
	if sess.CurrentIndex != 2 {
		t.Errorf("CurrentIndex after unknown jump = %d, want 2", sess.CurrentIndex)
	}
}

func TestSetCurrentIndexClamps(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Start(ctx, testQueue(), 10); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	sess, err := s.SetCurrentIndex(ctx, 99)
	if err != nil {
		t.Fatalf("SetCurrentIndex() failed: %v", err)
	}
	if sess.CurrentIndex != 2 {
		t.Errorf("CurrentIndex = %d, want clamp to last item", sess.CurrentIndex)
	}
}

func TestNextPrevClampAtEnds(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Start(ctx, testQueue(), 10); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	sess, err := s.Prev(ctx)
	if err != nil {
		t.Fatalf("Prev() failed: %v", err)
	}
	if sess.CurrentIndex != 0 {
		t.Errorf("Prev() at start = %d, want clamp to 0", sess.CurrentIndex)
	}

	for range 5 {
		if sess, err = s.Next(ctx); err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
	}
	if sess.CurrentIndex != 2 {
		t.Errorf("Next() past end = %d, want clamp to 2", sess.CurrentIndex)
	}
}

func TestClear(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Start(ctx, testQueue(), 10); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Session != nil {
		t.Error("session survived Clear()")
	}
}

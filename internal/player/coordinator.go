// Package player is the orchestration layer: it owns the active item's
// chunk model and playback position, drives the speech engine through
// the correlation driver, and decides when local progress becomes a
// server write. Everything below it (chunking, storage, session,
// outbox, speech) is mechanism; this package is policy.
package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mimeoapp/mimeo/internal/api"
	"github.com/mimeoapp/mimeo/internal/chunk"
	"github.com/mimeoapp/mimeo/internal/outbox"
	"github.com/mimeoapp/mimeo/internal/playback"
	"github.com/mimeoapp/mimeo/internal/session"
	"github.com/mimeoapp/mimeo/internal/speech"
	"github.com/mimeoapp/mimeo/internal/store"
)

const (
	// DefaultDebounceInterval is the minimum gap between live progress
	// posts for the same item.
	DefaultDebounceInterval = 2 * time.Second

	// DefaultCharStep is how far the absolute offset must advance before
	// an un-forced sync is worth sending.
	DefaultCharStep = 120

	// DefaultNearEndThresholdPercent marks an item as effectively
	// finished once listened progress crosses it.
	DefaultNearEndThresholdPercent = 98

	// DefaultPrefetchCount is how many upcoming queue items are cached
	// ahead of playback.
	DefaultPrefetchCount = 5

	// MaxPrefetchCount caps prefetching regardless of configuration.
	MaxPrefetchCount = 10
)

// Backend is the remote API surface the coordinator talks to.
// *api.Client satisfies it; tests substitute a fake.
type Backend interface {
	FetchQueue(ctx context.Context) (*api.Queue, error)
	FetchItemText(ctx context.Context, itemID int) (*api.ItemText, error)
	PostProgress(ctx context.Context, itemID, percent int, source string) error
}

// FlushRequester asks the background flusher to drain the pending
// progress queue when a network write had to be deferred.
type FlushRequester interface {
	RequestFlush()
}

type noopFlusher struct{}

func (noopFlusher) RequestFlush() {}

// Config tunes the sync cadence. Zero values select the defaults,
// except SettleDelay where zero means emit chunk completions
// synchronously.
type Config struct {
	DebounceInterval        time.Duration
	CharStep                int
	NearEndThresholdPercent int
	PrefetchCount           int
	SettleDelay             time.Duration
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		DebounceInterval:        DefaultDebounceInterval,
		CharStep:                DefaultCharStep,
		NearEndThresholdPercent: DefaultNearEndThresholdPercent,
		PrefetchCount:           DefaultPrefetchCount,
		SettleDelay:             speech.DefaultSettleDelay,
	}
}

func (c Config) withDefaults() Config {
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = DefaultDebounceInterval
	}
	if c.CharStep <= 0 {
		c.CharStep = DefaultCharStep
	}
	if c.NearEndThresholdPercent <= 0 {
		c.NearEndThresholdPercent = DefaultNearEndThresholdPercent
	}
	if c.PrefetchCount <= 0 {
		c.PrefetchCount = DefaultPrefetchCount
	}
	if c.PrefetchCount > MaxPrefetchCount {
		c.PrefetchCount = MaxPrefetchCount
	}
	return c
}

// ItemTextResult is a fetched or cache-served item text.
type ItemTextResult struct {
	Payload    *api.ItemText
	UsingCache bool
}

// Coordinator owns the playback position for one item at a time. All
// speech driver callbacks funnel through it; its mutex is the single
// point where engine goroutines and caller goroutines meet.
type Coordinator struct {
	backend  Backend
	db       *store.Store
	sessions *session.Store
	pending  *outbox.Queue
	driver   *speech.Driver
	flusher  FlushRequester
	logger   *log.Logger
	cfg      Config
	clock    func() time.Time

	mu         sync.Mutex
	itemID     int
	chunks     []chunk.Chunk
	totalChars int
	position   chunk.Position
	handledUtt string
	autoPlay   bool
	lastErr    error

	lastSyncedPercent   int
	lastSyncedAbs       int
	lastSyncAt          time.Time
	lastObservedPercent int
	nearEndForcedItemID int
	offline             bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithFlushRequester wires the background flush scheduler.
func WithFlushRequester(f FlushRequester) Option {
	return func(c *Coordinator) {
		if f != nil {
			c.flusher = f
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New builds a coordinator around the given speech engine. The engine's
// lifecycle is owned by the returned coordinator's driver.
func New(backend Backend, db *store.Store, sessions *session.Store, pending *outbox.Queue, engine speech.Engine, logger *log.Logger, cfg Config, opts ...Option) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	c := &Coordinator{
		backend:           backend,
		db:                db,
		sessions:          sessions,
		pending:           pending,
		flusher:           noopFlusher{},
		logger:            logger,
		cfg:               cfg.withDefaults(),
		clock:             time.Now,
		lastSyncedPercent: -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.driver = speech.NewDriver(engine,
		c.handleSpeechProgress,
		c.handleSpeechDone,
		c.handleSpeechError,
		speech.WithSettleDelay(c.cfg.SettleDelay),
		speech.WithLogger(logger),
	)
	return c
}

// Driver exposes the speech driver for engines that deliver completion
// callbacks by reference, such as the subprocess engine.
func (c *Coordinator) Driver() *speech.Driver { return c.driver }

// Close stops playback and releases the speech engine.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.autoPlay = false
	c.mu.Unlock()
	return c.driver.Shutdown()
}

// LoadQueueAndPrefetch fetches the playback queue and warms the local
// cache with the next few items. Prefetch failures are logged, never
// surfaced: the queue itself is the deliverable.
func (c *Coordinator) LoadQueueAndPrefetch(ctx context.Context) (*api.Queue, error) {
	queue, err := c.backend.FetchQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch queue: %w", err)
	}
	count := c.cfg.PrefetchCount
	if count > len(queue.Items) {
		count = len(queue.Items)
	}
	for _, item := range queue.Items[:count] {
		if ctx.Err() != nil {
			break
		}
		payload, err := c.backend.FetchItemText(ctx, item.ItemID)
		if err != nil {
			c.logger.Debug("prefetch failed", "item", item.ItemID, "error", err)
			continue
		}
		c.cacheItem(ctx, payload)
	}
	return queue, nil
}

// GetItemText returns the item's text, preferring the network and
// falling back to the local cache when the fetch fails. When
// expectedVersion is non-nil the cached copy is only served if it was
// written for that content version; otherwise ErrStaleCache.
func (c *Coordinator) GetItemText(ctx context.Context, itemID int, expectedVersion *int) (*ItemTextResult, error) {
	payload, err := c.backend.FetchItemText(ctx, itemID)
	if err == nil {
		c.cacheItem(ctx, payload)
		return &ItemTextResult{Payload: payload}, nil
	}
	cached, cacheErr := c.db.GetCachedItem(ctx, itemID)
	if cacheErr != nil {
		return nil, fmt.Errorf("fetch item %d text: %w", itemID, err)
	}
	if expectedVersion != nil {
		if cached.ActiveContentVersionID == nil || *cached.ActiveContentVersionID != *expectedVersion {
			return nil, fmt.Errorf("item %d: %w", itemID, ErrStaleCache)
		}
	}
	c.logger.Info("serving item from cache", "item", itemID, "error", err)
	return &ItemTextResult{
		Payload: &api.ItemText{
			ItemID:                 cached.ItemID,
			Title:                  cached.Title,
			URL:                    cached.URL,
			Host:                   cached.Host,
			Status:                 cached.Status,
			WordCount:              cached.WordCount,
			Text:                   cached.Text,
			Paragraphs:             cached.Paragraphs,
			TotalChars:             len(cached.Text),
			ActiveContentVersionID: cached.ActiveContentVersionID,
		},
		UsingCache: true,
	}, nil
}

func (c *Coordinator) cacheItem(ctx context.Context, payload *api.ItemText) {
	item := store.CachedItem{
		ItemID:                 payload.ItemID,
		ActiveContentVersionID: payload.ActiveContentVersionID,
		Title:                  payload.Title,
		URL:                    payload.URL,
		Host:                   payload.Host,
		Status:                 payload.Status,
		WordCount:              payload.WordCount,
		Text:                   payload.Text,
		Paragraphs:             payload.Paragraphs,
	}
	if err := c.db.PutCachedItem(ctx, item); err != nil {
		c.logger.Warn("cache write failed", "item", payload.ItemID, "error", err)
	}
}

// LoadItem makes itemID the active item: resolves its text, builds the
// chunk model, seeds the position from the saved session, and when
// autoPlay is set starts speaking from there. A saved position of zero
// combined with a known nonzero percent means the session predates
// chunk-level tracking; the position is reconstructed from the percent.
func (c *Coordinator) LoadItem(ctx context.Context, itemID int, autoPlay bool) (*ItemTextResult, error) {
	var expectedVersion *int
	var saved chunk.Position
	knownPercent := 0
	if loaded, err := c.sessions.Load(ctx); err == nil && loaded.Session != nil {
		if item := loaded.Session.ItemByID(itemID); item != nil {
			expectedVersion = item.ActiveContentVersionID
			saved = item.Position()
			knownPercent = item.LastReadPercent
		}
	}

	res, err := c.GetItemText(ctx, itemID, expectedVersion)
	if err != nil {
		return nil, err
	}
	payload := res.Payload

	chunks := chunk.Build(payload.Text, payload.Paragraphs, toChunks(payload.Chunks))
	total := chunk.TotalChars(payload.TotalChars, chunks)

	if err := c.driver.Stop(); err != nil {
		c.logger.Warn("engine stop failed", "error", err)
	}

	c.mu.Lock()
	c.itemID = itemID
	c.chunks = chunks
	c.totalChars = total
	c.handledUtt = ""
	c.lastErr = nil
	c.lastSyncedPercent = -1
	c.lastSyncedAbs = 0
	c.lastSyncAt = time.Time{}
	c.lastObservedPercent = 0

	pos := saved
	if pos.ChunkIndex == 0 && pos.OffsetChars == 0 && knownPercent > 0 {
		pos = chunk.PositionForPercent(total, chunks, knownPercent)
	}
	pos = chunk.Clamp(chunks, pos)
	c.position = pos
	c.autoPlay = autoPlay
	var speakErr error
	if autoPlay {
		if speakErr = c.playChunkLocked(pos); speakErr != nil {
			c.autoPlay = false
		}
	}
	pos = c.position
	c.mu.Unlock()

	c.persistPosition(ctx, itemID, pos)
	if _, err := c.sessions.SetCurrentItem(ctx, itemID); err != nil {
		c.logger.Warn("session cursor update failed", "item", itemID, "error", err)
	}
	if speakErr != nil {
		return res, fmt.Errorf("start playback: %w", speakErr)
	}
	return res, nil
}

// Play starts or restarts speech from the current position.
func (c *Coordinator) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.chunks) == 0 {
		return ErrNoContent
	}
	c.autoPlay = true
	return c.playChunkLocked(c.position)
}

// Stop halts speech and commits the current position.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.autoPlay = false
	c.mu.Unlock()
	if err := c.driver.Stop(); err != nil {
		c.logger.Warn("engine stop failed", "error", err)
	}
	return c.MaybeSync(ctx, true)
}

// playChunkLocked speaks the current chunk starting at the position's
// offset. An offset at or past the end of the chunk restarts it from
// zero rather than issuing an empty utterance.
func (c *Coordinator) playChunkLocked(pos chunk.Position) error {
	if len(c.chunks) == 0 {
		return ErrNoContent
	}
	pos = chunk.Clamp(c.chunks, pos)
	ch := c.chunks[pos.ChunkIndex]
	text := ch.Text
	offset := pos.OffsetChars
	if offset >= len(text) {
		offset = 0
		pos.OffsetChars = 0
	}
	if offset > 0 {
		text = text[offset:]
	}
	c.position = pos
	_, err := c.driver.Speak(c.itemID, pos.ChunkIndex, text, offset)
	return err
}

// NextItem advances the session to the next queue item and loads it.
func (c *Coordinator) NextItem(ctx context.Context, autoPlay bool) (*ItemTextResult, error) {
	return c.navigate(ctx, autoPlay, c.sessions.Next)
}

// PrevItem steps the session back one queue item and loads it.
func (c *Coordinator) PrevItem(ctx context.Context, autoPlay bool) (*ItemTextResult, error) {
	return c.navigate(ctx, autoPlay, c.sessions.Prev)
}

func (c *Coordinator) navigate(ctx context.Context, autoPlay bool, step func(context.Context) (*session.Session, error)) (*ItemTextResult, error) {
	if err := c.MaybeSync(ctx, true); err != nil {
		c.logger.Warn("sync before navigation failed", "error", err)
	}
	sess, err := step(ctx)
	if err != nil {
		return nil, err
	}
	current := sess.CurrentItem()
	if current == nil {
		return nil, ErrNoSession
	}
	return c.LoadItem(ctx, current.ItemID, autoPlay)
}

func (c *Coordinator) handleSpeechProgress(e speech.ProgressEvent) {
	ctx := context.Background()
	c.mu.Lock()
	if e.ItemID != c.itemID || e.ChunkIndex != c.position.ChunkIndex || len(c.chunks) == 0 {
		c.mu.Unlock()
		return
	}
	offset := e.OffsetChars
	if max := c.chunks[e.ChunkIndex].Length(); offset > max {
		offset = max
	}
	c.position = chunk.Position{ChunkIndex: e.ChunkIndex, OffsetChars: offset}
	itemID, pos := c.itemID, c.position
	if err := c.maybeSyncLocked(ctx, false); err != nil {
		c.logger.Warn("progress sync failed", "item", itemID, "error", err)
	}
	c.mu.Unlock()

	c.persistPosition(ctx, itemID, pos)
}

func (c *Coordinator) handleSpeechDone(e speech.DoneEvent) {
	ctx := context.Background()
	c.mu.Lock()
	ev := &playback.DoneEvent{
		ItemID:      e.ItemID,
		ChunkIndex:  e.ChunkIndex,
		UtteranceID: e.UtteranceID,
	}
	result := playback.ApplyDoneTransition(ev, c.itemID, c.position, len(c.chunks), c.handledUtt)
	if !result.ShouldHandle {
		c.mu.Unlock()
		return
	}
	c.handledUtt = result.HandledUtteranceID

	finished := c.chunks[c.position.ChunkIndex]
	c.position.OffsetChars = finished.Length()
	itemID := c.itemID

	switch {
	case result.ReachedEnd:
		c.autoPlay = false
		if err := c.maybeSyncLocked(ctx, true); err != nil {
			c.logger.Warn("final sync failed", "item", itemID, "error", err)
		}
	case result.ShouldPlayNextChunk && c.autoPlay:
		if err := c.maybeSyncLocked(ctx, false); err != nil {
			c.logger.Warn("progress sync failed", "item", itemID, "error", err)
		}
		if err := c.playChunkLocked(result.NextPosition); err != nil {
			c.lastErr = err
			c.autoPlay = false
			c.logger.Error("next chunk failed", "item", itemID, "chunk", result.NextPosition.ChunkIndex, "error", err)
		}
	default:
		if err := c.maybeSyncLocked(ctx, false); err != nil {
			c.logger.Warn("progress sync failed", "item", itemID, "error", err)
		}
	}
	pos := c.position
	c.mu.Unlock()

	c.persistPosition(ctx, itemID, pos)
}

func (c *Coordinator) handleSpeechError(e speech.DoneEvent, err error) {
	c.logger.Error("speech failed", "item", e.ItemID, "chunk", e.ChunkIndex, "error", err)
	c.mu.Lock()
	if e.ItemID == c.itemID {
		c.autoPlay = false
		c.lastErr = err
	}
	c.mu.Unlock()
}

func (c *Coordinator) persistPosition(ctx context.Context, itemID int, pos chunk.Position) {
	if _, err := c.sessions.SetPosition(ctx, itemID, pos.ChunkIndex, pos.OffsetChars); err != nil {
		c.logger.Warn("persist position failed", "item", itemID, "error", err)
	}
}

// MaybeSync pushes the current position to the server if enough
// progress has accrued since the last send, or unconditionally when
// force is set.
func (c *Coordinator) MaybeSync(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maybeSyncLocked(ctx, force)
}

func (c *Coordinator) maybeSyncLocked(ctx context.Context, force bool) error {
	if len(c.chunks) == 0 {
		return nil
	}
	pos := chunk.Clamp(c.chunks, c.position)
	absolute := chunk.AbsoluteOffset(c.totalChars, c.chunks, pos)
	percent := chunk.CanonicalPercent(c.totalChars, c.chunks, pos)

	crossed := playback.ShouldForceNearEndCommit(c.lastObservedPercent, percent, c.cfg.NearEndThresholdPercent)
	c.lastObservedPercent = percent

	// Crossing the near-end threshold commits the item as finished
	// exactly once, even though listened progress never hits a clean
	// 100 on its own.
	if crossed && c.nearEndForcedItemID != c.itemID {
		c.nearEndForcedItemID = c.itemID
		c.logger.Debug("near end, committing completion", "item", c.itemID, "percent", percent)
		queued, err := c.postProgressLocked(ctx, c.itemID, 100)
		if err != nil {
			return err
		}
		c.lastSyncedPercent = 100
		c.lastSyncedAbs = absolute
		c.lastSyncAt = c.clock()
		if !queued {
			if result, err := c.FlushPending(ctx); err != nil {
				c.logger.Warn("flush after completion failed", "error", err)
			} else if result.HasRetryableWork() {
				c.flusher.RequestFlush()
			}
		}
		return nil
	}

	now := c.clock()
	advancedPercent := percent > c.lastSyncedPercent
	advancedChars := absolute-c.lastSyncedAbs >= c.cfg.CharStep
	debounced := now.Sub(c.lastSyncAt) < c.cfg.DebounceInterval
	if !force && (debounced || (!advancedPercent && !advancedChars)) {
		return nil
	}

	if _, err := c.postProgressLocked(ctx, c.itemID, percent); err != nil {
		return err
	}
	c.lastSyncedPercent = percent
	c.lastSyncedAbs = absolute
	c.lastSyncAt = now
	return nil
}

// postProgressLocked sends one progress write, falling back to the
// pending queue on retryable failure. The local session percent is
// max-merged whenever the write succeeded or was queued, so the session
// never shows less than what was listened, online or not. Terminal
// errors are returned untouched.
func (c *Coordinator) postProgressLocked(ctx context.Context, itemID, percent int) (queued bool, err error) {
	defer func() {
		if err == nil {
			if _, sErr := c.sessions.SetItemProgress(ctx, itemID, percent); sErr != nil {
				c.logger.Warn("local progress update failed", "item", itemID, "error", sErr)
			}
		}
	}()

	postErr := c.backend.PostProgress(ctx, itemID, percent, "live")
	if postErr == nil {
		c.offline = false
		return false, nil
	}
	if !api.IsRetryable(postErr) {
		return false, postErr
	}
	c.logger.Info("progress deferred to pending queue", "item", itemID, "percent", percent, "error", postErr)
	if qErr := c.pending.Enqueue(ctx, itemID, percent); qErr != nil {
		return false, fmt.Errorf("queue pending progress: %w", qErr)
	}
	c.offline = true
	c.flusher.RequestFlush()
	return true, nil
}

// PostProgress writes an explicit progress value, for mark-done style
// actions outside the live playback path.
func (c *Coordinator) PostProgress(ctx context.Context, itemID, percent int) (queued bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.postProgressLocked(ctx, itemID, percent)
}

// FlushPending drains the pending progress queue against the server.
func (c *Coordinator) FlushPending(ctx context.Context) (outbox.FlushResult, error) {
	return c.pending.Flush(ctx, func(ctx context.Context, itemID, percent int) error {
		return c.backend.PostProgress(ctx, itemID, percent, "flush")
	})
}

// Position reports the current playback position.
func (c *Coordinator) Position() chunk.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// CurrentItemID reports the active item, zero when none is loaded.
func (c *Coordinator) CurrentItemID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.itemID
}

// Percent reports canonical progress through the active item.
func (c *Coordinator) Percent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.chunks) == 0 {
		return 0
	}
	return chunk.CanonicalPercent(c.totalChars, c.chunks, c.position)
}

// Playing reports whether auto-advancing playback is active.
func (c *Coordinator) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoPlay
}

// Offline reports whether the last progress write had to be queued.
func (c *Coordinator) Offline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offline
}

// LastError returns the most recent speech failure for the active item.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Chunks returns a copy of the active item's chunk model.
func (c *Coordinator) Chunks() []chunk.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chunk.Chunk, len(c.chunks))
	copy(out, c.chunks)
	return out
}

func toChunks(in []api.TextChunk) []chunk.Chunk {
	if len(in) == 0 {
		return nil
	}
	out := make([]chunk.Chunk, 0, len(in))
	for _, tc := range in {
		out = append(out, chunk.Chunk{
			Index:     tc.Index,
			StartChar: tc.StartChar,
			EndChar:   tc.EndChar,
			Text:      tc.Text,
		})
	}
	return out
}

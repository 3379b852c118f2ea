package speech

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultSettleDelay is how long the driver waits after an engine
// completion callback before emitting ChunkDone. Engines tend to fire
// onDone slightly before audio output actually drains.
const DefaultSettleDelay = 300 * time.Millisecond

// correlation ties an utterance id back to the logical chunk it speaks.
type correlation struct {
	itemID     int
	chunkIndex int
	baseOffset int
	generation uint64
}

// Driver correlates engine callbacks to (item, chunk, generation)
// tuples and owns cancellation semantics. Engine callbacks arrive on the
// engine's own goroutines and may race Speak/Stop from the owner side;
// the generation counter plus removal-on-stop makes late callbacks
// safely ignorable.
type Driver struct {
	engine      Engine
	logger      *log.Logger
	settleDelay time.Duration

	onProgress func(ProgressEvent)
	onDone     func(DoneEvent)
	onError    func(DoneEvent, error)

	generation atomic.Uint64

	mu      sync.Mutex
	entries map[string]correlation
	handled map[string]struct{}
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithSettleDelay overrides the delay between an engine completion and
// the emitted ChunkDone. Zero emits synchronously (used in tests).
func WithSettleDelay(d time.Duration) DriverOption {
	return func(dr *Driver) { dr.settleDelay = d }
}

// WithLogger sets the driver's logger.
func WithLogger(logger *log.Logger) DriverOption {
	return func(dr *Driver) { dr.logger = logger }
}

// NewDriver wires a driver around an engine. The three callbacks receive
// correlated events; any of them may be nil.
func NewDriver(engine Engine, onProgress func(ProgressEvent), onDone func(DoneEvent), onError func(DoneEvent, error), opts ...DriverOption) *Driver {
	d := &Driver{
		engine:      engine,
		logger:      log.Default(),
		settleDelay: DefaultSettleDelay,
		onProgress:  onProgress,
		onDone:      onDone,
		onError:     onError,
		entries:     make(map[string]correlation),
		handled:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Speak issues a new utterance for a chunk. The text must already be
// sliced to start at baseOffset within the chunk; reported offsets are
// rebased onto the full chunk. Returns the utterance id.
func (d *Driver) Speak(itemID, chunkIndex int, text string, baseOffset int) (string, error) {
	if baseOffset < 0 {
		baseOffset = 0
	}
	gen := d.generation.Add(1)
	utteranceID := fmt.Sprintf("mimeo-item-%d-chunk-%d-%d", itemID, chunkIndex, gen)

	d.mu.Lock()
	// A reused id is treated as fresh.
	delete(d.handled, utteranceID)
	d.entries[utteranceID] = correlation{
		itemID:     itemID,
		chunkIndex: chunkIndex,
		baseOffset: baseOffset,
		generation: gen,
	}
	d.mu.Unlock()

	d.logger.Debug("speak", "utterance", utteranceID, "offset", baseOffset, "chars", len(text))
	if err := d.engine.Speak(text, utteranceID); err != nil {
		d.mu.Lock()
		delete(d.entries, utteranceID)
		d.mu.Unlock()
		return "", fmt.Errorf("engine speak: %w", err)
	}
	return utteranceID, nil
}

// OnRangeStart is the engine's progress callback: the engine began
// speaking at startOffset within the text it was handed. Unknown
// (stale or cancelled) utterance ids are ignored.
func (d *Driver) OnRangeStart(utteranceID string, startOffset int) {
	d.mu.Lock()
	entry, ok := d.entries[utteranceID]
	d.mu.Unlock()
	if !ok {
		return
	}

	offset := entry.baseOffset + startOffset
	if offset < 0 {
		offset = 0
	}
	if d.onProgress != nil {
		d.onProgress(ProgressEvent{
			UtteranceID: utteranceID,
			ItemID:      entry.itemID,
			ChunkIndex:  entry.chunkIndex,
			OffsetChars: offset,
		})
	}
}

// OnDone is the engine's completion callback. Duplicate completions for
// the same utterance id, and completions for ids cleared by Stop, are
// no-ops. After the settle delay exactly one ChunkDone is emitted.
func (d *Driver) OnDone(utteranceID string) {
	d.mu.Lock()
	entry, ok := d.entries[utteranceID]
	if !ok {
		d.mu.Unlock()
		return
	}
	if _, dup := d.handled[utteranceID]; dup {
		d.mu.Unlock()
		return
	}
	d.handled[utteranceID] = struct{}{}
	delete(d.entries, utteranceID)
	d.mu.Unlock()

	event := DoneEvent{UtteranceID: utteranceID, ItemID: entry.itemID, ChunkIndex: entry.chunkIndex}
	emit := func() {
		d.logger.Debug("chunk done", "utterance", utteranceID)
		if d.onDone != nil {
			d.onDone(event)
		}
	}
	if d.settleDelay <= 0 {
		emit()
		return
	}
	time.AfterFunc(d.settleDelay, emit)
}

// OnError is the engine's failure callback. The correlation entry is
// dropped and the error surfaced to the owner; it never panics or
// throws.
func (d *Driver) OnError(utteranceID string, engineErr error) {
	d.mu.Lock()
	entry, ok := d.entries[utteranceID]
	if ok {
		d.handled[utteranceID] = struct{}{}
		delete(d.entries, utteranceID)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	d.logger.Warn("engine error", "utterance", utteranceID, "err", engineErr)
	if d.onError != nil {
		d.onError(DoneEvent{UtteranceID: utteranceID, ItemID: entry.itemID, ChunkIndex: entry.chunkIndex}, engineErr)
	}
}

// Stop cancels all in-flight utterances. It is synchronous from the
// caller's point of view: correlation state is cleared immediately, so
// any callback arriving afterwards for a previous generation finds no
// entry and is a no-op, even if the engine stops asynchronously.
func (d *Driver) Stop() error {
	d.generation.Add(1)

	d.mu.Lock()
	d.entries = make(map[string]correlation)
	d.handled = make(map[string]struct{})
	d.mu.Unlock()

	return d.engine.Stop()
}

// Shutdown stops playback and releases the engine.
func (d *Driver) Shutdown() error {
	if err := d.Stop(); err != nil {
		_ = d.engine.Close()
		return err
	}
	return d.engine.Close()
}

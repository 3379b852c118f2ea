// Package playback holds the pure state-transition logic that
// reconciles "chunk finished" events with the current reading position.
// Nothing here performs I/O; every function is total over clamped
// inputs.
package playback

import "github.com/mimeoapp/mimeo/internal/chunk"

// DoneEvent is a chunk-completion event as seen by the orchestration
// layer.
type DoneEvent struct {
	UtteranceID string
	ItemID      int
	ChunkIndex  int
}

// TransitionResult is the outcome of applying a done event.
type TransitionResult struct {
	// ShouldHandle is false when the event is nil, stale, or a replay;
	// nothing else in the result is meaningful then.
	ShouldHandle bool
	// NextPosition is where playback continues.
	NextPosition chunk.Position
	// ShouldPlayNextChunk asks the caller to start speaking
	// NextPosition's chunk.
	ShouldPlayNextChunk bool
	// ReachedEnd reports that the final chunk finished.
	ReachedEnd bool
	// HandledUtteranceID is the replay guard to carry into the next
	// call.
	HandledUtteranceID string
}

// ApplyDoneTransition decides what a chunk-completion event means for
// the current playback target. It is idempotent against replays of the
// last handled utterance id, and ignores events for a different item or
// a chunk other than the one currently playing.
func ApplyDoneTransition(event *DoneEvent, currentItemID int, currentPosition chunk.Position, chunkCount int, lastHandledUtteranceID string) TransitionResult {
	unhandled := TransitionResult{
		NextPosition:       currentPosition,
		HandledUtteranceID: lastHandledUtteranceID,
	}
	if event == nil || chunkCount <= 0 {
		return unhandled
	}
	if event.UtteranceID == lastHandledUtteranceID {
		return unhandled
	}
	if event.ItemID != currentItemID || event.ChunkIndex != currentPosition.ChunkIndex {
		return unhandled
	}

	if currentPosition.ChunkIndex < chunkCount-1 {
		return TransitionResult{
			ShouldHandle:        true,
			NextPosition:        chunk.Position{ChunkIndex: currentPosition.ChunkIndex + 1},
			ShouldPlayNextChunk: true,
			HandledUtteranceID:  event.UtteranceID,
		}
	}

	return TransitionResult{
		ShouldHandle:       true,
		NextPosition:       currentPosition,
		ReachedEnd:         true,
		HandledUtteranceID: event.UtteranceID,
	}
}

// ShouldForceNearEndCommit reports whether the reading position just
// crossed the completion threshold, which commits 100% immediately
// instead of waiting out debounce. It fires only on the crossing, so a
// reader already past the threshold does not retrigger it.
func ShouldForceNearEndCommit(previousPercent, currentPercent, thresholdPercent int) bool {
	if thresholdPercent <= 0 {
		return true
	}
	if currentPercent < thresholdPercent {
		return false
	}
	return previousPercent < thresholdPercent
}

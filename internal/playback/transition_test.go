package playback

import (
	"testing"

	"github.com/mimeoapp/mimeo/internal/chunk"
)

func TestApplyDoneTransitionAdvances(t *testing.T) {
	event := &DoneEvent{UtteranceID: "u-1", ItemID: 7, ChunkIndex: 2}
	pos := chunk.Position{ChunkIndex: 2, OffsetChars: 57}

	result := ApplyDoneTransition(event, 7, pos, 6, "")

	if !result.ShouldHandle {
		t.Fatal("ShouldHandle = false, want true")
	}
	if !result.ShouldPlayNextChunk {
		t.Error("ShouldPlayNextChunk = false, want true")
	}
	if result.ReachedEnd {
		t.Error("ReachedEnd = true, want false")
	}
	if result.NextPosition != (chunk.Position{ChunkIndex: 3, OffsetChars: 0}) {
		t.Errorf("NextPosition = %+v, want (3,0)", result.NextPosition)
	}
	if result.HandledUtteranceID != "u-1" {
		t.Errorf("HandledUtteranceID = %q, want event id", result.HandledUtteranceID)
	}
}

func TestApplyDoneTransitionReachesEnd(t *testing.T) {
	event := &DoneEvent{UtteranceID: "u-2", ItemID: 7, ChunkIndex: 2}
	pos := chunk.Position{ChunkIndex: 2, OffsetChars: 57}

	result := ApplyDoneTransition(event, 7, pos, 3, "")

	if !result.ShouldHandle {
		t.Fatal("ShouldHandle = false, want true")
	}
	if !result.ReachedEnd {
		t.Error("ReachedEnd = false, want true")
	}
	if result.ShouldPlayNextChunk {
		t.Error("ShouldPlayNextChunk = true, want false")
	}
	if result.NextPosition != pos {
		t.Errorf("NextPosition = %+v, want unchanged", result.NextPosition)
	}
}

func TestApplyDoneTransitionIgnores(t *testing.T) {
	pos := chunk.Position{ChunkIndex: 2, OffsetChars: 10}

	tests := []struct {
		name        string
		event       *DoneEvent
		currentItem int
		chunkCount  int
		lastHandled string
	}{
		{
			name:        "nil event",
			event:       nil,
			currentItem: 7,
			chunkCount:  6,
		},
		{
			name:        "no chunks",
			event:       &DoneEvent{UtteranceID: "u", ItemID: 7, ChunkIndex: 2},
			currentItem: 7,
			chunkCount:  0,
		},
		{
			name:        "replayed utterance",
			event:       &DoneEvent{UtteranceID: "u-seen", ItemID: 7, ChunkIndex: 2},
			currentItem: 7,
			chunkCount:  6,
			lastHandled: "u-seen",
		},
		{
			name:        "wrong item",
			event:       &DoneEvent{UtteranceID: "u", ItemID: 8, ChunkIndex: 2},
			currentItem: 7,
			chunkCount:  6,
		},
		{
			name:        "stale chunk",
			event:       &DoneEvent{UtteranceID: "u", ItemID: 7, ChunkIndex: 1},
			currentItem: 7,
			chunkCount:  6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ApplyDoneTransition(tt.event, tt.currentItem, pos, tt.chunkCount, tt.lastHandled)
			if result.ShouldHandle {
				t.Error("ShouldHandle = true, want false")
			}
			if result.NextPosition != pos {
				t.Errorf("NextPosition = %+v, want unchanged", result.NextPosition)
			}
			if result.ShouldPlayNextChunk || result.ReachedEnd {
				t.Errorf("result = %+v, want inert", result)
			}
			if result.HandledUtteranceID != tt.lastHandled {
				t.Errorf("HandledUtteranceID = %q, want carried %q", result.HandledUtteranceID, tt.lastHandled)
			}
		})
	}
}

func TestApplyDoneTransitionReplayAfterHandling(t *testing.T) {
	event := &DoneEvent{UtteranceID: "u-3", ItemID: 7, ChunkIndex: 0}
	pos := chunk.Position{ChunkIndex: 0}

	first := ApplyDoneTransition(event, 7, pos, 2, "")
	if !first.ShouldHandle {
		t.Fatal("first application not handled")
	}

	// Replaying the same utterance id against the advanced state is a
	// no-op twice over: the id matches and the chunk is stale.
	replay := ApplyDoneTransition(event, 7, first.NextPosition, 2, first.HandledUtteranceID)
	if replay.ShouldHandle {
		t.Error("replay was handled")
	}
	if replay.NextPosition != first.NextPosition {
		t.Errorf("replay moved position to %+v", replay.NextPosition)
	}
}

func TestShouldForceNearEndCommit(t *testing.T) {
	tests := []struct {
		name     string
		prev     int
		cur      int
		expected bool
	}{
		{"crosses threshold", 97, 98, true},
		{"already past threshold", 98, 99, false},
		{"at one hundred", 100, 100, false},
		{"below threshold", 50, 60, false},
		{"jumps over threshold", 90, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldForceNearEndCommit(tt.prev, tt.cur, 98); got != tt.expected {
				t.Errorf("ShouldForceNearEndCommit(%d, %d) = %v, want %v", tt.prev, tt.cur, got, tt.expected)
			}
		})
	}
}

func TestShouldForceNearEndCommitZeroThreshold(t *testing.T) {
	if !ShouldForceNearEndCommit(0, 0, 0) {
		t.Error("threshold <= 0 should always force")
	}
}

package chunk

import (
	"strings"
	"testing"
)

func threeChunks() []Chunk {
	return []Chunk{
		{Index: 0, StartChar: 0, EndChar: 100, Text: strings.Repeat("a", 100)},
		{Index: 1, StartChar: 100, EndChar: 200, Text: strings.Repeat("b", 100)},
		{Index: 2, StartChar: 200, EndChar: 260, Text: strings.Repeat("c", 60)},
	}
}

func TestCanonicalPercent(t *testing.T) {
	chunks := threeChunks()

	tests := []struct {
		name     string
		total    int
		pos      Position
		expected int
	}{
		{
			name:     "chunk start plus offset",
			total:    260,
			pos:      Position{ChunkIndex: 1, OffsetChars: 20},
			expected: 46,
		},
		{
			name:     "negative position clamps to zero",
			total:    260,
			pos:      Position{ChunkIndex: -9, OffsetChars: -10},
			expected: 0,
		},
		{
			name:     "overshoot clamps to one hundred",
			total:    260,
			pos:      Position{ChunkIndex: 99, OffsetChars: 9999},
			expected: 100,
		},
		{
			name:     "zero total chars",
			total:    0,
			pos:      Position{ChunkIndex: 1, OffsetChars: 20},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanonicalPercent(tt.total, chunks, tt.pos)
			if got != tt.expected {
				t.Errorf("CanonicalPercent() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestCanonicalPercentEmptyChunks(t *testing.T) {
	if got := CanonicalPercent(260, nil, Position{ChunkIndex: 1, OffsetChars: 5}); got != 0 {
		t.Errorf("CanonicalPercent() with no chunks = %d, want 0", got)
	}
}

func TestCanonicalPercentMonotonic(t *testing.T) {
	chunks := []Chunk{
		{Index: 0, StartChar: 0, EndChar: 640, Text: strings.Repeat("a", 640)},
		{Index: 1, StartChar: 640, EndChar: 1710, Text: strings.Repeat("b", 1070)},
		{Index: 2, StartChar: 1710, EndChar: 2330, Text: strings.Repeat("c", 620)},
		{Index: 3, StartChar: 2330, EndChar: 3010, Text: strings.Repeat("d", 680)},
	}
	total := 3010

	last := -1
	for _, c := range chunks {
		for off := 0; off <= c.Length(); off += 137 {
			pos := Position{ChunkIndex: c.Index, OffsetChars: off}
			percent := CanonicalPercent(total, chunks, pos)
			if percent < 0 || percent > 100 {
				t.Fatalf("percent %d out of range at chunk %d offset %d", percent, c.Index, off)
			}
			if percent < last {
				t.Fatalf("percent regressed from %d to %d at chunk %d offset %d", last, percent, c.Index, off)
			}
			last = percent
		}
	}
}

func TestAbsoluteOffset(t *testing.T) {
	chunks := threeChunks()

	if got := AbsoluteOffset(260, chunks, Position{ChunkIndex: 2, OffsetChars: 15}); got != 215 {
		t.Errorf("AbsoluteOffset() = %d, want 215", got)
	}
	if got := AbsoluteOffset(260, chunks, Position{ChunkIndex: -1, OffsetChars: -1}); got != 0 {
		t.Errorf("AbsoluteOffset() below range = %d, want 0", got)
	}
	if got := AbsoluteOffset(260, chunks, Position{ChunkIndex: 9, OffsetChars: 9999}); got != 260 {
		t.Errorf("AbsoluteOffset() above range = %d, want 260", got)
	}
}

func TestPositionFromAbsolute(t *testing.T) {
	chunks := threeChunks()

	tests := []struct {
		name     string
		absolute int
		expected Position
	}{
		{"mid second chunk", 145, Position{ChunkIndex: 1, OffsetChars: 45}},
		{"negative clamps to start", -5, Position{ChunkIndex: 0, OffsetChars: 0}},
		{"overshoot clamps to last chunk end", 9999, Position{ChunkIndex: 2, OffsetChars: 60}},
		{"chunk boundary lands on earlier chunk end", 100, Position{ChunkIndex: 0, OffsetChars: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PositionFromAbsolute(260, chunks, tt.absolute)
			if got != tt.expected {
				t.Errorf("PositionFromAbsolute(%d) = %+v, want %+v", tt.absolute, got, tt.expected)
			}
		})
	}
}

func TestPositionRoundTrip(t *testing.T) {
	chunks := threeChunks()
	for absolute := 0; absolute <= 260; absolute += 13 {
		pos := PositionFromAbsolute(260, chunks, absolute)
		back := AbsoluteOffset(260, chunks, pos)
		if back != absolute {
			t.Fatalf("round trip lost offset: %d -> %+v -> %d", absolute, pos, back)
		}
	}
}

func TestPositionForPercent(t *testing.T) {
	chunks := threeChunks()

	if got := PositionForPercent(260, chunks, 0); got != (Position{}) {
		t.Errorf("PositionForPercent(0) = %+v, want zero position", got)
	}
	got := PositionForPercent(260, chunks, 50)
	if got.ChunkIndex != 1 {
		t.Errorf("PositionForPercent(50) chunk = %d, want 1", got.ChunkIndex)
	}
	if got := PositionForPercent(260, chunks, 100); got != (Position{ChunkIndex: 2, OffsetChars: 60}) {
		t.Errorf("PositionForPercent(100) = %+v, want end of last chunk", got)
	}
}

func TestClamp(t *testing.T) {
	chunks := threeChunks()

	if got := Clamp(chunks, Position{ChunkIndex: 5, OffsetChars: 500}); got != (Position{ChunkIndex: 2, OffsetChars: 60}) {
		t.Errorf("Clamp() = %+v, want last chunk end", got)
	}
	if got := Clamp(nil, Position{ChunkIndex: 3, OffsetChars: 3}); got != (Position{}) {
		t.Errorf("Clamp() with no chunks = %+v, want zero position", got)
	}
}

func TestTotalChars(t *testing.T) {
	chunks := threeChunks()

	tests := []struct {
		name     string
		declared int
		chunks   []Chunk
		expected int
	}{
		{"declared wins when larger", 300, chunks, 300},
		{"chunk max wins when larger", 100, chunks, 260},
		{"no declared falls back to chunks", 0, chunks, 260},
		{"declared only", 42, nil, 42},
		{"nothing known", 0, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TotalChars(tt.declared, tt.chunks); got != tt.expected {
				t.Errorf("TotalChars() = %d, want %d", got, tt.expected)
			}
		})
	}
}

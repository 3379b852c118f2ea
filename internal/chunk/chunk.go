// Package chunk models an item's text as an ordered list of addressable
// character ranges, and maps between chunk-relative reading positions,
// absolute character offsets, and whole-item percentages.
package chunk

// Chunk is a contiguous character range of an item's text, the unit the
// speech engine is given to read aloud. Chunks are immutable once built,
// ordered by Index, non-overlapping, and have monotonically increasing
// StartChar.
type Chunk struct {
	Index     int
	StartChar int
	EndChar   int
	Text      string
}

// Length returns the number of characters the chunk spans.
func (c Chunk) Length() int {
	if c.EndChar < c.StartChar {
		return 0
	}
	return c.EndChar - c.StartChar
}

// Position is an exact reading position: a chunk plus a character offset
// within that chunk. The zero value is the start of the first chunk.
type Position struct {
	ChunkIndex  int
	OffsetChars int
}

// Clamp normalizes a position so that it always points inside the given
// chunk layout. A position over an empty layout collapses to the zero
// position.
func Clamp(chunks []Chunk, pos Position) Position {
	if len(chunks) == 0 {
		return Position{}
	}
	idx := clampInt(pos.ChunkIndex, 0, len(chunks)-1)
	off := clampInt(pos.OffsetChars, 0, chunks[idx].Length())
	return Position{ChunkIndex: idx, OffsetChars: off}
}

// AbsoluteOffset converts a position into an absolute character index in
// [0, totalChars]. Out-of-range positions are clamped, never rejected.
func AbsoluteOffset(totalChars int, chunks []Chunk, pos Position) int {
	if totalChars <= 0 || len(chunks) == 0 {
		return 0
	}
	safe := Clamp(chunks, pos)
	c := chunks[safe.ChunkIndex]
	return clampInt(c.StartChar+safe.OffsetChars, 0, totalChars)
}

// CanonicalPercent computes the whole-item reading percentage for a
// position. For a fixed layout the result is monotonically non-decreasing
// in the absolute offset, so progress never visibly regresses while
// reading forward. Returns 0 when the layout is empty.
func CanonicalPercent(totalChars int, chunks []Chunk, pos Position) int {
	if totalChars <= 0 || len(chunks) == 0 {
		return 0
	}
	absolute := AbsoluteOffset(totalChars, chunks, pos)
	return clampInt(absolute*100/totalChars, 0, 100)
}

// PositionFromAbsolute is the inverse of AbsoluteOffset: it locates the
// first chunk whose end covers the target offset (the last chunk if none
// does) and derives the in-chunk offset.
func PositionFromAbsolute(totalChars int, chunks []Chunk, absolute int) Position {
	if totalChars <= 0 || len(chunks) == 0 {
		return Position{}
	}
	target := clampInt(absolute, 0, totalChars)
	idx := len(chunks) - 1
	for i, c := range chunks {
		if c.EndChar >= target {
			idx = i
			break
		}
	}
	c := chunks[idx]
	off := clampInt(target-c.StartChar, 0, c.Length())
	return Position{ChunkIndex: idx, OffsetChars: off}
}

// PositionForPercent maps a whole-item percentage onto a position.
func PositionForPercent(totalChars int, chunks []Chunk, percent int) Position {
	if totalChars <= 0 || len(chunks) == 0 {
		return Position{}
	}
	bounded := clampInt(percent, 0, 100)
	if bounded <= 0 {
		return Position{}
	}
	target := totalChars * bounded / 100
	return PositionFromAbsolute(totalChars, chunks, target)
}

// TotalChars resolves the effective total character count of an item.
// Server-declared counts can lag behind a rebuilt chunk layout, so the
// larger of the declared total and the furthest chunk end wins.
func TotalChars(declared int, chunks []Chunk) int {
	chunkMax := 0
	for _, c := range chunks {
		if c.EndChar > chunkMax {
			chunkMax = c.EndChar
		}
	}
	if declared > 0 && chunkMax > 0 {
		return maxInt(declared, chunkMax)
	}
	if declared > 0 {
		return declared
	}
	return chunkMax
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

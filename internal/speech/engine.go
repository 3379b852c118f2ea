// Package speech owns the lifecycle of one external speech-synthesis
// engine and translates its asynchronous callback stream into clean,
// correlated chunk events. The engine itself is a collaborator behind a
// small interface; only its callback semantics are modeled here.
package speech

// Engine is one speech-synthesis backend. Speak is asynchronous: the
// engine reports back through the driver's OnRangeStart / OnDone /
// OnError callbacks, on its own execution context, tagged with the
// utterance id it was given.
type Engine interface {
	// Speak starts speaking text tagged with utteranceID, replacing any
	// utterance in flight.
	Speak(text, utteranceID string) error
	// Stop interrupts the current utterance. Callbacks for interrupted
	// utterances may still arrive afterwards.
	Stop() error
	// Close releases the engine.
	Close() error
}

// ProgressEvent reports that the engine reached a character offset while
// speaking a chunk. OffsetChars is absolute within the chunk text.
type ProgressEvent struct {
	UtteranceID string
	ItemID      int
	ChunkIndex  int
	OffsetChars int
}

// DoneEvent reports that a chunk finished speaking. At most one is
// emitted per utterance id, no matter how often the engine signals
// completion.
type DoneEvent struct {
	UtteranceID string
	ItemID      int
	ChunkIndex  int
}

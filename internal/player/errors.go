package player

import "errors"

// Errors surfaced to the orchestrating layer.
var (
	// ErrStaleCache means the only local copy of an item belongs to a
	// different content version than the caller expects; serving it
	// would silently read the wrong text.
	ErrStaleCache = errors.New("offline and not cached for current active version")

	// ErrNoSession means an operation needs a now-playing session and
	// none exists.
	ErrNoSession = errors.New("no now-playing session")

	// ErrNoContent means playback was requested before any item text
	// was loaded.
	ErrNoContent = errors.New("no content loaded")
)

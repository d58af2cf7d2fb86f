package domain

import "errors"

// Error taxonomy for the indexing and search subsystem.
//
// Primary-store errors (ErrNotFound, ErrConflict) surface synchronously to
// the caller of a mutating operation. Adapter errors during propagation are
// never surfaced to that caller; they are recorded as per-adapter failed
// state and retried. Search-time adapter errors degrade the result instead
// of failing the request.
var (
	// ErrNotFound means a referenced entity is absent from the primary store.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a uniqueness constraint was violated.
	ErrConflict = errors.New("conflict")

	// ErrAdapterUnavailable means an index backend failed transiently. The
	// pipeline retries it; the search coordinator falls back on it.
	ErrAdapterUnavailable = errors.New("adapter unavailable")

	// ErrGeneratorFailure means an external AI call (tagging or embedding)
	// failed. It degrades the affected meme, never the write path.
	ErrGeneratorFailure = errors.New("generator failure")

	// ErrConfiguration means a fatal configuration mismatch, such as an
	// embedding dimensionality that disagrees with the vector collection.
	// Raised at startup, never per request.
	ErrConfiguration = errors.New("configuration error")
)

package annotations

import "errors"

// Failure kinds surfaced by the annotation use case. Callers discriminate
// with errors.Is; both transports map them onto their own error surface.
var (
	// ErrInvalidInput indicates a malformed request rejected before any
	// store mutation.
	ErrInvalidInput = errors.New("annotations: invalid input")
	// ErrDuplicateRange indicates the (document, user, range) triple already
	// has an annotation.
	ErrDuplicateRange = errors.New("annotations: duplicate range")
	// ErrNotFound indicates the annotation does not exist.
	ErrNotFound = errors.New("annotations: not found")
	// ErrCountDrift indicates the counter update failed after a successful
	// store mutation. The store mutation is kept; Reconcile repairs the
	// counter.
	ErrCountDrift = errors.New("annotations: count drift possible")
	// ErrUnavailable indicates the persistence layer failed.
	ErrUnavailable = errors.New("annotations: storage unavailable")
)

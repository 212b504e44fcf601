package domain

import "errors"

// Sentinel errors for command and stream failures. Callers classify with
// errors.Is; wrapping sites attach aggregate and version context.
var (
	// ErrInvalidCommand means the command payload failed validation.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrIllegalTransition means the command is not allowed in the order's
	// current status.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrNotFound means the aggregate has no stored events.
	ErrNotFound = errors.New("order not found")

	// ErrConcurrencyConflict means another writer advanced the stream between
	// load and append.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrCorruptStream means a stored event stream has a version gap or an
	// undecodable event.
	ErrCorruptStream = errors.New("corrupt event stream")

	// ErrPublish means events were durably stored but could not be handed to
	// the event log. The outbox sweep recovers them.
	ErrPublish = errors.New("event publish failed")
)

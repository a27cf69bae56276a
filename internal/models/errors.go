package models

import "errors"

// Error taxonomy shared by every layer of the core. Callers branch on these
// with errors.Is; the API layer maps them onto HTTP status codes.
var (
	// ErrNotFound is returned when a job, server or user does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrValidation is returned for bad input: unknown server, invalid job
	// type, malformed schedule. Nothing is persisted.
	ErrValidation = errors.New("invalid input")

	// ErrInvalidState is returned when a transition is attempted from the
	// wrong state. State is left unchanged and the caller may retry after
	// reconciling. Under concurrent approval attempts this is expected,
	// not exceptional.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrTransientDispatch is returned when an agent is unreachable at
	// dispatch time. The scheduler retries with backoff up to a bounded
	// attempt count.
	ErrTransientDispatch = errors.New("transient dispatch failure")

	// ErrAlreadyExists is returned on unique-constraint violations
	// (duplicate user email, duplicate agent token).
	ErrAlreadyExists = errors.New("record already exists")
)
